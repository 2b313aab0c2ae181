// Package fuse merges two single-architecture trees (or wheels) into
// one universal binary tree, grounded on original_source/delocate's
// fuse.py: "to fuse is to merge two binary libraries of different
// architectures."
package fuse

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/wheelfile"
)

var libExts = map[string]bool{".so": true, ".dylib": true, ".a": true}

// Trees fuses every file in fromTree into toTree: missing files and
// directories are copied; a file identical in both trees is left
// alone; a library file (.so, .dylib, .a) that differs between the
// trees is merged with lipo; any other differing file is overwritten
// from fromTree.
func Trees(toTree, fromTree string, adapter macho.Adapter) error {
	return filepath.Walk(fromTree, func(fromPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(fromTree, fromPath)
		if err != nil {
			return err
		}
		toPath := filepath.Join(toTree, rel)
		if info.IsDir() {
			return os.MkdirAll(toPath, info.Mode())
		}

		if _, err := os.Stat(toPath); os.IsNotExist(err) {
			return copyFile(fromPath, toPath, info.Mode())
		}

		same, err := sameContents(fromPath, toPath)
		if err != nil {
			return err
		}
		if same {
			return nil
		}

		if libExts[strings.ToLower(filepath.Ext(fromPath))] {
			return adapter.LipoFuse(fromPath, toPath, toPath)
		}
		return copyFile(fromPath, toPath, info.Mode())
	})
}

func sameContents(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}
	ad, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bd, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ad, bd), nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Wheels unpacks toWheel and fromWheel, fuses fromWheel's tree into
// toWheel's, optionally retags the result as the union of both wheels'
// platform tags, rewrites RECORD, and repacks to outWheel (which, when
// retag is true, may differ from the outWheel passed in: the returned
// path reflects the final, possibly retagged, filename).
func Wheels(toWheel, fromWheel, outWheel string, retag bool, adapter macho.Adapter) (string, error) {
	toAbs, err := filepath.Abs(toWheel)
	if err != nil {
		return "", err
	}
	fromAbs, err := filepath.Abs(fromWheel)
	if err != nil {
		return "", err
	}
	outAbs, err := filepath.Abs(outWheel)
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp("", "delocate-fuse-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	toTree := filepath.Join(staging, "to_wheel")
	fromTree := filepath.Join(staging, "from_wheel")
	if _, err := wheelfile.Unpack(toAbs, toTree); err != nil {
		return "", err
	}
	if _, err := wheelfile.Unpack(fromAbs, fromTree); err != nil {
		return "", err
	}

	if err := Trees(toTree, fromTree, adapter); err != nil {
		return "", err
	}

	if retag {
		newName, err := RetagName(toAbs, fromAbs)
		if err != nil {
			return "", err
		}
		parsed, err := wheelfile.ParseName(newName)
		if err != nil {
			return "", err
		}
		if err := updateWheelTags(toTree, parsed); err != nil {
			return "", err
		}
		outAbs = filepath.Join(filepath.Dir(outAbs), newName)
	}

	if err := rewriteRecord(toTree); err != nil {
		return "", err
	}
	if err := wheelfile.Pack(toTree, outAbs, wheelfile.PackOptions{}); err != nil {
		return "", err
	}
	return outAbs, nil
}

// RetagName computes the combined wheel filename for fusing fromWheel
// into toWheel: toWheel's platform tags plus any of fromWheel's
// platform tags it doesn't already carry.
func RetagName(toWheel, fromWheel string) (string, error) {
	toName, err := wheelfile.ParseName(filepath.Base(toWheel))
	if err != nil {
		return "", err
	}
	fromName, err := wheelfile.ParseName(filepath.Base(fromWheel))
	if err != nil {
		return "", err
	}
	existing := map[string]bool{}
	for _, t := range toName.PlatformTags() {
		existing[t] = true
	}
	platform := toName.Platform
	for _, t := range fromName.PlatformTags() {
		if !existing[t] {
			platform += "." + t
			existing[t] = true
		}
	}
	return toName.WithPlatform(platform).String(), nil
}

func rewriteRecord(toTree string) error {
	distInfoDir, err := findDistInfo(toTree)
	if err != nil {
		return err
	}
	var entries []wheelfile.RecordEntry
	err = filepath.Walk(toTree, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Base(path) == "RECORD" && filepath.Dir(path) == distInfoDir {
			return nil
		}
		rel, err := filepath.Rel(toTree, path)
		if err != nil {
			return err
		}
		hash, size, err := wheelfile.HashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, wheelfile.RecordEntry{Path: filepath.ToSlash(rel), Hash: hash, Size: size})
		return nil
	})
	if err != nil {
		return err
	}
	return wheelfile.RewriteRecord(filepath.Join(distInfoDir, "RECORD"), distInfoDir, entries)
}

func updateWheelTags(toTree string, name wheelfile.Name) error {
	distInfoDir, err := findDistInfo(toTree)
	if err != nil {
		return err
	}
	wheelPath := filepath.Join(distInfoDir, "WHEEL")
	data, err := os.ReadFile(wheelPath)
	if err != nil {
		return err
	}
	meta, err := wheelfile.ParseWheelMetadata(data)
	if err != nil {
		return err
	}
	var tags []string
	for _, plat := range name.PlatformTags() {
		tags = append(tags, name.PyVersion+"-"+name.ABI+"-"+plat)
	}
	meta.SetTags(tags)
	return os.WriteFile(wheelPath, meta.Bytes(), 0o644)
}

func findDistInfo(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".dist-info") {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}
