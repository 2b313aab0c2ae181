package wheelfile

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
	kflate "github.com/klauspost/compress/flate"
	"github.com/orcaman/writerseeker"
)

var registerFasterDeflate sync.Once

// useFasterDeflate registers klauspost/compress's flate implementation
// as the archive/zip Deflate compressor. archive/zip remains the zip
// container; only the compression codec underneath it changes.
func useFasterDeflate() {
	registerFasterDeflate.Do(func() {
		zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return kflate.NewWriter(w, kflate.DefaultCompression)
		})
	})
}

// minZipTime is the oldest timestamp the zip format can represent.
var minZipTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Unpack extracts every regular file in the wheel at wheelPath into
// destDir, guarding against zip-slip paths that would escape destDir.
// Returns the extracted file paths in archive order.
func Unpack(wheelPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("wheelfile: opening %s: %w", wheelPath, err)
	}
	defer r.Close()

	var extracted []string
	for _, f := range r.File {
		destPath := filepath.Join(destDir, f.Name)
		if !isInsideDir(destPath, destDir) {
			return nil, fmt.Errorf("wheelfile: zip slip detected: %s resolves outside %s", f.Name, destDir)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, err
		}
		if err := extractEntry(f, destPath); err != nil {
			return nil, fmt.Errorf("wheelfile: extracting %s: %w", f.Name, err)
		}
		extracted = append(extracted, destPath)
	}
	return extracted, nil
}

func extractEntry(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isInsideDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// PackOptions configures Pack.
type PackOptions struct {
	// SourceDateEpoch, when non-nil, is used for every entry's
	// modification time (clamped to the zip format's 1980-01-01
	// minimum), for reproducible output.
	SourceDateEpoch *time.Time
}

// Pack rebuilds a wheel at destPath from every regular file under
// rootDir, writing deterministically ordered (lexicographic by
// project-relative path) ZIP_DEFLATED entries through klauspost's
// faster flate implementation, then replacing destPath atomically via
// google/renameio so a reader never observes a partially written file.
func Pack(rootDir, destPath string, opts PackOptions) error {
	useFasterDeflate()

	modTime := minZipTime
	if opts.SourceDateEpoch != nil && opts.SourceDateEpoch.After(minZipTime) {
		modTime = *opts.SourceDateEpoch
	}

	var relPaths []string
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("wheelfile: walking %s: %w", rootDir, err)
	}
	sort.Strings(relPaths)

	buf := writerseeker.WriterSeeker{}
	zw := zip.NewWriter(&buf)
	for _, rel := range relPaths {
		abs := filepath.Join(rootDir, rel)
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		hdr.Modified = modTime

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		in, err := os.Open(abs)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(w, in)
		in.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("wheelfile: closing zip writer: %w", err)
	}

	out, err := renameio.TempFile("", destPath)
	if err != nil {
		return fmt.Errorf("wheelfile: creating temp file for %s: %w", destPath, err)
	}
	defer out.Cleanup()

	if _, err := io.Copy(out, buf.BytesReader()); err != nil {
		return fmt.Errorf("wheelfile: writing %s: %w", destPath, err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("wheelfile: replacing %s: %w", destPath, err)
	}
	return nil
}
