package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/delocate"
	"github.com/matthew-brett/delocate-go/internal/deps"
	"github.com/matthew-brett/delocate-go/internal/direrrors"
	"github.com/matthew-brett/delocate-go/internal/libdict"
	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/macosver"
	"github.com/matthew-brett/delocate-go/internal/plan"
	"github.com/matthew-brett/delocate-go/internal/platformtag"
	"github.com/matthew-brett/delocate-go/internal/wheelfile"
)

// Result summarizes one completed DelocateWheel invocation.
type Result struct {
	OutputPath string
	Changed    bool
	Warnings   []string
	CopiedLibs []string
}

// DelocateWheel runs the full state machine (Unpacked -> Analyzed ->
// Planned -> Copied -> Relinked -> Uniquified -> Retagged -> Repacked)
// against a single input wheel, writing the result into outputDir (the
// same directory as the input when outputDir is empty).
func DelocateWheel(inputPath, outputDir string, opts Options) (Result, error) {
	log := opts.logger()

	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return Result{}, err
	}
	name, err := wheelfile.ParseName(filepath.Base(absInput))
	if err != nil {
		return Result{}, err
	}

	staging, err := os.MkdirTemp("", "delocate-*")
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	// Unpacked.
	if _, err := wheelfile.Unpack(absInput, staging); err != nil {
		return Result{}, err
	}

	distInfoDir, wheelMetaPath, err := findDistInfo(staging)
	if err != nil {
		return Result{}, err
	}
	wheelMeta, err := readWheelMetadata(wheelMetaPath)
	if err != nil {
		return Result{}, err
	}
	if wheelMeta.RootIsPurelib {
		return Result{}, &direrrors.CannotTagPure{Wheel: filepath.Base(absInput)}
	}

	bundleDirName := opts.normalizedLibSdir()
	bundleDir, err := chooseBundleDir(staging, name.Distribution, bundleDirName)
	if err != nil {
		return Result{}, err
	}
	bundlePreexisted := dirHasEntries(bundleDir)

	// Analyzed: walk the tree and resolve every dependency edge.
	ctx := deps.NewSearchContext(opts.Adapter, opts.ExecutablePath)
	libFilter := opts.libFilter()
	libraries, err := deps.WalkDirectory(ctx, staging, libFilter)
	if err != nil {
		return Result{}, err
	}
	sort.Strings(libraries)

	dict, err := libdict.BuildFromLibraries(libraries, libdict.BuildOptions{
		Context:       ctx,
		LibFilter:     libFilter,
		CopyFilter:    opts.copyFilter(),
		IgnoreMissing: opts.IgnoreMissingDependencies,
	})
	if err != nil {
		return Result{}, err
	}

	// Planned.
	p, err := plan.Build(dict, staging, bundleDir, pathExists)
	if err != nil {
		return Result{}, err
	}

	if len(p.CopySet) > 0 && bundlePreexisted {
		return Result{}, &direrrors.Occupied{Dir: bundleDir}
	}

	// Copied + Relinked.
	if _, err := delocate.Execute(dict, p, delocate.ExecuteOptions{
		Adapter:        opts.Adapter,
		SanitizeRpaths: opts.SanitizeRpaths,
	}); err != nil {
		return Result{}, err
	}

	if opts.CheckArchs {
		required := requireArchSet(opts.RequireArchs)
		var names []string
		for a := range required {
			names = append(names, a)
		}
		sort.Strings(names)
		if err := delocate.CheckArchs(dict, delocate.CheckArchsOptions{
			Adapter:      opts.Adapter,
			RequireArchs: names,
		}); err != nil {
			return Result{}, err
		}
	}

	// Uniquified.
	copiedDests := make([]string, len(p.CopySet))
	for i, ct := range p.CopySet {
		copiedDests[i] = ct.Destination
	}
	if err := delocate.Uniquify(copiedDests, delocate.UniquifyOptions{
		Adapter:   opts.Adapter,
		BundleDir: bundleDir,
		Root:      staging,
	}); err != nil {
		return Result{}, err
	}

	// Retagged.
	claimed, err := platformtag.ParsePlatformTags(name.Platform)
	if err != nil {
		return Result{}, err
	}
	claimed = platformtag.Unpack(claimed)

	libMinOS, err := collectMinOS(staging, opts.Adapter)
	if err != nil {
		return Result{}, err
	}

	result, err := platformtag.Reconcile(claimed, libMinOS, opts.RequireTargetMacOSVersion)
	if err != nil {
		return Result{}, err
	}

	newName := name.WithPlatform(result.Tag)
	tagChanged := newName.Platform != name.Platform
	if tagChanged {
		wheelMeta.SetTags(buildWheelTags(newName))
	}
	wheelMeta.EnsureGenerator(opts.Version)
	if err := os.WriteFile(wheelMetaPath, wheelMeta.Bytes(), 0o644); err != nil {
		return Result{}, err
	}

	changed := len(p.CopySet) > 0 || tagChanged
	if outputDir == "" {
		outputDir = filepath.Dir(absInput)
	}
	outputPath := filepath.Join(outputDir, newName.String())

	if !changed && outputPath == absInput {
		for _, w := range result.Warnings {
			log.Warn(w)
		}
		return Result{OutputPath: absInput, Changed: false, Warnings: result.Warnings}, nil
	}

	if err := rewriteRecord(staging, distInfoDir); err != nil {
		return Result{}, err
	}

	// Repacked.
	if err := wheelfile.Pack(staging, outputPath, wheelfile.PackOptions{SourceDateEpoch: opts.SourceDateEpoch}); err != nil {
		return Result{}, err
	}
	if outputPath != absInput {
		if _, err := os.Stat(absInput); err == nil && sameWheel(outputDir, absInput) {
			_ = os.Remove(absInput)
		}
	}

	for _, w := range result.Warnings {
		log.Warn(w)
	}
	return Result{OutputPath: outputPath, Changed: true, Warnings: result.Warnings, CopiedLibs: copiedDests}, nil
}

func sameWheel(outputDir, absInput string) bool {
	return filepath.Dir(absInput) == outputDir
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// findDistInfo locates the *.dist-info directory and its WHEEL file.
func findDistInfo(root string) (distInfoDir, wheelPath string, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".dist-info") {
			dir := filepath.Join(root, e.Name())
			wp := filepath.Join(dir, "WHEEL")
			if pathExists(wp) {
				return dir, wp, nil
			}
		}
	}
	return "", "", fmt.Errorf("orchestrator: no .dist-info/WHEEL found under %s", root)
}

func readWheelMetadata(path string) (*wheelfile.WheelMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return wheelfile.ParseWheelMetadata(data)
}

func buildWheelTags(n wheelfile.Name) []string {
	var tags []string
	for _, plat := range n.PlatformTags() {
		tags = append(tags, n.PyVersion+"-"+n.ABI+"-"+plat)
	}
	return tags
}

// chooseBundleDir implements spec component I's bundle-directory
// priority: (a) a package directory named like the distribution, (b)
// otherwise the lexicographically smallest package directory, (c)
// otherwise a new top-level "<distribution><subdir>" directory.
func chooseBundleDir(root, distribution, subdir string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	var packageDirs []string
	normalizedDist := normalizePackageName(distribution)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".dist-info") || strings.HasSuffix(e.Name(), ".data") {
			continue
		}
		packageDirs = append(packageDirs, e.Name())
	}
	for _, d := range packageDirs {
		if normalizePackageName(d) == normalizedDist {
			return filepath.Join(root, d, subdir), nil
		}
	}
	if len(packageDirs) > 0 {
		sort.Strings(packageDirs)
		return filepath.Join(root, packageDirs[0], subdir), nil
	}
	return filepath.Join(root, normalizedDist+subdir), nil
}

func normalizePackageName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// collectMinOS implements spec component G step 1: walk every file
// under root and aggregate its per-architecture minimum OS reading.
// Files that are not Mach-O objects (no architectures) are skipped.
func collectMinOS(root string, adapter macho.Adapter) ([]platformtag.LibraryMinOS, error) {
	var out []platformtag.LibraryMinOS
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		archs, archErr := adapter.Archs(path)
		if archErr != nil || len(archs) == 0 {
			return nil
		}
		versions, err := adapter.MinOS(path)
		if err != nil {
			return err
		}
		for _, v := range versions {
			out = append(out, platformtag.LibraryMinOS{
				Path:    path,
				Arch:    v.Arch,
				Version: macosver.New(v.Major, v.Minor),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func rewriteRecord(root, distInfoDir string) error {
	var entries []wheelfile.RecordEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if filepath.Base(path) == "RECORD" && filepath.Dir(path) == distInfoDir {
			return nil
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
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return wheelfile.RewriteRecord(filepath.Join(distInfoDir, "RECORD"), distInfoDir, entries)
}
