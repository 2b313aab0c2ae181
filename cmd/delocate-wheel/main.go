package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matthew-brett/delocate-go/internal/cliconfig"
	"github.com/matthew-brett/delocate-go/internal/delocate"
	"github.com/matthew-brett/delocate-go/internal/deps"
	"github.com/matthew-brett/delocate-go/internal/direrrors"
	"github.com/matthew-brett/delocate-go/internal/fuse"
	"github.com/matthew-brett/delocate-go/internal/libdict"
	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/macosver"
	"github.com/matthew-brett/delocate-go/internal/orchestrator"
	"github.com/matthew-brett/delocate-go/internal/plan"
	"github.com/matthew-brett/delocate-go/internal/wheelfile"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "delocate-wheel",
		Short:         "Make macOS wheels self-contained",
		Long:          "delocate-wheel copies every external library a wheel's compiled extensions depend on into the wheel and rewrites the extensions to load the copies.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newWheelCmd())
	rootCmd.AddCommand(newListDepsCmd())
	rootCmd.AddCommand(newAddPlatCmd())
	rootCmd.AddCommand(newFuseCmd())
	rootCmd.AddCommand(newPathCmd())

	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// wheelFlags holds the parsed CLI flags for the "wheel" command, the
// primary unpack/analyze/plan/copy/relink/uniquify/retag/repack
// pipeline (spec component I).
type wheelFlags struct {
	outputDir                 string
	dylibsOnly                bool
	exclude                   []string
	executablePath            string
	ignoreMissingDependencies bool
	sanitizeRpaths            bool
	libSdir                   string
	checkArchs                bool
	requireArchs              []string
	requireTargetMacOSVersion string
	jobs                      int
	verbose                   bool
	configPath                string
}

func newWheelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wheel [wheels...]",
		Short: "Delocate one or more wheels",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWheel,
	}
	cmd.Flags().StringP("output-dir", "w", "", "Directory for the delocated wheel(s) (default: alongside the input)")
	cmd.Flags().Bool("dylibs-only", false, "Only inspect files ending .so/.dylib")
	cmd.Flags().StringArray("exclude", nil, "Substring of paths to never copy (repeatable)")
	cmd.Flags().String("executable-path", "", "Path used to resolve @executable_path")
	cmd.Flags().Bool("ignore-missing-dependencies", false, "Warn instead of failing on missing non-system dependencies")
	cmd.Flags().Bool("sanitize-rpaths", true, "Strip absolute rpaths after relinking")
	cmd.Flags().String("lib-sdir", "", "Bundle directory name (default: .dylibs)")
	cmd.Flags().Bool("check-archs", false, "Verify architecture compatibility across dependency edges")
	cmd.Flags().StringArray("require-archs", nil, "Architectures (or intel/universal2) every depending file must support")
	cmd.Flags().String("require-target-macos-version", "", "Fail if any bundled library needs a newer macOS than this")
	cmd.Flags().IntP("jobs", "j", 0, "Max concurrent wheels (default: GOMAXPROCS)")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	cmd.Flags().String("config", "", "Path to a .delocate.toml file (default: ./.delocate.toml if present)")
	return cmd
}

func parseWheelFlags(cmd *cobra.Command) (wheelFlags, error) {
	var f wheelFlags
	f.outputDir, _ = cmd.Flags().GetString("output-dir")
	f.dylibsOnly, _ = cmd.Flags().GetBool("dylibs-only")
	f.exclude, _ = cmd.Flags().GetStringArray("exclude")
	f.executablePath, _ = cmd.Flags().GetString("executable-path")
	f.ignoreMissingDependencies, _ = cmd.Flags().GetBool("ignore-missing-dependencies")
	f.sanitizeRpaths, _ = cmd.Flags().GetBool("sanitize-rpaths")
	f.libSdir, _ = cmd.Flags().GetString("lib-sdir")
	f.checkArchs, _ = cmd.Flags().GetBool("check-archs")
	f.requireArchs, _ = cmd.Flags().GetStringArray("require-archs")
	f.requireTargetMacOSVersion, _ = cmd.Flags().GetString("require-target-macos-version")
	f.jobs, _ = cmd.Flags().GetInt("jobs")
	f.verbose, _ = cmd.Flags().GetBool("verbose")
	f.configPath, _ = cmd.Flags().GetString("config")
	return f, nil
}

func mergeConfig(f wheelFlags, cmd *cobra.Command) (wheelFlags, error) {
	path := f.configPath
	if path == "" {
		path = ".delocate.toml"
	}
	cfg, err := cliconfig.Load(path)
	if err != nil {
		return f, fmt.Errorf("reading config: %w", err)
	}
	if !cmd.Flags().Changed("dylibs-only") && cfg.DylibsOnly {
		f.dylibsOnly = true
	}
	if !cmd.Flags().Changed("exclude") && len(cfg.Exclude) > 0 {
		f.exclude = cfg.Exclude
	}
	if !cmd.Flags().Changed("executable-path") && cfg.ExecutablePath != "" {
		f.executablePath = cfg.ExecutablePath
	}
	if !cmd.Flags().Changed("ignore-missing-dependencies") && cfg.IgnoreMissingDependencies {
		f.ignoreMissingDependencies = true
	}
	if !cmd.Flags().Changed("lib-sdir") && cfg.LibSdir != "" {
		f.libSdir = cfg.LibSdir
	}
	if !cmd.Flags().Changed("check-archs") && cfg.CheckArchs {
		f.checkArchs = true
	}
	if !cmd.Flags().Changed("require-archs") && len(cfg.RequireArchs) > 0 {
		f.requireArchs = cfg.RequireArchs
	}
	if !cmd.Flags().Changed("require-target-macos-version") && cfg.RequireTargetMacOSVersion != "" {
		f.requireTargetMacOSVersion = cfg.RequireTargetMacOSVersion
	}
	if !cmd.Flags().Changed("jobs") && cfg.Jobs > 0 {
		f.jobs = cfg.Jobs
	}
	return f, nil
}

func runWheel(cmd *cobra.Command, args []string) error {
	flags, err := parseWheelFlags(cmd)
	if err != nil {
		return err
	}
	flags, err = mergeConfig(flags, cmd)
	if err != nil {
		return err
	}

	logger := newLogger(flags.verbose)

	var requireTarget *macosver.Version
	if flags.requireTargetMacOSVersion != "" {
		v, err := macosver.ParseDotted(flags.requireTargetMacOSVersion)
		if err != nil {
			return err
		}
		requireTarget = &v
	}

	var sourceDateEpoch *time.Time
	if s := os.Getenv("SOURCE_DATE_EPOCH"); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SOURCE_DATE_EPOCH %q: %w", s, err)
		}
		t := time.Unix(secs, 0).UTC()
		sourceDateEpoch = &t
	}

	jobs := flags.jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for _, wheelPath := range args {
		wheelPath := wheelPath
		g.Go(func() error {
			opts := orchestrator.Options{
				Adapter:                   macho.NewOsxAdapter(),
				Logger:                    logger,
				DylibsOnly:                flags.dylibsOnly,
				Exclude:                   flags.exclude,
				ExecutablePath:            flags.executablePath,
				IgnoreMissingDependencies: flags.ignoreMissingDependencies,
				SanitizeRpaths:            flags.sanitizeRpaths,
				LibSdir:                   flags.libSdir,
				CheckArchs:                flags.checkArchs,
				RequireArchs:              flags.requireArchs,
				RequireTargetMacOSVersion: requireTarget,
				SourceDateEpoch:           sourceDateEpoch,
				Version:                   version,
			}
			result, err := orchestrator.DelocateWheel(wheelPath, flags.outputDir, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", wheelPath, err)
			}
			if result.Changed {
				fmt.Printf("delocated %s -> %s\n", wheelPath, result.OutputPath)
			} else {
				fmt.Printf("%s already self-contained\n", wheelPath)
			}
			return nil
		})
	}
	return g.Wait()
}

// listdeps

func newListDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listdeps <wheel-or-dir>",
		Short: "List the external libraries a wheel or directory depends on",
		Args:  cobra.ExactArgs(1),
		RunE:  runListDeps,
	}
	cmd.Flags().Bool("depending", false, "Also print each dependency's depending files")
	cmd.Flags().Bool("all", false, "Inspect every file, not only .so/.dylib")
	return cmd
}

func runListDeps(cmd *cobra.Command, args []string) error {
	showDepending, _ := cmd.Flags().GetBool("depending")
	all, _ := cmd.Flags().GetBool("all")

	root, cleanup, err := treeFor(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	filt := deps.DylibExtensionsOnly()
	if all {
		filt = deps.AllFiles()
	}
	adapter := macho.NewOsxAdapter()
	ctx := deps.NewSearchContext(adapter, "")
	libraries, err := deps.WalkDirectory(ctx, root, filt)
	if err != nil {
		return err
	}
	dict, err := libdict.BuildFromLibraries(libraries, libdict.BuildOptions{
		Context:       ctx,
		LibFilter:     filt,
		IgnoreMissing: true,
	})
	if err != nil {
		return err
	}
	for _, depended := range dict.DependedPaths() {
		if !deps.FilterSystemLibs(depended) {
			continue
		}
		fmt.Println(depended)
		if showDepending {
			for _, e := range dict.EdgesFor(depended) {
				fmt.Printf("    %s\n", e.Depending)
			}
		}
	}
	return nil
}

// addplat

func newAddPlatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addplat <wheel>",
		Short: "Add platform tags to an already-built wheel without delocating",
		Args:  cobra.ExactArgs(1),
		RunE:  runAddPlat,
	}
	cmd.Flags().StringArray("plat-tag", nil, "Additional macosx_{major}_{minor}_{arch} tag (repeatable)")
	cmd.Flags().StringP("output-dir", "w", "", "Directory for the output wheel (default: alongside the input)")
	return cmd
}

func runAddPlat(cmd *cobra.Command, args []string) error {
	tags, _ := cmd.Flags().GetStringArray("plat-tag")
	outDir, _ := cmd.Flags().GetString("output-dir")
	if len(tags) == 0 {
		return fmt.Errorf("addplat: at least one --plat-tag is required")
	}

	wheelPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	name, err := wheelfile.ParseName(filepath.Base(wheelPath))
	if err != nil {
		return err
	}

	existing := map[string]bool{}
	for _, t := range name.PlatformTags() {
		existing[t] = true
	}
	platform := name.Platform
	for _, t := range tags {
		if !existing[t] {
			platform += "." + t
			existing[t] = true
		}
	}
	newName := name.WithPlatform(platform)
	if newName.Platform == name.Platform {
		fmt.Printf("%s already has every requested tag\n", wheelPath)
		return nil
	}

	staging, err := os.MkdirTemp("", "delocate-addplat-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if _, err := wheelfile.Unpack(wheelPath, staging); err != nil {
		return err
	}
	distInfoDir, err := findDistInfoDir(staging)
	if err != nil {
		return err
	}
	wheelMetaPath := filepath.Join(distInfoDir, "WHEEL")
	data, err := os.ReadFile(wheelMetaPath)
	if err != nil {
		return err
	}
	meta, err := wheelfile.ParseWheelMetadata(data)
	if err != nil {
		return err
	}
	if meta.RootIsPurelib {
		return &direrrors.CannotTagPure{Wheel: filepath.Base(wheelPath)}
	}
	var wheelTags []string
	for _, plat := range newName.PlatformTags() {
		wheelTags = append(wheelTags, newName.PyVersion+"-"+newName.ABI+"-"+plat)
	}
	meta.SetTags(wheelTags)
	if err := os.WriteFile(wheelMetaPath, meta.Bytes(), 0o644); err != nil {
		return err
	}

	if outDir == "" {
		outDir = filepath.Dir(wheelPath)
	}
	outPath := filepath.Join(outDir, newName.String())
	if err := wheelfile.Pack(staging, outPath, wheelfile.PackOptions{}); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", wheelPath, outPath)
	return nil
}

// fuse

func newFuseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuse <to-wheel> <from-wheel> <out-wheel>",
		Short: "Merge two single-arch wheels into one universal wheel",
		Args:  cobra.ExactArgs(3),
		RunE:  runFuse,
	}
	cmd.Flags().Bool("no-retag", false, "Do not update the output wheel's name/tags")
	return cmd
}

func runFuse(cmd *cobra.Command, args []string) error {
	noRetag, _ := cmd.Flags().GetBool("no-retag")
	out, err := fuse.Wheels(args[0], args[1], args[2], !noRetag, macho.NewOsxAdapter())
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// path

func newPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path <directory>",
		Short: "Delocate an already-unpacked directory tree in place",
		Args:  cobra.ExactArgs(1),
		RunE:  runPath,
	}
	cmd.Flags().Bool("dylibs-only", false, "Only inspect files ending .so/.dylib")
	cmd.Flags().StringArray("exclude", nil, "Substring of paths to never copy (repeatable)")
	cmd.Flags().String("lib-sdir", ".dylibs", "Bundle directory name")
	cmd.Flags().Bool("sanitize-rpaths", true, "Strip absolute rpaths after relinking")
	cmd.Flags().Bool("ignore-missing-dependencies", false, "Warn instead of failing on missing non-system dependencies")
	return cmd
}

func runPath(cmd *cobra.Command, args []string) error {
	dylibsOnly, _ := cmd.Flags().GetBool("dylibs-only")
	exclude, _ := cmd.Flags().GetStringArray("exclude")
	libSdir, _ := cmd.Flags().GetString("lib-sdir")
	sanitizeRpaths, _ := cmd.Flags().GetBool("sanitize-rpaths")
	ignoreMissing, _ := cmd.Flags().GetBool("ignore-missing-dependencies")

	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	adapter := macho.NewOsxAdapter()
	filt := deps.AllFiles()
	if dylibsOnly {
		filt = deps.DylibExtensionsOnly()
	}
	ctx := deps.NewSearchContext(adapter, "")
	libraries, err := deps.WalkDirectory(ctx, root, filt)
	if err != nil {
		return err
	}
	copyFilter := func(path string) bool {
		if !deps.FilterSystemLibs(path) {
			return false
		}
		for _, substr := range exclude {
			if strings.Contains(path, substr) {
				return false
			}
		}
		return true
	}
	dict, err := libdict.BuildFromLibraries(libraries, libdict.BuildOptions{
		Context:       ctx,
		LibFilter:     filt,
		CopyFilter:    copyFilter,
		IgnoreMissing: ignoreMissing,
	})
	if err != nil {
		return err
	}
	// the bundle directory for a bare tree sits at its root.
	bundleDir := filepath.Join(root, libSdir)
	p, err := plan.Build(dict, root, bundleDir, func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("copying %d librar(y/ies) into %s\n", len(p.CopySet), bundleDir)
	if _, err := delocate.Execute(dict, p, delocate.ExecuteOptions{
		Adapter:        adapter,
		SanitizeRpaths: sanitizeRpaths,
	}); err != nil {
		return err
	}
	return delocate.Uniquify(destinationsOf(p), delocate.UniquifyOptions{
		Adapter:   adapter,
		BundleDir: bundleDir,
		Root:      root,
	})
}

func destinationsOf(p *plan.Plan) []string {
	out := make([]string, len(p.CopySet))
	for i, ct := range p.CopySet {
		out[i] = ct.Destination
	}
	return out
}

func treeFor(inputPath string) (root string, cleanup func(), err error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return inputPath, func() {}, nil
	}
	staging, err := os.MkdirTemp("", "delocate-listdeps-*")
	if err != nil {
		return "", nil, err
	}
	if _, err := wheelfile.Unpack(inputPath, staging); err != nil {
		os.RemoveAll(staging)
		return "", nil, err
	}
	return staging, func() { os.RemoveAll(staging) }, nil
}

func findDistInfoDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".dist-info") {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no .dist-info directory found under %s", root)
}
