package delocate

import (
	"path/filepath"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/macho"
)

// UniquifyOptions configures Uniquify.
type UniquifyOptions struct {
	Adapter   macho.Adapter
	BundleDir string // absolute path of the bundle directory, e.g. .../.dylibs
	Root      string // absolute path of the wheel's extracted root
}

// Uniquify implements spec component H: every library copied into the
// bundle directory gets an install id of the form
// /DLC/<bundle-rel>/<basename(D)>, where bundle-rel is the bundle
// directory's path relative to the unpacked wheel root, so that two
// wheels bundling a library of the same basename never collide once
// both are imported into the same process (the reference
// implementation's DLC prefix, preserved literally). copiedFiles are
// the destination paths produced by plan.Build's CopySet; files with
// no LC_ID_DYLIB (never true for a real dylib, but possible for a
// misidentified bundle) are skipped.
func Uniquify(copiedFiles []string, opts UniquifyOptions) error {
	bundleRel, err := filepath.Rel(opts.Root, opts.BundleDir)
	if err != nil {
		return err
	}
	for _, path := range copiedFiles {
		_, hasID, err := opts.Adapter.InstallID(path)
		if err != nil {
			return err
		}
		if !hasID {
			continue
		}
		newID := "/DLC/" + filepath.ToSlash(bundleRel) + "/" + filepath.Base(path)
		newID = strings.ReplaceAll(newID, "//", "/")
		if err := opts.Adapter.SetInstallID(path, newID); err != nil {
			return err
		}
		if err := opts.Adapter.ValidateSignature(path); err != nil {
			return err
		}
	}
	return nil
}
