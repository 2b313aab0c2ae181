package delocate

import (
	"path/filepath"
	"testing"
)

func TestUniquifySetsDLCInstallID(t *testing.T) {
	root := "/tmp/wheel-root"
	bundleDir := filepath.Join(root, "pkg", ".dylibs")
	copied := filepath.Join(bundleDir, "libfoo.dylib")

	adapter := newFakeAdapter()
	adapter.ids[copied] = "libfoo.dylib"

	if err := Uniquify([]string{copied}, UniquifyOptions{Adapter: adapter, BundleDir: bundleDir, Root: root}); err != nil {
		t.Fatal(err)
	}

	want := "/DLC/pkg/.dylibs/libfoo.dylib"
	if got := adapter.newIDs[copied]; got != want {
		t.Errorf("newIDs[%s] = %q, want %q", copied, got, want)
	}
	if len(adapter.signed) != 1 || adapter.signed[0] != copied {
		t.Errorf("signed = %v", adapter.signed)
	}
}

func TestUniquifySkipsFilesWithoutInstallID(t *testing.T) {
	root := "/tmp/wheel-root"
	bundleDir := filepath.Join(root, "pkg", ".dylibs")
	copied := filepath.Join(bundleDir, "not-a-dylib")

	adapter := newFakeAdapter()

	if err := Uniquify([]string{copied}, UniquifyOptions{Adapter: adapter, BundleDir: bundleDir, Root: root}); err != nil {
		t.Fatal(err)
	}
	if len(adapter.newIDs) != 0 {
		t.Errorf("newIDs = %v, want none", adapter.newIDs)
	}
	if len(adapter.signed) != 0 {
		t.Errorf("signed = %v, want none", adapter.signed)
	}
}
