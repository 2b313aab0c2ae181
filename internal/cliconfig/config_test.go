package cliconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if f != (File{}) {
		t.Errorf("f = %+v, want zero value", f)
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".delocate.toml")
	want := File{
		DylibsOnly:     true,
		Exclude:        []string{"libskip.dylib"},
		ExecutablePath: "/usr/bin/python3",
		SanitizeRpaths: true,
		LibSdir:        ".dylibs",
		RequireArchs:   []string{"x86_64", "arm64"},
		Jobs:           4,
	}
	if err := Write(path, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DylibsOnly != want.DylibsOnly || got.ExecutablePath != want.ExecutablePath ||
		got.SanitizeRpaths != want.SanitizeRpaths || got.LibSdir != want.LibSdir || got.Jobs != want.Jobs {
		t.Errorf("got = %+v, want %+v", got, want)
	}
	if len(got.Exclude) != 1 || got.Exclude[0] != "libskip.dylib" {
		t.Errorf("Exclude = %v", got.Exclude)
	}
	if len(got.RequireArchs) != 2 {
		t.Errorf("RequireArchs = %v", got.RequireArchs)
	}
}
