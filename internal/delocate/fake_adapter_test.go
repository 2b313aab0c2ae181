package delocate

import "github.com/matthew-brett/delocate-go/internal/macho"

// fakeAdapter is an in-memory macho.Adapter used to exercise Execute,
// CheckArchs, and Uniquify without shelling out to otool/install_name_tool.
type fakeAdapter struct {
	archs    map[string]map[string]bool
	ids      map[string]string
	changes  []change
	newIDs   map[string]string
	rpathsRm []string
	signed   []string
}

type change struct {
	path, old, new string
}

var _ macho.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		archs: map[string]map[string]bool{},
		ids:   map[string]string{},
	}
}

func (a *fakeAdapter) InstallNames(path string) ([]string, error) { return nil, nil }

func (a *fakeAdapter) InstallID(path string) (string, bool, error) {
	id, ok := a.ids[path]
	return id, ok, nil
}

func (a *fakeAdapter) Rpaths(path string) ([]string, error) { return nil, nil }

func (a *fakeAdapter) Archs(path string) (map[string]bool, error) {
	if a.archs[path] == nil {
		return map[string]bool{"x86_64": true}, nil
	}
	return a.archs[path], nil
}

func (a *fakeAdapter) MinOS(path string) ([]macho.MinOSVersion, error) { return nil, nil }

func (a *fakeAdapter) ChangeInstallName(path, old, newName string) error {
	a.changes = append(a.changes, change{path, old, newName})
	return nil
}

func (a *fakeAdapter) SetInstallID(path, newID string) error {
	if a.newIDs == nil {
		a.newIDs = map[string]string{}
	}
	a.newIDs[path] = newID
	return nil
}

func (a *fakeAdapter) RemoveAbsoluteRpaths(path string) error {
	a.rpathsRm = append(a.rpathsRm, path)
	return nil
}

func (a *fakeAdapter) ValidateSignature(path string) error {
	a.signed = append(a.signed, path)
	return nil
}

func (a *fakeAdapter) LipoFuse(inPath1, inPath2, outPath string) error { return nil }
