// Package plan partitions a LibDict's dependencies into in-tree
// (rewrite-only) and out-of-tree (copy + rewrite) sets (spec component
// D).
package plan

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/matthew-brett/delocate-go/internal/direrrors"
	"github.com/matthew-brett/delocate-go/internal/libdict"
)

// CopyTarget is one out-of-tree dependency that must be copied into
// the bundle directory.
type CopyTarget struct {
	Source      string // original absolute path outside root
	Destination string // path inside the bundle directory after copy
}

// Plan is the output of partitioning a LibDict against a root path:
// CopySet are dependencies to copy-then-relink, RelinkSet are
// dependencies already under root that only need relinking. Renamed
// maps an original depended path to its final path (CopySet entries
// map to their bundle destination; RelinkSet entries map to
// themselves), satisfying spec §4.D's requirement that references to a
// library that is itself being copied are updated to its destination.
type Plan struct {
	CopySet   []CopyTarget
	RelinkSet []string
	Renamed   map[string]string
}

// Build implements spec component D: for every depended path K in dict,
// @-prefixed keys are an Unresolved bug (the resolver should never
// produce one); paths outside root are classified as copy targets
// (basename collisions are fatal), paths under root are relink-only.
// bundleDir is the absolute path copied libraries are destined for.
func Build(dict *libdict.LibDict, root, bundleDir string, exists func(string) bool) (*Plan, error) {
	root = canonical(root)
	p := &Plan{Renamed: map[string]string{}}

	basenames := map[string][]string{}
	for _, depended := range dict.DependedPaths() {
		if strings.HasPrefix(depended, "@") {
			return nil, &direrrors.Unresolved{Name: depended}
		}
		canon := canonical(depended)
		if isUnder(canon, root) {
			p.RelinkSet = append(p.RelinkSet, canon)
			p.Renamed[depended] = canon
			continue
		}
		if exists != nil && !exists(canon) {
			return nil, &direrrors.Missing{Paths: []string{canon}}
		}
		base := filepath.Base(canon)
		basenames[base] = append(basenames[base], canon)
		dest := filepath.Join(bundleDir, base)
		p.CopySet = append(p.CopySet, CopyTarget{Source: canon, Destination: dest})
		p.Renamed[depended] = dest
	}

	for base, paths := range basenames {
		if len(paths) > 1 {
			sort.Strings(paths)
			return nil, &direrrors.Collision{Basename: base, Paths: paths}
		}
	}

	sort.Slice(p.CopySet, func(i, j int) bool { return p.CopySet[i].Source < p.CopySet[j].Source })
	sort.Strings(p.RelinkSet)
	return p, nil
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
