// Package delocate implements the copy & relink executor (spec
// component E), the architecture checker (component F), and the
// install-id uniquifier (component H) — the three plan-consuming
// stages of the pipeline.
package delocate

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/matthew-brett/delocate-go/internal/libdict"
	"github.com/matthew-brett/delocate-go/internal/macho"
	"github.com/matthew-brett/delocate-go/internal/plan"
)

// ExecuteOptions configures Execute.
type ExecuteOptions struct {
	Adapter        macho.Adapter
	SanitizeRpaths bool
}

// Execute runs spec component E: copies every CopyTarget into the
// bundle directory, then rewrites every depending->depended edge to
// @loader_path/<relpath>, skipping edges whose install name is already
// correct (this both avoids unnecessary signature churn and makes
// delocating an already-delocated wheel a no-op, per the idempotence
// property). Returns the set of files it mutated, for the caller to
// pass along to anything that needs the final touched-file list.
func Execute(dict *libdict.LibDict, p *plan.Plan, opts ExecuteOptions) ([]string, error) {
	for _, ct := range p.CopySet {
		if err := copyFile(ct.Source, ct.Destination); err != nil {
			return nil, err
		}
	}

	touched := map[string]bool{}
	for _, e := range dict.Edges() {
		finalDepending := e.Depending
		if v, ok := p.Renamed[e.Depending]; ok {
			finalDepending = v
		}
		finalDepended, ok := p.Renamed[e.Depended]
		if !ok {
			finalDepended = e.Depended
		}

		rel, err := filepath.Rel(filepath.Dir(finalDepending), finalDepended)
		if err != nil {
			return nil, err
		}
		newName := "@loader_path/" + filepath.ToSlash(rel)
		if newName == e.InstallName {
			continue
		}
		if err := opts.Adapter.ChangeInstallName(finalDepending, e.InstallName, newName); err != nil {
			return nil, err
		}
		touched[finalDepending] = true
	}

	if opts.SanitizeRpaths {
		for d := range touched {
			if err := opts.Adapter.RemoveAbsoluteRpaths(d); err != nil {
				return nil, err
			}
		}
	}

	files := make([]string, 0, len(touched))
	for f := range touched {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := opts.Adapter.ValidateSignature(f); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	const userWrite = 0o200
	if info.Mode()&userWrite == 0 {
		if err := os.Chmod(dst, info.Mode()|userWrite); err != nil {
			return err
		}
	}
	return nil
}
