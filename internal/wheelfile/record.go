package wheelfile

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

// RecordEntry is a single row of a wheel's RECORD file: a project-
// relative path, its hash, and its size in bytes. PEP 376 encodes the
// hash as base64 urlsafe-no-padding, not as a hex digest.
type RecordEntry struct {
	Path string
	Hash string // "sha256=<base64url-no-pad>"
	Size int64
}

// HashFile computes a RecordEntry's hash/size fields for the file at
// path, using opencontainers/go-digest for the sha256 computation and
// PEP 376's base64 urlsafe-no-padding encoding (not go-digest's own
// hex Encoded() form).
func HashFile(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("wheelfile: opening %s: %w", path, err)
	}
	defer f.Close()

	verifier := digest.SHA256.Digester()
	n, err := io.Copy(verifier.Hash(), f)
	if err != nil {
		return "", 0, fmt.Errorf("wheelfile: hashing %s: %w", path, err)
	}

	raw, err := hex.DecodeString(verifier.Digest().Encoded())
	if err != nil {
		return "", 0, fmt.Errorf("wheelfile: decoding digest for %s: %w", path, err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return "sha256=" + encoded, n, nil
}

// RewriteRecord rewrites the RECORD file at recordPath to list exactly
// entries, followed by a trailing self-entry for RECORD itself with an
// empty hash and size, per PEP 376. distInfoDir is used to compute
// RECORD's own project-relative path.
func RewriteRecord(recordPath, distInfoDir string, entries []RecordEntry) error {
	f, err := os.Create(recordPath)
	if err != nil {
		return fmt.Errorf("wheelfile: creating RECORD: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, e := range entries {
		if err := w.Write([]string{e.Path, e.Hash, fmt.Sprintf("%d", e.Size)}); err != nil {
			return fmt.Errorf("wheelfile: writing RECORD entry: %w", err)
		}
	}
	relRecord := filepath.ToSlash(filepath.Join(filepath.Base(distInfoDir), "RECORD"))
	if err := w.Write([]string{relRecord, "", ""}); err != nil {
		return fmt.Errorf("wheelfile: writing RECORD self-entry: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("wheelfile: flushing RECORD: %w", err)
	}
	return f.Close()
}
