// Package backup copies a consistent snapshot of every store resource to a
// directory or an S3 bucket, with a manifest of BLAKE2b digests.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/William-King977/TaweLib/library"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ManifestName is written last, so a run without one is incomplete.
const ManifestName = "manifest.json"

// Target receives the files of a backup run. Names are slash separated and
// relative to the target root.
type Target interface {
	Put(ctx context.Context, name string, data []byte) error
	String() string
}

// File describes one resource in a run.
type File struct {
	Name   string `json:"name"`
	Lines  int    `json:"lines"`
	Bytes  int    `json:"bytes"`
	Digest string `json:"blake2b_256"`
}

type Manifest struct {
	RunID     uuid.UUID `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Prefix    string    `json:"prefix"`
	Files     []File    `json:"files"`
}

// Run snapshots s under shared locks and uploads it to dst under a prefix
// derived from now and a fresh run ID.
func Run(ctx context.Context, s *library.Store, dst Target, now time.Time) (Manifest, error) {
	m := Manifest{RunID: uuid.New(), CreatedAt: now.UTC()}
	m.Prefix = fmt.Sprintf("tawelib-%s-%s", m.CreatedAt.Format("20060102T150405Z"), m.RunID.String()[:8])

	bodies := map[string][]byte{}
	err := s.Export(func(resource string, lines []string) error {
		body := encode(lines)
		name := resource + ".txt"
		bodies[name] = body
		m.Files = append(m.Files, File{Name: name, Lines: len(lines), Bytes: len(body), Digest: digest(body)})
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: %w", err)
	}

	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		if err := dst.Put(ctx, path.Join(m.Prefix, f.Name), bodies[f.Name]); err != nil {
			return Manifest{}, fmt.Errorf("upload %s to %s: %w", f.Name, dst, err)
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	if err := dst.Put(ctx, path.Join(m.Prefix, ManifestName), append(data, '\n')); err != nil {
		return Manifest{}, fmt.Errorf("upload manifest to %s: %w", dst, err)
	}
	s.Logger().Info("backup written", "run", m.RunID, "target", dst.String(), "prefix", m.Prefix, "files", len(m.Files))
	return m, nil
}

func encode(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func digest(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyDir checks a run written by a DirTarget against its manifest.
func VerifyDir(runDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(runDir, ManifestName))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	var errs []error
	for _, f := range m.Files {
		body, err := os.ReadFile(filepath.Join(runDir, f.Name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got := digest(body); got != f.Digest {
			errs = append(errs, fmt.Errorf("%s: digest %s, manifest says %s", f.Name, got, f.Digest))
		}
	}
	return m, errors.Join(errs...)
}
