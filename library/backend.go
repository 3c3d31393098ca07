package library

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Backend stores named resources as ordered sequences of lines. Every
// mutating call must be durable before it returns.
type Backend interface {
	// Lines returns every line of resource in order. A resource that was
	// never written is empty.
	Lines(resource string) ([]string, error)
	// Append adds line after the last existing line.
	Append(resource, line string) error
	// Replace swaps the single line equal to before for after, in place.
	// No match is ErrStaleWrite; more than one is ErrStoreCorruption.
	Replace(resource, before, after string) error
	// Restore overwrites the whole resource.
	Restore(resource string, lines []string) error
	Close() error
}

// replaceLine is the shared in-memory half of Replace.
func replaceLine(resource string, lines []string, before, after string) ([]string, error) {
	at := -1
	for i, l := range lines {
		if l != before {
			continue
		}
		if at >= 0 {
			return nil, fmt.Errorf("%w: %s has duplicate lines %d and %d", ErrStoreCorruption, resource, at+1, i+1)
		}
		at = i
	}
	if at < 0 {
		return nil, fmt.Errorf("%w: %s", ErrStaleWrite, resource)
	}
	out := append([]string(nil), lines...)
	out[at] = after
	return out, nil
}

// ---------------------------------------------------------------------------
// Flat files
// ---------------------------------------------------------------------------

// FileBackend keeps each resource in <dir>/<resource>.txt, one record per line.
type FileBackend struct {
	dir string
}

// NewFileBackend opens (or creates) the data directory.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) Dir() string { return f.dir }

func (f *FileBackend) path(resource string) string {
	return filepath.Join(f.dir, resource+".txt")
}

func (f *FileBackend) Lines(resource string) ([]string, error) {
	data, err := os.ReadFile(f.path(resource))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resource, err)
	}
	return splitLines(data), nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func (f *FileBackend) Append(resource, line string) error {
	file, err := os.OpenFile(f.path(resource), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", resource, err)
	}
	defer file.Close()

	// Older files may lack the final newline.
	buf := []byte(line + "\n")
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
			return fmt.Errorf("read %s: %w", resource, err)
		}
		if last[0] != '\n' {
			buf = append([]byte{'\n'}, buf...)
		}
	}
	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("append %s: %w", resource, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", resource, err)
	}
	return nil
}

func (f *FileBackend) Replace(resource, before, after string) error {
	lines, err := f.Lines(resource)
	if err != nil {
		return err
	}
	out, err := replaceLine(resource, lines, before, after)
	if err != nil {
		return err
	}
	return f.Restore(resource, out)
}

func (f *FileBackend) Restore(resource string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(f.path(resource), buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", resource, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }

// writeFileAtomic writes data to a sibling temp file, syncs it and renames it
// over path, then syncs the directory so the rename itself survives a crash.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
