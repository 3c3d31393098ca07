package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// journal holds the undo images of an in-flight composite update. Its
// presence on disk at Open means the update never finished.
type journal struct {
	path string
}

type journalEntry struct {
	Started   time.Time           `json:"started"`
	Resources map[string][]string `json:"resources"`
}

func (j *journal) write(saved map[string][]string) error {
	data, err := json.Marshal(journalEntry{Started: time.Now().UTC(), Resources: saved})
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if err := writeFileAtomic(j.path, data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (j *journal) read() (*journalEntry, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var e journalEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: journal %s: %v", ErrStoreCorruption, j.path, err)
	}
	return &e, nil
}

func (j *journal) clear() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}
