package library

import (
	"path/filepath"
	"sync"
	"testing"
)

func registerRequest(s *Store, username string) (Request, error) {
	return s.Requests.Register(func(id int64) (Request, error) {
		return Request{RequestID: id, Username: username, ResourceID: 4, RequestDate: date(2024, 3, 1)}, nil
	})
}

func TestNextID(t *testing.T) {
	s, _ := tempStore(t)
	if id, err := s.Requests.NextID(); err != nil || id != 1 {
		t.Fatalf("empty class: got %d %v, want 1", id, err)
	}
	// IDs need not be dense; the next one follows the largest.
	for _, id := range []int64{3, 9, 5} {
		if err := s.Requests.Append(Request{RequestID: id, Username: "bob", ResourceID: 1, RequestDate: date(2024, 3, 1)}); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}
	r, err := registerRequest(s, "amy")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.RequestID != 10 {
		t.Fatalf("got id %d, want 10", r.RequestID)
	}
}

func TestRegisterConcurrentIDsAreUnique(t *testing.T) {
	s, _ := tempStore(t)
	const n = 25

	var wg sync.WaitGroup
	ids := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := registerRequest(s, "racer")
			if err != nil {
				errs <- err
				return
			}
			ids <- r.RequestID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("register: %v", err)
	}
	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	for id := int64(1); id <= n; id++ {
		if !seen[id] {
			t.Fatalf("id %d never issued", id)
		}
	}
}

func TestIDsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	open := func() *Store {
		b, err := NewFileBackend(dir)
		if err != nil {
			t.Fatalf("backend: %v", err)
		}
		s, err := Open(b, StoreOptions{JournalPath: filepath.Join(dir, "journal.json")})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	}

	s := open()
	for i := 0; i < 3; i++ {
		if _, err := registerRequest(s, "bob"); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	s.Close()

	s = open()
	defer s.Close()
	r, err := registerRequest(s, "bob")
	if err != nil {
		t.Fatalf("register after restart: %v", err)
	}
	if r.RequestID != 4 {
		t.Fatalf("got id %d after restart, want 4", r.RequestID)
	}
}
