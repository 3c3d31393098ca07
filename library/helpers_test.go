package library

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	s, err := Open(backend, StoreOptions{JournalPath: filepath.Join(dir, "journal.json")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func newManager(t *testing.T) (*LibraryManager, *testClock) {
	t.Helper()
	return newManagerIn(t, t.TempDir())
}

func newManagerIn(t *testing.T, dir string) (*LibraryManager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	lm, err := NewLibraryManager(Config{DataDir: dir, Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { lm.Close() })
	return lm, clock
}

func contact(first string) ContactDetails {
	return ContactDetails{
		FirstName:    first,
		Surname:      "Jones",
		MobileNumber: "07123 456789",
		Address1:     "1 High Street",
		City:         "Swansea",
		Postcode:     "SA1 1AA",
	}
}

// bootstrap registers the first librarian and logs in as them.
func bootstrap(t *testing.T, lm *LibraryManager) Session {
	t.Helper()
	if _, err := lm.RegisterUser(Session{}, NewUser{Username: "admin", ContactDetails: contact("Ada")}, true); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	sess, err := lm.Login("admin")
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}
	return sess
}

func addMember(t *testing.T, lm *LibraryManager, admin Session, username string) Session {
	t.Helper()
	if _, err := lm.RegisterUser(admin, NewUser{Username: username, ContactDetails: contact("Bob")}, false); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	sess, err := lm.Login(username)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return sess
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func writeLines(t *testing.T, dir, resource string, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, resource+".txt"), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", resource, err)
	}
}
