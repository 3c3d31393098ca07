package library

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestGuardDetectsConcurrentEdit(t *testing.T) {
	s, dir := tempStore(t)
	if err := s.Users.Append(sampleUser("bob")); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec, err := s.Users.Get("bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Two editors read the same record.
	first, second := Capture(s.Users, rec), Capture(s.Users, rec)

	a := first.Value
	a.City = "Cardiff"
	if err := first.Commit(a); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	b := second.Value
	b.City = "Newport"
	if err := second.Commit(b); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("want ErrStaleWrite, got %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "users.txt")); !strings.Contains(got, "Cardiff") || strings.Contains(got, "Newport") {
		t.Fatalf("stale commit leaked: %q", got)
	}

	fresh, err := second.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Value.City != "Cardiff" {
		t.Fatalf("reload saw %q", fresh.Value.City)
	}
	b = fresh.Value
	b.Postcode = "NP20 1AA"
	if err := fresh.Commit(b); err != nil {
		t.Fatalf("commit after reload: %v", err)
	}
}

func TestGuardMatchesLegacyBeforeImage(t *testing.T) {
	s, dir := tempStore(t)
	legacy := "bob,Bob,Smith,07000111222,2 Low Road,N/A,Cardiff,CF10 1AA,Default1.png,5.0"
	writeLines(t, dir, "users", legacy)

	rec, err := s.Users.Get("bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Line != legacy {
		t.Fatalf("record line = %q", rec.Line)
	}
	u := rec.Value
	u.Fine = 0
	if err := Capture(s.Users, rec).Commit(u); err != nil {
		t.Fatalf("commit over legacy line: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "users.txt")); !strings.HasSuffix(got, ",Default1.png,0.00,\n") {
		t.Fatalf("line not rewritten in current format: %q", got)
	}
}
