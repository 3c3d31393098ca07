package metrics

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/William-King977/TaweLib/library"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.StoreWrite(library.ClassUser, "append", nil, time.Millisecond)
	r.StoreWrite(library.ClassUser, "replace", fmt.Errorf("edit: %w", library.ErrStaleWrite), time.Millisecond)
	r.StoreWrite(library.ClassLoan, "replace", library.ErrStoreCorruption, time.Millisecond)
	r.LedgerEvent("fine", library.Pounds(6))
	r.LedgerEvent("fine", library.Pence(50))
	r.LedgerEvent("payment", library.Pounds(2))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"user appends", testutil.ToFloat64(r.writes.WithLabelValues("users", "append", "ok")), 1},
		{"stale replaces", testutil.ToFloat64(r.writes.WithLabelValues("users", "replace", "stale")), 1},
		{"corrupt replaces", testutil.ToFloat64(r.writes.WithLabelValues("loans", "replace", "corrupt")), 1},
		{"fines", testutil.ToFloat64(r.ledger.WithLabelValues("fine")), 2},
		{"fine pence", testutil.ToFloat64(r.ledgerPence.WithLabelValues("fine")), 650},
		{"payment pence", testutil.ToFloat64(r.ledgerPence.WithLabelValues("payment")), 200},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(r.writeSeconds); n != 2 {
		t.Errorf("histogram series = %d, want 2", n)
	}
}

func TestRecorderObservesManager(t *testing.T) {
	r := New()
	now := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	lm, err := library.NewLibraryManager(library.Config{DataDir: t.TempDir(), Observer: r, Now: now})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer lm.Close()

	details := library.ContactDetails{FirstName: "Ada", Surname: "Jones", MobileNumber: "07123 456789",
		Address1: "1 High Street", City: "Swansea", Postcode: "SA1 1AA"}
	if _, err := lm.RegisterUser(library.Session{}, library.NewUser{Username: "admin", ContactDetails: details}, true); err != nil {
		t.Fatalf("register: %v", err)
	}
	admin, err := lm.Login("admin")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := lm.ApplyFine(admin, "admin", library.Pounds(3), library.FineContext{}); err != nil {
		t.Fatalf("fine: %v", err)
	}

	if got := testutil.ToFloat64(r.ledgerPence.WithLabelValues("fine")); got != 300 {
		t.Fatalf("fine pence = %v", got)
	}
	if got := testutil.ToFloat64(r.writes.WithLabelValues("transactions", "register", "ok")); got != 1 {
		t.Fatalf("transaction registers = %v", got)
	}

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if !strings.Contains(buf.String(), `tawelib_ledger_events_total{kind="fine"} 1`) {
		t.Fatalf("text dump missing ledger counter:\n%s", buf.String())
	}
}
