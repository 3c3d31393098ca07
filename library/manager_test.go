package library

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRegisterUsers(t *testing.T) {
	lm, _ := newManager(t)

	first, err := lm.RegisterUser(Session{}, NewUser{Username: "admin", ContactDetails: contact("Ada")}, true)
	if err != nil {
		t.Fatalf("first librarian: %v", err)
	}
	if !first.IsLibrarian() || first.Staff.StaffID != 1 || !first.Staff.EmploymentDate.Equal(date(2024, 3, 1)) {
		t.Fatalf("first librarian = %+v", first)
	}
	if _, err := lm.RegisterUser(Session{}, NewUser{Username: "mallory", ContactDetails: contact("Mal")}, false); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("anonymous registration: want ErrNotAuthorized, got %v", err)
	}

	admin, err := lm.Login("admin")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := lm.RegisterUser(admin, NewUser{Username: "clerk", ContactDetails: contact("Cleo")}, true)
	if err != nil || second.Staff.StaffID != 2 {
		t.Fatalf("second librarian = %+v, %v", second, err)
	}
	member, err := lm.RegisterUser(admin, NewUser{Username: "alice", ContactDetails: contact("Alice")}, false)
	if err != nil || member.IsLibrarian() || member.ProfilePicture != DefaultProfilePicture {
		t.Fatalf("member = %+v, %v", member, err)
	}

	for _, name := range []string{"alice", "clerk"} {
		if _, err := lm.RegisterUser(admin, NewUser{Username: name, ContactDetails: contact("Dup")}, false); !errors.Is(err, ErrDuplicateUsername) {
			t.Errorf("re-register %s: want ErrDuplicateUsername, got %v", name, err)
		}
	}

	alice, _ := lm.Login("alice")
	if _, err := lm.RegisterUser(alice, NewUser{Username: "eve", ContactDetails: contact("Eve")}, false); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("member registering: want ErrNotAuthorized, got %v", err)
	}

	profiles, err := lm.ListProfiles()
	if err != nil || len(profiles) != 3 {
		t.Fatalf("profiles = %d, %v", len(profiles), err)
	}
	if profiles[0].Username != "alice" {
		t.Fatalf("members should list first, got %s", profiles[0].Username)
	}
}

func TestRegistrationValidation(t *testing.T) {
	lm, _ := newManager(t)
	admin := bootstrap(t, lm)

	tests := []struct {
		name     string
		username string
		edit     func(*ContactDetails)
	}{
		{"empty username", "", func(*ContactDetails) {}},
		{"username with comma", "a,b", func(*ContactDetails) {}},
		{"missing surname", "u1", func(d *ContactDetails) { d.Surname = "  " }},
		{"digits in name", "u2", func(d *ContactDetails) { d.FirstName = "R2D2" }},
		{"landline", "u3", func(d *ContactDetails) { d.MobileNumber = "01792 123456" }},
		{"bad postcode", "u4", func(d *ContactDetails) { d.Postcode = "12345" }},
		{"address without letters", "u5", func(d *ContactDetails) { d.Address1 = "12" }},
		{"comma in address", "u6", func(d *ContactDetails) { d.Address1 = "1, High Street" }},
		{"not applicable second line", "u7", func(d *ContactDetails) { d.Address2 = "N/A" }},
		{"lower case not applicable", "u8", func(d *ContactDetails) { d.Address2 = " n/a " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := contact("Val")
			tt.edit(&d)
			_, err := lm.RegisterUser(admin, NewUser{Username: tt.username, ContactDetails: d}, false)
			if !errors.Is(err, ErrInvalidField) {
				t.Fatalf("want ErrInvalidField, got %v", err)
			}
		})
	}

	d := contact("Val")
	d.Postcode = " sa2 8pp "
	p, err := lm.RegisterUser(admin, NewUser{Username: "val", ContactDetails: d}, false)
	if err != nil {
		t.Fatalf("valid registration: %v", err)
	}
	if p.Postcode != "SA2 8PP" {
		t.Fatalf("postcode = %q", p.Postcode)
	}
}

func TestNoSecondAddressLine(t *testing.T) {
	dir := t.TempDir()
	lm, _ := newManagerIn(t, dir)
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")

	body := readFile(t, filepath.Join(dir, "users.txt"))
	if !strings.Contains(body, ",1 High Street,N/A,Swansea,") {
		t.Fatalf("users.txt = %q", body)
	}
	p, err := lm.GetProfile("alice")
	if err != nil || p.Address2 != "" {
		t.Fatalf("profile = %+v, %v", p, err)
	}
}

func TestEditProfile(t *testing.T) {
	lm, _ := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")
	bob := addMember(t, lm, admin, "bob")

	ch := ProfileChanges{ContactDetails: contact("Alicia")}
	ch.City = "Cardiff"
	p, err := lm.EditProfile(alice, "alice", ch)
	if err != nil || p.FirstName != "Alicia" || p.City != "Cardiff" {
		t.Fatalf("own edit = %+v, %v", p, err)
	}
	if _, err := lm.EditProfile(bob, "alice", ch); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("bob editing alice: want ErrNotAuthorized, got %v", err)
	}

	// Librarians may edit details but not someone else's picture.
	pic := ProfileChanges{ContactDetails: contact("Alicia"), ProfilePicture: "Custom7.png"}
	if _, err := lm.EditProfile(admin, "alice", pic); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("librarian changing picture: want ErrNotAuthorized, got %v", err)
	}
	if p, err := lm.EditProfile(alice, "alice", pic); err != nil || p.ProfilePicture != "Custom7.png" {
		t.Fatalf("owner changing picture = %+v, %v", p, err)
	}

	// Editing a librarian keeps staff details.
	lp, err := lm.EditProfile(admin, "admin", ProfileChanges{ContactDetails: contact("Adeline")})
	if err != nil || lp.Staff == nil || lp.Staff.StaffID != 1 {
		t.Fatalf("librarian edit = %+v, %v", lp, err)
	}
	if got, _ := lm.GetProfile("admin"); got.FirstName != "Adeline" || got.Staff.StaffID != 1 {
		t.Fatalf("stored librarian = %+v", got)
	}
}

func TestStaleProfileEdit(t *testing.T) {
	lm, _ := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")

	if _, err := lm.ApplyFine(admin, "alice", Pounds(4), FineContext{}); err != nil {
		t.Fatalf("fine: %v", err)
	}
	edit, err := lm.BeginEdit("alice")
	if err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if _, err := lm.PayFine(alice, "alice", Pounds(1)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := lm.SaveEdit(alice, edit, ProfileChanges{ContactDetails: contact("Alicia")}); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("want ErrStaleWrite, got %v", err)
	}
	// The payment survived and the edit did not.
	p, _ := lm.GetProfile("alice")
	if p.Fine != Pounds(3) || p.FirstName != "Bob" {
		t.Fatalf("profile = %+v", p)
	}
	if _, err := lm.EditProfile(alice, "alice", ProfileChanges{ContactDetails: contact("Alicia")}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestFinesAndHistory(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")
	addMember(t, lm, admin, "bob")

	if _, err := lm.ApplyFine(admin, "alice", Pounds(5), FineContext{LoanID: 3, ResourceID: 8, ResourceType: DVD}); err != nil {
		t.Fatalf("fine: %v", err)
	}
	clock.Advance(90 * time.Minute)
	if _, err := lm.PayFine(alice, "alice", Pounds(2)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := lm.ApplyFine(admin, "admin", Pounds(1), FineContext{}); err != nil {
		t.Fatalf("fine librarian: %v", err)
	}

	owing, err := lm.ListOutstandingFines()
	if err != nil || len(owing) != 2 {
		t.Fatalf("outstanding = %+v, %v", owing, err)
	}
	if owing[0].Profile.Username != "alice" || owing[0].Balance != Pounds(3) || owing[1].Profile.Username != "admin" {
		t.Fatalf("outstanding = %+v", owing)
	}

	txs, err := lm.ListTransactionsFor("alice")
	if err != nil || len(txs) != 2 {
		t.Fatalf("history = %+v, %v", txs, err)
	}
	if want := "Fine of £5.00 for DVD 8 (loan 3) issued on 2024-03-01 at 09:30:00"; txs[0].Description() != want {
		t.Fatalf("fine description = %q", txs[0].Description())
	}
	if want := "Payment of £2.00 made on 2024-03-01 at 11:00:00"; txs[1].Description() != want {
		t.Fatalf("payment description = %q", txs[1].Description())
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	lm, _ := newManagerIn(t, dir)
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")
	if _, err := lm.ApplyFine(admin, "alice", Pounds(5), FineContext{}); err != nil {
		t.Fatalf("fine: %v", err)
	}
	if _, err := lm.Checkout(admin, LoanDraft{CopyID: 1, ResourceID: 1, Username: "alice", ResourceType: Book}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	r, err := lm.Verify()
	if err != nil || !r.OK() {
		t.Fatalf("clean store: %+v, %v", r, err)
	}
	if r.Profiles != 2 || r.Loans != 1 || r.Transactions != 1 {
		t.Fatalf("counts = %+v", r)
	}

	// A balance edited by hand no longer matches its history.
	rec, err := lm.Store().Users.Get("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	tampered := rec.Value
	tampered.Fine = Pounds(9)
	if err := lm.Store().Users.Replace(rec.Value, tampered); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	r, err = lm.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if r.OK() || len(r.Issues) != 1 || r.Issues[0].Key != "alice" {
		t.Fatalf("issues = %+v", r.Issues)
	}
	if !errors.Is(r.Err(), ErrStoreCorruption) {
		t.Fatalf("report error = %v", r.Err())
	}
}

func TestSQLiteManager(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	cfg := Config{Backend: BackendSQLite, DataDir: dir, Now: clock.Now}
	lm, err := NewLibraryManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")
	loan, err := lm.Checkout(admin, LoanDraft{CopyID: 2, ResourceID: 6, Username: "alice", ResourceType: DVD})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	clock.Set(date(2024, 3, 10))
	res, err := lm.ReturnLoan(admin, loan.LoanID)
	if err != nil || res.Fine == nil || res.Fine.Amount != Pounds(4) {
		t.Fatalf("return = %+v, %v", res, err)
	}
	if err := lm.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lm, err = NewLibraryManager(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer lm.Close()
	p, err := lm.GetProfile("alice")
	if err != nil || p.Fine != Pounds(4) {
		t.Fatalf("balance after reopen = %+v, %v", p, err)
	}
	if r, err := lm.Verify(); err != nil || !r.OK() {
		t.Fatalf("verify = %+v, %v", r, err)
	}
}
