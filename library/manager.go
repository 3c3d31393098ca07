package library

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"
)

// Backend kinds accepted by Config.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config wires a LibraryManager. Zero policies fall back to the defaults.
type Config struct {
	Backend    string
	DataDir    string
	SQLitePath string
	Fines      FinePolicy
	Loans      LoanPolicy
	Logger     *slog.Logger
	Observer   Observer
	Now        func() time.Time
}

// LibraryManager is a thin façade over the Store, Ledger and Circulation,
// keeping CLI code simple.
type LibraryManager struct {
	store  *Store
	ledger *Ledger
	circ   *Circulation
	now    func() time.Time
	log    *slog.Logger
}

// NewLibraryManager opens (or creates) the data store described by cfg.
func NewLibraryManager(cfg Config) (*LibraryManager, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	var (
		backend Backend
		journal string
		err     error
	)
	switch cfg.Backend {
	case "", BackendFile:
		backend, err = NewFileBackend(cfg.DataDir)
		journal = filepath.Join(cfg.DataDir, "journal.json")
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "tawelib.db")
		}
		backend, err = NewSQLiteBackend(path)
		journal = path + ".journal"
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	store, err := Open(backend, StoreOptions{JournalPath: journal, Logger: cfg.Logger, Observer: cfg.Observer})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return NewManager(store, cfg), nil
}

// NewManager builds the façade over an already open store.
func NewManager(store *Store, cfg Config) *LibraryManager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	fines := cfg.Fines
	if fines.Rules == nil {
		fines = DefaultFinePolicy()
	}
	loans := cfg.Loans
	if loans.Days == nil {
		loans = DefaultLoanPolicy()
	}
	ledger := NewLedger(store, now)
	return &LibraryManager{
		store:  store,
		ledger: ledger,
		circ:   NewCirculation(store, ledger, fines, loans, now),
		now:    now,
		log:    store.log,
	}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

func (lm *LibraryManager) Store() *Store { return lm.store }

// ------------------ Profiles ------------------

// Login opens a session for an existing profile.
func (lm *LibraryManager) Login(username string) (Session, error) {
	p, err := lm.GetProfile(username)
	if err != nil {
		return Session{}, err
	}
	sess := NewSession(p, lm.now())
	lm.log.Debug("session opened", "session", sess)
	return sess, nil
}

func (lm *LibraryManager) GetProfile(username string) (Profile, error) {
	var p profileRef
	err := lm.store.View(func(b *Batch) (err error) {
		p, err = loadProfile(b, lm.store, username)
		return err
	}, ClassUser, ClassLibrarian)
	return p.Profile, err
}

// ListProfiles returns members first, then librarians, each in storage order.
func (lm *LibraryManager) ListProfiles() ([]Profile, error) {
	var out []Profile
	err := lm.store.View(func(b *Batch) (err error) {
		out, err = loadProfiles(b, lm.store)
		return err
	}, ClassUser, ClassLibrarian)
	return out, err
}

// RegisterUser creates a member, or a librarian with the next staff ID. The
// very first librarian may be registered without a librarian session.
func (lm *LibraryManager) RegisterUser(sess Session, nu NewUser, librarian bool) (Profile, error) {
	details := nu.ContactDetails.trimmed()
	if err := validUsername(nu.Username); err != nil {
		return Profile{}, err
	}
	if err := details.Validate(); err != nil {
		return Profile{}, err
	}
	u := details.apply(User{Username: nu.Username, ProfilePicture: DefaultProfilePicture})

	var out Profile
	err := lm.store.Update(func(b *Batch) error {
		libs, err := lm.store.Librarians.In(b).LoadAll()
		if err != nil {
			return err
		}
		if len(libs) > 0 && !sess.IsLibrarian() {
			return fmt.Errorf("%w: only librarians can register users", ErrNotAuthorized)
		}
		if _, err := loadProfile(b, lm.store, nu.Username); err == nil {
			return fmt.Errorf("%w: %q", ErrDuplicateUsername, nu.Username)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if !librarian {
			if err := lm.store.Users.In(b).Append(u); err != nil {
				return err
			}
			out = u.Profile()
			return nil
		}
		l, err := lm.store.Librarians.In(b).Register(func(id int64) (Librarian, error) {
			return Librarian{User: u, Staff: Staff{StaffID: id, EmploymentDate: Day(lm.now())}}, nil
		})
		if err != nil {
			return err
		}
		out = l.Profile()
		return nil
	}, ClassUser, ClassLibrarian)
	if err != nil {
		return Profile{}, err
	}
	lm.log.Info("user registered", "session", sess, "user", out.Username, "librarian", out.IsLibrarian())
	return out, nil
}

// ProfileEdit is a profile captured for editing. Saving it fails with
// ErrStaleWrite if the stored profile changed after the capture.
type ProfileEdit struct {
	ref profileRef
}

func (e ProfileEdit) Profile() Profile { return e.ref.Profile }

// BeginEdit captures username's current profile.
func (lm *LibraryManager) BeginEdit(username string) (ProfileEdit, error) {
	var ref profileRef
	err := lm.store.View(func(b *Batch) (err error) {
		ref, err = loadProfile(b, lm.store, username)
		return err
	}, ClassUser, ClassLibrarian)
	return ProfileEdit{ref: ref}, err
}

// SaveEdit applies ch to the captured profile. Username, fine and staff
// details never change; only the owner may change the picture.
func (lm *LibraryManager) SaveEdit(sess Session, e ProfileEdit, ch ProfileChanges) (Profile, error) {
	cur := e.ref.Profile
	if !sess.CanActFor(cur.Username) {
		return Profile{}, fmt.Errorf("%w: %s cannot edit %s", ErrNotAuthorized, sess.Username, cur.Username)
	}
	details := ch.ContactDetails.trimmed()
	if err := details.Validate(); err != nil {
		return Profile{}, err
	}
	u := details.apply(cur.User)
	if ch.ProfilePicture != "" && ch.ProfilePicture != cur.ProfilePicture {
		if !sess.CanChangePicture(cur.Username) {
			return Profile{}, fmt.Errorf("%w: only %s can change their picture", ErrNotAuthorized, cur.Username)
		}
		u.ProfilePicture = ch.ProfilePicture
	}

	err := lm.store.Update(func(b *Batch) error {
		return e.ref.setUser(b, u)
	}, ClassUser, ClassLibrarian)
	if err != nil {
		return Profile{}, err
	}
	out := Profile{User: u, Staff: cur.Staff}
	lm.log.Info("profile edited", "session", sess, "user", u.Username)
	return out, nil
}

// EditProfile captures and saves in one step.
func (lm *LibraryManager) EditProfile(sess Session, username string, ch ProfileChanges) (Profile, error) {
	e, err := lm.BeginEdit(username)
	if err != nil {
		return Profile{}, err
	}
	return lm.SaveEdit(sess, e, ch)
}

// ------------------ Fines ------------------

// FineBalance is one profile with money owed.
type FineBalance struct {
	Profile Profile
	Balance Money
}

// ListOutstandingFines returns every profile with a positive balance.
func (lm *LibraryManager) ListOutstandingFines() ([]FineBalance, error) {
	profiles, err := lm.ListProfiles()
	if err != nil {
		return nil, err
	}
	var out []FineBalance
	for _, p := range profiles {
		if p.Fine > 0 {
			out = append(out, FineBalance{Profile: p, Balance: p.Fine})
		}
	}
	return out, nil
}

func (lm *LibraryManager) PayFine(sess Session, username string, amount Money) (Money, error) {
	return lm.ledger.ApplyPayment(sess, username, amount)
}

func (lm *LibraryManager) ApplyFine(sess Session, username string, amount Money, fc FineContext) (Money, error) {
	return lm.ledger.ApplyFine(sess, username, amount, fc)
}

// ListTransactionsFor returns username's history oldest first.
func (lm *LibraryManager) ListTransactionsFor(username string) ([]Transaction, error) {
	all, err := lm.store.Transactions.All()
	if err != nil {
		return nil, err
	}
	var out []Transaction
	for _, t := range all {
		if t.Username == username {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b Transaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Time.seconds(), b.Time.seconds()); c != 0 {
			return c
		}
		return cmp.Compare(a.TransactionID, b.TransactionID)
	})
	return out, nil
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) Checkout(sess Session, d LoanDraft) (Loan, error) {
	return lm.circ.Checkout(sess, d)
}

// ReturnLoan returns the loan as of today.
func (lm *LibraryManager) ReturnLoan(sess Session, loanID int64) (ReturnResult, error) {
	return lm.circ.ReturnLoan(sess, loanID, lm.now())
}

// ListLoansFor returns username's loans by loan ID, active ones only unless
// includeReturned is set.
func (lm *LibraryManager) ListLoansFor(username string, includeReturned bool) ([]Loan, error) {
	all, err := lm.store.Loans.All()
	if err != nil {
		return nil, err
	}
	var out []Loan
	for _, l := range all {
		if l.Username == username && (includeReturned || l.Active()) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Loan) int { return cmp.Compare(a.LoanID, b.LoanID) })
	return out, nil
}

func (lm *LibraryManager) PlaceRequest(sess Session, username string, resourceID int64) (Request, error) {
	return lm.circ.PlaceRequest(sess, username, resourceID, lm.now())
}

func (lm *LibraryManager) Reserve(sess Session, requestID int64) (Request, error) {
	return lm.circ.Reserve(sess, requestID)
}

func (lm *LibraryManager) FillNext(sess Session, resourceID int64) (Request, bool, error) {
	return lm.circ.FillNext(sess, resourceID)
}

// ListPendingRequestsFor returns username's requests that are neither filled
// nor reserved, first come first served.
func (lm *LibraryManager) ListPendingRequestsFor(username string) ([]Request, error) {
	recs, err := lm.store.Requests.LoadAll()
	if err != nil {
		return nil, err
	}
	return values(pendingFor(recs, func(r Request) bool { return r.Username == username })), nil
}

// ------------------ Integrity ------------------

func (lm *LibraryManager) Verify() (Report, error) { return Verify(lm.store) }
