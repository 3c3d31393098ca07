package library

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// FineContext ties a fine to the loan that caused it.
type FineContext struct {
	LoanID       int64
	ResourceID   int64
	ResourceType ResourceType
}

// Ledger applies fines and payments. Every event appends a Transaction and
// moves the owner's stored balance in the same batch.
type Ledger struct {
	store *Store
	now   func() time.Time
	log   *slog.Logger
}

func NewLedger(s *Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: s, now: now, log: s.log.With("component", "ledger")}
}

// ledgerClasses are the locks every ledger write needs.
var ledgerClasses = []Class{ClassUser, ClassLibrarian, ClassTransaction}

// ApplyFine charges username amount and returns the new balance.
func (l *Ledger) ApplyFine(sess Session, username string, amount Money, fc FineContext) (Money, error) {
	if !sess.IsLibrarian() {
		return 0, fmt.Errorf("%w: only librarians can issue fines", ErrNotAuthorized)
	}
	classes := ledgerClasses
	if fc.LoanID != 0 {
		classes = append([]Class{ClassLoan}, ledgerClasses...)
	}
	var balance Money
	err := l.store.Update(func(b *Batch) (err error) {
		if fc.LoanID != 0 {
			if fc, err = l.loanContext(b, username, fc); err != nil {
				return err
			}
		}
		balance, _, err = l.fineIn(b, username, amount, fc)
		return err
	}, classes...)
	return balance, err
}

// loanContext checks that fc names one of username's loans and fills in the
// resource details it left out.
func (l *Ledger) loanContext(b *Batch, username string, fc FineContext) (FineContext, error) {
	rec, err := l.store.Loans.In(b).Find(func(x Loan) bool { return x.LoanID == fc.LoanID })
	if errors.Is(err, ErrNotFound) {
		return fc, fmt.Errorf("%w: loan %d", ErrUnknownReference, fc.LoanID)
	}
	if err != nil {
		return fc, err
	}
	loan := rec.Value
	switch {
	case loan.Username != username:
		return fc, fmt.Errorf("%w: loan %d belongs to %s, not %s", ErrUnknownReference, loan.LoanID, loan.Username, username)
	case fc.ResourceID != 0 && fc.ResourceID != loan.ResourceID:
		return fc, fmt.Errorf("%w: loan %d is for resource %d, not %d", ErrInvalidField, loan.LoanID, loan.ResourceID, fc.ResourceID)
	case fc.ResourceType != "" && fc.ResourceType != loan.ResourceType:
		return fc, fmt.Errorf("%w: loan %d is a %s, not a %s", ErrInvalidField, loan.LoanID, loan.ResourceType, fc.ResourceType)
	}
	fc.ResourceID = loan.ResourceID
	fc.ResourceType = loan.ResourceType
	return fc, nil
}

// fineIn is ApplyFine for callers already holding the ledger locks.
func (l *Ledger) fineIn(b *Batch, username string, amount Money, fc FineContext) (Money, Transaction, error) {
	if amount < 1 {
		return 0, Transaction{}, fmt.Errorf("%w: fine of %s", ErrInvalidAmount, amount)
	}
	p, err := loadProfile(b, l.store, username)
	if err != nil {
		return 0, Transaction{}, err
	}
	tx, err := l.record(b, Transaction{
		LoanID:       fc.LoanID,
		Username:     username,
		Amount:       amount,
		ResourceID:   fc.ResourceID,
		ResourceType: fc.ResourceType,
		IsFine:       true,
	})
	if err != nil {
		return 0, Transaction{}, err
	}
	balance := p.Fine + amount
	if err := p.setFine(b, balance); err != nil {
		return 0, Transaction{}, err
	}
	l.store.obs.LedgerEvent("fine", amount)
	l.log.Info("fine applied", "user", username, "amount", amount, "balance", balance, "transaction", tx.TransactionID)
	return balance, tx, nil
}

// ApplyPayment takes amount off username's balance. The amount must be at
// least one penny and no more than the current balance.
func (l *Ledger) ApplyPayment(sess Session, username string, amount Money) (Money, error) {
	if !sess.CanActFor(username) {
		return 0, fmt.Errorf("%w: %s cannot pay for %s", ErrNotAuthorized, sess.Username, username)
	}
	var balance Money
	err := l.store.Update(func(b *Batch) error {
		p, err := loadProfile(b, l.store, username)
		if err != nil {
			return err
		}
		switch {
		case amount < 1:
			return fmt.Errorf("%w: payment of %s is below £0.01", ErrInvalidPayment, amount)
		case amount > p.Fine:
			return fmt.Errorf("%w: payment of %s exceeds balance %s", ErrInvalidPayment, amount, p.Fine)
		}
		tx, err := l.record(b, Transaction{Username: username, Amount: amount})
		if err != nil {
			return err
		}
		balance = p.Fine - amount
		if err := p.setFine(b, balance); err != nil {
			return err
		}
		l.store.obs.LedgerEvent("payment", amount)
		l.log.Info("payment applied", "session", sess, "user", username, "amount", amount,
			"balance", balance, "transaction", tx.TransactionID)
		return nil
	}, ledgerClasses...)
	return balance, err
}

func (l *Ledger) record(b *Batch, tx Transaction) (Transaction, error) {
	now := l.now()
	return l.store.Transactions.In(b).Register(func(id int64) (Transaction, error) {
		tx.TransactionID = id
		tx.Date = Day(now)
		tx.Time = ClockOf(now)
		return tx, nil
	})
}

// Balance returns username's stored fine balance.
func (l *Ledger) Balance(username string) (Money, error) {
	var p profileRef
	err := l.store.View(func(b *Batch) (err error) {
		p, err = loadProfile(b, l.store, username)
		return err
	}, ClassUser, ClassLibrarian)
	return p.Fine, err
}

// DeriveBalance recomputes username's balance from the transaction history.
func DeriveBalance(txs []Transaction, username string) Money {
	var sum Money
	for _, t := range txs {
		if t.Username == username {
			sum += t.Signed()
		}
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// Drift is a profile whose stored balance disagrees with its history.
type Drift struct {
	Username string
	Stored   Money
	Derived  Money
}

// Audit compares every stored balance with the one derived from history.
func (l *Ledger) Audit() ([]Drift, error) {
	var drifts []Drift
	err := l.store.View(func(b *Batch) error {
		profiles, err := loadProfiles(b, l.store)
		if err != nil {
			return err
		}
		txs, err := l.store.Transactions.In(b).LoadAll()
		if err != nil {
			return err
		}
		history := values(txs)
		for _, p := range profiles {
			if d := DeriveBalance(history, p.Username); d != p.Fine {
				drifts = append(drifts, Drift{Username: p.Username, Stored: p.Fine, Derived: d})
			}
		}
		return nil
	}, ClassUser, ClassLibrarian, ClassTransaction)
	return drifts, err
}

// ---------------------------------------------------------------------------
// Profiles span two classes
// ---------------------------------------------------------------------------

// profileRef is a profile plus the guard of whichever line holds it.
type profileRef struct {
	Profile
	user *Guard[User]
	lib  *Guard[Librarian]
}

// loadProfile finds username among users, then librarians. b must hold both
// class locks.
func loadProfile(b *Batch, s *Store, username string) (profileRef, error) {
	urec, err := s.Users.In(b).Find(func(u User) bool { return u.Username == username })
	if err == nil {
		g := Capture(s.Users, urec)
		return profileRef{Profile: urec.Value.Profile(), user: &g}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return profileRef{}, err
	}
	lrec, err := s.Librarians.In(b).Find(func(l Librarian) bool { return l.Username == username })
	if err == nil {
		g := Capture(s.Librarians, lrec)
		return profileRef{Profile: lrec.Value.Profile(), lib: &g}, nil
	}
	if errors.Is(err, ErrNotFound) {
		return profileRef{}, fmt.Errorf("%w: user %q", ErrNotFound, username)
	}
	return profileRef{}, err
}

func loadProfiles(b *Batch, s *Store) ([]Profile, error) {
	users, err := s.Users.In(b).LoadAll()
	if err != nil {
		return nil, err
	}
	libs, err := s.Librarians.In(b).LoadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(users)+len(libs))
	for _, u := range users {
		out = append(out, u.Value.Profile())
	}
	for _, l := range libs {
		out = append(out, l.Value.Profile())
	}
	return out, nil
}

// setUser writes u over the referenced line, keeping staff details.
func (p profileRef) setUser(b *Batch, u User) error {
	if p.user != nil {
		return p.user.CommitIn(b, u)
	}
	after := p.lib.Value
	after.User = u
	return p.lib.CommitIn(b, after)
}

func (p profileRef) setFine(b *Batch, fine Money) error {
	if fine < 0 {
		return fmt.Errorf("%w: balance would become %s", ErrInvalidAmount, fine)
	}
	u := p.User
	u.Fine = fine
	return p.setUser(b, u)
}
