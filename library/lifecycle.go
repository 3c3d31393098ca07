package library

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Circulation moves loans and requests through their lifecycles.
type Circulation struct {
	store  *Store
	ledger *Ledger
	fines  FinePolicy
	loans  LoanPolicy
	now    func() time.Time
	log    *slog.Logger
}

func NewCirculation(s *Store, ledger *Ledger, fines FinePolicy, loans LoanPolicy, now func() time.Time) *Circulation {
	if now == nil {
		now = time.Now
	}
	return &Circulation{store: s, ledger: ledger, fines: fines, loans: loans, now: now,
		log: s.log.With("component", "circulation")}
}

// ------------------ Loans ------------------

// LoanDraft describes a checkout. A zero CheckoutDate means today; a zero
// DueDate takes the loan policy default unless Reference is set.
type LoanDraft struct {
	CopyID       int64
	ResourceID   int64
	Username     string
	ResourceType ResourceType
	CheckoutDate time.Time
	DueDate      time.Time
	Reference    bool
}

// Checkout lends a copy. The session's librarian is recorded on the loan.
func (c *Circulation) Checkout(sess Session, d LoanDraft) (Loan, error) {
	if !sess.IsLibrarian() {
		return Loan{}, fmt.Errorf("%w: only librarians can issue loans", ErrNotAuthorized)
	}
	if d.CopyID < 1 || d.ResourceID < 1 {
		return Loan{}, fmt.Errorf("%w: copy and resource ids are required", ErrInvalidField)
	}
	if _, err := ParseResourceType(string(d.ResourceType)); err != nil {
		return Loan{}, err
	}
	checkout := Day(d.CheckoutDate)
	if d.CheckoutDate.IsZero() {
		checkout = Day(c.now())
	}
	due := time.Time{}
	switch {
	case d.Reference:
	case !d.DueDate.IsZero():
		due = Day(d.DueDate)
		if due.Before(checkout) {
			return Loan{}, fmt.Errorf("%w: due date %s is before checkout", ErrInvalidField, due.Format(dateLayout))
		}
	default:
		due = c.loans.DueDate(d.ResourceType, checkout)
	}

	var loan Loan
	err := c.store.Update(func(b *Batch) error {
		if _, err := loadProfile(b, c.store, d.Username); err != nil {
			return unknownRef(err)
		}
		_, err := c.store.Librarians.In(b).Find(func(l Librarian) bool { return l.StaffID == sess.Staff.StaffID })
		if err != nil {
			return unknownRef(err)
		}
		loans := c.store.Loans.In(b)
		if _, err := loans.Find(func(l Loan) bool { return l.Active() && l.CopyID == d.CopyID }); err == nil {
			return fmt.Errorf("%w: copy %d", ErrCopyOnLoan, d.CopyID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		loan, err = loans.Register(func(id int64) (Loan, error) {
			return Loan{
				LoanID:       id,
				CopyID:       d.CopyID,
				ResourceID:   d.ResourceID,
				Username:     d.Username,
				ResourceType: d.ResourceType,
				CheckoutDate: checkout,
				DueDate:      due,
				StaffID:      sess.Staff.StaffID,
			}, nil
		})
		return err
	}, ClassUser, ClassLibrarian, ClassLoan)
	if err != nil {
		return Loan{}, err
	}
	c.log.Info("loan issued", "session", sess, "loan", loan.LoanID, "copy", loan.CopyID, "user", loan.Username)
	return loan, nil
}

func unknownRef(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnknownReference, err)
	}
	return err
}

// ReturnResult reports everything a return changed.
type ReturnResult struct {
	Loan          Loan
	DaysLate      int
	Fine          *Transaction
	Balance       Money
	FilledRequest *Request
}

// ReturnLoan closes an active loan. Any overdue fine and the promotion of the
// next pending request for the resource land in the same batch as the return.
func (c *Circulation) ReturnLoan(sess Session, loanID int64, today time.Time) (ReturnResult, error) {
	if !sess.IsLibrarian() {
		return ReturnResult{}, fmt.Errorf("%w: only librarians can process returns", ErrNotAuthorized)
	}
	var res ReturnResult
	err := c.store.Update(func(b *Batch) error {
		rec, err := c.store.Loans.In(b).Find(func(l Loan) bool { return l.LoanID == loanID })
		if err != nil {
			return fmt.Errorf("loan %d: %w", loanID, err)
		}
		loan := rec.Value
		if loan.Returned {
			return fmt.Errorf("%w: loan %d is already returned", ErrInvalidTransition, loanID)
		}

		res.DaysLate = DaysLate(loan, today)
		if fine := c.fines.Overdue(loan, today); fine > 0 {
			balance, tx, err := c.ledger.fineIn(b, loan.Username, fine, FineContext{
				LoanID:       loan.LoanID,
				ResourceID:   loan.ResourceID,
				ResourceType: loan.ResourceType,
			})
			if err != nil {
				return fmt.Errorf("overdue fine for loan %d: %w", loanID, err)
			}
			res.Fine, res.Balance = &tx, balance
		}

		loan.Returned = true
		if err := Capture(c.store.Loans, rec).CommitIn(b, loan); err != nil {
			return err
		}
		res.Loan = loan

		next, ok, err := c.fillNextIn(b, loan.ResourceID)
		if err != nil {
			return err
		}
		if ok {
			res.FilledRequest = &next
		}
		return nil
	}, ClassUser, ClassLibrarian, ClassLoan, ClassTransaction, ClassRequest)
	if err != nil {
		return ReturnResult{}, err
	}
	c.log.Info("loan returned", "session", sess, "loan", loanID, "days_late", res.DaysLate,
		"fined", res.Fine != nil, "request_filled", res.FilledRequest != nil)
	return res, nil
}

// ------------------ Requests ------------------

// PlaceRequest queues username for resourceID. A zero date means today.
func (c *Circulation) PlaceRequest(sess Session, username string, resourceID int64, date time.Time) (Request, error) {
	if !sess.CanActFor(username) {
		return Request{}, fmt.Errorf("%w: %s cannot request for %s", ErrNotAuthorized, sess.Username, username)
	}
	if resourceID < 1 {
		return Request{}, fmt.Errorf("%w: resource id %d", ErrInvalidField, resourceID)
	}
	if date.IsZero() {
		date = c.now()
	}
	var req Request
	err := c.store.Update(func(b *Batch) error {
		if _, err := loadProfile(b, c.store, username); err != nil {
			return unknownRef(err)
		}
		reqs := c.store.Requests.In(b)
		_, err := reqs.Find(func(r Request) bool {
			return r.Username == username && r.ResourceID == resourceID && r.State() == RequestPending
		})
		if err == nil {
			return fmt.Errorf("%w: %s already waits for resource %d", ErrDuplicateRequest, username, resourceID)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		req, err = reqs.Register(func(id int64) (Request, error) {
			return Request{RequestID: id, Username: username, ResourceID: resourceID, RequestDate: Day(date)}, nil
		})
		return err
	}, ClassUser, ClassLibrarian, ClassRequest)
	if err != nil {
		return Request{}, err
	}
	c.log.Info("request placed", "session", sess, "request", req.RequestID, "resource", resourceID)
	return req, nil
}

// Reserve moves a pending request to Reserved.
func (c *Circulation) Reserve(sess Session, requestID int64) (Request, error) {
	var out Request
	err := c.store.Update(func(b *Batch) error {
		rec, err := c.store.Requests.In(b).Find(func(r Request) bool { return r.RequestID == requestID })
		if err != nil {
			return fmt.Errorf("request %d: %w", requestID, err)
		}
		if !sess.CanActFor(rec.Value.Username) {
			return fmt.Errorf("%w: %s cannot reserve for %s", ErrNotAuthorized, sess.Username, rec.Value.Username)
		}
		if st := rec.Value.State(); st != RequestPending {
			return fmt.Errorf("%w: request %d is %s", ErrInvalidTransition, requestID, st)
		}
		out = rec.Value
		out.Reserved = true
		return Capture(c.store.Requests, rec).CommitIn(b, out)
	}, ClassRequest)
	return out, err
}

// FillNext marks the earliest pending request for resourceID as filled. ok
// is false when nobody is waiting.
func (c *Circulation) FillNext(sess Session, resourceID int64) (req Request, ok bool, err error) {
	if !sess.IsLibrarian() {
		return Request{}, false, fmt.Errorf("%w: only librarians can allocate copies", ErrNotAuthorized)
	}
	err = c.store.Update(func(b *Batch) (err error) {
		req, ok, err = c.fillNextIn(b, resourceID)
		return err
	}, ClassRequest)
	return req, ok, err
}

func (c *Circulation) fillNextIn(b *Batch, resourceID int64) (Request, bool, error) {
	recs, err := c.store.Requests.In(b).LoadAll()
	if err != nil {
		return Request{}, false, err
	}
	queue := pendingFor(recs, func(r Request) bool { return r.ResourceID == resourceID })
	if len(queue) == 0 {
		return Request{}, false, nil
	}
	next := queue[0]
	filled := next.Value
	filled.Filled = true
	if err := Capture(c.store.Requests, next).CommitIn(b, filled); err != nil {
		return Request{}, false, err
	}
	c.log.Info("request filled", "request", filled.RequestID, "user", filled.Username, "resource", resourceID)
	return filled, true, nil
}

// pendingFor returns the pending requests matching match, first come first
// served: by request date, then request ID.
func pendingFor(recs []Record[Request], match func(Request) bool) []Record[Request] {
	var out []Record[Request]
	for _, r := range recs {
		if r.Value.State() == RequestPending && match(r.Value) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Record[Request]) int {
		if c := a.Value.RequestDate.Compare(b.Value.RequestDate); c != 0 {
			return c
		}
		return cmp.Compare(a.Value.RequestID, b.Value.RequestID)
	})
	return out
}
