package library

import (
	"errors"
	"testing"
	"time"
)

func checkout(t *testing.T, lm *LibraryManager, admin Session, d LoanDraft) Loan {
	t.Helper()
	l, err := lm.Checkout(admin, d)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return l
}

func fineCount(t *testing.T, lm *LibraryManager, username string) int {
	t.Helper()
	txs, err := lm.ListTransactionsFor(username)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	n := 0
	for _, tx := range txs {
		if tx.IsFine {
			n++
		}
	}
	return n
}

func TestOverdueReturnChargesOnce(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")

	loan := checkout(t, lm, admin, LoanDraft{CopyID: 11, ResourceID: 4, Username: "alice", ResourceType: Book})
	if want := date(2024, 3, 15); !loan.DueDate.Equal(want) || loan.StaffID != 1 {
		t.Fatalf("loan = %+v", loan)
	}

	clock.Set(time.Date(2024, 3, 18, 16, 0, 0, 0, time.UTC))
	res, err := lm.ReturnLoan(admin, loan.LoanID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if res.DaysLate != 3 || res.Fine == nil || res.Fine.Amount != Pounds(6) || res.Balance != Pounds(6) {
		t.Fatalf("return result = %+v", res)
	}
	if res.Fine.LoanID != loan.LoanID || res.Fine.ResourceType != Book || res.Fine.ResourceID != 4 {
		t.Fatalf("fine context = %+v", res.Fine)
	}
	if n := fineCount(t, lm, "alice"); n != 1 {
		t.Fatalf("want exactly one fine, got %d", n)
	}

	if _, err := lm.ReturnLoan(admin, loan.LoanID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second return: want ErrInvalidTransition, got %v", err)
	}
	if n := fineCount(t, lm, "alice"); n != 1 {
		t.Fatalf("second return charged again: %d fines", n)
	}
	loans, _ := lm.ListLoansFor("alice", true)
	if len(loans) != 1 || !loans[0].Returned {
		t.Fatalf("loans = %+v", loans)
	}
}

func TestReturnWithoutFine(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")

	onTime := checkout(t, lm, admin, LoanDraft{CopyID: 1, ResourceID: 1, Username: "alice", ResourceType: DVD})
	reference := checkout(t, lm, admin, LoanDraft{CopyID: 2, ResourceID: 2, Username: "alice", ResourceType: Book, Reference: true})
	if reference.HasDueDate() {
		t.Fatalf("reference loan has a due date: %+v", reference)
	}

	clock.Set(date(2024, 3, 8)) // DVD due exactly today
	if res, err := lm.ReturnLoan(admin, onTime.LoanID); err != nil || res.Fine != nil {
		t.Fatalf("on-time return: %+v %v", res, err)
	}
	clock.Set(date(2025, 1, 1))
	if res, err := lm.ReturnLoan(admin, reference.LoanID); err != nil || res.Fine != nil {
		t.Fatalf("reference return: %+v %v", res, err)
	}
	if n := fineCount(t, lm, "alice"); n != 0 {
		t.Fatalf("want no fines, got %d", n)
	}
}

func TestOverdueFineIsCapped(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	addMember(t, lm, admin, "alice")

	loan := checkout(t, lm, admin, LoanDraft{CopyID: 5, ResourceID: 9, Username: "alice", ResourceType: Laptop})
	clock.Set(loan.DueDate.AddDate(0, 0, 30))
	res, err := lm.ReturnLoan(admin, loan.LoanID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if res.Fine == nil || res.Fine.Amount != Pounds(100) {
		t.Fatalf("fine = %+v, want capped at 100.00", res.Fine)
	}
}

func TestCheckoutRules(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")
	addMember(t, lm, admin, "bob")

	first := checkout(t, lm, admin, LoanDraft{CopyID: 7, ResourceID: 3, Username: "alice", ResourceType: Book})
	if _, err := lm.Checkout(admin, LoanDraft{CopyID: 7, ResourceID: 3, Username: "bob", ResourceType: Book}); !errors.Is(err, ErrCopyOnLoan) {
		t.Fatalf("want ErrCopyOnLoan, got %v", err)
	}
	if _, err := lm.Checkout(alice, LoanDraft{CopyID: 8, ResourceID: 3, Username: "alice", ResourceType: Book}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("member checkout: want ErrNotAuthorized, got %v", err)
	}
	if _, err := lm.Checkout(admin, LoanDraft{CopyID: 8, ResourceID: 3, Username: "ghost", ResourceType: Book}); !errors.Is(err, ErrUnknownReference) {
		t.Fatalf("unknown user: want ErrUnknownReference, got %v", err)
	}
	if _, err := lm.Checkout(admin, LoanDraft{CopyID: 8, ResourceID: 3, Username: "bob", ResourceType: "CD"}); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("bad type: want ErrInvalidField, got %v", err)
	}

	clock.Advance(24 * time.Hour)
	if _, err := lm.ReturnLoan(admin, first.LoanID); err != nil {
		t.Fatalf("return: %v", err)
	}
	second := checkout(t, lm, admin, LoanDraft{CopyID: 7, ResourceID: 3, Username: "bob", ResourceType: Book})
	if second.LoanID != first.LoanID+1 {
		t.Fatalf("loan ids %d then %d", first.LoanID, second.LoanID)
	}
}

func TestRequestsFirstComeFirstServed(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")
	bob := addMember(t, lm, admin, "bob")
	carol := addMember(t, lm, admin, "carol")
	addMember(t, lm, admin, "dave")

	loan := checkout(t, lm, admin, LoanDraft{CopyID: 1, ResourceID: 42, Username: "dave", ResourceType: Book})

	clock.Set(date(2024, 3, 3))
	reqB, err := lm.PlaceRequest(bob, "bob", 42)
	if err != nil {
		t.Fatalf("bob request: %v", err)
	}
	reqC, err := lm.PlaceRequest(carol, "carol", 42)
	if err != nil {
		t.Fatalf("carol request: %v", err)
	}
	// Alice asked earlier on paper; a librarian back-dates her request.
	reqA, err := lm.circ.PlaceRequest(admin, "alice", 42, date(2024, 3, 2))
	if err != nil {
		t.Fatalf("alice request: %v", err)
	}
	if _, err := lm.PlaceRequest(alice, "alice", 42); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("want ErrDuplicateRequest, got %v", err)
	}

	res, err := lm.ReturnLoan(admin, loan.LoanID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if res.FilledRequest == nil || res.FilledRequest.RequestID != reqA.RequestID {
		t.Fatalf("filled %+v, want alice's request %d", res.FilledRequest, reqA.RequestID)
	}

	// Same date: lower request ID wins.
	next, ok, err := lm.FillNext(admin, 42)
	if err != nil || !ok || next.RequestID != reqB.RequestID {
		t.Fatalf("fill next = %+v %v %v, want bob", next, ok, err)
	}
	pending, _ := lm.ListPendingRequestsFor("carol")
	if len(pending) != 1 || pending[0].RequestID != reqC.RequestID {
		t.Fatalf("carol pending = %+v", pending)
	}
	if pending, _ := lm.ListPendingRequestsFor("alice"); len(pending) != 0 {
		t.Fatalf("alice still pending: %+v", pending)
	}
}

func TestReserveIsTerminal(t *testing.T) {
	lm, _ := newManager(t)
	admin := bootstrap(t, lm)
	alice := addMember(t, lm, admin, "alice")
	bob := addMember(t, lm, admin, "bob")

	req, err := lm.PlaceRequest(alice, "alice", 5)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := lm.Reserve(bob, req.RequestID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("reserve for someone else: want ErrNotAuthorized, got %v", err)
	}
	got, err := lm.Reserve(alice, req.RequestID)
	if err != nil || got.State() != RequestReserved {
		t.Fatalf("reserve: %+v %v", got, err)
	}
	if _, err := lm.Reserve(alice, req.RequestID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reserve twice: want ErrInvalidTransition, got %v", err)
	}
	if _, ok, err := lm.FillNext(admin, 5); err != nil || ok {
		t.Fatalf("reserved request was filled: %v %v", ok, err)
	}
	// A new request is allowed once the old one left the pending state.
	if _, err := lm.PlaceRequest(alice, "alice", 5); err != nil {
		t.Fatalf("request after reserve: %v", err)
	}
}

// A return whose fine cannot be charged must not half-complete.
func TestReturnIsAtomic(t *testing.T) {
	lm, clock := newManager(t)
	admin := bootstrap(t, lm)

	// A loan for a user that no longer resolves.
	if err := lm.store.Loans.Append(Loan{LoanID: 1, CopyID: 1, ResourceID: 1, Username: "ghost",
		ResourceType: Book, CheckoutDate: date(2024, 1, 1), DueDate: date(2024, 1, 15), StaffID: 1}); err != nil {
		t.Fatalf("seed loan: %v", err)
	}
	if _, err := lm.PlaceRequest(admin, "admin", 1); err != nil {
		t.Fatalf("request: %v", err)
	}

	clock.Set(date(2024, 2, 1))
	if _, err := lm.ReturnLoan(admin, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound from the fine, got %v", err)
	}

	rec, err := lm.store.Loans.GetID(1)
	if err != nil || rec.Value.Returned {
		t.Fatalf("loan returned without its fine: %+v %v", rec.Value, err)
	}
	txs, _ := lm.store.Transactions.All()
	if len(txs) != 0 {
		t.Fatalf("fine left behind: %+v", txs)
	}
	if pending, _ := lm.ListPendingRequestsFor("admin"); len(pending) != 1 {
		t.Fatalf("request promoted by a failed return: %+v", pending)
	}
}
