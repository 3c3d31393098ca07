package library

import (
	"fmt"
	"time"
)

// Class names one kind of persisted entity. The numeric order of the
// constants is the global lock order used by Store.Update.
type Class int

const (
	ClassUser Class = iota
	ClassLibrarian
	ClassLoan
	ClassTransaction
	ClassRequest

	numClasses
)

var classNames = [numClasses]string{"users", "librarians", "loans", "transactions", "requests"}

func (c Class) String() string {
	if c < 0 || c >= numClasses {
		return fmt.Sprintf("class(%d)", int(c))
	}
	return classNames[c]
}

// Resource is the backend resource name that holds the class's records.
func (c Class) Resource() string { return c.String() }

// AllClasses returns every class in lock order.
func AllClasses() []Class {
	return []Class{ClassUser, ClassLibrarian, ClassLoan, ClassTransaction, ClassRequest}
}

// ResourceType is the kind of item a copy belongs to. The empty value means
// the field does not apply (payments).
type ResourceType string

const (
	Book   ResourceType = "BOOK"
	DVD    ResourceType = "DVD"
	Laptop ResourceType = "LAPTOP"
)

// ParseResourceType accepts the upper-case names used on disk.
func ParseResourceType(s string) (ResourceType, error) {
	switch t := ResourceType(s); t {
	case Book, DVD, Laptop:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidField, s)
}

// User is a library member. Address2 is empty when the member has none.
type User struct {
	Username       string
	FirstName      string
	Surname        string
	MobileNumber   string
	Address1       string
	Address2       string
	City           string
	Postcode       string
	ProfilePicture string
	Fine           Money
}

// Profile returns the user as an untagged profile.
func (u User) Profile() Profile { return Profile{User: u} }

// Staff holds the fields only librarians carry.
type Staff struct {
	StaffID        int64
	EmploymentDate time.Time
}

// Librarian is a User with staff details.
type Librarian struct {
	User
	Staff
}

// Profile returns the librarian as a profile tagged with its staff details.
func (l Librarian) Profile() Profile {
	s := l.Staff
	return Profile{User: l.User, Staff: &s}
}

// Profile is the common view over users and librarians. Staff is nil for
// ordinary members.
type Profile struct {
	User
	Staff *Staff
}

func (p Profile) IsLibrarian() bool { return p.Staff != nil }

// Loan records one copy lent to one user. A zero DueDate marks a reference
// loan with no due date.
type Loan struct {
	LoanID       int64
	CopyID       int64
	ResourceID   int64
	Username     string
	ResourceType ResourceType
	CheckoutDate time.Time
	DueDate      time.Time
	StaffID      int64
	Returned     bool
}

func (l Loan) Active() bool { return !l.Returned }
func (l Loan) HasDueDate() bool { return !l.DueDate.IsZero() }
func (l Loan) Overdue(today time.Time) bool {
	return l.Active() && l.HasDueDate() && Day(today).After(Day(l.DueDate))
}

// Clock is a wall-clock time of day with second precision.
type Clock struct {
	Hour, Minute, Second int
}

// ClockOf extracts the time of day from t.
func ClockOf(t time.Time) Clock {
	h, m, s := t.Clock()
	return Clock{Hour: h, Minute: m, Second: s}
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second) }

func (c Clock) valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60 && c.Second >= 0 && c.Second < 60
}

func (c Clock) seconds() int { return c.Hour*3600 + c.Minute*60 + c.Second }

// Transaction is one ledger event: a fine when IsFine, otherwise a payment.
// Payments leave LoanID, ResourceID and ResourceType at their zero values.
type Transaction struct {
	TransactionID int64
	LoanID        int64
	Username      string
	Amount        Money
	ResourceID    int64
	Date          time.Time
	Time          Clock
	ResourceType  ResourceType
	IsFine        bool
}

// Description is the line shown in a member's transaction history.
func (t Transaction) Description() string {
	if !t.IsFine {
		return fmt.Sprintf("Payment of £%s made on %s at %s",
			t.Amount, t.Date.Format(dateLayout), t.Time)
	}
	return fmt.Sprintf("Fine of £%s for %s %d (loan %d) issued on %s at %s",
		t.Amount, t.ResourceType, t.ResourceID, t.LoanID, t.Date.Format(dateLayout), t.Time)
}

// Signed returns the amount as it moves the balance: positive for fines,
// negative for payments.
func (t Transaction) Signed() Money {
	if t.IsFine {
		return t.Amount
	}
	return -t.Amount
}

// RequestState is the position of a request in its lifecycle.
type RequestState int

const (
	RequestPending RequestState = iota
	RequestFilled
	RequestReserved
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestFilled:
		return "filled"
	case RequestReserved:
		return "reserved"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is a user's ask for a resource that has no free copy.
type Request struct {
	RequestID   int64
	Username    string
	ResourceID  int64
	RequestDate time.Time
	Filled      bool
	Reserved    bool
}

func (r Request) State() RequestState {
	switch {
	case r.Filled:
		return RequestFilled
	case r.Reserved:
		return RequestReserved
	}
	return RequestPending
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
