package library

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	fieldSep   = ","
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	notApplicable = "N/A"
	noID          = "-1"
)

// Codec converts one entity class to and from its single-line text form.
type Codec[T any] interface {
	Class() Class
	Encode(T) (string, error)
	Decode(string) (T, error)
	// Key is the value that must be unique within the class.
	Key(T) string
	// ID is the allocator-managed identifier, or 0 for classes without one.
	ID(T) int64
}

// ---------------------------------------------------------------------------
// Field writer / reader
// ---------------------------------------------------------------------------

type fieldWriter struct {
	class  Class
	fields []string
	err    error
}

func (w *fieldWriter) str(name, v string) {
	if w.err != nil {
		return
	}
	if strings.ContainsAny(v, ",\r\n") {
		w.err = fmt.Errorf("%w: %s %s contains a delimiter", ErrInvalidField, w.class, name)
		return
	}
	w.fields = append(w.fields, v)
}

func (w *fieldWriter) optional(name, v string) {
	if v == "" {
		v = notApplicable
	}
	w.str(name, v)
}

func (w *fieldWriter) id(v int64) { w.fields = append(w.fields, strconv.FormatInt(v, 10)) }

func (w *fieldWriter) optionalID(v int64) {
	if v == 0 {
		w.fields = append(w.fields, noID)
		return
	}
	w.id(v)
}

func (w *fieldWriter) money(v Money) { w.fields = append(w.fields, v.String()) }

func (w *fieldWriter) date(name string, v time.Time) {
	if w.err != nil {
		return
	}
	if v.Year() < 2 || v.Year() > 9999 {
		w.err = fmt.Errorf("%w: %s %s %s is out of range", ErrInvalidField, w.class, name, v.Format(dateLayout))
		return
	}
	w.fields = append(w.fields, v.Format(dateLayout))
}

// optionalDate writes the zero time as an empty field. Any other date in
// year 1 would read back as the zero time, so date rejects it.
func (w *fieldWriter) optionalDate(name string, v time.Time) {
	if v.IsZero() {
		w.fields = append(w.fields, "")
		return
	}
	w.date(name, v)
}

func (w *fieldWriter) clock(name string, v Clock) {
	if w.err != nil {
		return
	}
	if !v.valid() {
		w.err = fmt.Errorf("%w: %s %s %+v is out of range", ErrInvalidField, w.class, name, v)
		return
	}
	w.fields = append(w.fields, v.String())
}

func (w *fieldWriter) bool(v bool) { w.fields = append(w.fields, strconv.FormatBool(v)) }

// line joins the fields with the trailing separator the data files have
// always carried.
func (w *fieldWriter) line() (string, error) {
	if w.err != nil {
		return "", w.err
	}
	return strings.Join(w.fields, fieldSep) + fieldSep, nil
}

type fieldReader struct {
	class  Class
	fields []string
	names  []string
	err    error
}

func newFieldReader(class Class, line string, names ...string) (*fieldReader, error) {
	body := strings.TrimSuffix(line, fieldSep)
	if body == "" {
		return nil, &RecordError{Class: class, Reason: "empty line"}
	}
	fields := strings.Split(body, fieldSep)
	if len(fields) != len(names) {
		return nil, &RecordError{Class: class,
			Reason: fmt.Sprintf("want %d fields, got %d", len(names), len(fields))}
	}
	return &fieldReader{class: class, fields: fields, names: names}, nil
}

func (r *fieldReader) fail(i int, format string, args ...any) {
	if r.err == nil {
		r.err = &RecordError{Class: r.class, Field: r.names[i], Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *fieldReader) str(i int) string { return r.fields[i] }

func (r *fieldReader) optional(i int) string {
	if r.fields[i] == notApplicable {
		return ""
	}
	return r.fields[i]
}

func (r *fieldReader) id(i int) int64 {
	v, err := strconv.ParseInt(r.fields[i], 10, 64)
	if err != nil || v < 1 {
		r.fail(i, "bad id %q", r.fields[i])
		return 0
	}
	return v
}

func (r *fieldReader) optionalID(i int) int64 {
	if r.fields[i] == noID {
		return 0
	}
	return r.id(i)
}

func (r *fieldReader) money(i int) Money {
	m, err := ParseMoney(r.fields[i])
	if err != nil || m < 0 {
		r.fail(i, "bad amount %q", r.fields[i])
		return 0
	}
	return m
}

func (r *fieldReader) date(i int) time.Time {
	t, err := time.Parse(dateLayout, r.fields[i])
	if err != nil || t.Year() < 2 {
		r.fail(i, "bad date %q", r.fields[i])
		return time.Time{}
	}
	return t
}

func (r *fieldReader) optionalDate(i int) time.Time {
	if r.fields[i] == "" {
		return time.Time{}
	}
	return r.date(i)
}

func (r *fieldReader) clock(i int) Clock {
	s := r.fields[i]
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse("15:04", s); err != nil {
			r.fail(i, "bad time %q", s)
			return Clock{}
		}
	}
	return ClockOf(t)
}

func (r *fieldReader) bool(i int) bool {
	switch r.fields[i] {
	case "true":
		return true
	case "false":
		return false
	}
	r.fail(i, "bad boolean %q", r.fields[i])
	return false
}

func (r *fieldReader) resourceType(i int, required bool) ResourceType {
	s := r.fields[i]
	if !required && (s == "" || s == "null") {
		return ""
	}
	t, err := ParseResourceType(s)
	if err != nil {
		r.fail(i, "unknown resource type %q", s)
	}
	return t
}

// ---------------------------------------------------------------------------
// Users and librarians
// ---------------------------------------------------------------------------

var userFields = []string{"username", "firstName", "surname", "mobileNumber",
	"address1", "address2", "city", "postcode", "profilePicture", "fine"}

func writeUser(w *fieldWriter, u User) {
	w.str("username", u.Username)
	w.str("firstName", u.FirstName)
	w.str("surname", u.Surname)
	w.str("mobileNumber", u.MobileNumber)
	w.str("address1", u.Address1)
	w.optional("address2", u.Address2)
	w.str("city", u.City)
	w.str("postcode", u.Postcode)
	w.str("profilePicture", u.ProfilePicture)
	w.money(u.Fine)
}

func readUser(r *fieldReader) User {
	return User{
		Username:       r.str(0),
		FirstName:      r.str(1),
		Surname:        r.str(2),
		MobileNumber:   r.str(3),
		Address1:       r.str(4),
		Address2:       r.optional(5),
		City:           r.str(6),
		Postcode:       r.str(7),
		ProfilePicture: r.str(8),
		Fine:           r.money(9),
	}
}

func checkUsername(class Class, username string) error {
	if username == "" {
		return fmt.Errorf("%w: %s username is empty", ErrInvalidField, class)
	}
	return nil
}

type UserCodec struct{}

func (UserCodec) Class() Class { return ClassUser }
func (UserCodec) Key(u User) string { return u.Username }
func (UserCodec) ID(User) int64 { return 0 }

func (UserCodec) Encode(u User) (string, error) {
	if err := checkUsername(ClassUser, u.Username); err != nil {
		return "", err
	}
	if u.Fine < 0 {
		return "", fmt.Errorf("%w: negative fine", ErrInvalidField)
	}
	w := &fieldWriter{class: ClassUser}
	writeUser(w, u)
	return w.line()
}

func (UserCodec) Decode(line string) (User, error) {
	r, err := newFieldReader(ClassUser, line, userFields...)
	if err != nil {
		return User{}, err
	}
	u := readUser(r)
	if u.Username == "" {
		r.fail(0, "empty username")
	}
	return u, r.err
}

var librarianFields = append(append([]string{}, userFields...), "staffID", "employmentDate")

type LibrarianCodec struct{}

func (LibrarianCodec) Class() Class { return ClassLibrarian }
func (LibrarianCodec) Key(l Librarian) string { return l.Username }
func (LibrarianCodec) ID(l Librarian) int64 { return l.StaffID }

func (LibrarianCodec) Encode(l Librarian) (string, error) {
	if err := checkUsername(ClassLibrarian, l.Username); err != nil {
		return "", err
	}
	if l.Fine < 0 {
		return "", fmt.Errorf("%w: negative fine", ErrInvalidField)
	}
	if l.StaffID < 1 {
		return "", fmt.Errorf("%w: staff id %d", ErrInvalidField, l.StaffID)
	}
	w := &fieldWriter{class: ClassLibrarian}
	writeUser(w, l.User)
	w.id(l.StaffID)
	w.date("employmentDate", l.EmploymentDate)
	return w.line()
}

func (LibrarianCodec) Decode(line string) (Librarian, error) {
	r, err := newFieldReader(ClassLibrarian, line, librarianFields...)
	if err != nil {
		return Librarian{}, err
	}
	l := Librarian{User: readUser(r)}
	if l.Username == "" {
		r.fail(0, "empty username")
	}
	l.StaffID = r.id(10)
	l.EmploymentDate = r.date(11)
	return l, r.err
}

// ---------------------------------------------------------------------------
// Loans, transactions, requests
// ---------------------------------------------------------------------------

var loanFields = []string{"loanID", "copyID", "resourceID", "username", "resourceType",
	"checkoutDate", "dueDate", "staffID", "isReturned"}

type LoanCodec struct{}

func (LoanCodec) Class() Class { return ClassLoan }
func (LoanCodec) Key(l Loan) string { return strconv.FormatInt(l.LoanID, 10) }
func (LoanCodec) ID(l Loan) int64 { return l.LoanID }

func (LoanCodec) Encode(l Loan) (string, error) {
	if l.LoanID < 1 || l.CopyID < 1 || l.ResourceID < 1 || l.StaffID < 1 {
		return "", fmt.Errorf("%w: loan %d has a missing id", ErrInvalidField, l.LoanID)
	}
	if _, err := ParseResourceType(string(l.ResourceType)); err != nil {
		return "", err
	}
	w := &fieldWriter{class: ClassLoan}
	w.id(l.LoanID)
	w.id(l.CopyID)
	w.id(l.ResourceID)
	w.str("username", l.Username)
	w.str("resourceType", string(l.ResourceType))
	w.date("checkoutDate", l.CheckoutDate)
	w.optionalDate("dueDate", l.DueDate)
	w.id(l.StaffID)
	w.bool(l.Returned)
	return w.line()
}

func (LoanCodec) Decode(line string) (Loan, error) {
	r, err := newFieldReader(ClassLoan, line, loanFields...)
	if err != nil {
		return Loan{}, err
	}
	l := Loan{
		LoanID:       r.id(0),
		CopyID:       r.id(1),
		ResourceID:   r.id(2),
		Username:     r.str(3),
		ResourceType: r.resourceType(4, true),
		CheckoutDate: r.date(5),
		DueDate:      r.optionalDate(6),
		StaffID:      r.id(7),
		Returned:     r.bool(8),
	}
	return l, r.err
}

var transactionFields = []string{"transactionID", "loanID", "username", "amount",
	"resourceID", "date", "time", "resourceType", "isFine"}

type TransactionCodec struct{}

func (TransactionCodec) Class() Class { return ClassTransaction }
func (TransactionCodec) Key(t Transaction) string {
	return strconv.FormatInt(t.TransactionID, 10)
}
func (TransactionCodec) ID(t Transaction) int64 { return t.TransactionID }

func (TransactionCodec) Encode(t Transaction) (string, error) {
	if t.TransactionID < 1 {
		return "", fmt.Errorf("%w: transaction id %d", ErrInvalidField, t.TransactionID)
	}
	if t.Amount < 0 {
		return "", fmt.Errorf("%w: negative amount", ErrInvalidField)
	}
	if t.ResourceType != "" {
		if _, err := ParseResourceType(string(t.ResourceType)); err != nil {
			return "", err
		}
	}
	w := &fieldWriter{class: ClassTransaction}
	w.id(t.TransactionID)
	w.optionalID(t.LoanID)
	w.str("username", t.Username)
	w.money(t.Amount)
	w.optionalID(t.ResourceID)
	w.date("date", t.Date)
	w.clock("time", t.Time)
	w.str("resourceType", string(t.ResourceType))
	w.bool(t.IsFine)
	return w.line()
}

func (TransactionCodec) Decode(line string) (Transaction, error) {
	r, err := newFieldReader(ClassTransaction, line, transactionFields...)
	if err != nil {
		return Transaction{}, err
	}
	t := Transaction{
		TransactionID: r.id(0),
		LoanID:        r.optionalID(1),
		Username:      r.str(2),
		Amount:        r.money(3),
		ResourceID:    r.optionalID(4),
		Date:          r.date(5),
		Time:          r.clock(6),
		ResourceType:  r.resourceType(7, false),
		IsFine:        r.bool(8),
	}
	return t, r.err
}

var requestFields = []string{"requestID", "username", "resourceID", "requestDate",
	"isFilled", "isReserved"}

type RequestCodec struct{}

func (RequestCodec) Class() Class { return ClassRequest }
func (RequestCodec) Key(r Request) string { return strconv.FormatInt(r.RequestID, 10) }
func (RequestCodec) ID(r Request) int64 { return r.RequestID }

func (RequestCodec) Encode(q Request) (string, error) {
	if q.RequestID < 1 || q.ResourceID < 1 {
		return "", fmt.Errorf("%w: request %d has a missing id", ErrInvalidField, q.RequestID)
	}
	if q.Filled && q.Reserved {
		return "", fmt.Errorf("%w: request %d is both filled and reserved", ErrInvalidField, q.RequestID)
	}
	w := &fieldWriter{class: ClassRequest}
	w.id(q.RequestID)
	w.str("username", q.Username)
	w.id(q.ResourceID)
	w.date("requestDate", q.RequestDate)
	w.bool(q.Filled)
	w.bool(q.Reserved)
	return w.line()
}

func (RequestCodec) Decode(line string) (Request, error) {
	r, err := newFieldReader(ClassRequest, line, requestFields...)
	if err != nil {
		return Request{}, err
	}
	q := Request{
		RequestID:   r.id(0),
		Username:    r.str(1),
		ResourceID:  r.id(2),
		RequestDate: r.date(3),
		Filled:      r.bool(4),
		Reserved:    r.bool(5),
	}
	if q.Filled && q.Reserved {
		r.fail(5, "request is both filled and reserved")
	}
	return q, r.err
}
