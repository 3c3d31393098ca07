package library

import (
	"time"
)

// FineRule is the overdue charge for one resource type.
type FineRule struct {
	PerDay Money
	Cap    Money
}

// FinePolicy maps resource types to their overdue charges. Types without a
// rule use Default.
type FinePolicy struct {
	Rules   map[ResourceType]FineRule
	Default FineRule
}

// DefaultFinePolicy is the charging scheme the library has always used.
func DefaultFinePolicy() FinePolicy {
	return FinePolicy{
		Rules: map[ResourceType]FineRule{
			Book:   {PerDay: Pounds(2), Cap: Pounds(25)},
			DVD:    {PerDay: Pounds(2), Cap: Pounds(25)},
			Laptop: {PerDay: Pounds(10), Cap: Pounds(100)},
		},
		Default: FineRule{PerDay: Pounds(2), Cap: Pounds(25)},
	}
}

func (p FinePolicy) Rule(t ResourceType) FineRule {
	if r, ok := p.Rules[t]; ok {
		return r
	}
	return p.Default
}

// DaysLate counts whole calendar days between the due date and today.
func DaysLate(l Loan, today time.Time) int {
	if !l.HasDueDate() {
		return 0
	}
	days := int(Day(today).Sub(Day(l.DueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Overdue returns the fine owed for returning l on today.
func (p FinePolicy) Overdue(l Loan, today time.Time) Money {
	days := DaysLate(l, today)
	if days == 0 {
		return 0
	}
	r := p.Rule(l.ResourceType)
	fine := Money(days) * r.PerDay
	if r.Cap > 0 {
		fine = minMoney(fine, r.Cap)
	}
	return fine
}

// LoanPolicy sets default loan lengths. A type mapped to zero days is lent
// for reference only and gets no due date.
type LoanPolicy struct {
	Days map[ResourceType]int
}

func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{Days: map[ResourceType]int{Book: 14, DVD: 7, Laptop: 3}}
}

// DueDate returns the default due date for a checkout, or the zero time for
// reference loans.
func (p LoanPolicy) DueDate(t ResourceType, checkout time.Time) time.Time {
	days := p.Days[t]
	if days <= 0 {
		return time.Time{}
	}
	return Day(checkout).AddDate(0, 0, days)
}
