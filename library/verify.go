package library

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Issue is one integrity violation found by Verify.
type Issue struct {
	Class  Class
	Key    string
	Detail string
}

func (i Issue) String() string { return fmt.Sprintf("%s %s: %s", i.Class, i.Key, i.Detail) }

// Report collects the integrity violations of a store.
type Report struct {
	Profiles     int
	Loans        int
	Transactions int
	Requests     int
	Issues       []Issue
}

func (r Report) OK() bool { return len(r.Issues) == 0 }

// Err wraps ErrStoreCorruption when the report has issues.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	lines := make([]string, len(r.Issues))
	for i, is := range r.Issues {
		lines[i] = is.String()
	}
	return fmt.Errorf("%w: %d issue(s): %s", ErrStoreCorruption, len(r.Issues), strings.Join(lines, "; "))
}

func (r *Report) add(c Class, key any, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Class: c, Key: fmt.Sprint(key), Detail: fmt.Sprintf(format, args...)})
}

// Verify checks the cross-class invariants a single table cannot: usernames
// unique across members and librarians, references from loans, transactions
// and requests, request flags, and every balance against its history. Decode
// failures and duplicate keys within a class are returned as errors.
func Verify(s *Store) (Report, error) {
	var r Report
	err := s.View(func(b *Batch) error {
		users, err := s.Users.In(b).LoadAll()
		if err != nil {
			return err
		}
		libs, err := s.Librarians.In(b).LoadAll()
		if err != nil {
			return err
		}
		loans, err := s.Loans.In(b).LoadAll()
		if err != nil {
			return err
		}
		txs, err := s.Transactions.In(b).LoadAll()
		if err != nil {
			return err
		}
		reqs, err := s.Requests.In(b).LoadAll()
		if err != nil {
			return err
		}
		r.Profiles, r.Loans, r.Transactions, r.Requests = len(users)+len(libs), len(loans), len(txs), len(reqs)

		known := map[string]Money{}
		for _, u := range users {
			known[u.Value.Username] = u.Value.Fine
		}
		staff := map[int64]bool{}
		for _, l := range libs {
			if _, dup := known[l.Value.Username]; dup {
				r.add(ClassLibrarian, l.Value.Username, "username also registered as a member")
			}
			known[l.Value.Username] = l.Value.Fine
			staff[l.Value.StaffID] = true
		}

		loanIDs := map[int64]bool{}
		activeCopies := map[int64]int64{}
		for _, rec := range loans {
			l := rec.Value
			loanIDs[l.LoanID] = true
			if _, ok := known[l.Username]; !ok {
				r.add(ClassLoan, l.LoanID, "unknown user %q", l.Username)
			}
			if !staff[l.StaffID] {
				r.add(ClassLoan, l.LoanID, "unknown staff id %d", l.StaffID)
			}
			if l.Active() {
				if other, ok := activeCopies[l.CopyID]; ok {
					r.add(ClassLoan, l.LoanID, "copy %d also on active loan %d", l.CopyID, other)
				}
				activeCopies[l.CopyID] = l.LoanID
			}
		}

		history := values(txs)
		for _, t := range history {
			if _, ok := known[t.Username]; !ok {
				r.add(ClassTransaction, t.TransactionID, "unknown user %q", t.Username)
			}
			if t.IsFine && t.LoanID != 0 && !loanIDs[t.LoanID] {
				r.add(ClassTransaction, t.TransactionID, "unknown loan %d", t.LoanID)
			}
			if !t.IsFine && (t.LoanID != 0 || t.ResourceID != 0 || t.ResourceType != "") {
				r.add(ClassTransaction, t.TransactionID, "payment carries loan details")
			}
		}

		for _, rec := range reqs {
			q := rec.Value
			if _, ok := known[q.Username]; !ok {
				r.add(ClassRequest, q.RequestID, "unknown user %q", q.Username)
			}
		}

		for username, stored := range known {
			if derived := DeriveBalance(history, username); derived != stored {
				r.add(ClassUser, username, "stored fine %s, history gives %s", stored, derived)
			}
		}
		return nil
	}, AllClasses()...)
	if err != nil {
		return Report{}, err
	}
	sortIssues(r.Issues)
	return r, nil
}

func sortIssues(issues []Issue) {
	slices.SortStableFunc(issues, func(a, b Issue) int {
		if c := cmp.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}
