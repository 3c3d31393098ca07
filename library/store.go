package library

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Observer receives store and ledger events. internal/metrics provides the
// prometheus implementation.
type Observer interface {
	StoreWrite(class Class, op string, err error, elapsed time.Duration)
	LedgerEvent(kind string, amount Money)
}

type nopObserver struct{}

func (nopObserver) StoreWrite(Class, string, error, time.Duration) {}
func (nopObserver) LedgerEvent(string, Money) {}

// StoreOptions tunes Open. Zero values pick quiet defaults.
type StoreOptions struct {
	// JournalPath is where composite updates record their undo images. Empty
	// disables crash recovery for composite updates.
	JournalPath string
	Logger      *slog.Logger
	Observer    Observer
}

// Store owns the backend and the per-class locks. All reads and writes of
// persisted entities go through its tables.
type Store struct {
	backend Backend
	journal *journal
	locks   [numClasses]sync.RWMutex
	log     *slog.Logger
	obs     Observer

	Users        *Table[User]
	Librarians   *Table[Librarian]
	Loans        *Table[Loan]
	Transactions *Table[Transaction]
	Requests     *Table[Request]
}

// Open wraps backend, rolls back any composite update a crash interrupted,
// and checks that every resource decodes.
func Open(backend Backend, opts StoreOptions) (*Store, error) {
	s := &Store{
		backend: backend,
		log:     opts.Logger,
		obs:     opts.Observer,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	if opts.JournalPath != "" {
		s.journal = &journal{path: opts.JournalPath}
	}
	s.Users = newTable[User](s, UserCodec{})
	s.Librarians = newTable[Librarian](s, LibrarianCodec{})
	s.Loans = newTable[Loan](s, LoanCodec{})
	s.Transactions = newTable[Transaction](s, TransactionCodec{})
	s.Requests = newTable[Request](s, RequestCodec{})

	if err := s.recover(); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) Logger() *slog.Logger { return s.log }

func (s *Store) observe(c Class, op string, err error, start time.Time) {
	s.obs.StoreWrite(c, op, err, time.Since(start))
	switch {
	case err == nil:
		s.log.Debug("store write", "class", c, "op", op)
	case errors.Is(err, ErrStaleWrite):
		s.log.Warn("stale write rejected", "class", c, "op", op)
	case errors.Is(err, ErrStoreCorruption):
		s.log.Error("store corruption", "class", c, "op", op, "err", err)
	}
}

func (s *Store) recover() error {
	if s.journal == nil {
		return nil
	}
	pending, err := s.journal.read()
	if err != nil || pending == nil {
		return err
	}
	s.log.Warn("rolling back interrupted update", "resources", len(pending.Resources), "started", pending.Started)
	for resource, lines := range pending.Resources {
		if err := s.backend.Restore(resource, lines); err != nil {
			return fmt.Errorf("journal rollback %s: %w", resource, err)
		}
	}
	return s.journal.clear()
}

// check decodes every resource once so corruption surfaces at startup.
func (s *Store) check() error {
	checks := []func() error{
		func() error { _, err := s.Users.LoadAll(); return err },
		func() error { _, err := s.Librarians.LoadAll(); return err },
		func() error { _, err := s.Loans.LoadAll(); return err },
		func() error { _, err := s.Transactions.LoadAll(); return err },
		func() error { _, err := s.Requests.LoadAll(); return err },
	}
	for _, c := range checks {
		if err := c(); err != nil {
			s.log.Error("store failed to load", "err", err)
			return err
		}
	}
	return nil
}

// Export hands every resource's raw lines to fn under shared locks, giving a
// consistent snapshot across classes.
func (s *Store) Export(fn func(resource string, lines []string) error) error {
	return s.View(func(b *Batch) error {
		for _, c := range AllClasses() {
			lines, err := s.backend.Lines(c.Resource())
			if err != nil {
				return err
			}
			if err := fn(c.Resource(), lines); err != nil {
				return err
			}
		}
		return nil
	}, AllClasses()...)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// Batch is the handle passed to Update and View callbacks. It records which
// class locks are held and the pre-image of every resource touched.
type Batch struct {
	store    *Store
	held     [numClasses]bool
	readOnly bool
	saved    map[string][]string
	order    []string
}

func sortedClasses(classes []Class) []Class {
	out := slices.Clone(classes)
	slices.Sort(out)
	return slices.Compact(out)
}

// Update runs fn holding the exclusive locks of classes, taken in the global
// class order. Writes made through the batch are undone if fn returns an
// error, and replayed from the journal on the next Open if the process dies
// part way.
func (s *Store) Update(fn func(b *Batch) error, classes ...Class) (err error) {
	classes = sortedClasses(classes)
	for _, c := range classes {
		s.locks[c].Lock()
	}
	defer func() {
		for i := len(classes) - 1; i >= 0; i-- {
			s.locks[classes[i]].Unlock()
		}
	}()

	b := &Batch{store: s, saved: map[string][]string{}}
	for _, c := range classes {
		b.held[c] = true
	}

	if err = fn(b); err != nil {
		if rerr := b.rollback(); rerr != nil {
			s.log.Error("rollback failed", "err", rerr)
			return errors.Join(err, rerr)
		}
		if len(b.saved) > 0 {
			s.log.Warn("update rolled back", "resources", b.order, "err", err)
		}
		return err
	}
	if len(b.saved) > 0 && s.journal != nil {
		if cerr := s.journal.clear(); cerr != nil {
			return fmt.Errorf("clear journal: %w", cerr)
		}
	}
	return nil
}

// View runs fn holding the shared locks of classes.
func (s *Store) View(fn func(b *Batch) error, classes ...Class) error {
	classes = sortedClasses(classes)
	for _, c := range classes {
		s.locks[c].RLock()
	}
	defer func() {
		for i := len(classes) - 1; i >= 0; i-- {
			s.locks[classes[i]].RUnlock()
		}
	}()
	b := &Batch{store: s, readOnly: true}
	for _, c := range classes {
		b.held[c] = true
	}
	return fn(b)
}

func (b *Batch) holds(c Class) error {
	if !b.held[c] {
		return fmt.Errorf("batch does not hold the %s lock", c)
	}
	return nil
}

// touch saves the pre-image of c's resource before its first write and
// persists the undo journal.
func (b *Batch) touch(c Class) error {
	if b.readOnly {
		return fmt.Errorf("write to %s in a read-only batch", c)
	}
	res := c.Resource()
	if _, ok := b.saved[res]; ok {
		return nil
	}
	lines, err := b.store.backend.Lines(res)
	if err != nil {
		return err
	}
	if lines == nil {
		lines = []string{}
	}
	b.saved[res] = lines
	b.order = append(b.order, res)
	if b.store.journal != nil {
		return b.store.journal.write(b.saved)
	}
	return nil
}

func (b *Batch) rollback() error {
	var errs []error
	for i := len(b.order) - 1; i >= 0; i-- {
		res := b.order[i]
		if err := b.store.backend.Restore(res, b.saved[res]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", res, err))
		}
	}
	if len(errs) > 0 {
		// Leave the journal so the next Open retries.
		return errors.Join(errs...)
	}
	if len(b.order) > 0 && b.store.journal != nil {
		return b.store.journal.clear()
	}
	return nil
}
