package library

import (
	"errors"
	"fmt"
)

// Guard ties an entity to the exact line it was read from, so a later write
// only lands if nobody changed the record in between.
type Guard[T any] struct {
	table  *Table[T]
	before string
	Value  T
}

// Capture starts guarding rec, which must have been read from table.
func Capture[T any](table *Table[T], rec Record[T]) Guard[T] {
	return Guard[T]{table: table, before: rec.Line, Value: rec.Value}
}

// Before is the captured before-image.
func (g Guard[T]) Before() string { return g.before }

// Commit replaces the captured before-image with after. ErrStaleWrite means
// nothing was written; the caller should Reload and decide again.
func (g Guard[T]) Commit(after T) error {
	err := g.table.ReplaceLine(g.before, after)
	return g.wrap(err)
}

// CommitIn is Commit inside a batch.
func (g Guard[T]) CommitIn(b *Batch, after T) error {
	err := g.table.In(b).ReplaceLine(g.before, after)
	return g.wrap(err)
}

func (g Guard[T]) wrap(err error) error {
	if errors.Is(err, ErrStaleWrite) {
		return fmt.Errorf("%s %q: %w", g.table.Class(), g.table.codec.Key(g.Value), err)
	}
	return err
}

// Reload re-reads the guarded record by key and returns a fresh guard.
func (g Guard[T]) Reload() (Guard[T], error) {
	rec, err := g.table.Get(g.table.codec.Key(g.Value))
	if err != nil {
		return Guard[T]{}, err
	}
	return Capture(g.table, rec), nil
}
