package library

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Record is a decoded entity together with the exact line it was read from.
// Line is the before-image used by Replace.
type Record[T any] struct {
	Value T
	Line  string
}

// Table is the typed view of one class's resource.
type Table[T any] struct {
	store *Store
	codec Codec[T]
}

func newTable[T any](s *Store, c Codec[T]) *Table[T] {
	return &Table[T]{store: s, codec: c}
}

func (t *Table[T]) Class() Class { return t.codec.Class() }

func (t *Table[T]) mu() *sync.RWMutex { return &t.store.locks[t.Class()] }

// load decodes the resource. The caller holds the class lock.
func (t *Table[T]) load() ([]Record[T], error) {
	lines, err := t.store.backend.Lines(t.Class().Resource())
	if err != nil {
		return nil, err
	}
	recs := make([]Record[T], 0, len(lines))
	keys := make(map[string]int, len(lines))
	ids := make(map[int64]int, len(lines))
	for i, line := range lines {
		v, err := t.codec.Decode(line)
		if err != nil {
			var re *RecordError
			if errors.As(err, &re) {
				re.Line = i + 1
			}
			return nil, err
		}
		key := t.codec.Key(v)
		if prev, ok := keys[key]; ok {
			return nil, fmt.Errorf("%w: %s key %q on lines %d and %d", ErrStoreCorruption, t.Class(), key, prev, i+1)
		}
		keys[key] = i + 1
		if id := t.codec.ID(v); id != 0 {
			if prev, ok := ids[id]; ok {
				return nil, fmt.Errorf("%w: %s id %d on lines %d and %d", ErrStoreCorruption, t.Class(), id, prev, i+1)
			}
			ids[id] = i + 1
		}
		recs = append(recs, Record[T]{Value: v, Line: line})
	}
	return recs, nil
}

// LoadAll returns every record in storage order.
func (t *Table[T]) LoadAll() ([]Record[T], error) {
	t.mu().RLock()
	defer t.mu().RUnlock()
	return t.load()
}

// All returns every entity in storage order.
func (t *Table[T]) All() ([]T, error) {
	recs, err := t.LoadAll()
	if err != nil {
		return nil, err
	}
	return values(recs), nil
}

func values[T any](recs []Record[T]) []T {
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = r.Value
	}
	return out
}

// Find returns the first record matching match, or ErrNotFound.
func (t *Table[T]) Find(match func(T) bool) (Record[T], error) {
	recs, err := t.LoadAll()
	if err != nil {
		return Record[T]{}, err
	}
	return t.find(recs, match)
}

func (t *Table[T]) find(recs []Record[T], match func(T) bool) (Record[T], error) {
	for _, r := range recs {
		if match(r.Value) {
			return r, nil
		}
	}
	return Record[T]{}, fmt.Errorf("%w: %s", ErrNotFound, t.Class())
}

// Get looks a record up by its unique key.
func (t *Table[T]) Get(key string) (Record[T], error) {
	rec, err := t.Find(func(v T) bool { return t.codec.Key(v) == key })
	if errors.Is(err, ErrNotFound) {
		return rec, fmt.Errorf("%w: %s %q", ErrNotFound, t.Class(), key)
	}
	return rec, err
}

// GetID looks a record up by its allocated ID.
func (t *Table[T]) GetID(id int64) (Record[T], error) {
	return t.Get(strconv.FormatInt(id, 10))
}

// NextID reports the ID the next Register would assign. It is informative
// only; Register allocates under the class lock.
func (t *Table[T]) NextID() (int64, error) {
	recs, err := t.LoadAll()
	if err != nil {
		return 0, err
	}
	return NextID(t.codec, recs), nil
}

// Append adds v as a new last line.
func (t *Table[T]) Append(v T) error {
	return t.exclusive("append", func() error { return t.doAppend(v, nil) })
}

// Register allocates the next ID, builds the entity with it and appends it,
// all under the class lock.
func (t *Table[T]) Register(build func(id int64) (T, error)) (T, error) {
	var out T
	err := t.exclusive("register", func() (err error) {
		out, err = t.doRegister(build, nil)
		return err
	})
	return out, err
}

// Replace rewrites the line encoding old with the encoding of updated. Records
// read from disk should prefer ReplaceLine with Record.Line, which also
// matches lines written in older formats.
func (t *Table[T]) Replace(old, updated T) error {
	before, err := t.codec.Encode(old)
	if err != nil {
		return err
	}
	return t.ReplaceLine(before, updated)
}

// ReplaceLine rewrites the single line equal to before.
func (t *Table[T]) ReplaceLine(before string, after T) error {
	return t.exclusive("replace", func() error { return t.doReplace(before, after, nil) })
}

func (t *Table[T]) exclusive(op string, fn func() error) error {
	t.mu().Lock()
	defer t.mu().Unlock()
	start := time.Now()
	err := fn()
	t.store.observe(t.Class(), op, err, start)
	return err
}

// ---------------------------------------------------------------------------
// Write paths shared by Table and TableTx. The caller holds the class lock;
// pre runs before the first backend write.
// ---------------------------------------------------------------------------

func (t *Table[T]) doAppend(v T, pre func() error) error {
	recs, err := t.load()
	if err != nil {
		return err
	}
	return t.appendTo(recs, v, pre)
}

func (t *Table[T]) appendTo(recs []Record[T], v T, pre func() error) error {
	line, err := t.codec.Encode(v)
	if err != nil {
		return err
	}
	key, id := t.codec.Key(v), t.codec.ID(v)
	for _, r := range recs {
		if t.codec.Key(r.Value) == key || (id != 0 && t.codec.ID(r.Value) == id) {
			return fmt.Errorf("%w: %s %q", ErrDuplicateKey, t.Class(), key)
		}
	}
	if pre != nil {
		if err := pre(); err != nil {
			return err
		}
	}
	return t.store.backend.Append(t.Class().Resource(), line)
}

func (t *Table[T]) doRegister(build func(id int64) (T, error), pre func() error) (T, error) {
	var zero T
	recs, err := t.load()
	if err != nil {
		return zero, err
	}
	v, err := build(NextID(t.codec, recs))
	if err != nil {
		return zero, err
	}
	if err := t.appendTo(recs, v, pre); err != nil {
		return zero, err
	}
	return v, nil
}

func (t *Table[T]) doReplace(before string, after T, pre func() error) error {
	old, err := t.codec.Decode(before)
	if err != nil {
		return fmt.Errorf("%w: before-image does not decode: %v", ErrStaleWrite, err)
	}
	if t.codec.Key(old) != t.codec.Key(after) || t.codec.ID(old) != t.codec.ID(after) {
		return fmt.Errorf("%w: %s key is immutable", ErrInvalidField, t.Class())
	}
	line, err := t.codec.Encode(after)
	if err != nil {
		return err
	}
	if pre != nil {
		if err := pre(); err != nil {
			return err
		}
	}
	return t.store.backend.Replace(t.Class().Resource(), before, line)
}

// ---------------------------------------------------------------------------
// Batch access
// ---------------------------------------------------------------------------

// TableTx is a table bound to a Batch. Its methods rely on the batch's locks
// and record undo images before writing.
type TableTx[T any] struct {
	t *Table[T]
	b *Batch
}

// In binds t to b. b must hold t's class lock.
func (t *Table[T]) In(b *Batch) TableTx[T] { return TableTx[T]{t: t, b: b} }

func (x TableTx[T]) pre() error { return x.b.touch(x.t.Class()) }

func (x TableTx[T]) LoadAll() ([]Record[T], error) {
	if err := x.b.holds(x.t.Class()); err != nil {
		return nil, err
	}
	return x.t.load()
}

func (x TableTx[T]) Find(match func(T) bool) (Record[T], error) {
	recs, err := x.LoadAll()
	if err != nil {
		return Record[T]{}, err
	}
	return x.t.find(recs, match)
}

func (x TableTx[T]) Append(v T) error {
	if err := x.b.holds(x.t.Class()); err != nil {
		return err
	}
	start := time.Now()
	err := x.t.doAppend(v, x.pre)
	x.t.store.observe(x.t.Class(), "append", err, start)
	return err
}

func (x TableTx[T]) Register(build func(id int64) (T, error)) (T, error) {
	if err := x.b.holds(x.t.Class()); err != nil {
		var zero T
		return zero, err
	}
	start := time.Now()
	v, err := x.t.doRegister(build, x.pre)
	x.t.store.observe(x.t.Class(), "register", err, start)
	return v, err
}

func (x TableTx[T]) ReplaceLine(before string, after T) error {
	if err := x.b.holds(x.t.Class()); err != nil {
		return err
	}
	start := time.Now()
	err := x.t.doReplace(before, after, x.pre)
	x.t.store.observe(x.t.Class(), "replace", err, start)
	return err
}
