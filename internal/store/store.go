package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"security-intel/internal/model"
	"security-intel/internal/util"
)

// Store is the append-only event log. Records live in an arena addressed by
// sequence id (seq n is arena[n-1]); secondary indexes are B-trees updated
// on every append and cloned copy-on-write for snapshots.
type Store struct {
	mu          sync.RWMutex
	events      []*model.SecurityEvent
	indexes     map[Column]*btree.BTreeG[entry]
	counts      map[Column]*btree.BTreeG[keyCount]
	lastCreated time.Time
	snap        *Snapshot
	closed      bool

	clock  func() time.Time
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the insertion clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithCapacity preallocates the arena.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.events = make([]*model.SecurityEvent, 0, n)
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		indexes: make(map[Column]*btree.BTreeG[entry], len(Columns)),
		counts:  make(map[Column]*btree.BTreeG[keyCount], len(Columns)),
		clock:   time.Now,
	}
	for _, col := range Columns {
		s.indexes[col] = newIndex()
		s.counts[col] = newCounts()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = util.Get()
	}
	return s
}

// Append validates ev, assigns the next sequence id and stores a private
// copy. The caller's value is not retained. A *model.ValidationError is
// returned for malformed input and the store is left untouched.
func (s *Store) Append(ev *model.SecurityEvent) (*model.SecurityEvent, error) {
	return s.insert(ev, false)
}

// Restore appends a record replayed from the archive, keeping its original
// creation time when that does not break insertion-order monotonicity.
func (s *Store) Restore(ev *model.SecurityEvent) (*model.SecurityEvent, error) {
	return s.insert(ev, true)
}

func (s *Store) insert(ev *model.SecurityEvent, keepCreated bool) (*model.SecurityEvent, error) {
	if ev == nil {
		return nil, model.NewValidationError("event", "is nil")
	}

	rec := *ev
	if ev.RawLog != nil {
		rec.RawLog = append([]byte(nil), ev.RawLog...)
	}
	rec.SourcePort = copyInt(ev.SourcePort)
	rec.DestinationPort = copyInt(ev.DestinationPort)
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, model.ErrStoreUnavailable
	}

	created := rec.CreatedAt
	if !keepCreated || created.IsZero() {
		created = s.clock()
	}
	created = created.UTC()
	if created.Before(s.lastCreated) {
		created = s.lastCreated
	}
	s.lastCreated = created

	rec.ID = int64(len(s.events)) + 1
	rec.CreatedAt = created
	s.events = append(s.events, &rec)

	e := at(rec.Timestamp)
	e.seq = rec.ID
	for _, col := range Columns {
		key, ok := keyOf(col, &rec)
		if !ok {
			continue
		}
		e.key = key
		s.indexes[col].ReplaceOrInsert(e)

		kc, _ := s.counts[col].Get(keyCount{key: key})
		kc.key = key
		kc.n++
		s.counts[col].ReplaceOrInsert(kc)
	}
	return &rec, nil
}

// Snapshot returns a consistent read view of everything appended so far.
// Snapshots are shared between readers until the next append.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, model.ErrStoreUnavailable
	}
	if snap := s.snap; snap != nil && snap.version == int64(len(s.events)) {
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	// Clone mutates the copy-on-write state of the source tree, so it
	// needs the write lock. Every clone is O(1), key counts included.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, model.ErrStoreUnavailable
	}
	if snap := s.snap; snap != nil && snap.version == int64(len(s.events)) {
		return snap, nil
	}

	snap := &Snapshot{
		version: int64(len(s.events)),
		events:  s.events[:len(s.events):len(s.events)],
		indexes: make(map[Column]*btree.BTreeG[entry], len(s.indexes)),
		counts:  make(map[Column]*btree.BTreeG[keyCount], len(s.counts)),
	}
	for col, idx := range s.indexes {
		snap.indexes[col] = idx.Clone()
	}
	for col, c := range s.counts {
		snap.counts[col] = c.Clone()
	}
	s.snap = snap
	return snap, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// HealthCheck reports whether the store accepts reads.
func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store health check failed: %w", model.ErrStoreUnavailable)
	}
	return nil
}

// Close makes the store unavailable. Snapshots already handed out stay
// readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.snap = nil
	s.logger.Info("Event store closed", util.Int("events", len(s.events)))
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
