package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Backend is the remote attendance API as seen by the store.
type Backend interface {
	ListStudents(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, change StatusChange) (Record, error)
	UpdateStudent(ctx context.Context, record Record) (Record, error)
	CreateStudent(ctx context.Context, record Record) (Record, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for time stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLocation renders time stamps in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTimeLayout overrides DefaultTimeLayout.
func WithTimeLayout(layout string) Option {
	return func(s *Store) {
		if layout != "" {
			s.layout = layout
		}
	}
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithJournal attaches a sink that receives every mutation outcome.
func WithJournal(j Journal) Option {
	return func(s *Store) {
		if j != nil {
			s.journal = j
		}
	}
}

// Store is the session cache of attendance records. Mutations are applied
// optimistically as pending values, persisted through the Backend and committed
// with the server's response. Reads only ever see committed values.
//
// Store is safe for concurrent use. The lock is never held across a Backend call.
type Store struct {
	backend  Backend
	clock    func() time.Time
	loc      *time.Location
	layout   string
	log      *zap.Logger
	metrics  *Metrics
	journal  Journal
	validate *validator.Validate

	mu        sync.RWMutex
	records   []Record
	index     map[string]int
	pending   map[string]pendingChange
	versions  map[string]uint64
	loadSeq   uint64
	loadedSeq uint64
	loaded    bool
}

type pendingChange struct {
	version uint64
	record  Record
}

// NewStore creates an empty store backed by backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		clock:    time.Now,
		loc:      time.Local,
		layout:   DefaultTimeLayout,
		log:      zap.NewNop(),
		journal:  nopJournal{},
		validate: validator.New(),
		index:    make(map[string]int),
		pending:  make(map[string]pendingChange),
		versions: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the full collection and replaces the cache. On error the previous
// cache is kept. A load that finishes after a newer one has been applied is
// discarded and the current cache is returned.
func (s *Store) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	records, err := s.backend.ListStudents(ctx)
	if err != nil {
		s.metrics.load("error")
		s.log.Warn("load records failed", zap.Error(err))
		return nil, fmt.Errorf("load records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.loadedSeq {
		s.metrics.load("stale")
		return s.copyLocked(), nil
	}
	s.loadedSeq = seq
	s.replaceLocked(records)
	s.metrics.load("ok")
	s.metrics.cached(len(s.records))
	s.log.Debug("records loaded", zap.Int("count", len(s.records)))
	return s.copyLocked(), nil
}

func (s *Store) replaceLocked(records []Record) {
	s.records = make([]Record, 0, len(records))
	s.index = make(map[string]int, len(records))
	for _, r := range records {
		if _, dup := s.index[r.ID]; dup {
			s.log.Warn("duplicate record id dropped", zap.String("id", r.ID))
			continue
		}
		s.index[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	s.loaded = true
}

// SetStatus moves record id to status and persists the change. The returned
// record is the server's response, which also replaces the cached value.
//
// Overlapping calls for the same id are resolved by a per-id version: only the
// most recent call commits. Earlier calls return ErrSuperseded alongside the
// record the server sent them.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, invalidStatus(string(status))
	}

	s.mu.Lock()
	current, ok := s.lookupLocked(id)
	if !ok {
		err := s.missingLocked(id)
		s.mu.Unlock()
		return Record{}, err
	}
	guess := current
	guess.Status = status
	guess.Time = StampFor(status, s.now(), s.layout)
	version := s.beginLocked(id, guess)
	s.mu.Unlock()

	saved, err := s.backend.UpdateStatus(ctx, StatusChange{ID: id, Status: status, Time: guess.Time})
	return s.finish(ctx, opStatus, current, guess, version, saved, err)
}

// UpdateFields merges patch into record id and persists the full record. When
// the patch changes the status, Time is recomputed as in SetStatus.
func (s *Store) UpdateFields(ctx context.Context, id string, patch Patch) (Record, error) {
	if err := s.validate.Struct(patch); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	s.mu.Lock()
	current, ok := s.lookupLocked(id)
	if !ok {
		err := s.missingLocked(id)
		s.mu.Unlock()
		return Record{}, err
	}
	merged := patch.apply(current)
	if patch.Status != nil && *patch.Status != current.Status {
		merged.Time = StampFor(*patch.Status, s.now(), s.layout)
	}
	version := s.beginLocked(id, merged)
	s.mu.Unlock()

	saved, err := s.backend.UpdateStudent(ctx, merged)
	return s.finish(ctx, opFields, current, merged, version, saved, err)
}

// Add creates a record on the backend. The stored record, with the id the
// backend assigned, is appended to the cache once a load has succeeded.
func (s *Store) Add(ctx context.Context, draft Draft) (Record, error) {
	if err := s.validate.Struct(draft); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	rec := draft.record()
	if rec.Status != StatusUnknown {
		rec.Time = StampFor(rec.Status, s.now(), s.layout)
	}

	saved, err := s.backend.CreateStudent(ctx, rec)
	if err != nil {
		s.report(ctx, opCreate, Record{}, rec.Status, OutcomeRolledBack, err.Error())
		return Record{}, fmt.Errorf("create record %q: %w", rec.Name, err)
	}

	s.mu.Lock()
	if s.loaded {
		if idx, ok := s.index[saved.ID]; ok {
			s.records[idx] = saved
		} else {
			s.index[saved.ID] = len(s.records)
			s.records = append(s.records, saved)
		}
		s.metrics.cached(len(s.records))
	}
	s.mu.Unlock()

	s.report(ctx, opCreate, Record{ID: saved.ID}, saved.Status, OutcomeCommitted, "")
	s.log.Info("record created", zap.String("id", saved.ID))
	return saved, nil
}

func (s *Store) beginLocked(id string, guess Record) uint64 {
	s.versions[id]++
	v := s.versions[id]
	s.pending[id] = pendingChange{version: v, record: guess}
	return v
}

func (s *Store) finish(ctx context.Context, op string, before, guess Record, version uint64, saved Record, err error) (Record, error) {
	id := before.ID

	s.mu.Lock()
	latest := s.versions[id] == version
	if latest {
		delete(s.pending, id)
	}
	if err != nil {
		s.mu.Unlock()
		s.report(ctx, op, before, guess.Status, OutcomeRolledBack, err.Error())
		s.log.Warn("persist failed, change rolled back",
			zap.String("op", op), zap.String("id", id), zap.Error(err))
		return Record{}, fmt.Errorf("persist %s change for %s: %w", op, id, err)
	}
	if saved.ID != id {
		if saved.ID != "" {
			s.log.Warn("server echoed a different id", zap.String("id", id), zap.String("echo", saved.ID))
		}
		saved.ID = id
	}
	if !latest {
		s.mu.Unlock()
		s.report(ctx, op, before, saved.Status, OutcomeSuperseded, "")
		return saved, ErrSuperseded
	}
	if idx, ok := s.index[id]; ok {
		s.records[idx] = saved
	}
	s.mu.Unlock()

	s.report(ctx, op, before, saved.Status, OutcomeCommitted, "")
	return saved, nil
}

func (s *Store) report(ctx context.Context, op string, before Record, to Status, outcome Outcome, msg string) {
	s.metrics.mutation(op, outcome)
	m := Mutation{
		RecordID: before.ID,
		Op:       op,
		From:     before.Status,
		To:       to,
		Outcome:  outcome,
		Message:  msg,
		At:       s.clock().UTC(),
	}
	if err := s.journal.Append(context.WithoutCancel(ctx), m); err != nil {
		s.log.Warn("journal append failed", zap.String("id", before.ID), zap.Error(err))
	}
}

func (s *Store) missingLocked(id string) error {
	if !s.loaded {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, ErrNotLoaded)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) now() time.Time {
	return s.clock().In(s.loc)
}

func (s *Store) lookupLocked(id string) (Record, bool) {
	idx, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return s.records[idx], true
}

func (s *Store) copyLocked() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the committed record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(id)
}

// Lookup is like Get but returns ErrNotFound, wrapping ErrNotLoaded when no
// load has succeeded yet.
func (s *Store) Lookup(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.lookupLocked(id); ok {
		return r, nil
	}
	return Record{}, s.missingLocked(id)
}

// Pending returns the optimistic value of an in-flight change for id, if any.
func (s *Store) Pending(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	return p.record, ok
}

// Snapshot returns a copy of the committed collection in load order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Loaded reports whether at least one Load has succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
