// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the transactional engine
// behind the durable stores.
package memory

import (
	"casecore/pkg/domain"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.ChangeQueue     = (*transaction)(nil)
)

// CommitHook receives the state a transaction is about to commit. A hook error
// aborts the commit and leaves the previous state in place.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Session is one unit of work held open against shared durable storage.
// Rollback is a no-op once Commit succeeded.
type Session interface {
	Commit(ctx context.Context, snapshot Snapshot) error
	Rollback() error
}

// Backend serialises units of work across every process sharing durable
// storage. Both methods return a non-nil snapshot only when another writer
// committed since this process last synchronised.
type Backend interface {
	// Begin locks the shared storage until the session ends.
	Begin(ctx context.Context) (Session, *Snapshot, error)
	// Latest reads the stored state without locking.
	Latest(ctx context.Context) (*Snapshot, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook registers a hook run before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// WithBackend couples the store to shared durable storage. Every unit of work
// then runs under the backend lock against the latest committed state.
func WithBackend(backend Backend) Option {
	return func(s *Store) {
		s.backend = backend
	}
}

// Store provides an in-memory transactional store for the core domain. A
// store-wide write lock serialises units of work within the process; a
// Backend extends that to every process sharing the same database.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	bus     *domain.EventBus
	nowFn   func() time.Time
	hooks   []CommitHook
	backend Backend
}

// NewStore constructs an in-memory store dispatching to the provided bus.
func NewStore(bus *domain.EventBus, opts ...Option) *Store {
	if bus == nil {
		bus = domain.NewEventBus()
	}
	s := &Store{
		state: newMemoryState(),
		bus:   bus,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// EventBus exposes the bus listeners are registered on.
func (s *Store) EventBus() *domain.EventBus {
	return s.bus
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	transactionView
	ctx     context.Context
	store   *Store
	state   *memoryState
	actor   domain.Actor
	now     time.Time
	changes []domain.Change
	cursor  int
	bulk    string
	result  domain.Result
}

// RunInTransaction executes fn within a transactional copy of the store state,
// drains the after-persist listeners and commits when nothing blocks.
func (s *Store) RunInTransaction(ctx context.Context, actor domain.Actor, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session Session
	if s.backend != nil {
		sess, fresh, err := s.backend.Begin(ctx)
		if err != nil {
			return domain.Result{}, err
		}
		defer func() { _ = sess.Rollback() }()
		if fresh != nil {
			s.state = memoryStateFromSnapshot(*fresh)
		}
		session = sess
	}

	state := s.state.clone()
	tx := &transaction{
		transactionView: newTransactionView(&state),
		ctx:             ctx,
		store:           s,
		state:           &state,
		actor:           actor,
		now:             s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return tx.result, err
	}
	tx.bulk = ""

	res, err := s.bus.Drain(ctx, tx, tx)
	tx.result.Merge(res)
	if err != nil {
		return tx.result, err
	}
	if tx.result.HasBlocking() {
		return tx.result, domain.InvariantViolationError{Result: tx.result}
	}

	if len(s.hooks) > 0 || session != nil {
		snapshot := snapshotFromMemoryState(state)
		for _, hook := range s.hooks {
			if err := hook(ctx, snapshot); err != nil {
				return tx.result, err
			}
		}
		if session != nil {
			if err := session.Commit(ctx, snapshot); err != nil {
				return tx.result, err
			}
		}
	}
	s.state = state
	return tx.result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// sync pulls state committed by other processes sharing the backend.
func (s *Store) sync(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh, err := s.backend.Latest(ctx)
	if err != nil {
		return err
	}
	if fresh != nil {
		s.state = memoryStateFromSnapshot(*fresh)
	}
	return nil
}

// Next implements domain.ChangeQueue over the recorded changes.
func (tx *transaction) Next() (domain.Change, bool) {
	if tx.cursor >= len(tx.changes) {
		return domain.Change{}, false
	}
	change := tx.changes[tx.cursor]
	tx.cursor++
	return change, true
}

func (tx *transaction) recordChange(change domain.Change) {
	change.Bulk = tx.bulk
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) before(action domain.Action, entity any) error {
	res, err := tx.store.bus.Before(tx.ctx, tx, action, entity)
	tx.result.Merge(res)
	return err
}

// Actor returns the actor bound to the unit of work.
func (tx *transaction) Actor() domain.Actor { return tx.actor }

// Now returns the transaction timestamp.
func (tx *transaction) Now() time.Time { return tx.now }

// BeginBulk tags subsequent changes with operation.
func (tx *transaction) BeginBulk(operation string) { tx.bulk = operation }

// LockChild returns the child; the store-wide write lock already serialises writers.
func (tx *transaction) LockChild(id string) (domain.Child, error) {
	c, ok := tx.FindChild(id)
	if !ok {
		return domain.Child{}, domain.NotFoundError{Entity: domain.EntityChild, ID: id}
	}
	return c, nil
}
