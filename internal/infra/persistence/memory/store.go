package memory

import (
	"context"
	"sync"

	"emhub/pkg/domain"
)

// Store keeps the whole domain state in memory. It satisfies
// domain.PersistentStore and is embedded by the sqlite and postgres backends,
// which add snapshot durability around it.
type Store struct {
	mu       sync.RWMutex
	state    *state
	engine   *domain.RulesEngine
	onCommit []func(context.Context, []domain.Change)
}

// NewStore creates an empty store. A nil engine disables rule evaluation.
func NewStore(engine *domain.RulesEngine) *Store {
	return &Store{state: newState(), engine: engine}
}

// OnCommit registers a hook invoked after every successful commit with the
// changes that were applied. Hooks run outside the store lock.
func (s *Store) OnCommit(fn func(context.Context, []domain.Change)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onCommit = append(s.onCommit, fn)
	s.mu.Unlock()
}

// RunInTransaction executes fn against a private copy of the state. When fn
// succeeds and no registered rule blocks, the copy replaces the live state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()

	tx := &transaction{state: s.state.clone()}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.engine != nil && len(tx.changes) > 0 {
		result, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if result.HasBlocking() {
			s.mu.Unlock()
			return domain.RuleViolationError{Result: result}
		}
	}
	s.state = tx.state
	hooks := make([]func(context.Context, []domain.Change), len(s.onCommit))
	copy(hooks, s.onCommit)
	changes := tx.changes
	s.mu.Unlock()

	// Hooks run outside the lock so they may read the store again.
	if len(changes) > 0 {
		for _, hook := range hooks {
			hook(ctx, changes)
		}
	}
	return nil
}

// View runs fn on a consistent read-only copy of the state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	tx := &transaction{state: s.state.clone(), readOnly: true}
	s.mu.RUnlock()
	return fn(tx)
}

// ExportState dumps the full state as a snapshot.
func (s *Store) ExportState(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot(), nil
}

// ImportState replaces the full state from a snapshot.
func (s *Store) ImportState(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = restore(snap)
	return nil
}

// Close releases nothing for the in-memory backend.
func (s *Store) Close() error { return nil }
