package approval

import (
	"context"
	"sync"

	"autodev/pkg/logx"
	"autodev/pkg/persistence"
)

// Registry routes incoming approval decisions to waiting workflow
// executions. Decisions are durable: the first one recorded for an
// execution wins and later ones are ignored.
type Registry struct {
	store   *persistence.Store
	logger  *logx.Logger
	mu      sync.Mutex
	waiters map[string]chan bool
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store *persistence.Store) *Registry {
	return &Registry{
		store:   store,
		logger:  logx.NewLogger("approval"),
		waiters: make(map[string]chan bool),
	}
}

// Await blocks until a decision arrives for the execution or the context
// is done. If a decision was already recorded it returns immediately.
func (r *Registry) Await(ctx context.Context, executionID string) (bool, error) {
	r.mu.Lock()
	existing, err := r.store.GetDecision(executionID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	if existing != nil {
		r.mu.Unlock()
		return existing.Approved, nil
	}

	ch, ok := r.waiters[executionID]
	if !ok {
		ch = make(chan bool, 1)
		r.waiters[executionID] = ch
	}
	r.mu.Unlock()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, executionID)
		r.mu.Unlock()
		return false, ctx.Err()
	}
}

// Resolve records a decision for an execution and wakes its waiter.
// Unknown execution ids and repeat decisions are ignored with a warning;
// the return value reports whether this call decided the execution.
func (r *Registry) Resolve(executionID string, approved bool, decidedBy string) (bool, error) {
	won, err := r.store.RecordDecision(executionID, approved, decidedBy)
	if err != nil {
		if persistence.IsUnknownExecution(err) {
			r.logger.Warn("ignoring decision for unknown execution %s by %s", executionID, decidedBy)
			return false, nil
		}
		return false, err
	}
	if !won {
		r.logger.Warn("ignoring repeat decision for execution %s by %s, already decided", executionID, decidedBy)
		return false, nil
	}

	r.logger.Info("execution %s %s by %s", executionID, decisionWord(approved), decidedBy)

	r.mu.Lock()
	ch, ok := r.waiters[executionID]
	if ok {
		delete(r.waiters, executionID)
	}
	r.mu.Unlock()
	if ok {
		ch <- approved
	}
	return true, nil
}

func decisionWord(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}
