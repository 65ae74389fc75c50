package domain

import (
	"context"
	"fmt"
)

// DefaultDispatchBudget bounds the number of changes a single unit of work may
// dispatch to after-persist listeners.
const DefaultDispatchBudget = 10000

// BeforePersistListener runs synchronously inside Create and Update before the
// row is written. entity is a pointer to the record being persisted (*Child,
// *Visit, ...) and may be adjusted in place. A blocking violation or an error
// vetoes the write.
type BeforePersistListener interface {
	Name() string
	BeforePersist(ctx context.Context, tx Transaction, action Action, entity any) (Result, error)
}

// Listener reacts to a recorded change after the transaction function returns
// and before commit. Changes a listener records are dispatched in turn.
type Listener interface {
	Name() string
	AfterPersist(ctx context.Context, tx Transaction, change Change) (Result, error)
}

// ChangeQueue yields recorded changes in FIFO order, including changes
// appended while the queue is being drained.
type ChangeQueue interface {
	Next() (Change, bool)
}

// EventBus holds the ordered before- and after-persist listeners.
type EventBus struct {
	before []BeforePersistListener
	after  []Listener
	budget int
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{budget: DefaultDispatchBudget}
}

// RegisterBefore appends a before-persist listener.
func (b *EventBus) RegisterBefore(l BeforePersistListener) {
	b.before = append(b.before, l)
}

// Register appends an after-persist listener.
func (b *EventBus) Register(l Listener) {
	b.after = append(b.after, l)
}

// SetBudget overrides the dispatch budget; values below one restore the default.
func (b *EventBus) SetBudget(n int) {
	if n < 1 {
		n = DefaultDispatchBudget
	}
	b.budget = n
}

// Listeners returns the names of the registered listeners in dispatch order.
func (b *EventBus) Listeners() (before, after []string) {
	for _, l := range b.before {
		before = append(before, l.Name())
	}
	for _, l := range b.after {
		after = append(after, l.Name())
	}
	return before, after
}

// Before runs every before-persist listener for entity.
func (b *EventBus) Before(ctx context.Context, tx Transaction, action Action, entity any) (Result, error) {
	var combined Result
	if b == nil {
		return combined, nil
	}
	for _, l := range b.before {
		res, err := l.BeforePersist(ctx, tx, action, entity)
		if err != nil {
			return combined, fmt.Errorf("%s: %w", l.Name(), err)
		}
		combined.Merge(res)
		if res.HasBlocking() {
			return combined, InvariantViolationError{Result: combined}
		}
	}
	return combined, nil
}

// Drain dispatches queued changes to every after-persist listener in
// registration order until the queue is empty.
func (b *EventBus) Drain(ctx context.Context, tx Transaction, queue ChangeQueue) (Result, error) {
	var combined Result
	if b == nil {
		return combined, nil
	}
	dispatched := 0
	for {
		change, ok := queue.Next()
		if !ok {
			return combined, nil
		}
		dispatched++
		if dispatched > b.budget {
			return combined, fmt.Errorf("event dispatch exceeded budget of %d changes", b.budget)
		}
		for _, l := range b.after {
			res, err := l.AfterPersist(ctx, tx, change)
			if err != nil {
				return combined, fmt.Errorf("%s: %w", l.Name(), err)
			}
			combined.Merge(res)
		}
	}
}
