// Package runtime executes a compiled Program: it schedules tasks,
// resolves value slots, enforces sequence-lock ordering, and maintains
// the output buffers and handler state a render produces (spec.md §3.2,
// §4.4, §5).
package runtime

import (
	"sync"

	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
)

// SlotState is a ValueSlot's lifecycle stage. Once Resolved or Poisoned,
// a slot is terminal and never converts back (spec.md §3.3).
type SlotState int

const (
	Pending SlotState = iota
	Resolved
	Poisoned
)

// Poison is the tagged error value a failed computation resolves to. It
// propagates downstream to any slot that reads it, unless caught by a
// guard's recover arm.
type Poison struct {
	Err *cerrors.RuntimeError
}

// ValueSlot is the unit of the evaluator's data-dependency graph: pending,
// resolved to a value, or poisoned. Waiters registered via OnReady are
// invoked (via the scheduler, never inline) once the slot settles.
type ValueSlot struct {
	mu      sync.Mutex
	state   SlotState
	value   interface{}
	poison  *Poison
	waiters []func()
}

func NewSlot() *ValueSlot {
	return &ValueSlot{}
}

// ResolvedSlot returns an already-settled slot holding v, useful for
// literal chunks that never need to suspend.
func ResolvedSlot(v interface{}) *ValueSlot {
	s := NewSlot()
	s.Resolve(v)
	return s
}

func (s *ValueSlot) Resolve(v interface{}) { s.settle(Resolved, v, nil) }
func (s *ValueSlot) PoisonWith(p *Poison)   { s.settle(Poisoned, nil, p) }

func (s *ValueSlot) settle(state SlotState, v interface{}, p *Poison) {
	s.mu.Lock()
	if s.state != Pending {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.value = v
	s.poison = p
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w()
	}
}

// Peek returns the slot's terminal state without blocking. ok is false if
// the slot is still pending.
func (s *ValueSlot) Peek() (state SlotState, value interface{}, poison *Poison, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Pending {
		return Pending, nil, nil, false
	}
	return s.state, s.value, s.poison, true
}

// OnReady schedules fn (via sched.enqueue) once the slot settles. If the
// slot is already settled, fn is scheduled immediately rather than run
// inline, so callers never need to special-case "already done".
func (s *ValueSlot) OnReady(sched *Scheduler, fn func()) {
	s.mu.Lock()
	if s.state != Pending {
		s.mu.Unlock()
		sched.enqueue(fn)
		return
	}
	s.waiters = append(s.waiters, func() { sched.enqueue(fn) })
	s.mu.Unlock()
}
