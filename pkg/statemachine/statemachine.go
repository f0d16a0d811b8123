// Package statemachine implements a small finite state machine over string
// states and events. The machine itself is stateless: callers pass the
// current state on every Fire, which suits entities whose state lives in a
// database row and must be transitioned one row at a time.
package statemachine

import (
	"context"
	"errors"
	"fmt"
)

// State is a named state in the machine.
type State string

// Event triggers a transition.
type Event string

// Guard evaluates whether a transition should be allowed at runtime.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Action runs side effects during a transition. Returning an error aborts it.
type Action func(ctx context.Context, from, to State, event Event, data any) error

type transition struct {
	to      State
	guards  []Guard
	actions []Action
}

// Machine holds an immutable transition table. Build it once at startup with
// AddTransition; Fire and CanFire are then safe for concurrent use.
type Machine struct {
	transitions map[State]map[Event][]transition
}

var ErrInvalidTransition = errors.New("statemachine: from, to, or event cannot be empty")

// ErrNoTransition indicates no transition exists for the state/event pair.
type ErrNoTransition struct {
	From  State
	Event Event
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition from state %q for event %q", e.From, e.Event)
}

// ErrTransitionRejected indicates every candidate transition was blocked by guards.
type ErrTransitionRejected struct {
	From  State
	Event Event
}

func (e *ErrTransitionRejected) Error() string {
	return fmt.Sprintf("transition from state %q for event %q rejected by guards", e.From, e.Event)
}

func New() *Machine {
	return &Machine{transitions: make(map[State]map[Event][]transition)}
}

// AddTransition registers a transition. Multiple transitions for the same
// from/event pair are allowed; the first one whose guards all pass wins,
// which enables priority-ordered branching.
func (m *Machine) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == "" || to == "" || event == "" {
		return ErrInvalidTransition
	}
	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[Event][]transition)
	}
	m.transitions[from][event] = append(m.transitions[from][event], transition{
		to:      to,
		guards:  guards,
		actions: actions,
	})
	return nil
}

// Fire resolves the transition for (from, event), runs its actions and
// returns the resulting state. The caller persists the result.
func (m *Machine) Fire(ctx context.Context, from State, event Event, data any) (State, error) {
	candidates, ok := m.transitions[from][event]
	if !ok || len(candidates) == 0 {
		return from, &ErrNoTransition{From: from, Event: event}
	}

	for _, t := range candidates {
		if !guardsPass(ctx, t.guards, from, event, data) {
			continue
		}
		for _, action := range t.actions {
			if action == nil {
				continue
			}
			if err := action(ctx, from, t.to, event, data); err != nil {
				return from, fmt.Errorf("statemachine: action failed: %w", err)
			}
		}
		return t.to, nil
	}

	return from, &ErrTransitionRejected{From: from, Event: event}
}

// CanFire reports whether Fire would succeed for (from, event), ignoring actions.
func (m *Machine) CanFire(ctx context.Context, from State, event Event, data any) bool {
	for _, t := range m.transitions[from][event] {
		if guardsPass(ctx, t.guards, from, event, data) {
			return true
		}
	}
	return false
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, guard := range guards {
		if guard != nil && !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}

// IsNoTransitionError reports whether err means the state/event pair has no
// registered transition.
func IsNoTransitionError(err error) bool {
	var e *ErrNoTransition
	return errors.As(err, &e)
}

// IsTransitionRejectedError reports whether err means guards blocked the transition.
func IsTransitionRejectedError(err error) bool {
	var e *ErrTransitionRejected
	return errors.As(err, &e)
}
