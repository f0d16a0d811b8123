package subscription

import (
	"context"

	"github.com/clinicore/backend/pkg/statemachine"
)

const (
	eventPaymentSucceeded statemachine.Event = "payment_succeeded"
	eventPaymentFailed    statemachine.Event = "payment_failed"
	eventCancelled        statemachine.Event = "cancelled"
	eventTrialExpired     statemachine.Event = "trial_expired"
	eventPeriodEnded      statemachine.Event = "period_ended"
)

// newLifecycle builds the subscription state machine. Cancelled and expired
// are terminal: no transition leaves them.
func newLifecycle() *statemachine.Machine {
	m := statemachine.New()

	add := func(from Status, to Status, event statemachine.Event) {
		// The table is static and every state/event name is non-empty, so
		// registration cannot fail.
		_ = m.AddTransition(statemachine.State(from), statemachine.State(to), event, nil, nil)
	}

	add(StatusTrialing, StatusActive, eventPaymentSucceeded)
	add(StatusPastDue, StatusActive, eventPaymentSucceeded)
	// Renewal payments and webhook redeliveries land here.
	add(StatusActive, StatusActive, eventPaymentSucceeded)

	add(StatusActive, StatusPastDue, eventPaymentFailed)
	add(StatusPastDue, StatusPastDue, eventPaymentFailed)

	add(StatusTrialing, StatusCancelled, eventCancelled)
	add(StatusActive, StatusCancelled, eventCancelled)
	add(StatusPastDue, StatusCancelled, eventCancelled)

	add(StatusTrialing, StatusExpired, eventTrialExpired)

	add(StatusTrialing, StatusCancelled, eventPeriodEnded)
	add(StatusActive, StatusCancelled, eventPeriodEnded)
	add(StatusPastDue, StatusCancelled, eventPeriodEnded)

	return m
}

// fire applies event to sub and mutates its status. It returns false, nil
// when the machine has no transition for the current state, which callers
// treat as an idempotent no-op.
func (s *Service) fire(ctx context.Context, sub *Subscription, event statemachine.Event) (bool, error) {
	next, err := s.lifecycle.Fire(ctx, statemachine.State(sub.Status), event, nil)
	if err != nil {
		if statemachine.IsNoTransitionError(err) {
			return false, nil
		}
		return false, err
	}
	sub.Status = Status(next)
	return true, nil
}
