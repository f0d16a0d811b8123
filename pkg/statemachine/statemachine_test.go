package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/backend/pkg/statemachine"
)

func TestMachine(t *testing.T) {
	t.Parallel()

	const (
		draft     = statemachine.State("draft")
		published = statemachine.State("published")
		archived  = statemachine.State("archived")

		publish = statemachine.Event("publish")
		archive = statemachine.Event("archive")
	)

	t.Run("basic transition", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, published, publish, nil, nil))

		next, err := m.Fire(context.Background(), draft, publish, nil)
		require.NoError(t, err)
		assert.Equal(t, published, next)
	})

	t.Run("no transition registered", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, published, publish, nil, nil))

		next, err := m.Fire(context.Background(), published, publish, nil)
		assert.True(t, statemachine.IsNoTransitionError(err))
		assert.Equal(t, published, next)
	})

	t.Run("guard rejection", func(t *testing.T) {
		t.Parallel()

		deny := func(context.Context, statemachine.State, statemachine.Event, any) bool { return false }

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, published, publish, []statemachine.Guard{deny}, nil))

		_, err := m.Fire(context.Background(), draft, publish, nil)
		assert.True(t, statemachine.IsTransitionRejectedError(err))
	})

	t.Run("first passing guard wins", func(t *testing.T) {
		t.Parallel()

		deny := func(context.Context, statemachine.State, statemachine.Event, any) bool { return false }

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, archived, publish, []statemachine.Guard{deny}, nil))
		require.NoError(t, m.AddTransition(draft, published, publish, nil, nil))

		next, err := m.Fire(context.Background(), draft, publish, nil)
		require.NoError(t, err)
		assert.Equal(t, published, next)
	})

	t.Run("action failure aborts transition", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		action := func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
			return boom
		}

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, published, publish, nil, []statemachine.Action{action}))

		next, err := m.Fire(context.Background(), draft, publish, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, draft, next)
	})

	t.Run("actions receive transition data", func(t *testing.T) {
		t.Parallel()

		var got any
		action := func(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
			got = data
			return nil
		}

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, archived, archive, nil, []statemachine.Action{action}))

		_, err := m.Fire(context.Background(), draft, archive, 42)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("empty states rejected", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New()
		err := m.AddTransition("", published, publish, nil, nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	})

	t.Run("can fire", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New()
		require.NoError(t, m.AddTransition(draft, published, publish, nil, nil))

		assert.True(t, m.CanFire(context.Background(), draft, publish, nil))
		assert.False(t, m.CanFire(context.Background(), archived, publish, nil))
	})
}
