package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/protocol"
)

type emitted struct {
	eventType string
	payload   map[string]any
	depth     int
}

type mockEmitter struct {
	events []emitted
	err    error
}

func (m *mockEmitter) Emit(_ context.Context, eventType string, payload map[string]any, depth int) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, emitted{eventType, payload, depth})
	return nil
}

type mockFollowUps struct {
	created []int
	err     error
}

func (m *mockFollowUps) CreateFollowUp(_ context.Context, pr int, title, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.created = append(m.created, pr)
	return "#900", nil
}

func newTestController(t *testing.T) (*Controller, *mockEmitter, *mockFollowUps) {
	t.Helper()
	em := &mockEmitter{}
	fu := &mockFollowUps{}
	c := New(NewMemoryStore(), em, fu, 3)
	c.nowFunc = func() time.Time { return time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC) }
	return c, em, fu
}

func TestApply_RequestChangesAdvancesAndEmits(t *testing.T) {
	ctx := context.Background()
	c, em, _ := newTestController(t)

	tr, err := c.Apply(ctx, 7, ActionRequestChanges, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, tr.From.Round)
	assert.Equal(t, 1, tr.To.Round)
	assert.False(t, tr.To.Terminal)
	assert.Equal(t, protocol.EventFixNeeded, tr.Emitted)
	require.Len(t, em.events, 1)
	assert.Equal(t, protocol.EventFixNeeded, em.events[0].eventType)
	assert.Equal(t, 2, em.events[0].depth)
	assert.Equal(t, 7, em.events[0].payload["pr"])
	assert.Equal(t, 1, em.events[0].payload["round"])
}

func TestApply_ForcedDecisionAtLastRound(t *testing.T) {
	ctx := context.Background()
	c, em, _ := newTestController(t)

	_, err := c.Apply(ctx, 7, ActionRequestChanges, 0)
	require.NoError(t, err)
	_, err = c.Apply(ctx, 7, ActionRequestChanges, 0)
	require.NoError(t, err)

	_, err = c.Apply(ctx, 7, ActionRequestChanges, 0)
	var forced *ForcedDecisionError
	require.ErrorAs(t, err, &forced)
	assert.Equal(t, 2, forced.Round)
	assert.Equal(t, 3, forced.Max)
	assert.Equal(t, []Action{ActionApprove, ActionClose}, forced.Legal)
	assert.Contains(t, err.Error(), "approve or close")

	round, err := c.Round(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, round, "refused action must not change state")
	assert.Len(t, em.events, 2)

	tr, err := c.Apply(ctx, 7, ActionApprove, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, tr.To.Outcome)
}

// No sequence of actions can push a cycle past the round limit.
func TestApply_RoundNeverExceedsMax(t *testing.T) {
	ctx := context.Background()
	for _, limit := range []int{1, 2, 3, 5} {
		c := New(NewMemoryStore(), &mockEmitter{}, nil, limit)
		for range 10 {
			_, _ = c.Apply(ctx, 1, ActionRequestChanges, 0)
		}
		round, err := c.Round(ctx, 1)
		require.NoError(t, err)
		assert.LessOrEqual(t, round, limit)
		assert.Equal(t, limit-1, round)
	}
}

func TestApply_ApproveIsTerminal(t *testing.T) {
	ctx := context.Background()
	c, em, fu := newTestController(t)

	tr, err := c.Apply(ctx, 3, ActionApprove, 0)
	require.NoError(t, err)
	assert.True(t, tr.To.Terminal)
	assert.Equal(t, OutcomeMerged, tr.To.Outcome)
	assert.Empty(t, em.events)
	assert.Empty(t, fu.created)

	for _, a := range []Action{ActionApprove, ActionClose, ActionRequestChanges} {
		_, err := c.Apply(ctx, 3, a, 0)
		assert.ErrorIs(t, err, ErrTerminal, a)
	}
}

func TestApply_CloseCreatesFollowUp(t *testing.T) {
	ctx := context.Background()
	c, _, fu := newTestController(t)

	_, err := c.Apply(ctx, 11, ActionRequestChanges, 0)
	require.NoError(t, err)
	tr, err := c.Apply(ctx, 11, ActionClose, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeClosed, tr.To.Outcome)
	assert.Equal(t, 1, tr.To.Round)
	assert.Equal(t, "#900", tr.FollowUp)
	assert.Equal(t, []int{11}, fu.created)
}

func TestApply_SideEffectFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("tracker down")

	c := New(NewMemoryStore(), &mockEmitter{}, &mockFollowUps{err: boom}, 3)
	tr, err := c.Apply(ctx, 5, ActionClose, 0)
	assert.ErrorIs(t, err, boom)
	assert.True(t, tr.To.Terminal)
	_, err = c.Apply(ctx, 5, ActionApprove, 0)
	assert.ErrorIs(t, err, ErrTerminal)

	c = New(NewMemoryStore(), &mockEmitter{err: boom}, nil, 3)
	tr, err = c.Apply(ctx, 6, ActionRequestChanges, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tr.To.Round)
	assert.Empty(t, tr.Emitted)
}

func TestApply_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t)

	_, err := c.Apply(ctx, 0, ActionApprove, 0)
	require.Error(t, err)
	_, err = c.Apply(ctx, 1, Action("lgtm"), 0)
	require.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Request_Changes ")
	require.NoError(t, err)
	assert.Equal(t, ActionRequestChanges, a)

	_, err = ParseAction("merge")
	require.Error(t, err)
}
