package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/protocol"
	"warden/pkg/worktracker"
)

type fakeTracker struct {
	labels map[int][]string
	issues map[string][]worktracker.Issue
	err    error
}

func (f *fakeTracker) HasLabel(_ context.Context, n int, label string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, l := range f.labels[n] {
		if l == label {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTracker) OpenIssues(_ context.Context, label string) ([]worktracker.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issues[label], nil
}

func TestTrackerConditions(t *testing.T) {
	tracker := &fakeTracker{
		labels: map[int][]string{7: {"ready-for-review"}},
		issues: map[string][]worktracker.Issue{"bug": {{Number: 1}}},
	}
	tc := &TrackerConditions{Tracker: tracker}
	pr7 := protocol.NewEvent("review-requested", 0, map[string]any{"pr": 7, "urgent": true, "note": ""})
	issue8 := protocol.NewEvent("review-requested", 0, map[string]any{"issue": float64(8)})

	tests := []struct {
		cond string
		ev   protocol.Event
		want bool
	}{
		{"", pr7, true},
		{"always", pr7, true},
		{"!always", pr7, false},
		{"label:ready-for-review", pr7, true},
		{"label:ready-for-review", issue8, false},
		{"!label:ready-for-review", issue8, true},
		{"open-issues:bug", pr7, true},
		{"open-issues:docs", pr7, false},
		{"payload:urgent", pr7, true},
		{"payload:note", pr7, false},
		{"payload:missing", pr7, false},
		{"!payload:missing", pr7, true},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			got, err := tc.Evaluate(context.Background(), tt.cond, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrackerConditions_Errors(t *testing.T) {
	ctx := context.Background()
	ev := protocol.NewEvent("review-requested", 0, map[string]any{"pr": 7})

	_, err := (&TrackerConditions{}).Evaluate(ctx, "label:x", ev)
	assert.ErrorIs(t, err, ErrNoTracker)

	// Payload conditions need no tracker.
	ok, err := (&TrackerConditions{}).Evaluate(ctx, "payload:pr", ev)
	require.NoError(t, err)
	assert.True(t, ok)

	boom := errors.New("gh: rate limited")
	_, err = (&TrackerConditions{Tracker: &fakeTracker{err: boom}}).Evaluate(ctx, "!open-issues", ev)
	assert.ErrorIs(t, err, boom)

	_, err = (&TrackerConditions{Tracker: &fakeTracker{}}).Evaluate(ctx, "label:x", protocol.NewEvent("e", 0, nil))
	assert.Error(t, err)
}
