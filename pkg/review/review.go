// Package review bounds the review/fix cycle between a reviewing agent and
// the agent that produces fixes.
//
// Each pull request has a ReviewCycle that starts at round 0. A
// request_changes action moves it to the next round and emits a fix-needed
// event at chain depth+1; approve and close end it. Once the round reaches
// max-1 another request_changes is refused with a ForcedDecisionError, so a
// cycle makes at most max-1 fix requests before a human-visible decision.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/pkg/loopguard"
	"warden/pkg/protocol"
)

// Action is a reviewer decision.
type Action string

// Review actions.
const (
	ActionApprove        Action = "approve"
	ActionClose          Action = "close"
	ActionRequestChanges Action = "request_changes"
)

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionClose, ActionRequestChanges:
		return a, nil
	}
	return "", fmt.Errorf("unknown review action %q (want approve, close, or request_changes)", s)
}

// Outcome is how a terminal cycle ended.
type Outcome string

// Cycle outcomes.
const (
	OutcomeNone   Outcome = "none"
	OutcomeMerged Outcome = "merged"
	OutcomeClosed Outcome = "closed"
)

// Cycle is the review state of one pull request.
type Cycle struct {
	PR        int       `json:"pr"`
	Round     int       `json:"round"`
	Terminal  bool      `json:"terminal"`
	Outcome   Outcome   `json:"outcome"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition records the effect of one applied action.
type Transition struct {
	Action   Action `json:"action"`
	From     Cycle  `json:"from"`
	To       Cycle  `json:"to"`
	Emitted  string `json:"emitted,omitempty"`   // event type sent to the fixer
	FollowUp string `json:"follow_up,omitempty"` // follow-up work item reference
}

// ErrTerminal is returned for any action on a merged or closed cycle.
var ErrTerminal = errors.New("review cycle is terminal")

// ForcedDecisionError is returned when request_changes is applied at the
// last allowed round. The cycle is unchanged and only Legal actions remain.
type ForcedDecisionError struct {
	PR    int
	Round int
	Max   int
	Legal []Action
}

func (e *ForcedDecisionError) Error() string {
	legal := make([]string, len(e.Legal))
	for i, a := range e.Legal {
		legal[i] = string(a)
	}
	return fmt.Sprintf("PR #%d is at review round %d of %d: a decision is required (%s)",
		e.PR, e.Round, e.Max, strings.Join(legal, " or "))
}

// Emitter sends an event back into dispatch.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any, depth int) error
}

// FollowUps creates the lessons-learned work item for a closed change.
type FollowUps interface {
	CreateFollowUp(ctx context.Context, pr int, title, body string) (string, error)
}

// Store persists cycles by PR number.
type Store interface {
	// Get returns the cycle for pr. A PR that was never reviewed yields a
	// fresh round-0 cycle and found=false.
	Get(ctx context.Context, pr int) (c Cycle, found bool, err error)
	Put(ctx context.Context, c Cycle) error
}

// Controller applies review actions.
type Controller struct {
	store     Store
	emitter   Emitter
	followUps FollowUps
	maxRounds int

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New returns a Controller. maxRounds <= 0 selects the default of 3.
// followUps may be nil, in which case close creates no work item.
func New(store Store, emitter Emitter, followUps FollowUps, maxRounds int) *Controller {
	if maxRounds <= 0 {
		maxRounds = protocol.DefaultReviewRoundsMax
	}
	return &Controller{
		store:     store,
		emitter:   emitter,
		followUps: followUps,
		maxRounds: maxRounds,
		nowFunc:   time.Now,
	}
}

// MaxRounds returns the configured round limit.
func (c *Controller) MaxRounds() int { return c.maxRounds }

// Round returns the current round for pr, or 0 for an unreviewed PR.
func (c *Controller) Round(ctx context.Context, pr int) (int, error) {
	cy, _, err := c.store.Get(ctx, pr)
	if err != nil {
		return 0, fmt.Errorf("load review cycle for PR #%d: %w", pr, err)
	}
	return cy.Round, nil
}

// Cycle returns the stored cycle for pr.
func (c *Controller) Cycle(ctx context.Context, pr int) (Cycle, error) {
	cy, _, err := c.store.Get(ctx, pr)
	if err != nil {
		return Cycle{}, fmt.Errorf("load review cycle for PR #%d: %w", pr, err)
	}
	return cy, nil
}

// Apply performs action on the cycle for pr. chainDepth is the depth of the
// event that carried the reviewer's decision; the fix-needed event goes out
// at the next depth.
//
// State is persisted before any side effect. When emitting or creating the
// follow-up fails, the transition stands and the error is returned
// alongside it.
func (c *Controller) Apply(ctx context.Context, pr int, action Action, chainDepth int) (Transition, error) {
	if pr <= 0 {
		return Transition{}, fmt.Errorf("invalid PR number %d", pr)
	}
	from, _, err := c.store.Get(ctx, pr)
	if err != nil {
		return Transition{}, fmt.Errorf("load review cycle for PR #%d: %w", pr, err)
	}
	from.PR = pr
	if from.Outcome == "" {
		from.Outcome = OutcomeNone
	}
	if from.Terminal {
		return Transition{}, fmt.Errorf("PR #%d (%s): %w", pr, from.Outcome, ErrTerminal)
	}

	to := from
	to.UpdatedAt = c.nowFunc().UTC()
	switch action {
	case ActionApprove:
		to.Terminal, to.Outcome = true, OutcomeMerged
	case ActionClose:
		to.Terminal, to.Outcome = true, OutcomeClosed
	case ActionRequestChanges:
		if from.Round+1 >= c.maxRounds {
			return Transition{}, &ForcedDecisionError{
				PR:    pr,
				Round: from.Round,
				Max:   c.maxRounds,
				Legal: []Action{ActionApprove, ActionClose},
			}
		}
		to.Round = from.Round + 1
	default:
		return Transition{}, fmt.Errorf("unknown review action %q", action)
	}

	if err := c.store.Put(ctx, to); err != nil {
		return Transition{}, fmt.Errorf("save review cycle for PR #%d: %w", pr, err)
	}
	tr := Transition{Action: action, From: from, To: to}
	slog.Info("review transition", "pr", pr, "action", action, "round", to.Round, "outcome", to.Outcome)

	switch action {
	case ActionRequestChanges:
		if c.emitter == nil {
			break
		}
		payload := map[string]any{"pr": pr, "round": to.Round}
		if err := c.emitter.Emit(ctx, protocol.EventFixNeeded, payload, loopguard.Next(chainDepth)); err != nil {
			return tr, fmt.Errorf("emit %s for PR #%d: %w", protocol.EventFixNeeded, pr, err)
		}
		tr.Emitted = protocol.EventFixNeeded
	case ActionClose:
		if c.followUps == nil {
			break
		}
		ref, err := c.followUps.CreateFollowUp(ctx, pr,
			fmt.Sprintf("Lessons learned: PR #%d closed without merge", pr),
			fmt.Sprintf("PR #%d was closed after %d review round(s). Capture what went wrong and what should change before the work is retried.", pr, to.Round))
		if err != nil {
			return tr, fmt.Errorf("create follow-up for PR #%d: %w", pr, err)
		}
		tr.FollowUp = ref
	}
	return tr, nil
}
