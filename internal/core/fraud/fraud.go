// Package fraud scores transfers against a set of independent risk rules.
// Rules evaluate concurrently; total wall time is the slowest rule, not the
// sum. The engine fails open by default: an unreachable state store yields
// {score 0, approve} rather than blocking money movement.
package fraud

import (
	"context"
	"time"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Input is everything a rule may inspect. It is assembled by the caller
// before evaluation so rules never touch the relational store.
type Input struct {
	SenderAccountID    string
	RecipientAccountID string
	Amount             money.Paise
	SenderCreatedAt    time.Time
	TraceID            string
}

// Signal reports one fired rule.
type Signal struct {
	RuleName string
	Points   int
	Context  map[string]any
}

// Outcome is the aggregated engine verdict for one transfer.
type Outcome struct {
	Score   int
	Action  relationaldb.FraudAction
	Signals []Signal
}

// Rule is one independent risk check. Evaluate returns nil when the rule did
// not fire. Missing state must be treated as non-firing, never as firing.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (*Signal, error)
}

// Thresholds maps a score to an action. Bounds are half-open from below:
// score < ApproveBelow approves, < ReviewBelow reviews, < ChallengeBelow
// challenges, anything else declines.
type Thresholds struct {
	ApproveBelow   int
	ReviewBelow    int
	ChallengeBelow int
}

// DefaultThresholds are the stock score bands.
func DefaultThresholds() Thresholds {
	return Thresholds{ApproveBelow: 30, ReviewBelow: 60, ChallengeBelow: 80}
}

// Action returns the action for score.
func (t Thresholds) Action(score int) relationaldb.FraudAction {
	switch {
	case score < t.ApproveBelow:
		return relationaldb.ActionApprove
	case score < t.ReviewBelow:
		return relationaldb.ActionReview
	case score < t.ChallengeBelow:
		return relationaldb.ActionChallenge
	default:
		return relationaldb.ActionDecline
	}
}
