package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

type stubRule struct {
	name   string
	signal *Signal
	err    error
	delay  time.Duration
}

func (r *stubRule) Name() string { return r.name }

func (r *stubRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.signal, r.err
}

func fired(name string, points int) *stubRule {
	return &stubRule{name: name, signal: &Signal{RuleName: name, Points: points}}
}

func TestThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score int
		want  relationaldb.FraudAction
	}{
		{0, relationaldb.ActionApprove},
		{29, relationaldb.ActionApprove},
		{30, relationaldb.ActionReview},
		{59, relationaldb.ActionReview},
		{60, relationaldb.ActionChallenge},
		{79, relationaldb.ActionChallenge},
		{80, relationaldb.ActionDecline},
		{100, relationaldb.ActionDecline},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, th.Action(tc.score), "score %d", tc.score)
	}
}

func TestAggregation(t *testing.T) {
	e := NewEngine([]Rule{
		fired("velocity", 25),
		fired("new_account", 15),
		&stubRule{name: "round_amount"},
	}, Options{Thresholds: DefaultThresholds(), FailOpen: true})

	out, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Score)
	assert.Equal(t, relationaldb.ActionReview, out.Action)
	assert.Len(t, out.Signals, 2)
}

func TestScoreCap(t *testing.T) {
	e := NewEngine([]Rule{
		fired("a", 60),
		fired("b", 60),
		fired("c", 60),
	}, Options{Thresholds: DefaultThresholds(), FailOpen: true})

	out, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, 100, out.Score)
	assert.Equal(t, relationaldb.ActionDecline, out.Action)
}

func TestRulesRunConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	rules := make([]Rule, 6)
	for i := range rules {
		rules[i] = &stubRule{name: "slow", delay: delay}
	}
	e := NewEngine(rules, Options{Thresholds: DefaultThresholds(), FailOpen: true})

	start := time.Now()
	_, err := e.Evaluate(context.Background(), Input{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	// Six rules at 100ms each must join in roughly one delay, not six.
	assert.Less(t, elapsed, 3*delay, "rules appear to run sequentially: %v", elapsed)
}

func TestFailOpenOnRuleError(t *testing.T) {
	e := NewEngine([]Rule{
		fired("velocity", 25),
		&stubRule{name: "broken", err: errors.New("kv down")},
	}, Options{Thresholds: DefaultThresholds(), FailOpen: true})

	out, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Score)
	assert.Equal(t, relationaldb.ActionApprove, out.Action)
	assert.Empty(t, out.Signals)
}

func TestFailClosedOnRuleError(t *testing.T) {
	e := NewEngine([]Rule{
		&stubRule{name: "broken", err: errors.New("kv down")},
	}, Options{Thresholds: DefaultThresholds(), FailOpen: false})

	_, err := e.Evaluate(context.Background(), Input{})
	require.Error(t, err)
}

func TestFailOpenOnTimeout(t *testing.T) {
	e := NewEngine([]Rule{
		&stubRule{name: "stuck", delay: time.Second},
	}, Options{Thresholds: DefaultThresholds(), FailOpen: true, Timeout: 50 * time.Millisecond})

	start := time.Now()
	out, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, relationaldb.ActionApprove, out.Action)
}
