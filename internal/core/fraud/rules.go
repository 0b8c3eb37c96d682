package fraud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/kvstore"
)

// Rule point weights.
const (
	velocityPoints      = 25
	amountAnomalyPoints = 30
	unusualHourPoints   = 10
	newAccountPoints    = 15
	roundAmountPoints   = 5
	recipientRiskPoints = 20
)

// VelocityRule fires when the sender makes more than maxAttempts transfer
// attempts inside a rolling window. The counter lives in the kv store with
// the window as its TTL, so it resets by expiry.
type VelocityRule struct {
	KV          kvstore.Store
	Window      time.Duration // default 60s
	MaxAttempts int64         // default 3
}

func (r *VelocityRule) Name() string { return "velocity" }

func (r *VelocityRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	attempts, err := r.KV.IncrWithTTL(ctx, "fraud:velocity:"+in.SenderAccountID, r.Window)
	if err != nil {
		return nil, err
	}
	if attempts <= r.MaxAttempts {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   velocityPoints,
		Context:  map[string]any{"attempts": attempts, "window_seconds": int(r.Window.Seconds())},
	}, nil
}

// AmountAnomalyRule fires when the current amount exceeds Multiplier times
// the mean of the sender's recent amounts. The window is a bounded sorted
// set; members are "amount:nonce" so equal amounts stay distinct.
type AmountAnomalyRule struct {
	KV         kvstore.Store
	Keep       int           // default 20
	TTL        time.Duration // default 30 days
	Multiplier int64         // default 5
}

func (r *AmountAnomalyRule) Name() string { return "amount_anomaly" }

func (r *AmountAnomalyRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	key := "fraud:amounts:" + in.SenderAccountID

	members, err := r.KV.ZRange(ctx, key, 0, -1)
	if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, err
	}

	var sum, n int64
	for _, m := range members {
		raw, _, _ := strings.Cut(m, ":")
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}

	// Record the current amount regardless of the verdict; the window must
	// reflect every attempt.
	member := fmt.Sprintf("%d:%s", in.Amount.Int64(), uuid.NewString())
	score := float64(time.Now().UnixNano())
	if err := r.KV.ZAddTrim(ctx, key, score, member, r.Keep, r.TTL); err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil
	}
	mean := sum / n
	if mean == 0 || in.Amount.Int64() <= r.Multiplier*mean {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   amountAnomalyPoints,
		Context:  map[string]any{"amount": in.Amount.Int64(), "mean": mean, "samples": n},
	}, nil
}

// UnusualHourRule fires when the transfer lands between 01:00 and 05:00
// inclusive in the configured local time zone.
type UnusualHourRule struct {
	Offset time.Duration // local offset from UTC, default +5h30m
	Now    func() time.Time
}

func (r *UnusualHourRule) Name() string { return "unusual_hour" }

func (r *UnusualHourRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	hour := now().UTC().Add(r.Offset).Hour()
	if hour < 1 || hour > 5 {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   unusualHourPoints,
		Context:  map[string]any{"local_hour": hour},
	}, nil
}

// NewAccountRule fires when the sender account is younger than MinAge.
type NewAccountRule struct {
	MinAge time.Duration // default 7 days
	Now    func() time.Time
}

func (r *NewAccountRule) Name() string { return "new_account" }

func (r *NewAccountRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	if in.SenderCreatedAt.IsZero() {
		return nil, nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	age := now().Sub(in.SenderCreatedAt)
	if age >= r.MinAge {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   newAccountPoints,
		Context:  map[string]any{"account_age_hours": int(age.Hours())},
	}, nil
}

// roundAmounts are the paise values mules tend to move: whole multiples of
// ten thousand rupees and the classic lakh figures.
var roundAmounts = map[money.Paise]struct{}{
	10000000:  {}, // 1,00,000.00
	5000000:   {}, // 50,000.00
	2500000:   {}, // 25,000.00
	1000000:   {}, // 10,000.00
	500000:    {}, // 5,000.00
	100000000: {}, // 10,00,000.00
}

// RoundAmountRule fires when the amount matches one of a small literal set
// of suspiciously round values.
type RoundAmountRule struct{}

func (r *RoundAmountRule) Name() string { return "round_amount" }

func (r *RoundAmountRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	if _, ok := roundAmounts[in.Amount]; !ok {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   roundAmountPoints,
		Context:  map[string]any{"amount": in.Amount.Int64()},
	}, nil
}

// RecipientRiskRule fires when the recipient has been credited by more than
// MaxSenders distinct senders inside the window. Distinctness comes from set
// cardinality; a repeat sender never double-counts.
type RecipientRiskRule struct {
	KV         kvstore.Store
	Window     time.Duration // default 60m
	MaxSenders int64         // default 10
}

func (r *RecipientRiskRule) Name() string { return "recipient_risk" }

func (r *RecipientRiskRule) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	key := "fraud:recipient:" + in.RecipientAccountID
	if err := r.KV.SAddWithTTL(ctx, key, in.SenderAccountID, r.Window); err != nil {
		return nil, err
	}
	senders, err := r.KV.SCard(ctx, key)
	if err != nil {
		return nil, err
	}
	if senders <= r.MaxSenders {
		return nil, nil
	}
	return &Signal{
		RuleName: r.Name(),
		Points:   recipientRiskPoints,
		Context:  map[string]any{"distinct_senders": senders, "window_minutes": int(r.Window.Minutes())},
	}, nil
}

// DefaultRules wires the six stock rules against kv.
func DefaultRules(kv kvstore.Store, localOffset time.Duration) []Rule {
	return []Rule{
		&VelocityRule{KV: kv, Window: time.Minute, MaxAttempts: 3},
		&AmountAnomalyRule{KV: kv, Keep: 20, TTL: 30 * 24 * time.Hour, Multiplier: 5},
		&UnusualHourRule{Offset: localOffset},
		&NewAccountRule{MinAge: 7 * 24 * time.Hour},
		&RoundAmountRule{},
		&RecipientRiskRule{KV: kv, Window: time.Hour, MaxSenders: 10},
	}
}
