package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/storage/kvstore/memory"
)

func TestVelocityRule(t *testing.T) {
	kv := memory.New()
	r := &VelocityRule{KV: kv, Window: time.Minute, MaxAttempts: 3}
	ctx := context.Background()
	in := Input{SenderAccountID: "sender"}

	for i := 0; i < 3; i++ {
		sig, err := r.Evaluate(ctx, in)
		require.NoError(t, err)
		assert.Nil(t, sig, "attempt %d must not fire", i+1)
	}

	sig, err := r.Evaluate(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, velocityPoints, sig.Points)
	assert.Equal(t, int64(4), sig.Context["attempts"])
}

func TestVelocityWindowResets(t *testing.T) {
	kv := memory.New()
	now := time.Now()
	kv.Now = func() time.Time { return now }

	r := &VelocityRule{KV: kv, Window: time.Minute, MaxAttempts: 3}
	ctx := context.Background()
	in := Input{SenderAccountID: "sender"}

	for i := 0; i < 4; i++ {
		_, err := r.Evaluate(ctx, in)
		require.NoError(t, err)
	}

	now = now.Add(61 * time.Second)
	sig, err := r.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestAmountAnomalyRule(t *testing.T) {
	kv := memory.New()
	r := &AmountAnomalyRule{KV: kv, Keep: 20, TTL: 30 * 24 * time.Hour, Multiplier: 5}
	ctx := context.Background()

	// First transfer: no history, never fires.
	sig, err := r.Evaluate(ctx, Input{SenderAccountID: "s", Amount: 1000000})
	require.NoError(t, err)
	assert.Nil(t, sig)

	// Build history of 10k-paise transfers.
	for i := 0; i < 5; i++ {
		sig, err = r.Evaluate(ctx, Input{SenderAccountID: "s", Amount: 10000})
		require.NoError(t, err)
		assert.Nil(t, sig)
	}

	// Mean is dominated by the 10k entries; a 50x jump fires.
	sig, err = r.Evaluate(ctx, Input{SenderAccountID: "s", Amount: 10000000})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, amountAnomalyPoints, sig.Points)
}

func TestAmountAnomalyWithinMultiple(t *testing.T) {
	kv := memory.New()
	r := &AmountAnomalyRule{KV: kv, Keep: 20, TTL: 30 * 24 * time.Hour, Multiplier: 5}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := r.Evaluate(ctx, Input{SenderAccountID: "s", Amount: 10000})
		require.NoError(t, err)
	}

	// Exactly 5x the mean does not fire; the bound is strict.
	sig, err := r.Evaluate(ctx, Input{SenderAccountID: "s", Amount: 50000})
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestUnusualHourRule(t *testing.T) {
	cases := []struct {
		utcHour int
		utcMin  int
		fires   bool
	}{
		{19, 31, true},  // 01:01 IST
		{23, 29, true},  // 04:59 IST
		{0, 0, true},    // 05:30 IST is hour 5, inclusive
		{1, 0, false},   // 06:30 IST
		{18, 30, false}, // 00:00 IST
		{12, 0, false},  // 17:30 IST
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%02d:%02dZ", tc.utcHour, tc.utcMin), func(t *testing.T) {
			r := &UnusualHourRule{
				Offset: 5*time.Hour + 30*time.Minute,
				Now: func() time.Time {
					return time.Date(2026, 3, 10, tc.utcHour, tc.utcMin, 0, 0, time.UTC)
				},
			}
			sig, err := r.Evaluate(context.Background(), Input{})
			require.NoError(t, err)
			if tc.fires {
				require.NotNil(t, sig)
				assert.Equal(t, unusualHourPoints, sig.Points)
			} else {
				assert.Nil(t, sig)
			}
		})
	}
}

func TestNewAccountRule(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r := &NewAccountRule{MinAge: 7 * 24 * time.Hour, Now: func() time.Time { return now }}
	ctx := context.Background()

	sig, err := r.Evaluate(ctx, Input{SenderCreatedAt: now.Add(-3 * 24 * time.Hour)})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, newAccountPoints, sig.Points)

	sig, err = r.Evaluate(ctx, Input{SenderCreatedAt: now.Add(-8 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, sig)

	// Exactly 7 days old is no longer new.
	sig, err = r.Evaluate(ctx, Input{SenderCreatedAt: now.Add(-7 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRoundAmountRule(t *testing.T) {
	r := &RoundAmountRule{}
	ctx := context.Background()

	sig, err := r.Evaluate(ctx, Input{Amount: 1000000})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, roundAmountPoints, sig.Points)

	sig, err = r.Evaluate(ctx, Input{Amount: 1000001})
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestRecipientRiskRule(t *testing.T) {
	kv := memory.New()
	r := &RecipientRiskRule{KV: kv, Window: time.Hour, MaxSenders: 10}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sig, err := r.Evaluate(ctx, Input{
			SenderAccountID:    fmt.Sprintf("sender-%d", i),
			RecipientAccountID: "mule",
		})
		require.NoError(t, err)
		assert.Nil(t, sig, "sender %d must not fire", i)
	}

	sig, err := r.Evaluate(ctx, Input{SenderAccountID: "sender-10", RecipientAccountID: "mule"})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, recipientRiskPoints, sig.Points)
	assert.Equal(t, int64(11), sig.Context["distinct_senders"])
}

func TestRecipientRiskDistinctSenders(t *testing.T) {
	kv := memory.New()
	r := &RecipientRiskRule{KV: kv, Window: time.Hour, MaxSenders: 10}
	ctx := context.Background()

	// The same sender twenty times is one distinct sender, never a signal.
	for i := 0; i < 20; i++ {
		sig, err := r.Evaluate(ctx, Input{SenderAccountID: "repeat", RecipientAccountID: "shop"})
		require.NoError(t, err)
		assert.Nil(t, sig)
	}
}

func TestDefaultRulesCount(t *testing.T) {
	rules := DefaultRules(memory.New(), 5*time.Hour+30*time.Minute)
	assert.Len(t, rules, 6)
}
