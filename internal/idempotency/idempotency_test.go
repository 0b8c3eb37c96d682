package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/storage/kvstore/memory"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

func TestMissThenHit(t *testing.T) {
	kv := memory.New()
	c := New(kv, 24*time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &relationaldb.Transfer{
		ID:             "t1",
		IdempotencyKey: "k1",
		FromAccountID:  "a",
		ToAccountID:    "b",
		Amount:         50000,
		Currency:       "INR",
		Status:         relationaldb.TransferCompleted,
		FraudAction:    relationaldb.ActionApprove,
	}
	require.NoError(t, c.Set(ctx, "k1", want))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Amount, got.Amount)
	assert.Equal(t, want.Status, got.Status)
}

func TestTTLExpiry(t *testing.T) {
	kv := memory.New()
	now := time.Now()
	kv.Now = func() time.Time { return now }

	c := New(kv, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", &relationaldb.Transfer{ID: "t1"}))

	now = now.Add(24*time.Hour + time.Second)
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	kv := memory.New()
	c := New(kv, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "idempotency:k1", "{not json", 0))

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
