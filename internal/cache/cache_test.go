package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcredit/backend/internal/domain"
)

func sampleBoard() []domain.CreditStatus {
	return []domain.CreditStatus{{
		SaleID:        7,
		CustomerName:  "Maria Perez",
		Label:         domain.CreditOverdue,
		BalanceUSD:    decimal.RequireFromString("120.50"),
		NextDueDate:   "2026-01-10",
		NextAmountUSD: decimal.RequireFromString("40.17"),
		DaysLate:      3,
	}}
}

func TestMemoryCreditBoardCacheRoundTrip(t *testing.T) {
	c := NewMemoryCreditBoardCache()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "2026-01-13")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "2026-01-13", sampleBoard(), time.Minute))
	board, ok, err := c.Get(ctx, "2026-01-13")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), board[0].SaleID)

	_, ok, _ = c.Get(ctx, "2026-01-14")
	assert.False(t, ok)
}

func TestMemoryCreditBoardCacheExpiresAndInvalidates(t *testing.T) {
	c := NewMemoryCreditBoardCache()
	now := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", sampleBoard(), time.Minute))
	now = now.Add(2 * time.Minute)
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "b", sampleBoard(), time.Minute))
	require.NoError(t, c.Invalidate(ctx))
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
}

func TestNoopCreditBoardCacheNeverHits(t *testing.T) {
	var c CreditBoardCache = NoopCreditBoardCache{}
	require.NoError(t, c.Set(context.Background(), "a", sampleBoard(), time.Minute))
	_, ok, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCreditBoardCache(t *testing.T) {
	addr := os.Getenv("SMARTCREDIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SMARTCREDIT_TEST_REDIS_ADDR not set")
	}

	c := NewRedisCreditBoardCache(addr, os.Getenv("SMARTCREDIT_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	require.NoError(t, c.Set(ctx, "2026-01-13", sampleBoard(), time.Minute))
	board, ok, err := c.Get(ctx, "2026-01-13")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("120.50").Equal(board[0].BalanceUSD))

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx, "2026-01-13")
	require.NoError(t, err)
	assert.False(t, ok)
}
