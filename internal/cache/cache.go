package cache

import (
	"context"
	"sync"
	"time"

	"smartcredit/backend/internal/domain"
)

// CreditBoardCache holds the classified credit board for one calendar day.
// Every ledger mutation invalidates it.
type CreditBoardCache interface {
	Get(ctx context.Context, day string) ([]domain.CreditStatus, bool, error)
	Set(ctx context.Context, day string, board []domain.CreditStatus, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopCreditBoardCache struct{}

func (NoopCreditBoardCache) Get(_ context.Context, _ string) ([]domain.CreditStatus, bool, error) {
	return nil, false, nil
}

func (NoopCreditBoardCache) Set(_ context.Context, _ string, _ []domain.CreditStatus, _ time.Duration) error {
	return nil
}

func (NoopCreditBoardCache) Invalidate(_ context.Context) error {
	return nil
}

type memoryEntry struct {
	board     []domain.CreditStatus
	expiresAt time.Time
}

// MemoryCreditBoardCache is an in-process cache for single-instance deployments.
type MemoryCreditBoardCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCreditBoardCache() *MemoryCreditBoardCache {
	return &MemoryCreditBoardCache{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCreditBoardCache) Get(_ context.Context, day string) ([]domain.CreditStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[day]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, day)
		return nil, false, nil
	}
	return append([]domain.CreditStatus(nil), entry.board...), true, nil
}

func (c *MemoryCreditBoardCache) Set(_ context.Context, day string, board []domain.CreditStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[day] = memoryEntry{
		board:     append([]domain.CreditStatus(nil), board...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryCreditBoardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	return nil
}
