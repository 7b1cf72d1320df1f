package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

// AdjustStock applies delta to an item's quantity in its own transaction.
func (s *Service) AdjustStock(ctx context.Context, itemID int64, delta int) (domain.InventoryItem, error) {
	if delta == 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: stock delta cannot be zero", store.ErrRuleViolation)
	}

	err := s.inTx(ctx, func(tx store.Tx) error {
		return s.adjustStock(ctx, tx, itemID, delta)
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logFor(ctx).Info("stock adjusted",
		zap.String("actor", actorName(ctx)),
		zap.Int64("item_id", itemID),
		zap.Int("delta", delta),
	)
	return s.GetItem(ctx, itemID)
}

// adjustStock reads and rewrites the quantity inside tx, so a sale's
// decrement commits or rolls back together with the sale.
func (s *Service) adjustStock(ctx context.Context, tx store.Tx, itemID int64, delta int) error {
	current, err := tx.ItemStock(ctx, itemID)
	if err != nil {
		return err
	}
	next := current + delta
	if next < 0 {
		return fmt.Errorf("%w: item %d has %d units on hand", store.ErrInsufficientStock, itemID, current)
	}
	return tx.SetItemStock(ctx, itemID, next)
}
