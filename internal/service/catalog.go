package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

// DefaultLowStockThreshold is used when a caller asks for low stock items
// without a threshold.
const DefaultLowStockThreshold = 5

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, itemID int64) (domain.InventoryItem, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return s.repo.ListLowStockItems(ctx, threshold)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: item name is required", store.ErrRuleViolation)
	}
	if req.CostUSD.IsNegative() {
		return domain.InventoryItem{}, fmt.Errorf("%w: cost cannot be negative", store.ErrRuleViolation)
	}
	if req.Stock < 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: stock cannot be negative", store.ErrRuleViolation)
	}

	created, err := s.repo.CreateItem(ctx, domain.InventoryItem{
		Name:      name,
		CostUSD:   req.CostUSD,
		Stock:     req.Stock,
		ImagePath: strings.TrimSpace(req.ImagePath),
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logFor(ctx).Info("item created",
		zap.String("actor", actorName(ctx)),
		zap.Int64("item_id", created.ID),
		zap.Int("stock", created.Stock),
	)
	return *created, nil
}

// UpdateItem patches the descriptive fields of an item. Quantities change
// through AdjustStock and sales only.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	existing, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, fmt.Errorf("%w: item name is required", store.ErrRuleViolation)
		}
		updated.Name = name
	}
	if req.CostUSD != nil {
		if req.CostUSD.IsNegative() {
			return domain.InventoryItem{}, fmt.Errorf("%w: cost cannot be negative", store.ErrRuleViolation)
		}
		updated.CostUSD = *req.CostUSD
	}
	if req.ImagePath != nil {
		updated.ImagePath = strings.TrimSpace(*req.ImagePath)
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	// names appear on the credit board
	s.invalidateBoard(ctx)

	s.logFor(ctx).Info("item updated", zap.String("actor", actorName(ctx)), zap.Int64("item_id", itemID))
	return *saved, nil
}

func (s *Service) DeleteItem(ctx context.Context, itemID int64) error {
	count, err := s.repo.CountSalesByItem(ctx, itemID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: item %d has %d recorded sales", store.ErrRuleViolation, itemID, count)
	}
	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return err
	}

	s.logFor(ctx).Info("item deleted", zap.String("actor", actorName(ctx)), zap.Int64("item_id", itemID))
	return nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, customerID int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	externalID := strings.ToUpper(strings.TrimSpace(req.ExternalID))
	if name == "" || externalID == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name and id document are required", store.ErrRuleViolation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:       name,
		ExternalID: externalID,
		Phone:      strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logFor(ctx).Info("customer created", zap.String("actor", actorName(ctx)), zap.Int64("customer_id", created.ID))
	return *created, nil
}

// CustomerSales is the purchase history of one customer, newest first.
func (s *Service) CustomerSales(ctx context.Context, customerID int64) ([]domain.SaleSummary, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: customerID})
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleSummary, error) {
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) SaleDetail(ctx context.Context, saleID int64) (domain.SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	item, err := s.repo.GetItem(ctx, sale.ItemID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	installments, err := s.repo.ListInstallments(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}

	return domain.SaleDetail{
		Sale:         *sale,
		Customer:     *customer,
		Item:         *item,
		Installments: installments,
		Payments:     payments,
	}, nil
}

func (s *Service) ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, saleID)
}
