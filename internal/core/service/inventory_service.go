package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/port"
)

type InventoryService struct {
	ledger  port.LedgerRepository
	catalog domain.Catalog
	logger  *zap.Logger
}

func NewInventoryService(ledger port.LedgerRepository, catalog domain.Catalog, logger *zap.Logger) (*InventoryService, error) {
	if ledger == nil {
		return nil, errors.New("inventory service: ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{ledger: ledger, catalog: catalog, logger: logger}, nil
}

// Availability reads a fresh snapshot of baselines and consumption.
func (s *InventoryService) Availability(ctx context.Context) (domain.Availability, error) {
	baselines, consumed, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return CalculateAvailability(s.catalog, baselines, consumed), nil
}

func (s *InventoryService) Report(ctx context.Context) (domain.InventoryReport, error) {
	baselines, consumed, err := s.read(ctx)
	if err != nil {
		return domain.InventoryReport{}, err
	}

	totals := make(domain.Baselines, len(s.catalog))
	for _, item := range s.catalog.IDs() {
		totals[item] = baselines[item]
	}

	return domain.InventoryReport{
		Baselines: totals,
		Consumed:  consumedView(s.catalog, consumed),
		Available: CalculateAvailability(s.catalog, baselines, consumed),
	}, nil
}

// UpdateBaselines replaces the baselines of the given catalog items in one
// transaction.
func (s *InventoryService) UpdateBaselines(ctx context.Context, baselines domain.Baselines) error {
	for item, b := range baselines {
		if _, ok := s.catalog[item]; !ok || item == domain.ShippingItemID {
			return fmt.Errorf("item %q: %w", item, domain.ErrNotFound)
		}
		if b.Ante < 0 || b.US < 0 {
			return fmt.Errorf("item %q: negative quantity: %w", item, domain.ErrInvalidBaseline)
		}
	}
	if len(baselines) == 0 {
		return nil
	}

	if err := s.ledger.UpsertBaselines(ctx, baselines); err != nil {
		s.logger.Error("baseline update failed", zap.Error(err))
		return err
	}
	s.logger.Info("baselines updated", zap.Int("items", len(baselines)))
	return nil
}

func (s *InventoryService) read(ctx context.Context) (domain.Baselines, domain.Consumption, error) {
	baselines, err := s.ledger.ReadBaselines(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read baselines: %w", err)
	}
	consumed, err := s.ledger.SumConsumed(ctx, domain.ConsumingStatuses)
	if err != nil {
		return nil, nil, fmt.Errorf("sum consumed: %w", err)
	}
	return baselines, consumed, nil
}
