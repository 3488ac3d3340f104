package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/port"
)

// SubmitResult is either accepted (Errors empty) or rejected with every
// validation problem found.
type SubmitResult struct {
	OrderID int64
	Token   string
	Created bool
	Errors  domain.ValidationErrors
}

func (r SubmitResult) Accepted() bool {
	return len(r.Errors) == 0
}

type OrderServiceDeps struct {
	Ledger    port.LedgerRepository
	Cache     port.OrderCache
	Inventory *InventoryService
	Catalog   domain.Catalog
	Challenge *challenge.Issuer
	Clock     func() time.Time
	Logger    *zap.Logger
}

type OrderService struct {
	ledger    port.LedgerRepository
	cache     port.OrderCache
	inventory *InventoryService
	catalog   domain.Catalog
	challenge *challenge.Issuer
	clock     func() time.Time
	logger    *zap.Logger
}

func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("order service: ledger is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Challenge == nil {
		return nil, errors.New("order service: challenge issuer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		ledger:    deps.Ledger,
		cache:     deps.Cache,
		inventory: deps.Inventory,
		catalog:   deps.Catalog,
		challenge: deps.Challenge,
		clock:     clock,
		logger:    logger,
	}, nil
}

// NewChallenge issues the token and challenge for a fresh order form.
func (s *OrderService) NewChallenge() challenge.Challenge {
	return s.challenge.Issue()
}

// ChallengeImage names the image a rendered challenge points at.
func (s *OrderService) ChallengeImage(token, hash string) (string, bool) {
	return s.challenge.Resolve(token, hash)
}

// Submit validates req against the catalog and a fresh availability snapshot
// and commits it exactly once per idempotency key. The returned error is
// non-nil only when storage failed.
func (s *OrderService) Submit(ctx context.Context, req domain.OrderRequest) (SubmitResult, error) {
	available, err := s.inventory.Availability(ctx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("availability: %w", err)
	}

	quantities, errs := s.validate(req, available)
	if len(errs) > 0 {
		s.logger.Debug("order rejected",
			zap.String("token", req.IdempotencyKey),
			zap.Strings("fields", errs.Fields()),
			zap.String("reasons", errs.Error()),
		)
		return SubmitResult{Token: req.IdempotencyKey, Errors: errs}, nil
	}

	warehouse := domain.Warehouse(req.Warehouse)
	now := s.clock().UTC()
	order := domain.Order{
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.InitialOrderStatus,
		Warehouse:      warehouse,
		Address:        req.Address,
		Contact:        req.Contact,
		IP:             req.IP,
		Message:        req.Message,
		CreatedAt:      now,
	}
	items := s.lineItems(quantities, warehouse)

	id, created, err := s.ledger.CreateOrderAtomic(ctx, order, items, domain.InitialOrderStatus)
	if err != nil {
		s.logger.Error("order commit failed", zap.String("token", req.IdempotencyKey), zap.Error(err))
		return SubmitResult{}, fmt.Errorf("create order: %w", err)
	}

	if created {
		s.logger.Info("order accepted",
			zap.Int64("order_id", id),
			zap.String("token", req.IdempotencyKey),
			zap.String("warehouse", string(warehouse)),
			zap.Int("line_items", len(items)),
		)
	} else {
		s.logger.Info("order replayed", zap.Int64("order_id", id), zap.String("token", req.IdempotencyKey))
	}

	return SubmitResult{OrderID: id, Token: req.IdempotencyKey, Created: created}, nil
}

// validate runs every check and collects all failures. It returns the parsed
// positive quantities per catalog item. The stock check covers every
// digits-only quantity, zero included, so an explicit zero against an
// oversold item is rejected.
func (s *OrderService) validate(req domain.OrderRequest, available domain.Availability) (map[string]int, domain.ValidationErrors) {
	var errs domain.ValidationErrors

	addr := req.Address
	if blank(addr.Recipient) || blank(addr.Line1) || blank(addr.City) || blank(addr.Country) || blank(req.Warehouse) {
		errs.Add(domain.FieldAddress, "recipient, address line 1, city, country and warehouse are required")
	}
	if blank(req.Contact) {
		errs.Add(domain.FieldContact, "a contact method is required")
	}

	requested := make(map[string]int)
	quantities := make(map[string]int)
	total := 0
	for _, item := range s.catalog.IDs() {
		raw, ok := req.Quantities[item]
		if !ok || !isDigits(raw) {
			continue
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add(domain.FieldItems, fmt.Sprintf("quantity of %s is too large", item))
			continue
		}
		requested[item] = qty
		if qty > 0 {
			quantities[item] = qty
			total += qty
		}
	}
	if total < 1 {
		errs.Add(domain.FieldItems, "at least one item must be ordered")
	}

	warehouse, ok := domain.ParseWarehouse(req.Warehouse)
	if !ok {
		errs.Add(domain.FieldAddress, "unknown warehouse")
	} else {
		for _, item := range s.catalog.IDs() {
			qty, ok := requested[item]
			if ok && qty > available.Quantity(warehouse, item) {
				errs.Add(domain.FieldItems, fmt.Sprintf("not enough %s in stock", item))
			}
		}
	}

	if !s.challenge.Verify(req.IdempotencyKey, req.ImageAnswer, req.Challenge, req.SharedAnswer) {
		errs.Add(domain.FieldCaptcha, "verification failed")
	}

	return quantities, errs
}

// lineItems captures current catalog prices and appends the shipping item.
func (s *OrderService) lineItems(quantities map[string]int, warehouse domain.Warehouse) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(quantities)+1)
	shipping := decimal.Zero
	for _, id := range s.catalog.IDs() {
		qty, ok := quantities[id]
		if !ok {
			continue
		}
		entry := s.catalog[id]
		items = append(items, domain.LineItem{Item: id, Quantity: qty, PriceEach: entry.Price})
		shipping = shipping.Add(entry.Shipping[warehouse].Mul(decimal.NewFromInt(int64(qty))))
	}
	return append(items, domain.LineItem{Item: domain.ShippingItemID, Quantity: 1, PriceEach: shipping})
}

// Lookup returns the order for a token, preferring the cache.
func (s *OrderService) Lookup(ctx context.Context, token string) (*domain.Order, error) {
	if blank(token) {
		return nil, domain.ErrNotFound
	}
	if s.cache != nil {
		cached, err := s.cache.GetOrder(ctx, token)
		if err != nil {
			s.logger.Warn("order cache read failed", zap.String("token", token), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	order, err := s.ledger.GetOrderByKey(ctx, token)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetOrder(ctx, *order); err != nil {
			s.logger.Warn("order cache write failed", zap.String("token", token), zap.Error(err))
		}
	}
	return order, nil
}

// ChangeStatus records a lifecycle transition. Which transitions are legal
// is decided by the caller.
func (s *OrderService) ChangeStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if err := s.ledger.RecordStatusChange(ctx, orderID, status, s.clock().UTC()); err != nil {
		return err
	}
	s.logger.Info("order status changed", zap.Int64("order_id", orderID), zap.Stringer("status", status))

	if s.cache == nil {
		return nil
	}
	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Warn("order reload after status change failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil
	}
	if err := s.cache.InvalidateOrder(ctx, order.IdempotencyKey); err != nil {
		s.logger.Warn("order cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
