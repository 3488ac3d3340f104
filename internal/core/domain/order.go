package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is persisted as an integer. Negative values void an order,
// zero is the open state, positive values progress toward delivery.
type OrderStatus int

const (
	OrderStatusCancelled OrderStatus = -1
	OrderStatusPending   OrderStatus = 0
	OrderStatusConfirmed OrderStatus = 1
	OrderStatusShipped   OrderStatus = 2
	OrderStatusDelivered OrderStatus = 3
)

// InitialOrderStatus is the status every order is created with.
const InitialOrderStatus = OrderStatusPending

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusPending:
		return "pending"
	case OrderStatusConfirmed:
		return "confirmed"
	case OrderStatusShipped:
		return "shipped"
	case OrderStatusDelivered:
		return "delivered"
	}
	if s < 0 {
		return "void(" + strconv.Itoa(int(s)) + ")"
	}
	return "progress(" + strconv.Itoa(int(s)) + ")"
}

// CountsTowardConsumption reports whether an order in this status holds stock.
func (s OrderStatus) CountsTowardConsumption() bool {
	return s >= OrderStatusPending
}

// StatusFilter selects which order statuses are aggregated as consumed stock.
type StatusFilter func(OrderStatus) bool

// ConsumingStatuses is the filter used for availability.
var ConsumingStatuses StatusFilter = OrderStatus.CountsTowardConsumption

// Address is carried verbatim; the ledger does not interpret it.
type Address struct {
	Recipient string `json:"recipient"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	Line3     string `json:"line3,omitempty"`
	Line4     string `json:"line4,omitempty"`
	City      string `json:"city"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country"`
}

type Order struct {
	ID             int64          `json:"id"`
	IdempotencyKey string         `json:"token"`
	Status         OrderStatus    `json:"status"`
	Warehouse      Warehouse      `json:"warehouse"`
	Address        Address        `json:"address"`
	Contact        string         `json:"contact"`
	IP             string         `json:"ip,omitempty"`
	Message        string         `json:"message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Items          []LineItem     `json:"items,omitempty"`
	History        []StatusChange `json:"history,omitempty"`
}

// Total sums every line item, shipping included.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Total())
	}
	return total
}

// LineItem captures the unit price at the time the order was placed.
type LineItem struct {
	Item      string          `json:"item"`
	Quantity  int             `json:"quantity"`
	PriceEach decimal.Decimal `json:"price_each"`
}

func (li LineItem) Total() decimal.Decimal {
	return li.PriceEach.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// StatusChange is one entry of the append-only order audit trail.
type StatusChange struct {
	OrderID int64       `json:"order_id"`
	At      time.Time   `json:"at"`
	Status  OrderStatus `json:"status"`
}
