package handler

import (
	"github.com/shopspring/decimal"

	"github.com/SadaleNet/esun-sate/internal/core/challenge"
	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
)

// Wire types shared by the HTTP and gRPC transports.

type SubmitOrderRequest struct {
	domain.OrderRequest
}

type SubmitOrderResponse struct {
	Accepted bool                    `json:"accepted"`
	OrderID  int64                   `json:"order_id,omitempty"`
	Token    string                  `json:"token,omitempty"`
	Created  bool                    `json:"created"`
	Redirect string                  `json:"redirect,omitempty"`
	Errors   domain.ValidationErrors `json:"errors,omitempty"`
}

type GetOrderRequest struct {
	Token string `json:"token"`
}

// OrderView is an order as shown to its owner. The client IP is withheld.
type OrderView struct {
	domain.Order
	StatusName string          `json:"status_name"`
	Total      decimal.Decimal `json:"total"`
}

type ChangeOrderStatusRequest struct {
	OrderID int64              `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

type ChangeOrderStatusResponse struct {
	OrderID    int64              `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	StatusName string             `json:"status_name"`
}

type GetAvailabilityRequest struct{}

type AvailabilityResponse struct {
	Available domain.Availability `json:"available"`
}

type CatalogEntry struct {
	ID       string                               `json:"id"`
	Price    decimal.Decimal                      `json:"price"`
	Shipping map[domain.Warehouse]decimal.Decimal `json:"shipping"`
}

// FormResponse carries everything needed to render a fresh order form.
type FormResponse struct {
	challenge.Challenge
	ImageURL  string              `json:"image_url"`
	Catalog   []CatalogEntry      `json:"catalog"`
	Available domain.Availability `json:"available"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newSubmitOrderResponse(res service.SubmitResult) SubmitOrderResponse {
	out := SubmitOrderResponse{
		Accepted: res.Accepted(),
		Token:    res.Token,
		Errors:   res.Errors,
	}
	if out.Accepted {
		out.OrderID = res.OrderID
		out.Created = res.Created
		out.Redirect = "/lukin/" + res.Token
	}
	return out
}

func newOrderView(o *domain.Order) OrderView {
	cp := *o
	cp.IP = ""
	return OrderView{Order: cp, StatusName: o.Status.String(), Total: o.Total()}
}

func catalogEntries(c domain.Catalog) []CatalogEntry {
	ids := c.IDs()
	out := make([]CatalogEntry, 0, len(ids))
	for _, id := range ids {
		item := c[id]
		out = append(out, CatalogEntry{ID: id, Price: item.Price, Shipping: item.Shipping})
	}
	return out
}
