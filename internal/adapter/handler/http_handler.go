package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
	"github.com/SadaleNet/esun-sate/internal/platform/logging"
)

const maxBodyBytes = 64 * 1024

type HTTPHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	catalog   domain.Catalog
	auth      Authorizer
	imageDir  string
	trustIP   bool
	logger    *zap.Logger
}

type HTTPOption func(*HTTPHandler)

// WithAuthorizer guards the admin routes. Without one every admin request
// is answered with 404.
func WithAuthorizer(a Authorizer) HTTPOption {
	return func(h *HTTPHandler) { h.auth = a }
}

// WithImageDir serves challenge images named <image>.jpg from dir.
func WithImageDir(dir string) HTTPOption {
	return func(h *HTTPHandler) { h.imageDir = dir }
}

// WithTrustedProxy takes the client address from X-Forwarded-For or X-Real-IP.
// Enable it only when every request passes through a proxy that sets them.
func WithTrustedProxy(trust bool) HTTPOption {
	return func(h *HTTPHandler) { h.trustIP = trust }
}

func WithLogger(logger *zap.Logger) HTTPOption {
	return func(h *HTTPHandler) { h.logger = logger }
}

func NewHTTPHandler(orders *service.OrderService, inventory *service.InventoryService, catalog domain.Catalog, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{orders: orders, inventory: inventory, catalog: catalog}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger)
	return h
}

// Routes builds the chi router for the public form API and the admin API.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.trustIP {
		r.Use(middleware.RealIP)
	}
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/sitelen/{token}/{challenge}", h.ChallengeImage)
	r.Get("/lukin/{token}", h.GetOrder)

	r.Route("/api", func(r chi.Router) {
		r.Get("/form", h.Form)
		r.Post("/orders", h.SubmitOrder)
		r.Get("/orders/{token}", h.GetOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/inventory", h.Inventory)
			r.Put("/inventory", h.UpdateInventory)
			r.Post("/orders/{id}/status", h.ChangeStatus)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Form(w http.ResponseWriter, r *http.Request) {
	available, err := h.inventory.Availability(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c := h.orders.NewChallenge()
	writeJSON(w, http.StatusOK, FormResponse{
		Challenge: c,
		ImageURL:  "/sitelen/" + c.Token + "/" + c.Hash,
		Catalog:   catalogEntries(h.catalog),
		Available: available,
	})
}

func (h *HTTPHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.IP = clientIP(r)

	res, err := h.orders.Submit(r.Context(), req.OrderRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubmitOrderResponse(res))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (h *HTTPHandler) ChallengeImage(w http.ResponseWriter, r *http.Request) {
	image, ok := h.orders.ChallengeImage(chi.URLParam(r, "token"), chi.URLParam(r, "challenge"))
	if !ok || h.imageDir == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(h.imageDir, image+".jpg"))
}

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	report, err := h.inventory.Report(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	var baselines domain.Baselines
	if err := decodeJSON(w, r, &baselines); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.inventory.UpdateBaselines(r.Context(), baselines); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Inventory(w, r)
}

func (h *HTTPHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	var body struct {
		Status *domain.OrderStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.Status == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status is required"})
		return
	}
	if err := h.orders.ChangeStatus(r.Context(), id, *body.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeOrderStatusResponse{
		OrderID:    id,
		Status:     *body.Status,
		StatusName: body.Status.String(),
	})
}

// requireAdmin hides the admin API from everyone else.
func (h *HTTPHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil || !h.auth.IsAdmin(r) {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidBaseline):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// clientIP strips the port from RemoteAddr. RealIP, when mounted, has already
// replaced it with the forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
