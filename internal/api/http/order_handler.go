// internal/api/http/order_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/metrics"
	"inventory-reserve/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderHandler serves the order-facing HTTP surface: checkout, lookup,
// cancellation and fulfillment advancement.
type OrderHandler struct {
	service  *usecase.OrderService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewOrderHandler creates a new OrderHandler and initializes the validator.
func NewOrderHandler(service *usecase.OrderService, logger *slog.Logger) *OrderHandler {
	validate := validator.New()

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	return &OrderHandler{
		service:  service,
		logger:   logger.With("component", "order-handler"),
		validate: validate,
		tracer:   otel.Tracer("inventory-reserve-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// instrument wraps a handler with a per-request span and the request
// counter, using the normalized path as the label.
func instrument(tracer trace.Tracer, normalize func(string) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := normalize(r.URL.Path)

		ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}
}

func normalizeOrderPath(p string) string {
	rest := strings.Trim(strings.TrimPrefix(p, "/api/orders"), "/")
	if rest == "" {
		return "/api/orders"
	}
	if _, action, ok := strings.Cut(rest, "/"); ok {
		return "/api/orders/{id}/" + action
	}
	return "/api/orders/{id}"
}

// RegisterRoutes registers order routes on the http.ServeMux.
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	handler := instrument(h.tracer, normalizeOrderPath, h.handleOrders)
	mux.Handle("/api/orders", handler)
	mux.Handle("/api/orders/", handler)
}

// handleOrders is the dispatcher for the /api/orders subtree.
func (h *OrderHandler) handleOrders(w http.ResponseWriter, r *http.Request) {
	// e.g. /api/orders/{id}/cancel -> ["api", "orders", "{id}", "cancel"]
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(pathParts) < 2 || pathParts[0] != "api" || pathParts[1] != "orders" {
		http.NotFound(w, r)
		return
	}

	var orderID, action string
	if len(pathParts) > 2 {
		orderID = pathParts[2]
	}
	if len(pathParts) > 3 {
		action = pathParts[3]
	}

	switch r.Method {
	case http.MethodPost:
		switch {
		case orderID == "" && action == "":
			h.handleCheckout(w, r)
		case orderID != "" && action == "cancel":
			h.handleCancel(w, r, orderID)
		default:
			http.NotFound(w, r)
		}
	case http.MethodGet:
		if orderID != "" && action == "" {
			h.handleGetOrder(w, r, orderID)
		} else {
			http.NotFound(w, r)
		}
	case http.MethodPatch:
		if orderID != "" && action == "status" {
			h.handleAdvance(w, r, orderID)
		} else {
			http.NotFound(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCheckout reserves the cart and creates the order (POST /api/orders).
func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Checkout")
	defer span.End()

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors,
				"Field '"+err.Field()+"' failed on the '"+err.Tag()+"' tag.",
			)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return
	}

	span.SetAttributes(
		attribute.String("order.owner_id", req.OwnerID),
		attribute.String("order.vendor_id", req.VendorID),
	)

	order, res, err := h.service.Checkout(ctx, req.OwnerID, req.VendorID, req.Lines(), req.TTL())
	if err != nil {
		span.SetStatus(codes.Error, "Failed to check out cart")
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrVendorNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, domain.ErrEmptyCart):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("error checking out cart", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if order == nil {
		// All-or-nothing reservation failed; tell the buyer what blocked it.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(BlockedResponse{
			Error:   "cart could not be reserved",
			Blocked: res.Blocked,
		})
		return
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// handleGetOrder returns one order (GET /api/orders/{id}).
func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := h.service.Get(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get order from service")
		span.RecordError(err)
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			h.logger.Error("error getting order", "order_id", orderID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// handleCancel finalizes an unpaid order (POST /api/orders/{id}/cancel).
func (h *OrderHandler) handleCancel(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := h.service.CancelOrder(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to cancel order")
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			http.Error(w, "order is no longer awaiting payment", http.StatusConflict)
		default:
			h.logger.Error("error cancelling order", "order_id", orderID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// handleAdvance moves an order forward through fulfillment
// (PATCH /api/orders/{id}/status).
func (h *OrderHandler) handleAdvance(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.AdvanceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		http.Error(w, "invalid target status", http.StatusBadRequest)
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("order.to_status", req.Status))

	order, err := h.service.Advance(ctx, orderID, status)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to advance order")
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, domain.ErrInvalidTransition):
			http.Error(w, "order cannot move to the requested status", http.StatusConflict)
		default:
			h.logger.Error("error advancing order", "order_id", orderID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}
