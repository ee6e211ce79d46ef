// internal/api/http/payment_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PaymentHandler receives payment outcome callbacks from the provider.
type PaymentHandler struct {
	service  *usecase.PaymentService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewPaymentHandler creates a new PaymentHandler instance.
func NewPaymentHandler(service *usecase.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		logger:   logger.With("component", "payment-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("inventory-reserve-api"),
	}
}

// RegisterRoutes registers payment routes on the http.ServeMux.
func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	normalize := func(string) string { return "/api/payments/webhook" }
	mux.Handle("/api/payments/webhook", instrument(h.tracer, normalize, h.handleWebhook))
}

// handleWebhook applies one payment outcome (POST /api/payments/webhook).
// Replays of an already-applied outcome come back 200 with status ignored.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "handler.PaymentWebhook")
	defer span.End()

	var req PaymentWebhookRequest
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
		attribute.String("order.id", req.OrderID),
		attribute.String("payment.outcome", req.Outcome),
	)

	var order *domain.Order
	var err error
	if req.Outcome == "confirmed" {
		order, err = h.service.OnConfirmed(ctx, req.OrderID)
	} else {
		order, err = h.service.OnFailed(ctx, req.OrderID)
	}
	if err != nil {
		span.SetStatus(codes.Error, "Failed to apply payment outcome")
		span.RecordError(err)
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			h.logger.Error("error applying payment outcome",
				"order_id", req.OrderID, "outcome", req.Outcome, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	resp := PaymentWebhookResponse{Status: "applied", Order: order}
	if order == nil {
		resp.Status = "ignored"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
