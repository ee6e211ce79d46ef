// internal/api/http/admin_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/sweeper"
	"inventory-reserve/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AdminHandler serves the operator surface: stats, forced lock release and
// the manual sweep trigger.
type AdminHandler struct {
	ops     *usecase.OpsService
	sweeper *sweeper.Sweeper
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAdminHandler creates a new AdminHandler instance.
func NewAdminHandler(ops *usecase.OpsService, sw *sweeper.Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ops:     ops,
		sweeper: sw,
		logger:  logger.With("component", "admin-handler"),
		tracer:  otel.Tracer("inventory-reserve-api"),
	}
}

func normalizeAdminPath(p string) string {
	rest := strings.Trim(strings.TrimPrefix(p, "/api/admin"), "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "orders" && len(parts) > 1 {
		path := "/api/admin/orders/{id}"
		if len(parts) > 2 {
			path += "/" + parts[2]
		}
		return path
	}
	return "/api/admin/" + parts[0]
}

// RegisterRoutes registers admin routes on the http.ServeMux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/admin/", instrument(h.tracer, normalizeAdminPath, h.handleAdmin))
}

// handleAdmin is the dispatcher for the /api/admin subtree.
func (h *AdminHandler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	// e.g. /api/admin/orders/{id}/release -> ["api", "admin", "orders", "{id}", "release"]
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(pathParts) < 3 || pathParts[0] != "api" || pathParts[1] != "admin" {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && pathParts[2] == "stats" && len(pathParts) == 3:
		h.handleStats(w, r)
	case r.Method == http.MethodPost && pathParts[2] == "sweep" && len(pathParts) == 3:
		h.handleSweep(w, r)
	case r.Method == http.MethodPost && pathParts[2] == "orders" && len(pathParts) == 5 && pathParts[4] == "release":
		h.handleRelease(w, r, pathParts[3])
	default:
		http.NotFound(w, r)
	}
}

// handleStats reports the reservation backlog (GET /api/admin/stats).
func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.AdminStats")
	defer span.End()

	stats, err := h.ops.Stats(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to collect stats")
		span.RecordError(err)
		h.logger.Error("error collecting stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleSweep runs one sweep pass on demand (POST /api/admin/sweep).
func (h *AdminHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.AdminSweep")
	defer span.End()

	report, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "Sweep pass failed")
		span.RecordError(err)
		h.logger.Error("error running manual sweep", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// handleRelease force-frees the locks of one order
// (POST /api/admin/orders/{id}/release).
func (h *AdminHandler) handleRelease(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.AdminRelease")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	released, err := h.ops.ForceRelease(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to force-release order locks")
		span.RecordError(err)
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			h.logger.Error("error force-releasing order locks", "order_id", orderID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReleaseResponse{OrderID: orderID, Released: released})
}
