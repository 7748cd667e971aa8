package jobs

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/felicita-pe/felicita-core/internal/platform/httpx"
)

// Handler exposes on-demand triggers for the scheduled jobs.
type Handler struct {
	client *Client
	log    *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, log: logger}
}

// MountRoutes registers job trigger routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inventory-reconcile", h.enqueueReconcile)
	r.Post("/ledger-integrity", h.enqueueIntegrity)
}

func (h *Handler) enqueueReconcile(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueInventoryReconcile(r.Context(), time.Now().UTC())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID, "queue": info.Queue})
}

func (h *Handler) enqueueIntegrity(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.EnqueueLedgerIntegrity(r.Context(), time.Now().UTC())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": info.ID, "queue": info.Queue})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if h.log != nil {
		h.log.Error("job enqueue failed", "error", err)
	}
	httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
}
