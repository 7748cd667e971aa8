package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/platform/httpx"
	"github.com/felicita-pe/felicita-core/internal/shared"
)

// Handler exposes inventory operations over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), log: logger}
}

// MountRoutes registers inventory routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entries", h.recordEntry)
	r.Post("/exits", h.recordExit)
	r.Post("/transfers", h.transfer)
	r.Post("/reservations", h.reserve)
	r.Post("/reservations/release", h.release)
	r.Get("/snapshot", h.snapshot)
	r.Get("/balance", h.balance)
	r.Get("/kardex", h.kardex)
}

type entryRequest struct {
	Code         string          `json:"code"`
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID  int64           `json:"warehouse_id" validate:"required,gt=0"`
	LotID        int64           `json:"lot_id" validate:"gte=0"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Type         string          `json:"type"`
	Source       string          `json:"source"`
	RefDocType   string          `json:"ref_doc_type"`
	RefDocNumber string          `json:"ref_doc_number"`
	RefID        string          `json:"ref_id"`
	Note         string          `json:"note"`
	ActorID      int64           `json:"actor_id"`
}

func (h *Handler) recordEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	result, err := h.svc.RecordEntry(r.Context(), EntryInput{
		Code:         req.Code,
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		LotID:        req.LotID,
		Qty:          req.Qty,
		UnitCost:     req.UnitCost,
		Type:         MovementType(req.Type),
		Source:       SourceKind(req.Source),
		RefDocType:   req.RefDocType,
		RefDocNumber: req.RefDocNumber,
		RefID:        req.RefID,
		Note:         req.Note,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type exitRequest struct {
	Code         string          `json:"code"`
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID  int64           `json:"warehouse_id" validate:"required,gt=0"`
	LotID        int64           `json:"lot_id" validate:"gte=0"`
	Qty          decimal.Decimal `json:"qty"`
	Type         string          `json:"type"`
	Source       string          `json:"source"`
	RefDocType   string          `json:"ref_doc_type"`
	RefDocNumber string          `json:"ref_doc_number"`
	RefID        string          `json:"ref_id"`
	Note         string          `json:"note"`
	ActorID      int64           `json:"actor_id"`
}

func (h *Handler) recordExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	result, err := h.svc.RecordExit(r.Context(), ExitInput{
		Code:         req.Code,
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		LotID:        req.LotID,
		Qty:          req.Qty,
		Type:         MovementType(req.Type),
		Source:       SourceKind(req.Source),
		RefDocType:   req.RefDocType,
		RefDocNumber: req.RefDocNumber,
		RefID:        req.RefID,
		Note:         req.Note,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type transferRequest struct {
	Code         string          `json:"code"`
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	LotID        int64           `json:"lot_id" validate:"gte=0"`
	Qty          decimal.Decimal `json:"qty"`
	SrcWarehouse int64           `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouse int64           `json:"dst_warehouse_id" validate:"required,gt=0"`
	Note         string          `json:"note"`
	ActorID      int64           `json:"actor_id"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	result, err := h.svc.Transfer(r.Context(), TransferInput{
		Code:         req.Code,
		ProductID:    req.ProductID,
		LotID:        req.LotID,
		Qty:          req.Qty,
		SrcWarehouse: req.SrcWarehouse,
		DstWarehouse: req.DstWarehouse,
		Note:         req.Note,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type reservationRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	LotID       int64           `json:"lot_id" validate:"gte=0"`
	Qty         decimal.Decimal `json:"qty"`
	ActorID     int64           `json:"actor_id"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.svc.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.svc.Release)
}

func (h *Handler) reservation(w http.ResponseWriter, r *http.Request, apply func(context.Context, ReservationInput) (StockSnapshot, error)) {
	var req reservationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	snap, err := apply(r.Context(), ReservationInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		LotID:       req.LotID,
		Qty:         req.Qty,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Snapshot(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.CurrentBalance(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) kardex(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	filter := KardexFilter{ProductID: key.ProductID, WarehouseID: key.WarehouseID, LotID: key.LotID}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	entries, err := h.svc.Kardex(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) queryKey(w http.ResponseWriter, r *http.Request) (StockKey, bool) {
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "product_id is required")
		return StockKey{}, false
	}
	warehouseID, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "warehouse_id is required")
		return StockKey{}, false
	}
	var lotID int64
	if raw := q.Get("lot_id"); raw != "" {
		lotID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || lotID < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "lot_id must be a non-negative integer")
			return StockKey{}, false
		}
	}
	return StockKey{ProductID: productID, WarehouseID: warehouseID, LotID: lotID}, true
}

func (h *Handler) checkStruct(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		httpx.ProblemFields(w, http.StatusBadRequest, "Validation Failed", fields)
		return false
	}
	httpx.RespondError(w, httpx.ErrValidation)
	return false
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidMovement):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInsufficientAvailable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Availability", err.Error())
	case errors.Is(err, ErrSnapshotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Movement", err.Error())
	default:
		if h.log != nil {
			h.log.Error("inventory request failed", "error", err)
		}
		httpx.RespondError(w, err)
	}
}
