package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/felicita-pe/felicita-core/internal/platform/httpx"
)

// Handler exposes catalog CRUD over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), log: logger}
}

// MountRoutes registers catalog routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/products/{id}/archive", h.archiveProduct)
	r.Get("/products/{id}/lots", h.listLots)
	r.Post("/warehouses", h.createWarehouse)
	r.Get("/warehouses", h.listWarehouses)
	r.Post("/warehouses/{id}/archive", h.archiveWarehouse)
	r.Post("/lots", h.createLot)
	r.Get("/lots/expiring", h.expiringLots)
}

type productRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Unit        string `json:"unit"`
	TracksStock bool   `json:"tracks_stock"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	product, err := h.svc.CreateProduct(r.Context(), Product{
		Code:        req.Code,
		Name:        req.Name,
		Unit:        req.Unit,
		TracksStock: req.TracksStock,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	product, err := h.svc.Product(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ArchiveProduct(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type warehouseRequest struct {
	Code            string `json:"code" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Type            string `json:"type" validate:"omitempty,oneof=CENTRAL BRANCH TRANSIT"`
	AllowsSales     bool   `json:"allows_sales"`
	AllowsPurchases bool   `json:"allows_purchases"`
	TracksLots      bool   `json:"tracks_lots"`
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var req warehouseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	warehouse, err := h.svc.CreateWarehouse(r.Context(), Warehouse{
		Code:            req.Code,
		Name:            req.Name,
		Type:            WarehouseType(req.Type),
		AllowsSales:     req.AllowsSales,
		AllowsPurchases: req.AllowsPurchases,
		TracksLots:      req.TracksLots,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, warehouse)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.svc.Warehouses(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
}

func (h *Handler) archiveWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ArchiveWarehouse(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lotRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Number         string `json:"number" validate:"required"`
	ManufacturedAt string `json:"manufactured_at"`
	ExpiresAt      string `json:"expires_at"`
}

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	lot := Lot{ProductID: req.ProductID, Number: req.Number}
	if req.ManufacturedAt != "" {
		t, err := time.Parse("2006-01-02", req.ManufacturedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "manufactured_at must be YYYY-MM-DD")
			return
		}
		lot.ManufacturedAt = &t
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse("2006-01-02", req.ExpiresAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "expires_at must be YYYY-MM-DD")
			return
		}
		lot.ExpiresAt = &t
	}
	created, err := h.svc.CreateLot(r.Context(), lot)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	lots, err := h.svc.Lots(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) expiringLots(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "days must be a non-negative integer")
			return
		}
		days = n
	}
	lots, err := h.svc.ExpiringLots(r.Context(), days)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "id must be a positive integer")
		return 0, false
	}
	return id, true
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
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrWarehouseNotFound), errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if h.log != nil {
			h.log.Error("catalog request failed", "error", err)
		}
		httpx.RespondError(w, err)
	}
}
