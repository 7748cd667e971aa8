package ledger

import (
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
)

// Handler exposes ledger operations over JSON.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), log: logger}
}

// MountRoutes registers ledger routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts/{id}/archive", h.archiveAccount)
	r.Post("/cost-centers", h.createCostCenter)
	r.Get("/cost-centers", h.listCostCenters)
	r.Post("/periods", h.createPeriod)
	r.Get("/periods", h.listPeriods)
	r.Post("/periods/{id}/transition", h.transitionPeriod)
	r.Post("/entries", h.createEntry)
	r.Get("/entries", h.listEntries)
	r.Get("/entries/{id}", h.getEntry)
	r.Post("/entries/{id}/lines", h.addLine)
	r.Post("/entries/{id}/validate", h.validateEntry)
	r.Post("/entries/{id}/post", h.postEntry)
	r.Post("/entries/{id}/void", h.voidEntry)
}

type accountRequest struct {
	Code               string `json:"code" validate:"required"`
	Name               string `json:"name" validate:"required"`
	Nature             string `json:"nature" validate:"required,oneof=DEBIT CREDIT"`
	ParentID           *int64 `json:"parent_id"`
	AcceptsPostings    bool   `json:"accepts_postings"`
	RequiresCostCenter bool   `json:"requires_cost_center"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), Account{
		Code:               req.Code,
		Name:               req.Name,
		Nature:             AccountNature(req.Nature),
		ParentID:           req.ParentID,
		AcceptsPostings:    req.AcceptsPostings,
		RequiresCostCenter: req.RequiresCostCenter,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Accounts(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) archiveAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.ArchiveAccount(r.Context(), id, actorFrom(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type costCenterRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (h *Handler) createCostCenter(w http.ResponseWriter, r *http.Request) {
	var req costCenterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	center, err := h.svc.CreateCostCenter(r.Context(), CostCenter{Code: req.Code, Name: req.Name})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, center)
}

func (h *Handler) listCostCenters(w http.ResponseWriter, r *http.Request) {
	centers, err := h.svc.CostCenters(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cost_centers": centers})
}

type periodRequest struct {
	Year  int `json:"year" validate:"required,gte=2000,lte=2200"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	period, err := h.svc.CreatePeriod(r.Context(), req.Year, time.Month(req.Month), actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.svc.Periods(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

type transitionRequest struct {
	To string `json:"to" validate:"required,oneof=CLOSING CLOSED"`
}

func (h *Handler) transitionPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	period, err := h.svc.TransitionPeriod(r.Context(), id, PeriodStatus(req.To), actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

type lineRequest struct {
	AccountID    int64           `json:"account_id" validate:"required,gt=0"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	CostCenterID *int64          `json:"cost_center_id"`
	Memo         string          `json:"memo"`
}

func (l lineRequest) input() LineInput {
	return LineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, CostCenterID: l.CostCenterID, Memo: l.Memo}
}

type entryRequest struct {
	Date      string        `json:"date"`
	PeriodID  int64         `json:"period_id"`
	Type      string        `json:"type"`
	Source    string        `json:"source"`
	SourceRef string        `json:"source_ref"`
	Memo      string        `json:"memo"`
	Lines     []lineRequest `json:"lines" validate:"dive"`
	ActorID   int64         `json:"actor_id"`
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	input := EntryInput{
		PeriodID:  req.PeriodID,
		Type:      EntryType(req.Type),
		Source:    EntrySource(req.Source),
		SourceRef: req.SourceRef,
		Memo:      req.Memo,
		ActorID:   req.ActorID,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "date must be YYYY-MM-DD")
			return
		}
		input.Date = date
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, line.input())
	}
	entry, lines, err := h.svc.CreateEntry(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry": entry, "lines": lines})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EntryFilter{
		Status: EntryStatus(q.Get("status")),
		Source: EntrySource(q.Get("source")),
	}
	if raw := q.Get("period_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "period_id must be an integer")
			return
		}
		filter.PeriodID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	entries, err := h.svc.Entries(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entry, lines, err := h.svc.Entry(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": entry, "lines": lines})
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if !h.checkStruct(w, req) {
		return
	}
	entry, line, err := h.svc.AddLine(r.Context(), id, req.input())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry": entry, "line": line})
}

func (h *Handler) validateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Validate(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Post(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type voidRequest struct {
	Memo string `json:"memo"`
}

func (h *Handler) voidEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
	}
	original, reversal, err := h.svc.Void(r.Context(), id, actorFrom(r), req.Memo)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": original, "reversal": reversal})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func actorFrom(r *http.Request) int64 {
	raw := r.Header.Get("X-Actor-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
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
	case errors.Is(err, ErrInvalidLine), errors.Is(err, ErrMissingCostCenter):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Line", err.Error())
	case errors.Is(err, ErrAccountNotPostable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Account Not Postable", err.Error())
	case errors.Is(err, ErrEntryUnbalanced):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Entry Unbalanced", err.Error())
	case errors.Is(err, ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Period Closed", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidPeriodTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrDuplicateAccount), errors.Is(err, ErrDuplicatePeriod), errors.Is(err, ErrSourceAlreadyLinked):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrPeriodNotFound), errors.Is(err, ErrCostCenterNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if h.log != nil {
			h.log.Error("ledger request failed", "error", err)
		}
		httpx.RespondError(w, err)
	}
}
