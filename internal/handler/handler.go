package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"loyalty-ledger/internal/ledger"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/promo"
	"loyalty-ledger/internal/report"
	"loyalty-ledger/internal/service"
	"loyalty-ledger/internal/storage"
	"loyalty-ledger/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *slog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
	}
}

// Routes mounts the ledger API on r. Mutating routes are wrapped with protect.
func (h *Handler) Routes(r chi.Router, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.ListCustomers)
		r.Get("/{name}", h.GetCustomer)
		r.With(protect).Post("/", h.RegisterCustomer)
		r.With(protect).Put("/{name}", h.EditCustomer)
		r.With(protect).Delete("/{name}", h.DeleteCustomer)
	})

	r.With(protect).Post("/sales", h.RecordSale)
	r.With(protect).Post("/redemptions", h.RedeemCashback)

	r.Route("/promotions", func(r chi.Router) {
		r.Get("/", h.ListPromotions)
		r.With(protect).Post("/", h.AddPromotion)
		r.With(protect).Delete("/{product}", h.RemovePromotion)
	})

	r.Route("/reports", func(r chi.Router) {
		r.Get("/summary", h.Summary)
		r.Get("/rankings/cashback", h.CashbackRanking)
		r.Get("/rankings/purchases", h.PurchaseRanking)
		r.Get("/history", h.History)
	})
}

// RegisterCustomer handles POST /customers
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.RegisterCustomer(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.CustomerResponse{Customer: res.Customer, Warnings: res.Warnings})
}

// ListCustomers handles GET /customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, customers)
}

// GetCustomer handles GET /customers/{name}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathParam(w, r, "name")
	if !ok {
		return
	}

	detail, err := h.service.GetCustomer(r.Context(), name)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

// EditCustomer handles PUT /customers/{name}
func (h *Handler) EditCustomer(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathParam(w, r, "name")
	if !ok {
		return
	}
	var req models.EditCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.EditCustomer(r.Context(), name, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CustomerResponse{Customer: c})
}

// DeleteCustomer handles DELETE /customers/{name}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathParam(w, r, "name")
	if !ok {
		return
	}

	removed, err := h.service.DeleteCustomer(r.Context(), name)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":              name,
		"transactions_removed": removed,
	})
}

// RecordSale handles POST /sales
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req models.RecordSaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.RecordSale(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.SaleResponse{
		Customer:      res.Customer,
		Transaction:   res.Sale,
		EffectiveRate: res.EffectiveRate,
		ReferralBonus: res.ReferralBonus,
		PurchaseCount: res.PurchaseCount,
	})
}

// RedeemCashback handles POST /redemptions
func (h *Handler) RedeemCashback(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemCashbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.RedeemCashback(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.RedemptionResponse{Customer: res.Customer, Transaction: res.Redemption})
}

// ListPromotions handles GET /promotions
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	windows, err := h.service.Promotions(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, windows)
}

// AddPromotion handles POST /promotions
func (h *Handler) AddPromotion(w http.ResponseWriter, r *http.Request) {
	var req models.AddPromotionRequest
	if !h.decode(w, r, &req) {
		return
	}

	window, err := h.service.AddPromotion(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, window)
}

// RemovePromotion handles DELETE /promotions/{product}. Removing an unknown
// product succeeds with removed=false.
func (h *Handler) RemovePromotion(w http.ResponseWriter, r *http.Request) {
	product, ok := h.pathParam(w, r, "product")
	if !ok {
		return
	}

	removed, err := h.service.RemovePromotion(r.Context(), product)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_name": product,
		"removed":      removed,
	})
}

// Summary handles GET /reports/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, s)
}

// CashbackRanking handles GET /reports/rankings/cashback
func (h *Handler) CashbackRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.service.CashbackRanking(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ranking)
}

// PurchaseRanking handles GET /reports/rankings/purchases
func (h *Handler) PurchaseRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := h.service.PurchaseRanking(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ranking)
}

// History handles GET /reports/history?date=YYYY-MM-DD&kind=Sale&customer=Name
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date, err := validation.ValidateDateString(q.Get("date"), "date")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := validation.ValidateKind(q.Get("kind"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	txns, err := h.service.History(r.Context(), report.HistoryFilter{
		Date:         date,
		Kind:         kind,
		CustomerName: validation.SanitizeString(q.Get("customer")),
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, txns)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decode reads a JSON body into dst, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// pathParam returns an unescaped, sanitised URL parameter.
func (h *Handler) pathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	raw := chi.URLParam(r, key)
	value, err := url.PathUnescape(raw)
	if err != nil {
		value = raw
	}
	value = validation.SanitizeString(value)
	if value == "" {
		h.respondError(w, http.StatusBadRequest, key+" is required")
		return "", false
	}
	return value, true
}

// respondServiceError maps domain errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var ve *validation.ValidationError
	switch {
	case errors.As(err, &ve):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrCustomerNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrDuplicateCustomer), errors.Is(err, promo.ErrDuplicateWindow):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrEmptyName),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, promo.ErrInvalidRange),
		errors.Is(err, promo.ErrEmptyProduct):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrBelowMinimum),
		errors.Is(err, ledger.ErrExceedsMaxRedemption),
		errors.Is(err, ledger.ErrInsufficientBalance):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrConflict):
		h.logger.Warn("stale ledger write rejected", "error", err)
		h.respondError(w, http.StatusConflict, "ledger was changed by another writer; reload and retry")
	case errors.Is(err, service.ErrPersistence):
		h.logger.Error("persistence failure", "error", err)
		h.respondError(w, http.StatusBadGateway, "ledger could not be saved; no changes were applied")
	default:
		h.logger.Error("unexpected error", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
