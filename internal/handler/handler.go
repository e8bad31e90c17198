package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/cache"
	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/database"
	"duo-pass-api/internal/features"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/service"
	"duo-pass-api/internal/validation"
)

// IdempotencyKeyHeader lets clients retry a purchase safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the purchase replay cache.
const ReplayedHeader = "Idempotent-Replayed"

const maxIdempotencyKeyLength = 128

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	cache       cache.Cache
	features    *features.Manager
	replayTTL   time.Duration
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize    int64
	Cache          cache.Cache
	Features       *features.Manager
	IdempotencyTTL time.Duration
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:    1 << 20,
		Cache:          cache.NewInMemoryCache(),
		Features:       features.NewDefaultManager(),
		IdempotencyTTL: 24 * time.Hour,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	defaults := DefaultHandlerOptions()
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaults.MaxBodySize
	}
	if opts.Cache == nil {
		opts.Cache = defaults.Cache
	}
	if opts.Features == nil {
		opts.Features = defaults.Features
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaults.IdempotencyTTL
	}
	return &Handler{
		service:     svc,
		cache:       opts.Cache,
		features:    opts.Features,
		replayTTL:   opts.IdempotencyTTL,
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/tiers", h.ListTiers)

	r.Route("/users/{user_id}", func(r chi.Router) {
		r.Post("/passes/quote", h.QuotePasses)
		r.Post("/passes", h.PurchasePasses)
		r.Get("/passes", h.ListPasses)
		r.Get("/passes/{month}", h.GetPass)
		r.Get("/passes/{month}/history", h.GetPassHistory)
		r.Post("/passes/{month}/companions", h.AddCompanion)
		r.Get("/companions/{type}/months", h.GetCompanionMonths)
		r.Get("/companions/{type}/access", h.GetCompanionAccess)
		r.Get("/transactions", h.ListTransactions)
		r.Put("/matches/{month}", h.RecordMatch)
		r.Get("/matches/{month}", h.GetMatch)
	})

	r.Post("/refunds/run", h.RunRefunds)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListTiers handles GET /tiers
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, catalog.All())
}

// QuotePasses handles POST /users/{user_id}/passes/quote
func (h *Handler) QuotePasses(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "user_id")

	tier, months, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}

	result, err := h.service.ResolveConflicts(r.Context(), userID, tier, months)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// purchaseReplay is what the replay cache stores for one Idempotency-Key.
type purchaseReplay struct {
	Status int                   `json:"status"`
	Result models.PurchaseResult `json:"result"`
}

// PurchasePasses handles POST /users/{user_id}/passes
//
// A fully blocked selection answers 409 with the typed result. With an
// Idempotency-Key the first completed answer is replayed for later retries.
func (h *Handler) PurchasePasses(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "user_id")

	key := validation.SanitizeString(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLength {
		h.respondError(w, http.StatusBadRequest, IdempotencyKeyHeader+" is too long")
		return
	}
	replay := key != "" && h.features.IsEnabled(features.FeatureIdempotentPurchases)
	cacheKey := cache.PurchaseKey(userID, key)

	if replay {
		var stored purchaseReplay
		err := cache.GetJSON(r.Context(), h.cache, cacheKey, &stored)
		switch {
		case err == nil:
			w.Header().Set(ReplayedHeader, "true")
			h.respondJSON(w, stored.Status, stored.Result)
			return
		case !errors.Is(err, cache.ErrNotFound):
			log.Warn().Err(err).Str("user_id", userID).Msg("purchase replay lookup failed")
		}
	}

	tier, months, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}

	result, err := h.service.Purchase(r.Context(), userID, tier, months)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Rejected {
		status = http.StatusConflict
	}

	if replay {
		stored := purchaseReplay{Status: status, Result: result}
		if err := cache.SetJSON(r.Context(), h.cache, cacheKey, stored, h.replayTTL); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to store purchase replay")
		}
	}

	h.respondJSON(w, status, result)
}

// ListPasses handles GET /users/{user_id}/passes
func (h *Handler) ListPasses(w http.ResponseWriter, r *http.Request) {
	passes, err := h.service.ListPasses(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, passes)
}

// GetPass handles GET /users/{user_id}/passes/{month}
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	pass, err := h.service.GetPassForMonth(r.Context(), urlParam(r, "user_id"), urlParam(r, "month"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if pass == nil {
		h.respondError(w, http.StatusNotFound, "no active pass for month")
		return
	}
	h.respondJSON(w, http.StatusOK, pass)
}

// GetPassHistory handles GET /users/{user_id}/passes/{month}/history
//
// Every pass held for the month is returned oldest first, so an upgrade
// chain reads from the original purchase to the live pass.
func (h *Handler) GetPassHistory(w http.ResponseWriter, r *http.Request) {
	passes, err := h.service.PassHistory(r.Context(), urlParam(r, "user_id"), urlParam(r, "month"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, passes)
}

// AddCompanion handles POST /users/{user_id}/passes/{month}/companions
func (h *Handler) AddCompanion(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "user_id")
	m := urlParam(r, "month")

	ok, err := h.service.IncrementCompanionCount(r.Context(), userID, m)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	pass, err := h.service.GetPassForMonth(r.Context(), userID, m)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if pass == nil {
		h.respondError(w, http.StatusNotFound, "no active pass for month")
		return
	}
	if !ok {
		h.respondError(w, http.StatusConflict, "companion capacity reached for month")
		return
	}

	h.respondJSON(w, http.StatusOK, models.CompanionIncrementResponse{Month: m, Pass: *pass})
}

// GetCompanionMonths handles GET /users/{user_id}/companions/{type}/months
func (h *Handler) GetCompanionMonths(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "user_id")

	c, err := validation.ValidateCompanionType(urlParam(r, "type"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	months, err := h.service.GetMonthsForCompanionType(r.Context(), userID, c)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.CompanionMonthsResponse{
		UserID:        userID,
		CompanionType: c,
		Months:        months,
	})
}

// GetCompanionAccess handles GET /users/{user_id}/companions/{type}/access?month=YYYY-MM
func (h *Handler) GetCompanionAccess(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "user_id")
	m := validation.SanitizeString(r.URL.Query().Get("month"))

	c, err := validation.ValidateCompanionType(urlParam(r, "type"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	allowed, err := h.service.CanAccessCompanionForMonth(r.Context(), userID, m, c)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.CompanionAccessResponse{
		UserID:        userID,
		Month:         m,
		CompanionType: c,
		Allowed:       allowed,
	})
}

// ListTransactions handles GET /users/{user_id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.service.ListTransactions(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, txns)
}

// RecordMatch handles PUT /users/{user_id}/matches/{month}
func (h *Handler) RecordMatch(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.MatchedWithUserID != nil {
		id := validation.SanitizeString(*req.MatchedWithUserID)
		req.MatchedWithUserID = &id
	}
	if err := validation.ValidateStruct(req); err != nil {
		h.respondServiceError(w, err)
		return
	}

	status, report, err := h.service.RecordMatch(r.Context(), urlParam(r, "user_id"), urlParam(r, "month"), models.MatchUpdate{
		Matched:           req.Matched,
		MatchedAt:         req.MatchedAt,
		MatchedWithUserID: req.MatchedWithUserID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.MatchRecordedResponse{Status: status, Refunds: report})
}

// GetMatch handles GET /users/{user_id}/matches/{month}
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	ms, err := h.service.GetMatchStatus(r.Context(), urlParam(r, "user_id"), urlParam(r, "month"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if ms == nil {
		h.respondError(w, http.StatusNotFound, "no match status for month")
		return
	}
	h.respondJSON(w, http.StatusOK, ms)
}

// RunRefunds handles POST /refunds/run
func (h *Handler) RunRefunds(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ProcessAllRefunds(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// decodeQuote reads and validates a QuoteRequest body.
func (h *Handler) decodeQuote(w http.ResponseWriter, r *http.Request) (catalog.TierID, []string, bool) {
	var req models.QuoteRequest
	if !h.decodeJSON(w, r, &req) {
		return "", nil, false
	}

	req.Tier = validation.SanitizeString(req.Tier)
	for i := range req.Months {
		req.Months[i] = validation.SanitizeString(req.Months[i])
	}

	if err := validation.ValidateStruct(req); err != nil {
		h.respondServiceError(w, err)
		return "", nil, false
	}
	tier, err := validation.ValidateTier(req.Tier)
	if err != nil {
		h.respondServiceError(w, err)
		return "", nil, false
	}
	return tier, req.Months, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

func urlParam(r *http.Request, name string) string {
	return validation.SanitizeString(chi.URLParam(r, name))
}

// respondServiceError maps a service error onto a status code. Internal
// errors are logged and hidden from the client.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case validation.IsValidationError(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	default:
		log.Error().Err(err).Msg("request failed")
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
