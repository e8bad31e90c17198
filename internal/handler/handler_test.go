package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/database"
	"duo-pass-api/internal/features"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/service"
)

func setupTestHandler(t *testing.T, flags *features.Manager) (*chi.Mux, *month.FixedClock) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })

	clock := month.Fixed("2026-05")
	svc := service.NewService(db, service.WithClock(&clock))

	opts := DefaultHandlerOptions()
	if flags != nil {
		opts.Features = flags
	}
	h := NewHandlerWithOptions(svc, opts)

	r := chi.NewRouter()
	h.Routes(r)
	return r, &clock
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupTestHandler(t, nil)

	rr := doRequest(t, r, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestListTiers(t *testing.T) {
	r, _ := setupTestHandler(t, nil)

	rr := doRequest(t, r, http.MethodGet, "/tiers", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	tiers := decode[[]catalog.Tier](t, rr)
	require.Len(t, tiers, 3)
	assert.Equal(t, catalog.TierGo, tiers[0].ID)
	assert.Equal(t, int64(1500), tiers[2].Price)
}

func TestQuotePasses(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	userID := uuid.New().String()

	rr := doRequest(t, r, http.MethodPost, "/users/"+userID+"/passes/quote", models.QuoteRequest{
		Tier:   "run",
		Months: []string{"2026-03", "2026-08"},
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decode[models.ConflictResult](t, rr)
	assert.True(t, res.CanProceed)
	assert.Len(t, res.Blocked, 1)
	assert.Len(t, res.Purchasable, 1)
	assert.Equal(t, int64(800), res.TotalPrice)
}

func TestQuotePasses_ValidationErrors(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	path := "/users/" + uuid.New().String() + "/passes/quote"

	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown tier", models.QuoteRequest{Tier: "walk", Months: []string{"2026-08"}}},
		{"no months", models.QuoteRequest{Tier: "go"}},
		{"bad month", models.QuoteRequest{Tier: "go", Months: []string{"2026-8"}}},
		{"empty body", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, r, http.MethodPost, path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestPurchasePasses_CreatesAndUpgrades(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()

	rr := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "go", Months: []string{"2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "run", Months: []string{"2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[models.PurchaseResult](t, rr)
	require.Len(t, res.Committed, 1)
	assert.Equal(t, models.ActionUpgraded, res.Committed[0].Action)
	assert.Equal(t, int64(500), res.TotalCharge)

	rr = doRequest(t, r, http.MethodGet, base+"/passes/2026-06", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pass := decode[models.MonthPass](t, rr)
	assert.Equal(t, catalog.TierRun, pass.Tier)

	rr = doRequest(t, r, http.MethodGet, base+"/passes", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.MonthPass](t, rr), 2)

	rr = doRequest(t, r, http.MethodGet, base+"/transactions", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	txns := decode[[]models.Transaction](t, rr)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(300), txns[0].Amount)
	assert.Equal(t, int64(500), txns[1].Amount)
}

func TestPurchasePasses_AllBlocked(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()

	rr := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "fly", Months: []string{"2026-05"}}, nil)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	res := decode[models.PurchaseResult](t, rr)
	assert.True(t, res.Rejected)
	require.Len(t, res.Blocked, 1)
	assert.Equal(t, models.BlockMonthElapsed, res.Blocked[0].Reason)

	rr = doRequest(t, r, http.MethodGet, base+"/transactions", nil, nil)
	assert.Empty(t, decode[[]models.Transaction](t, rr))
}

func TestPurchasePasses_IdempotencyKeyReplays(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()
	headers := map[string]string{IdempotencyKeyHeader: "order-42"}
	body := models.QuoteRequest{Tier: "go", Months: []string{"2026-06", "2026-07"}}

	first := doRequest(t, r, http.MethodPost, base+"/passes", body, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	second := doRequest(t, r, http.MethodPost, base+"/passes", body, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rr := doRequest(t, r, http.MethodGet, base+"/transactions", nil, nil)
	assert.Len(t, decode[[]models.Transaction](t, rr), 2, "retry must not charge again")
}

func TestPurchasePasses_ReplayDisabledByFlag(t *testing.T) {
	flags := features.NewDefaultManager()
	flags.Disable(features.FeatureIdempotentPurchases)
	r, _ := setupTestHandler(t, flags)
	base := "/users/" + uuid.New().String()
	headers := map[string]string{IdempotencyKeyHeader: "order-42"}

	first := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "go", Months: []string{"2026-06"}}, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "go", Months: []string{"2026-06"}}, headers)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Empty(t, second.Header().Get(ReplayedHeader))
}

func TestGetPass_NotFound(t *testing.T) {
	r, _ := setupTestHandler(t, nil)

	rr := doRequest(t, r, http.MethodGet, "/users/"+uuid.New().String()+"/passes/2026-06", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, r, http.MethodGet, "/users/"+uuid.New().String()+"/passes/june", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddCompanion(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()

	rr := doRequest(t, r, http.MethodPost, base+"/passes/2026-06/companions", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "go", Months: []string{"2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, http.MethodPost, base+"/passes/2026-06/companions", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[models.CompanionIncrementResponse](t, rr)
	assert.Equal(t, 1, res.Pass.CurrentCompanions)

	rr = doRequest(t, r, http.MethodPost, base+"/passes/2026-06/companions", nil, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCompanionEndpoints(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()

	rr := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "run", Months: []string{"2026-07", "2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, http.MethodGet, base+"/companions/certified-nunu/months", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	months := decode[models.CompanionMonthsResponse](t, rr)
	assert.Equal(t, []string{"2026-06", "2026-07"}, months.Months)

	rr = doRequest(t, r, http.MethodGet, base+"/companions/shangzhe/access?month=2026-06", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[models.CompanionAccessResponse](t, rr).Allowed)

	rr = doRequest(t, r, http.MethodGet, base+"/companions/nunu/access?month=2026-06", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[models.CompanionAccessResponse](t, rr).Allowed)

	rr = doRequest(t, r, http.MethodGet, base+"/companions/nunu/access", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, r, http.MethodGet, base+"/companions/tutor/months", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMatchesAndRefunds(t *testing.T) {
	r, clock := setupTestHandler(t, nil)
	userID := uuid.New().String()
	base := "/users/" + userID

	rr := doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "fly", Months: []string{"2026-06", "2026-07"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, http.MethodGet, base+"/matches/2026-06", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[models.MatchStatus](t, rr).Matched)

	rr = doRequest(t, r, http.MethodGet, base+"/matches/2026-09", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, r, http.MethodPut, base+"/matches/2026-07", models.MatchRequest{Matched: true}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	recorded := decode[models.MatchRecordedResponse](t, rr)
	assert.True(t, recorded.Status.Matched)
	assert.Empty(t, recorded.Refunds.Refunded)

	*clock = month.Fixed("2026-07")

	rr = doRequest(t, r, http.MethodPost, "/refunds/run", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[models.RefundReport](t, rr)
	require.Len(t, report.Refunded, 1)
	assert.Equal(t, "2026-06", report.Refunded[0].Month)
	assert.Equal(t, int64(1500), report.Refunded[0].Amount)
	assert.Equal(t, 1, report.Matched)

	rr = doRequest(t, r, http.MethodPost, "/refunds/run", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[models.RefundReport](t, rr).Refunded)
}

func TestRecordMatch_InvalidBody(t *testing.T) {
	r, _ := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPut, "/users/"+uuid.New().String()+"/matches/2026-06", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPassHistory(t *testing.T) {
	r, _ := setupTestHandler(t, nil)
	base := "/users/" + uuid.New().String()

	rr := doRequest(t, r, http.MethodGet, base+"/passes/2026-06/history", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]models.MonthPass](t, rr))

	rr = doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "go", Months: []string{"2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doRequest(t, r, http.MethodPost, base+"/passes", models.QuoteRequest{Tier: "fly", Months: []string{"2026-06"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, r, http.MethodGet, base+"/passes/2026-06/history", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[[]models.MonthPass](t, rr)
	require.Len(t, history, 2)
	assert.Equal(t, catalog.TierGo, history[0].Tier)
	assert.Equal(t, models.PassUpgraded, history[0].Status)
	require.NotNil(t, history[0].UpgradedToID)
	assert.Equal(t, history[1].ID, *history[0].UpgradedToID)
	assert.Equal(t, catalog.TierFly, history[1].Tier)
	assert.Equal(t, models.PassActive, history[1].Status)

	rr = doRequest(t, r, http.MethodGet, base+"/passes/2026-6/history", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
