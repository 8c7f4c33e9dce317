package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/costgate/internal/clock"
	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/counter"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/circuit"
	"mercator-hq/costgate/pkg/limits/ratelimit"
	"mercator-hq/costgate/pkg/limits/storage"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	clock   *clock.Manual
	handler http.Handler
}

type fixtureOptions struct {
	rate    ratelimit.Config
	circuit circuit.Config
}

func newAPIFixture(t *testing.T, opts fixtureOptions) *apiFixture {
	t.Helper()

	clk := clock.NewManual(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counters := counter.NewMemoryStoreWithConfig(counter.MemoryStoreConfig{Clock: clk})
	t.Cleanup(func() { counters.Close() })
	store := storage.NewMemoryStore()

	registry, err := budget.NewRegistry(budget.RegistryConfig{Repository: store, Clock: clk, Logger: logger})
	require.NoError(t, err)
	tracker, err := budget.NewTracker(budget.TrackerConfig{
		Registry: registry,
		Ledger:   store,
		Counters: counters,
		Clock:    clk,
		Logger:   logger,
	})
	require.NoError(t, err)
	circuits, err := circuit.NewManager(counters, opts.circuit, circuit.WithClock(clk), circuit.WithLogger(logger))
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(counters, opts.rate, ratelimit.WithClock(clk), ratelimit.WithLogger(logger))
	require.NoError(t, err)
	gateway, err := limits.NewGateway(limits.GatewayConfig{
		Circuits: circuits,
		Limiter:  limiter,
		Registry: registry,
		Tracker:  tracker,
		Metrics:  limits.NewMetrics(prometheus.NewRegistry()),
		Clock:    clk,
		Logger:   logger,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	Register(mux, Dependencies{
		Registry: registry,
		Tracker:  tracker,
		Gateway:  gateway,
		Circuits: circuits,
		Clock:    clk,
		Logger:   logger,
	})
	return &apiFixture{clock: clk, handler: mux}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func (f *apiFixture) createBudget(t *testing.T, body string) *budget.Definition {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/budgets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*budget.Definition](t, rec)
}

const orgBudget = `{
	"name": "Acme",
	"scope": {"type": "organization", "id": "o1"},
	"amount": 1000,
	"currency": "USD",
	"period": "monthly",
	"start_date": "2026-03-01T00:00:00Z"
}`

func teamBudget(parentID string) string {
	return `{
		"name": "Platform",
		"scope": {"type": "team", "id": "t1"},
		"amount": 100,
		"currency": "USD",
		"period": "monthly",
		"start_date": "2026-03-01T00:00:00Z",
		"alerts": [{"threshold": 20, "actions": ["notify"]}],
		"parent_budget_id": "` + parentID + `"
	}`
}

// =============================================================================
// Budgets
// =============================================================================

func TestBudgets_CRUD(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/budgets", orgBudget)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[*budget.Definition](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "/budgets/"+created.ID, rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/budgets/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme", decode[*budget.Definition](t, rec).Name)

	rec = f.do(t, http.MethodPut, "/budgets/"+created.ID, `{"amount": 2000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2000.0, decode[*budget.Definition](t, rec).Amount)

	rec = f.do(t, http.MethodGet, "/budgets/scope/organization/o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[types.BudgetListResponse](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodDelete, "/budgets/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/budgets/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/budgets/scope/organization/o1", "")
	assert.Equal(t, 0, decode[types.BudgetListResponse](t, rec).Count)
}

func TestBudgets_Errors(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	parent := f.createBudget(t, orgBudget)
	f.createBudget(t, teamBudget(parent.ID))

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantType string
	}{
		{"missing budget", http.MethodGet, "/budgets/nope", "", http.StatusNotFound, types.ErrorTypeNotFound},
		{"invalid JSON", http.MethodPost, "/budgets", `{"name":`, http.StatusBadRequest, types.ErrorTypeInvalidRequest},
		{"empty body", http.MethodPost, "/budgets", "", http.StatusBadRequest, types.ErrorTypeInvalidRequest},
		{"unknown field", http.MethodPost, "/budgets", `{"nmae": "x"}`, http.StatusBadRequest, types.ErrorTypeInvalidRequest},
		{"invalid definition", http.MethodPost, "/budgets", `{"name": "", "amount": -1}`, http.StatusUnprocessableEntity, types.ErrorTypeValidation},
		{"invalid update", http.MethodPut, "/budgets/" + parent.ID, `{"amount": 0}`, http.StatusUnprocessableEntity, types.ErrorTypeValidation},
		{"update missing", http.MethodPut, "/budgets/nope", `{"amount": 5}`, http.StatusNotFound, types.ErrorTypeNotFound},
		{"delete parent with child", http.MethodDelete, "/budgets/" + parent.ID, "", http.StatusConflict, types.ErrorTypeConflict},
		{"invalid scope type", http.MethodGet, "/budgets/scope/galaxy/g1", "", http.StatusUnprocessableEntity, types.ErrorTypeValidation},
		{"invalid include_inactive", http.MethodGet, "/budgets/scope/team/t1?include_inactive=maybe", "", http.StatusUnprocessableEntity, types.ErrorTypeValidation},
		{"invalid since", http.MethodGet, "/budgets/" + parent.ID + "/usage?since=yesterday", "", http.StatusUnprocessableEntity, types.ErrorTypeValidation},
		{"non-numeric threshold", http.MethodPost, "/budgets/" + parent.ID + "/alerts/high/acknowledge", "", http.StatusUnprocessableEntity, types.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			resp := decode[types.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantType, resp.Error.Type)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestBudgets_ValidationFields(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/budgets", `{"name": "", "scope": {"type": "team", "id": "t1"}, "amount": 10, "currency": "usd", "period": "monthly", "start_date": "2026-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[types.ErrorResponse](t, rec)
	fields := make([]string, 0, len(resp.Error.Fields))
	for _, fe := range resp.Error.Fields {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "name")
}

func TestBudgets_UsageStatusAndAlerts(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	parent := f.createBudget(t, orgBudget)
	team := f.createBudget(t, teamBudget(parent.ID))

	rec := f.do(t, http.MethodPost, "/budgets/"+team.ID+"/usage", `{"amount": 25, "metadata": {"provider_id": "openai"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	usage := decode[*budget.UsageRecord](t, rec)
	assert.Equal(t, "USD", usage.Currency)
	assert.Equal(t, "api", usage.Source)

	rec = f.do(t, http.MethodGet, "/budgets/"+team.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[budget.StatusInfo](t, rec)
	assert.InDelta(t, 25.0, status.CurrentAmount, 1e-9)
	assert.InDelta(t, 25.0, status.PercentUsed, 1e-9)
	require.Len(t, status.ActiveAlerts, 1)
	assert.False(t, status.ActiveAlerts[0].Acknowledged)

	// Usage cascades to the parent budget.
	rec = f.do(t, http.MethodGet, "/budgets/"+parent.ID+"/status", "")
	assert.InDelta(t, 25.0, decode[budget.StatusInfo](t, rec).CurrentAmount, 1e-9)

	rec = f.do(t, http.MethodGet, "/budgets/"+team.ID+"/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[types.UsageListResponse](t, rec)
	assert.Equal(t, 1, list.Count)
	assert.InDelta(t, 25.0, list.Total, 1e-9)

	rec = f.do(t, http.MethodGet, "/budgets/"+team.ID+"/usage?since=2026-03-11T00:00:00Z", "")
	assert.Equal(t, 0, decode[types.UsageListResponse](t, rec).Count)

	rec = f.do(t, http.MethodPost, "/budgets/"+team.ID+"/alerts/20/acknowledge", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/budgets/"+team.ID+"/status", "")
	status = decode[budget.StatusInfo](t, rec)
	require.Len(t, status.ActiveAlerts, 1)
	assert.True(t, status.ActiveAlerts[0].Acknowledged)

	rec = f.do(t, http.MethodPost, "/budgets/"+team.ID+"/alerts/55/acknowledge", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/budgets/"+team.ID+"/usage", `{"amount": 5, "currency": "EUR"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBudgets_CheckConstraints(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	parent := f.createBudget(t, orgBudget)
	team := f.createBudget(t, teamBudget(parent.ID))

	rec := f.do(t, http.MethodPost, "/budgets/"+team.ID+"/usage", `{"amount": 25}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name        string
		estimate    string
		wantCode    int
		wantProceed bool
	}{
		{"fits", `{"estimated_cost": 75}`, http.StatusOK, true},
		{"exceeds", `{"estimated_cost": 80}`, http.StatusOK, false},
		{"negative", `{"estimated_cost": -1}`, http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/budgets/"+team.ID+"/check-constraints", tt.estimate)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			check := decode[budget.ConstraintCheck](t, rec)
			assert.Equal(t, tt.wantProceed, check.CanProceed)
			assert.Equal(t, []string{"notify"}, check.SuggestedActions)
		})
	}
}

// =============================================================================
// Admission
// =============================================================================

func TestAdmission_RateLimitRetryAfter(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{
		rate: ratelimit.Config{Global: &ratelimit.Limit{Requests: 1, Window: time.Minute}},
	})
	body := `{"provider_id": "openai", "scope": {"user_id": "u1"}, "estimated_cost": 0.01}`

	rec := f.do(t, http.MethodPost, "/admission/check", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[types.AdmitResponse](t, rec).Allow)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodPost, "/admission/check", body)
	require.Equal(t, http.StatusOK, rec.Code)
	raw := rec.Body.String()
	resp := decode[types.AdmitResponse](t, rec)
	assert.False(t, resp.Allow)
	assert.Equal(t, limits.RejectedByRateLimit, resp.RejectedBy)
	assert.Equal(t, ratelimit.TierGlobal, resp.Tier)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Positive(t, resp.RetryAfterSeconds)

	// The wait is exposed in milliseconds, never as a raw duration.
	assert.Contains(t, raw, `"retry_after_ms":`)
	assert.NotContains(t, raw, `"retry_after":`)
	assert.Positive(t, resp.RetryAfterMs)
	assert.LessOrEqual(t, resp.RetryAfterMs, int64(60_000))
	assert.Equal(t, time.Duration(resp.RetryAfterMs)*time.Millisecond, resp.Wait())
}

func TestAdmission_Validation(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/admission/check", `{"estimated_cost": 1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/admission/outcome", `{"provider_id": "openai", "latency_ms": -5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/admission/usage", `{"provider_id": "openai", "amount": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdmission_ReportUsage(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})
	parent := f.createBudget(t, orgBudget)
	team := f.createBudget(t, teamBudget(parent.ID))

	body := `{"request_id": "req-1", "provider_id": "openai", "scope": {"team_id": "t1", "organization_id": "o1"}, "amount": 5}`
	rec := f.do(t, http.MethodPost, "/admission/usage", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[types.UsageReportResponse](t, rec).Count)

	// Resubmitting the same request id is idempotent.
	rec = f.do(t, http.MethodPost, "/admission/usage", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	for _, id := range []string{team.ID, parent.ID} {
		rec = f.do(t, http.MethodGet, "/budgets/"+id+"/status", "")
		assert.InDelta(t, 5.0, decode[budget.StatusInfo](t, rec).CurrentAmount, 1e-9, "budget %s", id)
	}
}

func TestAdmission_ErrorRate(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"error_rate": 0.2}`, http.StatusNoContent},
		{"out of range", `{"error_rate": 1.5}`, http.StatusUnprocessableEntity},
		{"missing", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/admission/error-rate", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// Circuits
// =============================================================================

func TestCircuits_TripInspectReset(t *testing.T) {
	f := newAPIFixture(t, fixtureOptions{
		circuit: circuit.Config{Defaults: circuit.Settings{TripThreshold: 1, CoolDown: 30 * time.Second}},
	})

	rec := f.do(t, http.MethodPost, "/admission/outcome", `{"provider_id": "openai", "success": false, "latency_ms": 120}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/circuits/openai", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[types.CircuitResponse](t, rec)
	assert.Equal(t, circuit.StatusOpen, state.Status)
	assert.Equal(t, 1, state.Settings.TripThreshold)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodPost, "/admission/check", `{"provider_id": "openai", "estimated_cost": 0.01}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decision := decode[types.AdmitResponse](t, rec)
	assert.False(t, decision.Allow)
	assert.Equal(t, limits.RejectedByCircuit, decision.RejectedBy)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodPost, "/circuits/openai/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/circuits/openai", "")
	assert.Equal(t, circuit.StatusClosed, decode[types.CircuitResponse](t, rec).Status)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

// =============================================================================
// Error mapping
// =============================================================================

func TestSetRetryAfter_RoundsUp(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, ""},
		{time.Millisecond, "1"},
		{1500 * time.Millisecond, "2"},
		{30 * time.Second, "30"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		setRetryAfter(rec, tt.d)
		assert.Equal(t, tt.want, rec.Header().Get("Retry-After"), "duration %s", tt.d)
	}
}
