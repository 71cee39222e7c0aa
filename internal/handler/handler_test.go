package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pricegov/internal/bus"
	"pricegov/internal/config"
	"pricegov/internal/connector"
	"pricegov/internal/db"
	"pricegov/internal/governance"
	"pricegov/internal/models"
	"pricegov/internal/pricing"
	"pricegov/internal/protocol"
	gormrepository "pricegov/internal/repository/gorm"
	"pricegov/internal/service"
)

type testEnv struct {
	engine   *gin.Engine
	store    *gormrepository.Store
	settings *service.SettingsService
	bus      *bus.Bus

	mu      sync.Mutex
	fetches []protocol.FetchRequest
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(config.DBConfig{DSN: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))

	store := gormrepository.New(conn.Gorm)
	settings := &service.SettingsService{Repo: store}
	require.NoError(t, settings.EnsureDefaults(context.Background()))

	env := &testEnv{store: store, settings: settings, bus: bus.New(nil, nil)}
	env.bus.Subscribe(protocol.TopicFetchRequest, func(_ context.Context, msg protocol.Message) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.fetches = append(env.fetches, msg.(protocol.FetchRequest))
		return nil
	})
	agent := &governance.Agent{Repo: store, Settings: settings, Bus: env.bus}
	agent.Attach(env.bus)
	optimizer := &pricing.Optimizer{Repo: store, Settings: settings, Bus: env.bus}

	engine := gin.New()
	(&HealthHandler{DB: conn.Gorm, Repo: store, Bus: env.bus, Sources: connector.NewRegistry(connector.NewStaticSource("static"))}).Register(engine)
	(&DecisionsHandler{Repo: store}).Register(engine)
	(&JobsHandler{Repo: store}).Register(engine)
	(&SettingsHandler{Repo: store, Settings: settings}).Register(engine)
	(&TriggersHandler{Bus: env.bus, Optimizer: optimizer, Defaults: config.MarketDataConfig{Market: "EU", Sources: []string{"static"}, Depth: 2}}).Register(engine)
	env.engine = engine
	return env
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var out envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body=%s", w.Body.String())
	}
	return w.Code, out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, code)

	code, out := env.do(t, http.MethodGet, "/api/v1/pipeline", nil)
	require.Equal(t, http.StatusOK, code)
	var data map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.Contains(t, data, "decisions")
	require.Contains(t, data, "sources")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSettingsUpdate(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/api/v1/settings/max_delta", map[string]any{"value": 0.25})
	require.Equal(t, http.StatusOK, code)
	g, err := env.settings.Guardrails(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 0.25, g.MaxDelta, 1e-9)

	code, _ = env.do(t, http.MethodPut, "/api/v1/settings/max_delta", map[string]any{"value": 1.5})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/api/v1/settings/auto_apply", map[string]any{"value": "yes"})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/api/v1/settings/colour", map[string]any{"value": 1})
	require.Equal(t, http.StatusNotFound, code)

	code, out := env.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &items))
	require.Len(t, items, 3)
}

func TestProposalIsGovernedAndVisible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertLedger(ctx, &models.PricingLedger{ProductName: "A", Price: decimal.NewFromInt(100), LastUpdate: time.Now().UTC()}))
	require.NoError(t, env.settings.Set(ctx, service.SettingAutoApply, true))

	code, out := env.do(t, http.MethodPost, "/api/v1/proposals", map[string]any{
		"proposal_id":    "p-api-1",
		"sku":            "A",
		"current_price":  100,
		"proposed_price": 105,
	})
	require.Equal(t, http.StatusAccepted, code, "message=%s", out.Message)

	code, out = env.do(t, http.MethodGet, "/api/v1/decisions/p-api-1", nil)
	require.Equal(t, http.StatusOK, code)
	var row models.DecisionLog
	require.NoError(t, json.Unmarshal(out.Data, &row))
	require.Equal(t, models.DecisionAppliedAuto, row.Status)

	code, out = env.do(t, http.MethodGet, "/api/v1/ledger/A", nil)
	require.Equal(t, http.StatusOK, code)
	var ledger models.PricingLedger
	require.NoError(t, json.Unmarshal(out.Data, &ledger))
	require.True(t, ledger.Price.Equal(decimal.NewFromInt(105)), "price=%s", ledger.Price)

	code, out = env.do(t, http.MethodGet, "/api/v1/decisions?status=APPLIED_AUTO&product_id=A", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, out.Meta["total"])

	code, _ = env.do(t, http.MethodGet, "/api/v1/decisions/missing", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodGet, "/api/v1/decisions?since=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestIncompleteProposalRejected(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/v1/proposals", map[string]any{"sku": "A", "proposed_price": 10})
	require.Equal(t, http.StatusBadRequest, code)
	require.EqualValues(t, 1, env.bus.Stats().Dropped)
}

func TestFetchRequestDefaults(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/fetch-requests", map[string]any{"market": "US"})
	require.Equal(t, http.StatusBadRequest, code)

	code, out := env.do(t, http.MethodPost, "/api/v1/fetch-requests", map[string]any{"sku": "A", "horizon_minutes": 30})
	require.Equal(t, http.StatusAccepted, code)
	var data map[string]string
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.NotEmpty(t, data["request_id"])

	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.fetches, 1)
	got := env.fetches[0]
	require.Equal(t, data["request_id"], got.RequestID)
	require.Equal(t, "EU", got.Market)
	require.Equal(t, []string{"static"}, got.Sources)
	require.Equal(t, 2, got.Depth)
	require.Equal(t, 30, got.HorizonMinutes)
}

func TestOptimizeWithoutDataIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/api/v1/optimize/NOPE", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/optimize/NOPE?algorithm=astrology", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestJobsNotFound(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, out := env.do(t, http.MethodGet, "/api/v1/jobs?status=DONE", nil)
	require.Equal(t, http.StatusOK, code)
	var items []any
	if len(out.Data) > 0 {
		require.NoError(t, json.Unmarshal(out.Data, &items))
	}
	require.Empty(t, items)
}
