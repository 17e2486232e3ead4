package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/manager"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	cfg := config.DefaultPoolConfig()
	cfg.ConnectionTimeout = 200 * time.Millisecond
	cfg.HealthCheckInterval = time.Hour

	m, err := manager.New(
		map[pool.ConnectionType]config.PoolConfig{"cache": cfg, "analytics": cfg},
		map[pool.ConnectionType]pool.ResourceFactory{
			"cache": pool.FactoryFuncs{
				CreateFunc: func(ctx context.Context) (any, error) { return "conn", nil },
				CloseFunc:  func(any) {},
			},
			"analytics": pool.FactoryFuncs{
				CreateFunc: func(ctx context.Context) (any, error) { return "conn", nil },
				CloseFunc:  func(any) {},
			},
		},
		manager.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m
}

func TestHealthzEndpoint(t *testing.T) {
	m := testManager(t)
	h := newHandler(m, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["cache"].Status)

	p, _ := m.Pool("analytics")
	for i := 0; i < config.DefaultPoolConfig().CircuitFailureThreshold; i++ {
		p.Breaker().RecordFailure()
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPoolsAndStatusEndpoints(t *testing.T) {
	h := newHandler(testManager(t), zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pools", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pools map[string]struct {
		Idle    int    `json:"idle"`
		MaxSize int    `json:"max_size"`
		Health  string `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pools))
	assert.Equal(t, 1, pools["cache"].Idle)
	assert.Equal(t, 10, pools["cache"].MaxSize)
	assert.Equal(t, "unknown", pools["cache"].Health)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pid"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "connmgr_pool_connections")
}

func TestConfigInitCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init"})
	require.NoError(t, root.Execute())

	path := filepath.Join(t.TempDir(), "connmgr.yaml")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Example().BackendNames(), cfg.BackendNames())
}

func TestCheckCommandWithSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: error
backends:
  local:
    kind: sqlite
    dsn: `+filepath.Join(dir, "local.db")+`
    pool:
      min_size: 1
      max_size: 2
`), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"check", "--config", path})
	err := root.Execute()
	if err != nil && bytes.Contains(out.Bytes(), []byte("cgo")) {
		t.Skip("sqlite3 driver requires cgo")
	}
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"local"`)
}
