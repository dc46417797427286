package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/core/factory"
	coremetrics "github.com/kilianp07/tasmota-bridge/core/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"
	cfg.History.Enabled = true
	cfg.History.Backend = "jsonl"
	cfg.History.Path = filepath.Join(t.TempDir(), "history.jsonl")
	cfg.Publish.Enabled = true
	cfg.API.Token = "secret"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.NotNil(t, svc.Bridge)
	assert.NotNil(t, svc.store)
	assert.NotNil(t, svc.pub)
	assert.IsType(t, coremetrics.NopSink{}, svc.sink)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestNewRejectsUnknownSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "carrier-pigeon"}}
	_, err := New(cfg)
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}

func TestNewWithoutHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.Nil(t, svc.store)
}
