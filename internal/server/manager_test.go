package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesMetricsAndHealth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chronoflow_batches_total 1"))
	})

	m := NewManager(metrics, Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	code, body := get(t, "http://"+m.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "chronoflow_batches_total")

	code, body = get(t, "http://"+m.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, "http://"+m.Addr()+"/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), Config{Addr: "127.0.0.1:0"}, nil)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_ShutdownWithoutStart(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), DefaultConfig(), nil)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ListenError(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), Config{Addr: "256.0.0.1:99999"}, nil)
	assert.Error(t, m.Start())
}
