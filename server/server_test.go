package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openassist/actionflow/engine"
	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/executor"
	"github.com/openassist/actionflow/engine/metrics"
	"github.com/openassist/actionflow/internal/profile"
	"github.com/openassist/actionflow/internal/version"
)

func newTestServer(t *testing.T, exporter *metrics.Exporter) *Server {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Catalog:  catalog.NewMemoryCatalog(),
		Registry: executor.NewRegistry(),
	})
	require.NoError(t, err)

	s, err := NewServer(context.Background(), &profile.Profile{Mode: "dev"}, nil, eng, exporter)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(context.Background(), &profile.Profile{}, nil, nil, nil)
	assert.Error(t, err)
}

// 测试健康检查返回 JSON，并带上构建版本号。
func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	s.echoServer.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, version.String(), body["version"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, metrics.NewExporter(metrics.DefaultConfig()))

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	s.echoServer.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
