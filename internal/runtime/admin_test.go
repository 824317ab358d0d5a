package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/decodeflow/internal/runtime/catalog"
	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

func TestAdminDecodersEndpoint(t *testing.T) {
	conf := serviceConfig(t)
	conf.MetricsEnabled = true
	svc := newTestService(t, conf, ServiceDependencies{})
	svc.Stage().Process(context.Background(), wrap(t, "meter", 3, "", `{"kwh":1}`))

	rec := httptest.NewRecorder()
	svc.handleGetDecoders(rec, httptest.NewRequest(http.MethodGet, "/api/decoders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view DecodersView
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"source:meter@3"}, view.Identities)
	assert.Equal(t, 1, view.Caches[CacheDecoders].Entries)
	require.NotNil(t, view.Outcomes)
	assert.Equal(t, uint64(1), view.Outcomes.Emitted)
}

func TestAdminDataSourcesEndpoint(t *testing.T) {
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{})
	svc.Stage().Process(context.Background(), wrap(t, "meter", 3, "", `{}`))

	rec := httptest.NewRecorder()
	svc.handleGetDataSources(rec, httptest.NewRequest(http.MethodGet, "/api/datasources", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]catalog.DataSourceMetadata
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ds-meter", body["dataSources"]["source:meter@3"].DataSourceID)
}

func TestAdminRejectsWrites(t *testing.T) {
	svc := newTestService(t, serviceConfig(t), ServiceDependencies{})

	rec := httptest.NewRecorder()
	svc.handleGetDecoders(rec, httptest.NewRequest(http.MethodPost, "/api/decoders", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Allow"))
}

func TestAdminCORS(t *testing.T) {
	conf := serviceConfig(t)
	conf.AdminCORSAllowedOrigins = []string{"https://ops.example.com"}
	svc := newTestService(t, conf, ServiceDependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/decoders", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	svc.handleGetDecoders(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/decoders", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	svc.handleGetDecoders(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetAllowedCORSOriginWildcard(t *testing.T) {
	svc := &Service{Conf: serviceConfig(t)}
	svc.Conf.AdminCORSAllowedOrigins = []string{"*"}

	assert.Equal(t, "*", svc.getAllowedCORSOrigin("https://anything.example.com"))
	assert.Empty(t, (&Service{}).getAllowedCORSOrigin("https://anything.example.com"))
}

func TestStartAdminServerRegistersRoutes(t *testing.T) {
	conf := serviceConfig(t)
	conf.AdminEnabled = true
	svc := newTestService(t, conf, ServiceDependencies{})

	svc.StartAdminServer()

	mux, ok := svc.httpServers[DefaultAdminPort]
	require.True(t, ok)
	_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, "/api/datasources", nil))
	assert.Equal(t, "/api/datasources", pattern)
}
