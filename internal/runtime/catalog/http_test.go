package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/catalog/decoders/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"entity":{"id":7,"name":"meter-json","entryPoint":"json","artifactLocation":"s3://bucket/meter.jar"}}`)
	})
	mux.HandleFunc("/api/v1/catalog/decoders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sourceId") != "meter" || r.URL.Query().Get("version") != "3" {
			http.Error(w, "no decoder bound", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"entity":{"id":9,"name":"meter-v3","entryPoint":"csv"}}`)
	})
	mux.HandleFunc("/api/v1/catalog/datasources", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"entity":{"dataSourceId":"ds-`+r.URL.Query().Get("sourceId")+`","sourceId":"meter","version":3}}`)
	})
	mux.HandleFunc("/api/v1/catalog/decoders/7/artifact", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "artifact-bytes")
	})
	mux.HandleFunc("/api/v1/catalog/decoders/500", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "catalog exploded", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/v1/catalog/decoders/11", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"other":{}}`)
	})
	mux.HandleFunc("/api/v1/catalog/decoders/12", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"entity":`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientDecoderByID(t *testing.T) {
	srv := newCatalogServer(t)
	client, err := NewHTTPClient(srv.URL + "/")
	require.NoError(t, err)

	meta, err := client.DecoderByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, DecoderMetadata{ID: 7, Name: "meter-json", EntryPoint: "json", ArtifactLocation: "s3://bucket/meter.jar"}, meta)
}

func TestHTTPClientDecoderBySourceAndDataSource(t *testing.T) {
	srv := newCatalogServer(t)
	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	meta, err := client.DecoderBySource(context.Background(), "meter", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(9), meta.ID)
	assert.Equal(t, "csv", meta.EntryPoint)

	ds, err := client.DataSource(context.Background(), "meter", 3)
	require.NoError(t, err)
	assert.Equal(t, DataSourceMetadata{DataSourceID: "ds-meter", SourceID: "meter", Version: 3}, ds)

	_, err = client.DecoderBySource(context.Background(), "meter", 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := newCatalogServer(t)
	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	_, err = client.DecoderByID(context.Background(), 500)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "catalog exploded", statusErr.Body)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestHTTPClientMalformedBodies(t *testing.T) {
	srv := newCatalogServer(t)
	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	_, err = client.DecoderByID(context.Background(), 11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entity")

	_, err = client.DecoderByID(context.Background(), 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: decode")
}

func TestHTTPClientFetchArtifact(t *testing.T) {
	srv := newCatalogServer(t)
	client, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	body, err := client.FetchArtifact(context.Background(), 7)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "artifact-bytes", string(data))

	_, err = client.FetchArtifact(context.Background(), 8)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client, err := NewHTTPClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = client.DecoderByID(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewHTTPClientRejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPClient("catalog.local")
	assert.Error(t, err)

	_, err = NewHTTPClient("http://[::1")
	assert.Error(t, err)
}
