package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

type sourceKey struct {
	sourceID string
	version  int64
}

// Memory is an in-process catalog. It is safe for concurrent use and counts
// the lookups it serves, which makes it the catalog of choice for tests and
// for embedding decodeflow without a catalog service.
type Memory struct {
	mu          sync.RWMutex
	decoders    map[int64]DecoderMetadata
	bySource    map[sourceKey]int64
	dataSources map[sourceKey]DataSourceMetadata
	artifacts   map[int64][]byte

	calls atomic.Int64
}

// NewMemory returns an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		decoders:    make(map[int64]DecoderMetadata),
		bySource:    make(map[sourceKey]int64),
		dataSources: make(map[sourceKey]DataSourceMetadata),
		artifacts:   make(map[int64][]byte),
	}
}

// AddDecoder registers meta together with its artifact bytes.
func (m *Memory) AddDecoder(meta DecoderMetadata, artifact []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decoders[meta.ID] = meta
	m.artifacts[meta.ID] = append([]byte(nil), artifact...)
	return m
}

// BindSource makes DecoderBySource(sourceID, version) return decoder decoderID.
func (m *Memory) BindSource(sourceID string, version int64, decoderID int64) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySource[sourceKey{sourceID, version}] = decoderID
	return m
}

// AddDataSource registers meta under its (SourceID, Version).
func (m *Memory) AddDataSource(meta DataSourceMetadata) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataSources[sourceKey{meta.SourceID, meta.Version}] = meta
	return m
}

// Calls returns the number of lookups served, successful or not.
func (m *Memory) Calls() int64 {
	return m.calls.Load()
}

func (m *Memory) DecoderByID(_ context.Context, id int64) (DecoderMetadata, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.decoders[id]
	if !ok {
		return DecoderMetadata{}, notFound("/decoders/" + strconv.FormatInt(id, 10))
	}
	return meta, nil
}

func (m *Memory) DecoderBySource(_ context.Context, sourceID string, version int64) (DecoderMetadata, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySource[sourceKey{sourceID, version}]
	if !ok {
		return DecoderMetadata{}, notFound(fmt.Sprintf("/decoders?sourceId=%s&version=%d", sourceID, version))
	}
	meta, ok := m.decoders[id]
	if !ok {
		return DecoderMetadata{}, notFound("/decoders/" + strconv.FormatInt(id, 10))
	}
	return meta, nil
}

func (m *Memory) DataSource(_ context.Context, sourceID string, version int64) (DataSourceMetadata, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.dataSources[sourceKey{sourceID, version}]
	if !ok {
		return DataSourceMetadata{}, notFound(fmt.Sprintf("/datasources?sourceId=%s&version=%d", sourceID, version))
	}
	return meta, nil
}

func (m *Memory) FetchArtifact(_ context.Context, decoderID int64) (io.ReadCloser, error) {
	m.calls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	artifact, ok := m.artifacts[decoderID]
	if !ok {
		return nil, notFound("/decoders/" + strconv.FormatInt(decoderID, 10) + "/artifact")
	}
	return io.NopCloser(bytes.NewReader(artifact)), nil
}

func notFound(path string) error {
	return &StatusError{Method: http.MethodGet, URL: "memory:" + apiPrefix + path, Code: http.StatusNotFound}
}
