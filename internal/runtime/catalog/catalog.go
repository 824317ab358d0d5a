// Package catalog is the client side of the decoder catalog: the remote
// service of record for decoder metadata, data-source metadata and decoder
// artifacts.
package catalog

import (
	"context"
	"io"
)

// DecoderMetadata describes how to obtain and instantiate a decoder.
type DecoderMetadata struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// EntryPoint names the factory that builds the decoder once its artifact is loaded.
	EntryPoint string `json:"entryPoint"`
	// ArtifactLocation is informational; artifacts are always fetched by decoder id.
	ArtifactLocation string `json:"artifactLocation,omitempty"`
}

// DataSourceMetadata attributes a (source id, version) pair to a data source.
type DataSourceMetadata struct {
	DataSourceID string `json:"dataSourceId"`
	SourceID     string `json:"sourceId"`
	Version      int64  `json:"version"`
}

// Client looks up catalog entries. Implementations must bound every call in
// time; the stage relies on the client to return rather than hang.
type Client interface {
	DecoderByID(ctx context.Context, id int64) (DecoderMetadata, error)
	DecoderBySource(ctx context.Context, sourceID string, version int64) (DecoderMetadata, error)
	DataSource(ctx context.Context, sourceID string, version int64) (DataSourceMetadata, error)
	// FetchArtifact streams the decoder's artifact. The caller closes it.
	FetchArtifact(ctx context.Context, decoderID int64) (io.ReadCloser, error)
}
