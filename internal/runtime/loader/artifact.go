package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/drblury/decodeflow/internal/runtime/catalog"
	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
	"github.com/drblury/decodeflow/internal/runtime/logging"
)

// Resolution steps reported in errors.ResolutionError.Op.
const (
	OpFetchArtifact   = "fetch artifact"
	OpPersistArtifact = "persist artifact"
	OpOpenArtifact    = "open artifact"
	OpInstantiate     = "instantiate decoder"
)

// NewArtifactLoader returns a loader persisting into dir. A nil registry gets
// a fresh one.
func NewArtifactLoader(client catalog.Client, dir string, opener Opener, registry *Registry, logger logging.ServiceLogger) *ArtifactLoader {
	if registry == nil {
		registry = NewRegistry()
	}
	return &ArtifactLoader{Catalog: client, Dir: dir, Opener: opener, Registry: registry, Logger: logger}
}

// ArtifactLoader builds decoders from catalog metadata: it fetches the
// artifact, persists it as Dir/{name}.{ext}, opens it unless its entry point
// is already registered, and instantiates the entry point.
type ArtifactLoader struct {
	Catalog  catalog.Client
	Dir      string
	Opener   Opener
	// Registry must be non-nil; NewArtifactLoader guarantees it.
	Registry *Registry
	// Extension overrides Opener.Extension().
	Extension string
	Logger    logging.ServiceLogger
}

// Load builds a new decoder for meta. identity names the cache key the load
// runs for and only appears in errors and logs. Every failure is an
// *errors.ResolutionError.
func (l *ArtifactLoader) Load(ctx context.Context, identity string, meta catalog.DecoderMetadata) (Decoder, error) {
	fail := func(op string, err error) error {
		return &rterrors.ResolutionError{Identity: identity, Op: op, Err: err}
	}

	log := l.logger().With(logging.LogFields{
		logging.FieldIdentity:   identity,
		logging.FieldEntryPoint: meta.EntryPoint,
		logging.FieldArtifact:   meta.ArtifactLocation,
	})

	path, op, err := l.persist(ctx, meta)
	if err != nil {
		return nil, fail(op, err)
	}
	log.Debug("Decoder artifact persisted", logging.LogFields{"path": path})

	factory, ok := l.Registry.Lookup(meta.EntryPoint)
	if !ok {
		if l.Opener == nil {
			return nil, fail(OpOpenArtifact, fmt.Errorf("%w: %q", rterrors.ErrEntryPointNotFound, meta.EntryPoint))
		}
		opened, err := l.Opener.Open(path, meta.EntryPoint)
		if err != nil {
			return nil, fail(OpOpenArtifact, err)
		}
		factory = l.Registry.LoadOrRegister(meta.EntryPoint, opened)
		log.Debug("Decoder entry point loaded", nil)
	}

	dec, err := instantiate(factory)
	if err != nil {
		return nil, fail(OpInstantiate, err)
	}
	return dec, nil
}

// ArtifactPath returns where the artifact for meta is persisted.
func (l *ArtifactLoader) ArtifactPath(meta catalog.DecoderMetadata) (string, error) {
	name, err := artifactName(meta)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Dir, name+"."+l.extension()), nil
}

// persist returns the artifact path, or the failed step and its error.
func (l *ArtifactLoader) persist(ctx context.Context, meta catalog.DecoderMetadata) (string, string, error) {
	target, err := l.ArtifactPath(meta)
	if err != nil {
		return "", OpPersistArtifact, err
	}

	body, err := l.Catalog.FetchArtifact(ctx, meta.ID)
	if err != nil {
		return "", OpFetchArtifact, err
	}
	defer body.Close()

	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", OpPersistArtifact, err
	}

	// Concurrent loads of one artifact each write their own temp file and
	// rename it into place, so readers never observe a partial artifact.
	tmp, err := os.CreateTemp(l.Dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", OpPersistArtifact, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", OpFetchArtifact, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", OpPersistArtifact, err
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", OpPersistArtifact, err
	}
	return target, "", nil
}

func (l *ArtifactLoader) extension() string {
	if l.Extension != "" {
		return l.Extension
	}
	if l.Opener != nil {
		return l.Opener.Extension()
	}
	return "artifact"
}

func (l *ArtifactLoader) logger() logging.ServiceLogger {
	if l.Logger == nil {
		return logging.Discard()
	}
	return l.Logger
}

func artifactName(meta catalog.DecoderMetadata) (string, error) {
	if meta.Name == "" {
		return "decoder-" + strconv.FormatInt(meta.ID, 10), nil
	}
	name := filepath.Base(filepath.Clean(meta.Name))
	if name != meta.Name || name == "." || name == ".." {
		return "", fmt.Errorf("artifact name %q is not a plain file name", meta.Name)
	}
	return name, nil
}
