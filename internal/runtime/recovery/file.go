package recovery

import (
	"bufio"
	"context"
	"os"
	"sync"
	"time"

	"github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/internal/runtime/ids"
	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

// Record is one line of a FileHandler journal.
type Record struct {
	ID            string    `json:"id"`
	FailedAt      time.Time `json:"failed_at"`
	Reason        string    `json:"reason,omitempty"`
	Identity      string    `json:"decoder_identity,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       []byte    `json:"payload"`
}

// FileHandler appends rejected payloads as JSON lines to a file.
type FileHandler struct {
	// Path overrides config.Config.RecoveryFile.
	Path string
	Now  func() time.Time

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewFileHandler returns a handler appending to path. An empty path defers
// to the configuration passed to Prepare.
func NewFileHandler(path string) *FileHandler {
	return &FileHandler{Path: path}
}

func (h *FileHandler) Prepare(_ context.Context, cfg config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Path == "" {
		h.Path = cfg.RecoveryFile
	}
	if h.Path == "" {
		return ErrDestinationEmpty
	}
	if h.Now == nil {
		h.Now = time.Now
	}

	f, err := os.OpenFile(h.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.file = f
	h.w = bufio.NewWriter(f)
	return nil
}

// Save appends raw and flushes, so a nil return means the record reached the file.
func (h *FileHandler) Save(ctx context.Context, raw []byte) error {
	rec := Record{Payload: raw}
	if r, ok := RejectionFrom(ctx); ok {
		rec.Reason = r.Reason()
		rec.Identity = r.Identity
		rec.CorrelationID = r.CorrelationID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.w == nil {
		return ErrNotPrepared
	}
	rec.ID = ids.CreateULID()
	rec.FailedAt = h.Now().UTC()

	line, err := jsoncodec.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := h.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return h.w.Flush()
}

func (h *FileHandler) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil
	}
	flushErr := h.w.Flush()
	closeErr := h.file.Close()
	h.file, h.w = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
