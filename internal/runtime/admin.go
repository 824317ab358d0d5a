package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/decodeflow/internal/runtime/cache"
	"github.com/drblury/decodeflow/internal/runtime/catalog"
	"github.com/drblury/decodeflow/internal/runtime/jsoncodec"
)

// DefaultAdminPort is used when AdminPort is zero.
const DefaultAdminPort = 8081

// DecodersView is the body of GET /api/decoders.
type DecodersView struct {
	Identities []string               `json:"identities"`
	Caches     map[string]cache.Stats `json:"caches"`
	Outcomes   *StageMetricsSnapshot  `json:"outcomes,omitempty"`
}

// StartAdminServer registers the read-only admin endpoints when enabled.
func (s *Service) StartAdminServer() {
	if !s.Conf.AdminEnabled {
		return
	}

	port := s.Conf.AdminPort
	if port == 0 {
		port = DefaultAdminPort
	}

	s.RegisterHTTPHandler(port, "/api/decoders", http.HandlerFunc(s.handleGetDecoders))
	s.RegisterHTTPHandler(port, "/api/datasources", http.HandlerFunc(s.handleGetDataSources))
}

func (s *Service) handleGetDecoders(w http.ResponseWriter, r *http.Request) {
	if s.writeAdminHeaders(w, r) {
		return
	}
	view := DecodersView{
		Identities: s.stage.CachedDecoders(),
		Caches:     s.stage.CacheStats(),
	}
	if s.metrics != nil {
		snapshot := s.metrics.GetSnapshot()
		view.Outcomes = &snapshot
	}
	s.writeJSON(w, view)
}

func (s *Service) handleGetDataSources(w http.ResponseWriter, r *http.Request) {
	if s.writeAdminHeaders(w, r) {
		return
	}
	s.writeJSON(w, map[string]map[string]catalog.DataSourceMetadata{
		"dataSources": s.stage.CachedDataSources(),
	})
}

// writeAdminHeaders sets the content type and CORS headers. It reports true
// when the request was a preflight that has been fully answered.
func (s *Service) writeAdminHeaders(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.AdminCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return true
	case http.MethodGet, http.MethodHead:
		return false
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
