package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/upb/medbot/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readinessTimeout bounds the dependency checks of one readiness probe
const readinessTimeout = 5 * time.Second

// IndexChecker reports vector index health
type IndexChecker interface {
	Health(ctx context.Context) error
	Backend() string
}

// ModelChecker reports language model availability
type ModelChecker interface {
	Name() string
	IsAvailable(ctx context.Context) bool
}

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency probe
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthHandler serves the liveness and readiness probes
type HealthHandler struct {
	index     IndexChecker
	generator ModelChecker
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(index IndexChecker, generator ModelChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{index: index, generator: generator, logger: logger}
}

// HandleHealth handles GET /healthz. It never touches dependencies.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz: 200 only when the index answers and
// the language model runtime is reachable. Both probes run concurrently.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		g      errgroup.Group
		checks = make(map[string]CheckResult, 2)
	)
	probe := func(name string, fn func() string) {
		g.Go(func() error {
			start := time.Now()
			status := fn()
			mu.Lock()
			checks[name] = CheckResult{Status: status, LatencyMs: time.Since(start).Milliseconds()}
			mu.Unlock()
			return nil
		})
	}

	probe("index", func() string {
		if h.index == nil {
			return "not_initialized"
		}
		if err := h.index.Health(ctx); err != nil {
			h.logger.Warn("index health check failed",
				zap.String("backend", h.index.Backend()),
				zap.Error(err))
			return "unhealthy"
		}
		return "healthy"
	})
	probe("generator", func() string {
		if h.generator == nil {
			return "not_initialized"
		}
		if !h.generator.IsAvailable(ctx) {
			h.logger.Warn("language model unreachable", zap.String("provider", h.generator.Name()))
			return "unavailable"
		}
		return "available"
	})
	_ = g.Wait()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	code := http.StatusOK
	if checks["index"].Status != "healthy" || checks["generator"].Status != "available" {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, code, utils.SuccessResponse{Data: resp}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// StatusInfo describes the running configuration reported by /api/v1/status
type StatusInfo struct {
	Version        string  `json:"version"`
	Environment    string  `json:"environment"`
	IndexBackend   string  `json:"index_backend"`
	EmbeddingModel string  `json:"embedding_model"`
	LanguageModel  string  `json:"language_model"`
	TopK           int     `json:"top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
	AuthEnabled    bool    `json:"auth_enabled"`
}

// StatusHandler returns application status information
func StatusHandler(info StatusInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, info)
	}
}
