package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"saferecovery/gateway/middleware"
	"saferecovery/safe/delay"
	"saferecovery/safe/multisend"
)

// Rate limit buckets used by the recovery API.
const (
	RateLimitQueue = "queue"
	RateLimitPlan  = "plan"
)

// QueueReconstructor rebuilds a Delay module queue on demand.
type QueueReconstructor interface {
	Reconstruct(ctx context.Context, req delay.Request) (*delay.Queue, error)
}

// SnapshotSource exposes the latest monitor observations.
type SnapshotSource interface {
	Snapshots() []WalletSnapshot
}

type Config struct {
	// ChainID is the chain served by Reconstructor.
	ChainID       uint64
	IndexerURL    string
	QueueTimeout  time.Duration
	Reconstructor QueueReconstructor
	Registry      *multisend.Registry
	Snapshots     SnapshotSource
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Reconstructor == nil {
		return nil, errors.New("routes: reconstructor required")
	}
	if cfg.Registry == nil {
		registry, err := multisend.DefaultRegistry()
		if err != nil {
			return nil, err
		}
		cfg.Registry = registry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handlers{cfg: cfg, logger: cfg.Logger.With(slog.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer, middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1/wallets", func(sr chi.Router) {
		sr.With(h.guard("wallets", RateLimitQueue, middleware.ScopeRead)...).Get("/", h.listWallets)
		sr.With(h.guard("recovery_queue", RateLimitQueue, middleware.ScopeRead)...).Get("/{wallet}/recovery-queue", h.recoveryQueue)
		sr.With(h.guard("owner_plan", RateLimitPlan, middleware.ScopePlan)...).Post("/{wallet}/owner-plan", h.ownerPlan)
	})
	return r, nil
}

type handlers struct {
	cfg    Config
	logger *slog.Logger
}

func (h *handlers) guard(route, bucket, scope string) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if h.cfg.Observability != nil {
		chain = append(chain, h.cfg.Observability.Middleware(route))
	}
	if h.cfg.RateLimiter != nil {
		chain = append(chain, h.cfg.RateLimiter.Middleware(bucket))
	}
	if h.cfg.Authenticator != nil {
		chain = append(chain, h.cfg.Authenticator.Middleware(scope))
	}
	return chain
}
