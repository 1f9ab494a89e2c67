package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vocdoni/maci-payout/indexer"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/storage"
	"github.com/vocdoni/maci-payout/tally"
)

// Distributions resolves the distribution engine of a poll.
type Distributions interface {
	Distribution(pollID uint64) (*tally.Engine, bool)
}

// Engines is a fixed set of distribution engines indexed by poll.
type Engines map[uint64]*tally.Engine

// Distribution implements Distributions.
func (e Engines) Distribution(pollID uint64) (*tally.Engine, bool) {
	eng, ok := e[pollID]
	return eng, ok
}

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host          string
	Port          int
	Storage       *storage.Storage
	Distributions Distributions
	// Indexer serves the round and project entities. Optional.
	Indexer *indexer.Indexer
	// Metrics is exposed on MetricsEndpoint when set.
	Metrics prometheus.Gatherer
}

// API type represents the API HTTP server.
type API struct {
	router        *chi.Mux
	storage       *storage.Storage
	distributions Distributions
	indexer       *indexer.Indexer
	metrics       prometheus.Gatherer

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API instance with the given configuration. The server
// is not started until Start is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	a := &API{
		storage:       conf.Storage,
		distributions: conf.Distributions,
		indexer:       conf.Indexer,
		metrics:       conf.Metrics,
	}
	if a.distributions == nil {
		a.distributions = Engines{}
	}
	a.initRouter()
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Start listens on the configured address and serves in background.
func (a *API) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return fmt.Errorf("API server already running")
	}
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	log.Infow("starting API server", "addr", ln.Addr().String())
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw(err, "API server stopped")
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or nil if not started.
func (a *API) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Stop gracefully shuts the server down.
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	a.listener = nil
	return a.server.Shutdown(ctx)
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	if a.metrics != nil {
		log.Infow("register handler", "endpoint", MetricsEndpoint, "method", "GET")
		a.router.Handle(MetricsEndpoint, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}
	for _, h := range []struct {
		method, endpoint string
		fn               http.HandlerFunc
	}{
		{http.MethodGet, PollsEndpoint, a.polls},
		{http.MethodGet, PollEndpoint, a.poll},
		{http.MethodGet, DistributionEndpoint, a.distribution},
		{http.MethodGet, AlphaEndpoint, a.alpha},
		{http.MethodGet, AllocationEndpoint, a.allocation},
		{http.MethodGet, ClaimsEndpoint, a.claims},
		{http.MethodPost, ClaimsEndpoint, a.newClaim},
		{http.MethodGet, ClaimEndpoint, a.claim},
		{http.MethodGet, DepositsEndpoint, a.deposits},
		{http.MethodGet, EventsEndpoint, a.events},
		{http.MethodGet, RoundEndpoint, a.round},
		{http.MethodGet, ProjectsEndpoint, a.projects},
		{http.MethodGet, ProjectEndpoint, a.project},
	} {
		log.Infow("register handler", "endpoint", h.endpoint, "method", h.method)
		a.router.Method(h.method, h.endpoint, h.fn)
	}
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
