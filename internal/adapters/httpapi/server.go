// Package httpapi exposes the resolver over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/alejandrodnm/liqshield/internal/application/resolver"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/protection"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Resolver is the subset of *resolver.Service served over HTTP.
type Resolver interface {
	Submit(ctx context.Context, req resolver.SubmitRequest) (string, error)
	List(ctx context.Context) ([]domain.StoredOrder, error)
	Get(ctx context.Context, id string) (domain.StoredOrder, error)
	Fillable(ctx context.Context) (resolver.Evaluation, error)
	Fill(ctx context.Context, id string) (domain.FillResult, error)
	Cancel(ctx context.Context, id string) error
}

// Config configures the HTTP surface.
type Config struct {
	AdminToken         string // empty disables DELETE /orders/{id}
	ChainID            int64  // for the orderHash of serialized orders
	LimitOrderProtocol common.Address
	Deployment         protection.Deployment // batches calling other contracts are flagged
	CORS               CORSConfig
	MetricsHandler     http.Handler // served on /metrics when set
}

// Server holds the router and its dependencies.
type Server struct {
	svc     Resolver
	cfg     Config
	metrics *observability.Metrics
	router  http.Handler
}

// New builds the router.
func New(svc Resolver, cfg Config, metrics *observability.Metrics) *Server {
	s := &Server{svc: svc, cfg: cfg, metrics: metrics}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(s.cfg.CORS))
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}

	r.Post("/submit-order", s.submitOrder)
	r.Get("/orders", s.listOrders)
	r.Get("/orders/{id}", s.getOrder)
	r.Delete("/orders/{id}", s.cancelOrder)
	r.Get("/fillable-orders", s.fillableOrders)
	r.Post("/fill-order/{id}", s.fillOrder)

	return r
}
