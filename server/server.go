package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tlsn-notary/notary"
	"tlsn-notary/proofverifier"
	"tlsn-notary/receipt"
	"tlsn-notary/shared"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options wires the service's collaborators.
type Options struct {
	// VerifyKey is the notary key /verify and /ws check proofs against.
	VerifyKey notary.PublicKey
	// Source backs GET /proof. The route answers 503 when nil.
	Source ProofSource
	// ProofCacheTTL defaults to ten minutes.
	ProofCacheTTL time.Duration
	// Receipts, when set, adds a signed receipt to every /verify success.
	Receipts *receipt.Issuer
	// AllowedOrigins lists the browser origins allowed to call the HTTP
	// routes. Empty allows any origin.
	AllowedOrigins []string
	Logger         *shared.Logger
}

// Server is the notary HTTP service.
type Server struct {
	key      notary.PublicKey
	verifier *proofverifier.Verifier
	proofs   *ProofCache
	receipts *receipt.Issuer
	origins  []string
	metrics  *Metrics
	logger   *shared.Logger
}

// New builds a server from opts.
func New(opts Options) (*Server, error) {
	if opts.VerifyKey == nil {
		return nil, errors.New("notary verification key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	ttl := opts.ProofCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		key:      opts.VerifyKey,
		verifier: proofverifier.New(proofverifier.WithLogger(logger)),
		receipts: opts.Receipts,
		origins:  origins,
		metrics:  NewMetrics(),
		logger:   logger,
	}
	if opts.Source != nil {
		s.proofs = NewProofCache(opts.Source, ttl, s.metrics, logger)
	}
	return s, nil
}

// Start launches background work owned by the server.
func (s *Server) Start(ctx context.Context) error {
	if s.proofs == nil {
		return nil
	}
	return s.proofs.Start(ctx)
}

// Shutdown stops background work.
func (s *Server) Shutdown() {
	if s.proofs != nil {
		s.proofs.Shutdown()
	}
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Router returns the HTTP handler for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Service", "tlsn-notary")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Get("/proof", s.handleProof)
	r.Post("/verify", s.handleVerify)
	r.Get("/ws", s.handleWebSocket)

	return r
}

// NewHTTPServer wraps handler with the service's timeouts.
func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) logRequest(r *http.Request) *zap.Logger {
	return s.logger.WithConnection(r.RemoteAddr).With(zap.String("request_id", middleware.GetReqID(r.Context())))
}
