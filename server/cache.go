package server

import (
	"context"
	"fmt"
	"time"

	"tlsn-notary/proof"
	"tlsn-notary/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ProofCache memoizes the proofs of a ProofSource by fingerprint. Concurrent
// misses share one build; failed builds are not cached.
type ProofCache struct {
	source  ProofSource
	cache   *shared.MemoryCache[*proof.Proof]
	metrics *Metrics
	logger  *shared.Logger
}

// proofLoadTimeout bounds one notarization run shared by concurrent /proof
// requests.
const proofLoadTimeout = 2 * time.Minute

// NewProofCache wraps source with a TTL cache.
func NewProofCache(source ProofSource, ttl time.Duration, metrics *Metrics, logger *shared.Logger) *ProofCache {
	pc := &ProofCache{source: source, metrics: metrics, logger: logger}
	pc.cache = shared.NewMemoryCache(shared.MemoryCacheConfig[*proof.Proof]{
		TTL:         ttl,
		MaxSize:     16,
		Loader:      shared.LoaderFunc[*proof.Proof](pc.load),
		Logger:      logger,
		LoadTimeout: proofLoadTimeout,
	})
	return pc
}

// Start runs the cache's expiry loop until ctx is done.
func (pc *ProofCache) Start(ctx context.Context) error {
	return pc.cache.Start(ctx)
}

// Shutdown stops the expiry loop.
func (pc *ProofCache) Shutdown() {
	pc.cache.Shutdown()
}

// Get returns the cached proof or builds one.
func (pc *ProofCache) Get(ctx context.Context) (*proof.Proof, error) {
	key := pc.source.Fingerprint()
	if p, ok := pc.cache.Get(key); ok {
		pc.metrics.ProofCacheHits.Inc()
		return p, nil
	}
	return pc.cache.GetOrLoad(ctx, key)
}

// Invalidate drops the cached proof so the next Get rebuilds it.
func (pc *ProofCache) Invalidate() {
	pc.cache.Delete(pc.source.Fingerprint())
}

func (pc *ProofCache) load(ctx context.Context, key string) (*proof.Proof, error) {
	timer := prometheus.NewTimer(pc.metrics.ProofBuildDuration)
	defer timer.ObserveDuration()

	p, err := pc.source.Prove(ctx)
	if err != nil {
		pc.metrics.ProofBuildsTotal.WithLabelValues("error").Inc()
		pc.logger.Error("Failed to build proof", zap.String("fingerprint", key), zap.Error(err))
		return nil, fmt.Errorf("failed to build proof: %w", err)
	}
	pc.metrics.ProofBuildsTotal.WithLabelValues("ok").Inc()
	return p, nil
}
