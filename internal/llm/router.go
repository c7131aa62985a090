package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/cache"
)

// ErrAllProvidersFailed is the terminal error once every configured provider
// has either failed or been skipped by an open breaker.
var ErrAllProvidersFailed = errors.New("all generation providers failed or unavailable")

// Policy specifies provider priority order and the per-call timeout.
type Policy struct {
	Order       []string
	CallTimeout time.Duration
	MaxTokens   int
}

// Generation is a successful router result.
type Generation struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Cached   bool   `json:"cached"`
}

// Router fails over across generation providers in priority order, guarded
// by the breaker registry and memoized in the shared cache.
type Router struct {
	providers map[string]Provider
	registry  *BreakerRegistry
	store     *cache.Store
	cacheTTL  time.Duration
	logger    *logrus.Logger
}

// NewRouter creates a generation router. The cache store may be nil.
func NewRouter(registry *BreakerRegistry, store *cache.Store, cacheTTL time.Duration, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		providers: make(map[string]Provider),
		registry:  registry,
		store:     store,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Register adds a provider. The dispatch order comes from the Policy, not
// from registration order.
func (r *Router) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Generate walks the policy's provider order and returns the first success.
// Providers with an open breaker are skipped without a network attempt and
// without counting toward their failure threshold. Each provider is tried at
// most once per call.
func (r *Router) Generate(ctx context.Context, prompt string, policy Policy) (*Generation, error) {
	if len(policy.Order) == 0 {
		return nil, fmt.Errorf("%w: empty provider order", ErrAllProvidersFailed)
	}

	var lastErr error
	for _, name := range policy.Order {
		provider, ok := r.providers[name]
		if !ok {
			r.logger.WithField("provider", name).Warn("provider in policy order but not registered")
			continue
		}

		// A cached generation is served even when the breaker is open;
		// no call is attempted and no outcome is reported.
		key := cache.Key("gen", name, prompt)
		if r.store != nil {
			var cached string
			if r.store.Get(ctx, key, &cached) {
				return &Generation{Content: cached, Provider: name, Cached: true}, nil
			}
		}

		breaker := r.registry.Get(name)
		if err := breaker.Allow(); err != nil {
			r.logger.WithField("provider", name).Debug("breaker open, skipping provider")
			lastErr = err
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		}
		resp, err := provider.Complete(callCtx, &Request{Prompt: prompt, MaxTokens: policy.MaxTokens})
		if cancel != nil {
			cancel()
		}
		observeProviderOutcome(name, err)

		if err != nil {
			breaker.ReportFailure()
			r.logger.WithError(err).WithField("provider", name).Warn("provider call failed, trying next")
			lastErr = err
			continue
		}

		breaker.ReportSuccess()
		if r.store != nil {
			r.store.Put(ctx, key, resp.Content, r.cacheTTL)
		}
		return &Generation{Content: resp.Content, Provider: name}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}
