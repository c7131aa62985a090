package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/service/internal/cache"
)

// fakeProvider is a scriptable Provider for router tests.
type fakeProvider struct {
	name    string
	content string
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: f.content}, nil
}

func newTestRouter(t *testing.T, providers ...*fakeProvider) (*Router, *BreakerRegistry) {
	t.Helper()
	registry := NewBreakerRegistry(BreakerConfig{
		FailureThreshold: 2,
		OpenBase:         30 * time.Second,
		OpenMax:          time.Minute,
	})
	router := NewRouter(registry, nil, 0, nil)
	for _, p := range providers {
		router.Register(p)
	}
	return router, registry
}

func testPolicy(order ...string) Policy {
	return Policy{Order: order, CallTimeout: time.Second, MaxTokens: 100}
}

func TestRouter_FirstProviderWins(t *testing.T) {
	primary := &fakeProvider{name: "yandex", content: "from yandex"}
	secondary := &fakeProvider{name: "deepseek", content: "from deepseek"}
	router, _ := newTestRouter(t, primary, secondary)

	gen, err := router.Generate(context.Background(), "prompt", testPolicy("yandex", "deepseek"))
	require.NoError(t, err)
	assert.Equal(t, "yandex", gen.Provider)
	assert.Equal(t, "from yandex", gen.Content)
	assert.Equal(t, 0, secondary.calls)
}

func TestRouter_FailoverToNextProvider(t *testing.T) {
	primary := &fakeProvider{name: "yandex", err: errors.New("upstream 500")}
	secondary := &fakeProvider{name: "deepseek", content: "from deepseek"}
	router, _ := newTestRouter(t, primary, secondary)

	gen, err := router.Generate(context.Background(), "prompt", testPolicy("yandex", "deepseek"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek", gen.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestRouter_SkipsOpenBreakerWithoutCall(t *testing.T) {
	primary := &fakeProvider{name: "yandex", content: "should not be called"}
	secondary := &fakeProvider{name: "deepseek", content: "from deepseek"}
	router, registry := newTestRouter(t, primary, secondary)

	yandexBreaker := registry.Get("yandex")
	yandexBreaker.ReportFailure()
	yandexBreaker.ReportFailure()
	require.Equal(t, CircuitOpen, yandexBreaker.State())

	gen, err := router.Generate(context.Background(), "prompt", testPolicy("yandex", "deepseek"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek", gen.Provider)
	assert.Equal(t, 0, primary.calls)

	// Skipping must not change the failure count.
	assert.Equal(t, 2, yandexBreaker.Stats().ConsecutiveFailures)
}

func TestRouter_AllProvidersFail(t *testing.T) {
	a := &fakeProvider{name: "yandex", err: errors.New("down")}
	b := &fakeProvider{name: "deepseek", err: errors.New("also down")}
	router, _ := newTestRouter(t, a, b)

	gen, err := router.Generate(context.Background(), "prompt", testPolicy("yandex", "deepseek"))
	assert.Nil(t, gen)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestRouter_AllBreakersOpen(t *testing.T) {
	a := &fakeProvider{name: "yandex"}
	b := &fakeProvider{name: "deepseek"}
	router, registry := newTestRouter(t, a, b)

	for _, name := range []string{"yandex", "deepseek"} {
		cb := registry.Get(name)
		cb.ReportFailure()
		cb.ReportFailure()
	}

	_, err := router.Generate(context.Background(), "prompt", testPolicy("yandex", "deepseek"))
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestRouter_EmptyPolicyOrder(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{name: "yandex"})
	_, err := router.Generate(context.Background(), "prompt", Policy{})
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestRouter_UnregisteredProviderSkipped(t *testing.T) {
	secondary := &fakeProvider{name: "deepseek", content: "ok"}
	router, _ := newTestRouter(t, secondary)

	gen, err := router.Generate(context.Background(), "prompt", testPolicy("ghost", "deepseek"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek", gen.Provider)
}

func TestRouter_EachProviderTriedOnce(t *testing.T) {
	a := &fakeProvider{name: "yandex", err: errors.New("down")}
	router, _ := newTestRouter(t, a)

	_, err := router.Generate(context.Background(), "prompt", testPolicy("yandex"))
	assert.Error(t, err)
	assert.Equal(t, 1, a.calls)
}

// stalledProvider hangs until the per-call timeout cancels the context.
type stalledProvider struct {
	name  string
	calls int
}

func (s *stalledProvider) Name() string { return s.name }

func (s *stalledProvider) Complete(ctx context.Context, _ *Request) (*Response, error) {
	s.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouter_TimeoutsOpenBreakerThenSingleTrial(t *testing.T) {
	primary := &stalledProvider{name: "yandex"}
	secondary := &fakeProvider{name: "deepseek", content: "from deepseek"}
	router, registry := newTestRouter(t)
	router.Register(primary)
	router.Register(secondary)

	policy := Policy{
		Order:       []string{"yandex", "deepseek"},
		CallTimeout: 50 * time.Millisecond,
		MaxTokens:   100,
	}
	ctx := context.Background()

	// Two timed-out calls count as breaker failures and open the circuit.
	for i := 0; i < 2; i++ {
		gen, err := router.Generate(ctx, "prompt", policy)
		require.NoError(t, err)
		assert.Equal(t, "deepseek", gen.Provider)
	}
	cb := registry.Get("yandex")
	require.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 2, primary.calls)

	// While open, requests go straight to the secondary.
	for i := 0; i < 3; i++ {
		gen, err := router.Generate(ctx, "prompt", policy)
		require.NoError(t, err)
		assert.Equal(t, "deepseek", gen.Provider)
	}
	assert.Equal(t, 2, primary.calls)

	// Once the open window elapses, exactly one trial call is admitted.
	shifted := time.Now().Add(31 * time.Second)
	cb.now = func() time.Time { return shifted }

	gen, err := router.Generate(ctx, "prompt", policy)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", gen.Provider)
	assert.Equal(t, 3, primary.calls)

	// The failed trial re-opens the circuit with a doubled window.
	require.Equal(t, CircuitOpen, cb.State())
	gen, err = router.Generate(ctx, "prompt", policy)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", gen.Provider)
	assert.Equal(t, 3, primary.calls)
}

func setupRouterWithCache(t *testing.T, providers ...*fakeProvider) (*Router, *BreakerRegistry, *cache.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	store := cache.New(client, nil)

	registry := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, OpenBase: 30 * time.Second, OpenMax: time.Minute})
	router := NewRouter(registry, store, 30*time.Minute, nil)
	for _, p := range providers {
		router.Register(p)
	}
	return router, registry, store
}

func TestRouter_CachesSuccessfulGeneration(t *testing.T) {
	provider := &fakeProvider{name: "yandex", content: "answer"}
	router, _, _ := setupRouterWithCache(t, provider)
	ctx := context.Background()

	first, err := router.Generate(ctx, "prompt", testPolicy("yandex"))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := router.Generate(ctx, "prompt", testPolicy("yandex"))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "answer", second.Content)
	assert.Equal(t, 1, provider.calls)
}

func TestRouter_CacheHitDoesNotTouchBreaker(t *testing.T) {
	provider := &fakeProvider{name: "yandex", content: "answer"}
	router, registry, _ := setupRouterWithCache(t, provider)
	ctx := context.Background()

	_, err := router.Generate(ctx, "prompt", testPolicy("yandex"))
	require.NoError(t, err)

	// Open the breaker after the answer is cached.
	cb := registry.Get("yandex")
	cb.ReportFailure()
	cb.ReportFailure()
	require.Equal(t, CircuitOpen, cb.State())

	gen, err := router.Generate(ctx, "prompt", testPolicy("yandex"))
	require.NoError(t, err)
	assert.True(t, gen.Cached)

	// Serving from cache is not a trial call: the breaker stays open.
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 1, provider.calls)
}

func TestRouter_DifferentPromptsMissCache(t *testing.T) {
	provider := &fakeProvider{name: "yandex", content: "answer"}
	router, _, _ := setupRouterWithCache(t, provider)
	ctx := context.Background()

	_, err := router.Generate(ctx, "prompt one", testPolicy("yandex"))
	require.NoError(t, err)
	_, err = router.Generate(ctx, "prompt two", testPolicy("yandex"))
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
}
