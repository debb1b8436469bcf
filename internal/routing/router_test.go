package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierroute/tierroute/internal/backends"
	"github.com/tierroute/tierroute/internal/state"
)

// fakeInvoker scripts per-backend outcomes and records every call.
type fakeInvoker struct {
	mu      sync.Mutex
	failing map[string]bool // backend -> fail for every credential
	calls   []invokerCall
}

type invokerCall struct {
	backend    string
	credential string
}

func newFakeInvoker(failing ...string) *fakeInvoker {
	f := &fakeInvoker{failing: make(map[string]bool)}
	for _, backend := range failing {
		f.failing[backend] = true
	}
	return f
}

func (f *fakeInvoker) Invoke(ctx context.Context, backend, credential, prompt string) (*backends.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invokerCall{backend: backend, credential: credential})
	f.mu.Unlock()

	if f.failing[backend] {
		return nil, errors.New("invocation failed")
	}
	return &backends.Result{
		Backend:   backend,
		Text:      "ok",
		Latency:   250 * time.Millisecond,
		MaxTokens: 128,
	}, nil
}

func (f *fakeInvoker) calledBackends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c.backend)
	}
	return names
}

type routerFixture struct {
	metrics   *state.MetricsStore
	cooldowns *state.CooldownRegistry
	lock      *state.LockState
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	dir := t.TempDir()
	return &routerFixture{
		metrics:   state.NewMetricsStore(dir, 20),
		cooldowns: state.NewCooldownRegistry(dir),
		lock:      state.NewLockState(dir),
	}
}

func (fx *routerFixture) router(t *testing.T, invoker backends.Invoker, creds []string) *Router {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRouter(fx.metrics, fx.cooldowns, fx.lock, invoker, creds, time.Minute, logger)
}

func (fx *routerFixture) seed(t *testing.T, backend string, latency float64) {
	t.Helper()
	require.NoError(t, fx.metrics.Record(backend, state.ProbeRecord{Success: 1, Latency: latency, MaxTokens: 100}))
}

func TestRouter_NoCredentials(t *testing.T) {
	fx := newRouterFixture(t)
	router := fx.router(t, newFakeInvoker(), nil)

	_, err := router.Route(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestRouter_PicksBestBlendedBackend(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "slow", 5.0)
	fx.seed(t, "fast", 0.5)

	invoker := newFakeInvoker()
	router := fx.router(t, invoker, []string{"key-1"})

	result, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fast", result.Backend)
	assert.Equal(t, []string{"fast"}, invoker.calledBackends(), "first success wins, no further candidates tried")
}

func TestRouter_LockTriedFirstEvenWhenWorst(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "fast", 0.5)
	// The locked backend has only failures on record, putting it in the
	// bottom tier.
	require.NoError(t, fx.metrics.Record("locked", state.ProbeRecord{Success: 0}))
	require.NoError(t, fx.lock.Set("locked"))

	invoker := newFakeInvoker()
	router := fx.router(t, invoker, []string{"key-1"})

	result, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "locked", result.Backend)
}

func TestRouter_CooldownNeverAttempted(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "best", 0.5)
	fx.seed(t, "backup", 2.0)
	require.NoError(t, fx.cooldowns.Cooldown("best", time.Now(), time.Hour))

	invoker := newFakeInvoker()
	router := fx.router(t, invoker, []string{"key-1"})

	result, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "backup", result.Backend)
	assert.NotContains(t, invoker.calledBackends(), "best")
}

func TestRouter_FallbackWalk(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "aa-failing", 0.5)
	fx.seed(t, "bb-cooling", 1.0)
	fx.seed(t, "cc-working", 2.0)
	require.NoError(t, fx.cooldowns.Cooldown("bb-cooling", time.Now(), time.Hour))

	invoker := newFakeInvoker("aa-failing")
	router := fx.router(t, invoker, []string{"key-1", "key-2"})

	before, err := fx.cooldowns.Load()
	require.NoError(t, err)

	result, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "cc-working", result.Backend)

	// Every credential was tried against the failing backend, the
	// cooling one was skipped entirely.
	assert.Equal(t, []string{"aa-failing", "aa-failing", "cc-working"}, invoker.calledBackends())

	after, err := fx.cooldowns.Load()
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1, "exactly one new cooldown entry")
	assert.Contains(t, after, "aa-failing")
}

func TestRouter_SuccessRecordsMetrics(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "only", 1.0)

	router := fx.router(t, newFakeInvoker(), []string{"key-1"})
	_, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)

	stats, err := fx.metrics.Load()
	require.NoError(t, err)
	require.Len(t, stats["only"], 2)
	latest := stats["only"][1]
	assert.Equal(t, 1, latest.Success)
	assert.Equal(t, 0.25, latest.Latency)
	assert.Equal(t, 128, latest.MaxTokens)
}

func TestRouter_SuccessDoesNotClearCooldown(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "only", 1.0)
	require.NoError(t, fx.cooldowns.Cooldown("other", time.Now(), time.Hour))

	router := fx.router(t, newFakeInvoker(), []string{"key-1"})
	_, err := router.Route(context.Background(), "hello")
	require.NoError(t, err)

	cooldowns, err := fx.cooldowns.Load()
	require.NoError(t, err)
	assert.Contains(t, cooldowns, "other")
}

func TestRouter_Exhaustion(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seed(t, "aa", 0.5)
	fx.seed(t, "bb", 1.0)

	invoker := newFakeInvoker("aa", "bb")
	router := fx.router(t, invoker, []string{"key-1", "key-2"})

	statsBefore, err := fx.metrics.Load()
	require.NoError(t, err)

	_, err = router.Route(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoBackendAvailable)

	// No success appends happened.
	statsAfter, err := fx.metrics.Load()
	require.NoError(t, err)
	assert.Equal(t, statsBefore, statsAfter)

	// Each (backend, credential) pair was attempted at most once.
	seen := map[invokerCall]int{}
	for _, c := range invoker.calls {
		seen[c]++
		assert.LessOrEqual(t, seen[c], 1)
	}
	assert.Len(t, invoker.calls, 4)
}

func TestRouter_EmptyKnownSet(t *testing.T) {
	fx := newRouterFixture(t)
	router := fx.router(t, newFakeInvoker(), []string{"key-1"})

	_, err := router.Route(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
}
