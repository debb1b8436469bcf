package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierroute/tierroute/internal/backends"
	"github.com/tierroute/tierroute/internal/state"
)

func newTestProber(t *testing.T, invoker backends.Invoker, creds []string) (*Prober, *state.MetricsStore) {
	t.Helper()
	metrics := state.NewMetricsStore(t.TempDir(), 20)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewProber(metrics, invoker, creds, "", logger), metrics
}

func TestProber_NoCredentials(t *testing.T) {
	prober, _ := newTestProber(t, newFakeInvoker(), nil)
	err := prober.ProbeAll(context.Background(), []string{"model-a"})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestProber_RecordsSuccessAndFailure(t *testing.T) {
	invoker := newFakeInvoker("broken")
	prober, metrics := newTestProber(t, invoker, []string{"key-1", "key-2"})

	err := prober.ProbeAll(context.Background(), []string{"model-a", "broken"})
	require.NoError(t, err)

	stats, err := metrics.Load()
	require.NoError(t, err)

	require.Len(t, stats["model-a"], 1)
	assert.Equal(t, 1, stats["model-a"][0].Success)
	assert.Equal(t, 0.25, stats["model-a"][0].Latency)
	assert.Equal(t, 128, stats["model-a"][0].MaxTokens)

	require.Len(t, stats["broken"], 1)
	assert.Equal(t, state.ProbeRecord{Success: 0, Latency: 0, MaxTokens: 0}, stats["broken"][0])
}

func TestProber_CredentialShortCircuit(t *testing.T) {
	invoker := newFakeInvoker()
	prober, _ := newTestProber(t, invoker, []string{"key-1", "key-2", "key-3"})

	require.NoError(t, prober.ProbeAll(context.Background(), []string{"model-a"}))

	require.Len(t, invoker.calls, 1, "first successful credential stops the sequence")
	assert.Equal(t, "key-1", invoker.calls[0].credential)
}

func TestProber_FailingBackendExhaustsAllCredentials(t *testing.T) {
	invoker := newFakeInvoker("broken")
	prober, _ := newTestProber(t, invoker, []string{"key-1", "key-2", "key-3"})

	require.NoError(t, prober.ProbeAll(context.Background(), []string{"broken"}))
	assert.Len(t, invoker.calls, 3)
}

// gateInvoker blocks every invocation until all expected probes have
// started, so the test only completes when probes run concurrently.
type gateInvoker struct {
	started chan struct{}
	release chan struct{}
}

func (g *gateInvoker) Invoke(ctx context.Context, backend, credential, prompt string) (*backends.Result, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &backends.Result{Backend: backend, Latency: time.Millisecond, MaxTokens: 1}, nil
}

func TestProber_ProbesBackendsConcurrently(t *testing.T) {
	const n = 4
	gate := &gateInvoker{
		started: make(chan struct{}, n),
		release: make(chan struct{}),
	}
	prober, metrics := newTestProber(t, gate, []string{"key-1"})

	ids := []string{"model-a", "model-b", "model-c", "model-d"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			<-gate.started
		}
		close(gate.release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, prober.ProbeAll(ctx, ids))
	wg.Wait()

	stats, err := metrics.Load()
	require.NoError(t, err)
	assert.Len(t, stats, n)
}

func TestProber_IndependentBackendOutcomes(t *testing.T) {
	// One backend failing all credentials must not block the others.
	invoker := newFakeInvoker("broken")
	prober, metrics := newTestProber(t, invoker, []string{"key-1"})

	require.NoError(t, prober.ProbeAll(context.Background(), []string{"broken", "model-a", "model-b"}))

	stats, err := metrics.Load()
	require.NoError(t, err)
	assert.Len(t, stats, 3)
	assert.Equal(t, 1, stats["model-a"][0].Success)
	assert.Equal(t, 1, stats["model-b"][0].Success)
	assert.Equal(t, 0, stats["broken"][0].Success)
}
