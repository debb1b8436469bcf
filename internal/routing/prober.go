package routing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tierroute/tierroute/internal/backends"
	"github.com/tierroute/tierroute/internal/state"
)

// DefaultProbePrompt is the trivial prompt sent by health probes; the
// response content is discarded.
const DefaultProbePrompt = "Say hi."

// Prober issues lightweight calls against every known backend and
// records the outcomes. Backends are probed concurrently since each
// probe is a blocking network round trip; within one backend the
// credentials are tried strictly in order.
type Prober struct {
	metrics *state.MetricsStore
	invoker backends.Invoker
	creds   []string
	prompt  string
	logger  *logrus.Logger
}

// NewProber creates a prober. An empty prompt uses DefaultProbePrompt.
func NewProber(metrics *state.MetricsStore, invoker backends.Invoker, creds []string, prompt string, logger *logrus.Logger) *Prober {
	if prompt == "" {
		prompt = DefaultProbePrompt
	}
	return &Prober{
		metrics: metrics,
		invoker: invoker,
		creds:   creds,
		prompt:  prompt,
		logger:  logger,
	}
}

// ProbeAll probes every backend concurrently. Each backend's probe is
// independent: a failing credential for one backend never blocks
// another. The first persistence error aborts the operation's result,
// but all probes still run to completion.
func (p *Prober) ProbeAll(ctx context.Context, backendIDs []string) error {
	if len(p.creds) == 0 {
		return ErrNoCredentials
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(backendIDs))

	for _, backend := range backendIDs {
		wg.Add(1)
		go func(backend string) {
			defer wg.Done()
			if err := p.probe(ctx, backend); err != nil {
				errCh <- err
			}
		}(backend)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

// probe tries each credential in order until one call succeeds, then
// records the observed latency and capacity. Exhausting all
// credentials records a failure.
func (p *Prober) probe(ctx context.Context, backend string) error {
	start := time.Now()
	for i, cred := range p.creds {
		result, err := p.invoker.Invoke(ctx, backend, cred, p.prompt)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"backend":    backend,
				"credential": i,
			}).Debug("Probe attempt failed")
			continue
		}

		p.logger.WithFields(logrus.Fields{
			"backend":    backend,
			"latency_ms": result.Latency.Milliseconds(),
		}).Info("Probe succeeded")
		return p.metrics.Record(backend, state.ProbeRecord{
			Success:   1,
			Latency:   result.Latency.Seconds(),
			MaxTokens: result.MaxTokens,
		})
	}

	p.logger.WithFields(logrus.Fields{
		"backend":     backend,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Warn("Probe exhausted all credentials")
	return p.metrics.Record(backend, state.ProbeRecord{Success: 0, Latency: 0, MaxTokens: 0})
}
