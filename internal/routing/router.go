// Package routing implements adaptive backend selection: historical
// probe metrics rank the known backends, cooldowns exclude recent
// failures, and an optional manual lock forces a first candidate.
package routing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tierroute/tierroute/internal/backends"
	"github.com/tierroute/tierroute/internal/state"
	"github.com/tierroute/tierroute/internal/tier"
)

// DefaultCooldown is the exclusion period applied after a failed call.
const DefaultCooldown = 60 * time.Second

// Router walks candidates in blended-tier order and returns the first
// successful invocation. The walk is strictly sequential: each attempt
// must observe the cooldowns written by the previous one.
type Router struct {
	metrics   *state.MetricsStore
	cooldowns *state.CooldownRegistry
	lock      *state.LockState
	invoker   backends.Invoker
	creds     []string
	cooldown  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRouter creates a router over the given stores and invoker. A
// cooldown of 0 uses DefaultCooldown.
func NewRouter(metrics *state.MetricsStore, cooldowns *state.CooldownRegistry, lock *state.LockState,
	invoker backends.Invoker, creds []string, cooldown time.Duration, logger *logrus.Logger) *Router {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Router{
		metrics:   metrics,
		cooldowns: cooldowns,
		lock:      lock,
		invoker:   invoker,
		creds:     creds,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Route selects a backend for the prompt and performs the call. The
// first success wins; each failure cools the backend down before the
// next credential or candidate is tried. Each (backend, credential)
// pair is attempted at most once.
func (r *Router) Route(ctx context.Context, prompt string) (*backends.Result, error) {
	if len(r.creds) == 0 {
		return nil, ErrNoCredentials
	}

	stats, err := r.metrics.Load()
	if err != nil {
		return nil, err
	}

	order, err := r.candidateOrder(stats)
	if err != nil {
		return nil, err
	}

	for _, backend := range order {
		// Cooldowns are re-read here, not cached from the start of the
		// call, so failures earlier in this walk are honored.
		cooling, err := r.cooldowns.IsCoolingDown(backend, r.now())
		if err != nil {
			return nil, err
		}
		if cooling {
			r.logger.WithField("backend", backend).Debug("Skipping backend in cooldown")
			continue
		}

		for i, cred := range r.creds {
			result, err := r.invoker.Invoke(ctx, backend, cred, prompt)
			if err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"backend":    backend,
					"credential": i,
				}).Warn("Invocation failed, cooling backend down")
				if cdErr := r.cooldowns.Cooldown(backend, r.now(), r.cooldown); cdErr != nil {
					return nil, cdErr
				}
				continue
			}

			rec := state.ProbeRecord{
				Success:   1,
				Latency:   result.Latency.Seconds(),
				MaxTokens: result.MaxTokens,
			}
			if err := r.metrics.Record(backend, rec); err != nil {
				return nil, err
			}

			r.logger.WithFields(logrus.Fields{
				"backend":    backend,
				"latency_ms": result.Latency.Milliseconds(),
			}).Info("Request routed")
			return result, nil
		}
	}

	return nil, ErrNoBackendAvailable
}

// candidateOrder builds the walk order: the locked backend first if
// set, then all known backends best-first by blended score, with the
// locked one not repeated.
func (r *Router) candidateOrder(stats map[string][]state.ProbeRecord) ([]string, error) {
	locked, hasLock, err := r.lock.Get()
	if err != nil {
		return nil, err
	}

	var order []string
	if hasLock {
		order = append(order, locked)
	}
	for _, backend := range tier.BlendedOrder(stats) {
		if hasLock && backend == locked {
			continue
		}
		order = append(order, backend)
	}
	return order, nil
}
