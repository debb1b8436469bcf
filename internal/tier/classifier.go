// Package tier derives per-backend performance metrics from a metrics
// snapshot and buckets backends into percentile-based tiers.
package tier

import (
	"math"
	"sort"

	"github.com/tierroute/tierroute/internal/state"
)

// Metric is the per-backend summary recomputed on every classification.
type Metric struct {
	// AvgLatency is the mean of positive latencies in the window, or
	// +Inf when no positive samples exist.
	AvgLatency float64 `json:"avg_latency"`

	// MaxTokens is the largest reported capacity across the window.
	MaxTokens int `json:"max_tokens"`

	// SuccessRate is successes over total records, 0 for an empty window.
	SuccessRate float64 `json:"success_rate"`
}

// BlendedScore folds the three metrics into one scalar for ranking,
// lower is better. A full failure run costs up to 1000 points, so
// reliability dominates; latency breaks ties in seconds and capacity
// is a small bonus among near-equal backends.
func (m Metric) BlendedScore() float64 {
	return (1-m.SuccessRate)*1000 + m.AvgLatency - float64(m.MaxTokens)*0.1
}

// Assignment holds the backend's tier letter in each of the three
// independent rankings.
type Assignment struct {
	Fast    string `json:"fast"`
	Quality string `json:"quality"`
	Balance string `json:"balance"`
}

// Derive computes the summary metric for one backend's window.
func Derive(window []state.ProbeRecord) Metric {
	m := Metric{AvgLatency: math.Inf(1)}
	if len(window) == 0 {
		return m
	}

	successes := 0
	latencySum := 0.0
	latencyCount := 0
	for _, rec := range window {
		if rec.Succeeded() {
			successes++
		}
		if rec.Latency > 0 {
			latencySum += rec.Latency
			latencyCount++
		}
		if rec.MaxTokens > m.MaxTokens {
			m.MaxTokens = rec.MaxTokens
		}
	}

	if latencyCount > 0 {
		m.AvgLatency = latencySum / float64(latencyCount)
	}
	m.SuccessRate = float64(successes) / float64(len(window))
	return m
}

// DeriveAll computes metrics for every backend in the snapshot.
// Backends with empty windows participate and rank worst.
func DeriveAll(stats map[string][]state.ProbeRecord) map[string]Metric {
	metrics := make(map[string]Metric, len(stats))
	for backend, window := range stats {
		metrics[backend] = Derive(window)
	}
	return metrics
}

// Assign buckets every backend into S/A/B/C tiers for the latency,
// capacity, and blended rankings independently.
func Assign(stats map[string][]state.ProbeRecord) map[string]Assignment {
	metrics := DeriveAll(stats)

	fast := rankedOrder(metrics, func(a, b Metric) bool { return a.AvgLatency < b.AvgLatency })
	quality := rankedOrder(metrics, func(a, b Metric) bool { return a.MaxTokens > b.MaxTokens })
	balance := rankedOrder(metrics, func(a, b Metric) bool { return a.BlendedScore() < b.BlendedScore() })

	assignments := make(map[string]Assignment, len(metrics))
	fastTiers := tiersByRank(fast)
	qualityTiers := tiersByRank(quality)
	balanceTiers := tiersByRank(balance)
	for backend := range metrics {
		assignments[backend] = Assignment{
			Fast:    fastTiers[backend],
			Quality: qualityTiers[backend],
			Balance: balanceTiers[backend],
		}
	}
	return assignments
}

// BlendedOrder returns all backends sorted best-first by blended score.
// This is the tier walk order S through C with ties already broken.
func BlendedOrder(stats map[string][]state.ProbeRecord) []string {
	metrics := DeriveAll(stats)
	return rankedOrder(metrics, func(a, b Metric) bool { return a.BlendedScore() < b.BlendedScore() })
}

// rankedOrder sorts backends by the given comparison. Lexical backend
// id order is the fixed secondary key so identical metrics rank
// deterministically across runs.
func rankedOrder(metrics map[string]Metric, less func(a, b Metric) bool) []string {
	order := make([]string, 0, len(metrics))
	for backend := range metrics {
		order = append(order, backend)
	}
	sort.Strings(order)
	sort.SliceStable(order, func(i, j int) bool {
		return less(metrics[order[i]], metrics[order[j]])
	})
	return order
}

// tiersByRank assigns a letter from rank position i over n backends:
// the top fifth is S, up to half is A, up to four fifths is B, the
// rest C. The comparison against the float thresholds truncates, which
// fixes boundary behavior for small n.
func tiersByRank(order []string) map[string]string {
	n := float64(len(order))
	tiers := make(map[string]string, len(order))
	for i, backend := range order {
		switch {
		case float64(i) < n*0.2:
			tiers[backend] = "S"
		case float64(i) < n*0.5:
			tiers[backend] = "A"
		case float64(i) < n*0.8:
			tiers[backend] = "B"
		default:
			tiers[backend] = "C"
		}
	}
	return tiers
}
