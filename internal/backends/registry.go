package backends

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Registry dispatches invocations to the client owning the backend id
// and unions discovery results across clients. Ownership is decided by
// model id prefix (for example "gpt-" or "claude-").
type Registry struct {
	clients  map[string]Invoker
	prefixes map[string]string // id prefix -> client name
	logger   *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]Invoker),
		prefixes: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a client under name, claiming the given backend id
// prefixes.
func (r *Registry) Register(name string, client Invoker, prefixes ...string) {
	r.clients[name] = client
	for _, prefix := range prefixes {
		r.prefixes[prefix] = name
	}
	r.logger.WithFields(logrus.Fields{
		"client":   name,
		"prefixes": prefixes,
	}).Info("Backend client registered")
}

// clientFor returns the client claiming the backend id's prefix.
func (r *Registry) clientFor(backend string) (Invoker, string, bool) {
	for prefix, name := range r.prefixes {
		if strings.HasPrefix(backend, prefix) {
			return r.clients[name], name, true
		}
	}
	return nil, "", false
}

// Invoke routes the call to the owning client.
func (r *Registry) Invoke(ctx context.Context, backend, credential, prompt string) (*Result, error) {
	client, name, ok := r.clientFor(backend)
	if !ok {
		return nil, fmt.Errorf("no client registered for backend %s", backend)
	}

	result, err := client.Invoke(ctx, backend, credential, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s invocation failed: %w", name, err)
	}
	return result, nil
}

// ListBackends unions the backends of every client implementing
// Discoverer, sorted for deterministic probe order. A client that
// rejects the credential contributes nothing rather than failing
// discovery as a whole.
func (r *Registry) ListBackends(ctx context.Context, credential string) ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	for name, client := range r.clients {
		disc, ok := client.(Discoverer)
		if !ok {
			continue
		}
		ids, err := disc.ListBackends(ctx, credential)
		if err != nil {
			r.logger.WithError(err).WithField("client", name).Warn("Backend discovery failed")
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				all = append(all, id)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}
