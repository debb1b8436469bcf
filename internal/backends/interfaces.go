// Package backends defines the collaborator boundary between the
// routing core and remote model services: discovery of usable backend
// ids and blocking invocation with one credential.
package backends

import (
	"context"
	"time"
)

// Result is a successful invocation outcome. The core never inspects
// anything beyond these fields.
type Result struct {
	Backend   string
	Text      string
	Latency   time.Duration
	MaxTokens int
}

// Invoker performs one blocking remote call against a backend using a
// single credential. A non-nil error is an invocation failure the
// router recovers from by falling back to the next credential or
// backend.
type Invoker interface {
	Invoke(ctx context.Context, backend, credential, prompt string) (*Result, error)
}

// Discoverer lists the usable backend ids reachable with a credential.
// Which categories are filtered out is policy owned by the
// implementation, opaque to the routing core.
type Discoverer interface {
	ListBackends(ctx context.Context, credential string) ([]string, error)
}
