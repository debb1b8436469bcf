package routing

import "errors"

var (
	// ErrNoCredentials means no credential is configured, so no remote
	// call can be attempted at all.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrNoBackendAvailable means every candidate backend/credential
	// combination failed or was skipped during the routing walk.
	ErrNoBackendAvailable = errors.New("no backend available")
)
