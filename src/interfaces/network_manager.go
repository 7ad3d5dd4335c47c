package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP requests against the backend.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with query parameters.
	// Transient failures are retried. Returns the response body or an error.
	Get(ctx context.Context, url string, params map[string]string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// PostJSON sends body as JSON and returns the response body. Never retried:
	// commands are not idempotent.
	PostJSON(ctx context.Context, url string, params map[string]string, body interface{}) ([]byte, error)
}
