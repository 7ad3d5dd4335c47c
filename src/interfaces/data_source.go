package interfaces

import (
	"context"

	"dashboard-sync/src/models"
)

// -----------------------------------------------------------------------------
// IBackendSource fetches normalized snapshots from the trading backend.
// Every Fetch* call returns records already passed through the normalizer
// and the number of raw records dropped as unusable.
// -----------------------------------------------------------------------------

type IBackendSource interface {

	// Name returns a short identifier used in logs
	Name() string

	// -----------------------------------------------------------------------------

	FetchOrders(ctx context.Context) ([]models.MOrder, int, error)
	FetchFills(ctx context.Context) ([]models.MFill, int, error)
	FetchPositions(ctx context.Context) ([]models.MPosition, int, error)
	FetchQuotes(ctx context.Context) ([]models.MQuote, int, error)
	FetchMetrics(ctx context.Context) (models.MStrategyMetrics, error)

	// -----------------------------------------------------------------------------

	// SetProvider changes the provider query parameter sent with requests.
	SetProvider(provider string)
	Provider() string
}

// -----------------------------------------------------------------------------
// ICommandClient issues strategy commands. A nil error means the backend
// acknowledged the command; the response body is not interpreted.
// -----------------------------------------------------------------------------

type ICommandClient interface {
	StartStrategy(ctx context.Context, symbols []string) error
	StopStrategy(ctx context.Context, symbols []string) error
	StopAll(ctx context.Context) error
	Flatten(ctx context.Context, symbols []string) error
}
