package interfaces

import "dashboard-sync/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger pushes state changes to connected dashboards.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Broadcast pushes a state event to every interested dashboard.
	Broadcast(event models.MStateEvent)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
