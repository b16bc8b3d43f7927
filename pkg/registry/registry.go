// Package registry is the tenant registry adapter (C9): a thin, tenant-
// scoped interface onto the external durable state store that tracks which
// Agents and Portals are attached to which node.
package registry

import (
	"context"
	"time"
)

// ClientKind distinguishes an Agent row from a Portal row.
type ClientKind string

const (
	Agent  ClientKind = "Agent"
	Portal ClientKind = "Portal"
)

// livenessWindow is how recently a row must have been updated to be
// considered active (§3's "5 minutes").
const livenessWindow = 5 * time.Minute

// retention is how long a row survives before purgeStale removes it
// (§3's "1 day").
const retention = 24 * time.Hour

// Record is one tenant registry row.
type Record struct {
	ClientID              string
	OrganizationID        string
	Type                  ClientKind
	ConnectionID          string
	MachineRegistrationID string
	ClientVersion         string
	GatewayID             string
	ClientIP              string
	LastUpdatedOn         time.Time
}

// Active reports whether r is within the liveness window of now.
func (r Record) Active(now time.Time) bool {
	return !r.LastUpdatedOn.Before(now.Add(-livenessWindow))
}

// Registry is the tenant registry adapter's interface (C9). Implementations
// need not cache locally, though they may.
type Registry interface {
	// Register creates or updates the row keyed by (organizationId, clientId),
	// bumping lastUpdatedOn. Returns true on success.
	Register(ctx context.Context, r Record) (bool, error)

	// UpdateActivity bumps lastUpdatedOn for an existing row. Returns false
	// if the row does not exist.
	UpdateActivity(ctx context.Context, organizationID, clientID string) (bool, error)

	// Deregister removes the row for (organizationId, clientId) if its
	// connectionId still matches, recording final byte counters.
	Deregister(ctx context.Context, organizationID, clientID, connectionID string, bytesReceived, bytesSent uint64) (bool, error)

	// GetAgents returns active Agent rows for organizationID.
	GetAgents(ctx context.Context, organizationID string) ([]Record, error)

	// GetPortals returns active Portal rows for organizationID.
	GetPortals(ctx context.Context, organizationID string) ([]Record, error)

	// PurgeStale removes rows older than the retention window.
	PurgeStale(ctx context.Context) (int, error)
}
