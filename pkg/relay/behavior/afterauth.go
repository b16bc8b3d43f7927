package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// AfterAuthenticated implements the §4.5.9 hook run once an Agent completes
// auth: publish an activity event, then push a fresh agent list to every
// locally-attached Portal of the same tenant and to every relevant outward
// gateway.
func AfterAuthenticated(ctx context.Context, deps *Deps, state *connstate.SocketState, clientVersion string) error {
	organizationID := state.OrganizationID()

	if deps.Bus != nil {
		_ = deps.Bus.Publish("AgentActivityMessage", wire.AgentActivityMessage{
			ActivityType:      wire.ActivityConnected,
			ConnectedOn:       state.ConnectedOn(),
			RegisteredAgentID: state.RegisteredAgentID(),
			OrganizationID:    organizationID,
			ClientVersion:     clientVersion,
		})
	}

	pushListToTenant(ctx, deps, organizationID)
	return nil
}

// AfterDisconnect implements the §4.5.9 mirror: deregister from the tenant
// registry, publish a Disconnected activity event (Agents only), and push
// list updates to the tenant's Portals and relevant gateways.
func AfterDisconnect(ctx context.Context, deps *Deps, state *connstate.SocketState) {
	organizationID := state.OrganizationID()
	clientID := state.ClientID()
	if organizationID == "" || clientID == "" {
		return
	}

	if deps.Registry != nil {
		_, _ = deps.Registry.Deregister(ctx, organizationID, clientID, state.ConnectionID(), state.BytesReceived(), state.BytesSent())
	}

	if state.State() == connstate.AgentAuth && deps.Bus != nil {
		_ = deps.Bus.Publish("AgentActivityMessage", wire.AgentActivityMessage{
			ActivityType:      wire.ActivityDisconnected,
			ConnectedOn:       state.ConnectedOn(),
			RegisteredAgentID: state.RegisteredAgentID(),
			OrganizationID:    organizationID,
		})
	}

	pushListToTenant(ctx, deps, organizationID)
}

// pushListToTenant sends a fresh agent list to every locally-attached
// PortalAuth connection of organizationID, and a PlainText proxy(list)
// envelope to every outward gateway connection that has shown interest in
// this tenant.
func pushListToTenant(ctx context.Context, deps *Deps, organizationID string) {
	if deps.Directory != nil {
		for _, e := range deps.Directory.Snapshot() {
			if e.State.State() != connstate.PortalAuth || e.State.OrganizationID() != organizationID {
				continue
			}
			_ = sendAgentList(ctx, deps, e.State, "")
		}
	}

	if deps.GatewayDirectory == nil {
		return
	}
	for _, gw := range deps.GatewayDirectory.Snapshot() {
		if gw.State.State() != connstate.GatewayAuth {
			continue
		}
		im := gw.State.InterestMap
		if im == nil || !im.ContainsTenant(organizationID) {
			continue
		}
		proxyEnv := &wire.Envelope{From: deps.InstanceID, Type: wire.TypeProxy}
		inner := wire.ProxyEnvelope{Type: wire.TypeList, OrganizationID: organizationID}
		_ = proxyEnv.SetPayload(inner)
		_ = replyPlain(gw.State, proxyEnv)
	}
}

