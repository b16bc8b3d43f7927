package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Command implements the command behavior (§4.5.6): a Portal → Agent
// request, routed either to a local Agent connection, out through an
// outward gateway connection, or rejected with DestinationNotAvailable.
// Precondition: PortalAuth.
func Command(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if state.State() != connstate.PortalAuth {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	organizationID := state.OrganizationID()

	// An impersonated Portal connection is denied the same way a cross-
	// tenant destination is, regardless of whether env.To even resolves to
	// anything locally attached (§4.5.6).
	if state.Impersonated() {
		var localEntry *directory.Entry
		if deps.Directory != nil {
			localEntry = deps.Directory.FirstWhere(func(e *directory.Entry) bool {
				return e.State.State() == connstate.AgentAuth && e.State.ClientID() == env.To
			})
		}
		var other *connstate.SocketState
		if localEntry != nil {
			other = localEntry.State
		}
		return closeBothStreams(deps, "Access denied", state, other)
	}

	// Cross-tenant detection happens against whatever is actually attached
	// locally under env.To, since that is the stream we would need to close
	// if it belongs to someone else's tenant — a tenant-scoped registry
	// lookup alone could never surface this (it would just report "not
	// found").
	var localEntry *directory.Entry
	if deps.Directory != nil {
		localEntry = deps.Directory.FirstWhere(func(e *directory.Entry) bool {
			return e.State.State() == connstate.AgentAuth && e.State.ClientID() == env.To
		})
	}
	if localEntry != nil && localEntry.State.OrganizationID() != organizationID {
		return closeBothStreams(deps, "Access denied", state, localEntry.State)
	}
	if localEntry != nil {
		forward := &wire.Envelope{
			From:      env.From,
			To:        env.To,
			Type:      wire.TypeCommand,
			MessageID: env.MessageID,
			Payload:   env.Payload,
		}
		return replyEncrypted(localEntry.State, forward)
	}

	// Not attached locally: consult the tenant registry (already scoped to
	// this Portal's own organization) for an outward-gateway route.
	agents, err := deps.Registry.GetAgents(ctx, organizationID)
	if err != nil {
		return notAvailable(state, env)
	}
	var target *registry.Record
	for i := range agents {
		if agents[i].ClientID == env.To {
			target = &agents[i]
			break
		}
	}
	if target == nil {
		return notAvailable(state, env)
	}

	if target.GatewayID != "" && target.GatewayID != deps.InstanceID && deps.GatewayDirectory != nil {
		if sendViaGateway(deps, organizationID, state.ClientID(), target.ClientID, target.GatewayID, env.Payload) {
			return nil
		}
	}

	return notAvailable(state, env)
}

// sendViaGateway wraps payload in a proxy envelope and ships it over the
// outward-gateway connection best suited to reach targetClientID: a direct
// match on the peer's own clientId (a Gateway routing to a specifically
// named Service node) if known, else a connection already marked relevant
// via recent-interest, else — first attempt only — every authenticated
// outward connection in turn, recording interest on whichever accepts.
func sendViaGateway(deps *Deps, organizationID, fromClientID, targetClientID, targetGatewayID string, payload []byte) bool {
	var candidates []*directory.Entry
	if targetGatewayID != "" {
		if byID := deps.GatewayDirectory.FindByClientID(targetGatewayID); byID != nil {
			candidates = append(candidates, byID)
		}
	}
	if len(candidates) == 0 {
		candidates = deps.GatewayDirectory.WhereRelevantTo(organizationID, targetClientID)
	}
	if len(candidates) == 0 {
		candidates = deps.GatewayDirectory.Snapshot()
	}
	for _, gw := range candidates {
		if gw.State.State() != connstate.GatewayAuth {
			continue
		}
		proxyEnv := &wire.Envelope{From: deps.InstanceID, Type: wire.TypeProxy}
		inner := wire.ProxyEnvelope{
			Type:           wire.TypeCommand,
			From:           fromClientID,
			To:             targetClientID,
			OrganizationID: organizationID,
			InnerMessage:   payload,
		}
		if err := proxyEnv.SetPayload(inner); err != nil {
			continue
		}
		if err := replyPlain(gw.State, proxyEnv); err != nil {
			continue
		}
		if gw.State.InterestMap != nil {
			gw.State.InterestMap.MarkInterest(organizationID, targetClientID)
		}
		return true
	}
	return false
}

func notAvailable(state *connstate.SocketState, env *wire.Envelope) error {
	reply := &wire.Envelope{
		From:         env.To,
		To:           env.From,
		Type:         env.Type,
		MessageID:    env.MessageID,
		ErrorMessage: "DestinationNotAvailableForRelay",
	}
	return replyPlain(state, reply)
}
