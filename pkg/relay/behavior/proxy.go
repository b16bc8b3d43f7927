package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Proxy implements the proxy behavior on Gateway ingress (§4.5.8): a peer
// has wrapped a command/control/list message. A command is forwarded to the
// locally attached Agent, a control completes a local pending correlation
// (it is not forwarded), and a list refreshes the tenant's local Portals.
// Precondition: GatewayAuth on the receiving connection.
func Proxy(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if state.State() != connstate.GatewayAuth {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	var inner wire.ProxyEnvelope
	if err := env.DecodePayload(&inner); err != nil {
		return relayerr.PolicyViolation("MalformedEnvelope: invalid proxy payload")
	}

	switch inner.Type {
	case wire.TypeCommand:
		return proxyCommand(deps, state, &inner)
	case wire.TypeControl:
		return proxyControl(deps, &inner)
	case wire.TypeList:
		return proxyList(ctx, deps, &inner)
	default:
		if deps.Metrics != nil {
			deps.Metrics.GetCounter("relay.proxy_invalid_type").Inc()
		}
		return nil
	}
}

func proxyCommand(deps *Deps, gatewayConn *connstate.SocketState, inner *wire.ProxyEnvelope) error {
	if deps.Directory == nil {
		return nil
	}
	entry := deps.Directory.FirstWhere(func(e *directory.Entry) bool {
		return e.State.State() == connstate.AgentAuth && e.State.ClientID() == inner.To
	})
	if entry == nil {
		if deps.Metrics != nil {
			deps.Metrics.GetCounter("relay.proxy_target_not_found").Inc()
		}
		return nil
	}
	if entry.State.OrganizationID() != inner.OrganizationID {
		// The peer Gateway asserted a tenant that doesn't match the locally
		// attached Agent under that clientId: drop and count, mirroring the
		// invalid-proxy path rather than trusting a remote tenant claim.
		if deps.Metrics != nil {
			deps.Metrics.GetCounter("relay.proxy_cross_tenant_denied").Inc()
		}
		return nil
	}

	forward := &wire.Envelope{
		From:      inner.From,
		To:        inner.To,
		Type:      wire.TypeCommand,
		MessageID: newMessageID(),
		Payload:   inner.InnerMessage,
	}
	return replyEncrypted(entry.State, forward)
}

func proxyControl(deps *Deps, inner *wire.ProxyEnvelope) error {
	key := correlator.Key{
		OrganizationID: inner.OrganizationID,
		ClientID:       inner.From,
		MessageID:      sourceMessageID(inner),
	}
	var resp wire.ControlResponse
	_ = jsonDecode(inner.InnerMessage, &resp)
	deps.Correlator.Complete(key, resp)
	return nil
}

// sourceMessageID recovers the correlator key's messageId component from a
// proxy-wrapped control reply. The external-request intake (C10) stamps its
// outbound proxy envelope's own messageId as the inner message's id so the
// returning proxy/control carries it back unchanged.
func sourceMessageID(inner *wire.ProxyEnvelope) string {
	var withID struct {
		MessageID string `json:"messageId"`
	}
	_ = jsonDecode(inner.InnerMessage, &withID)
	return withID.MessageID
}

func proxyList(ctx context.Context, deps *Deps, inner *wire.ProxyEnvelope) error {
	if deps.Directory == nil {
		return nil
	}
	portals := deps.Directory.Snapshot()
	for _, p := range portals {
		if p.State.State() != connstate.PortalAuth {
			continue
		}
		if p.State.OrganizationID() != inner.OrganizationID {
			continue
		}
		_ = sendAgentList(ctx, deps, p.State, "")
	}
	return nil
}
