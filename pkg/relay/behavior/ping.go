package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Ping implements the ping/pong behavior (§4.5.4). Precondition: any *Auth
// state. Updates tenant registry activity and replies with a fresh pong.
func Ping(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if !state.State().Authenticated() {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	if deps.Registry != nil && state.OrganizationID() != "" {
		_, _ = deps.Registry.UpdateActivity(ctx, state.OrganizationID(), state.ClientID())
	}

	reply := &wire.Envelope{
		From:      deps.InstanceID,
		To:        env.From,
		Type:      wire.TypePong,
		MessageID: newMessageID(),
	}

	switch state.State() {
	case connstate.AgentAuth:
		return replyEncrypted(state, reply)
	default:
		return replyPlain(state, reply)
	}
}
