package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Control implements the control behavior on the receive side (§4.5.7): an
// Agent's reply to a backend-originated control request, completing the
// pending response the external-request intake (C10) is awaiting.
// Precondition: AgentAuth.
func Control(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if state.State() != connstate.AgentAuth {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	var resp wire.ControlResponse
	if err := env.DecodePayload(&resp); err != nil {
		return relayerr.PolicyViolation("MalformedEnvelope: invalid control response")
	}

	key := correlator.Key{
		OrganizationID: state.OrganizationID(),
		ClientID:       state.ClientID(),
		MessageID:      env.MessageID,
	}
	deps.Correlator.Complete(key, resp)
	return nil
}
