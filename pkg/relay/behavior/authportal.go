package behavior

import (
	"context"
	"time"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// AuthPortal implements the authportal behavior (§4.5.1). Precondition:
// state is PortalUnauth or PortalAuth (re-authentication is allowed).
func AuthPortal(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	switch state.State() {
	case connstate.PortalUnauth, connstate.PortalAuth:
	default:
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	var payload wire.AuthPortalPayload
	if err := env.DecodePayload(&payload); err != nil || payload.Token == "" {
		return relayerr.PolicyViolation("MalformedEnvelope: empty authportal payload or token")
	}

	resp, err := deps.Bus.Request(ctx, "ValidateConnectRequestToken", wire.ValidateConnectRequestToken{Token: payload.Token})
	var validation wire.TokenValidationResponse
	if err == nil {
		_ = jsonDecode(resp, &validation)
	}

	if err != nil || !validation.Success {
		// Rejection does not close the stream; the Portal may retry.
		reply := &wire.Envelope{
			From:      deps.InstanceID,
			To:        env.From,
			Type:      wire.TypeAuthPortal,
			MessageID: env.MessageID,
		}
		_ = reply.SetPayload(wire.AuthPortalResult{Accepted: false})
		return replyPlain(state, reply)
	}

	if err := state.Authenticate(connstate.PortalAuth, env.From, validation.OrganizationID); err != nil {
		return relayerr.PolicyViolation(err.Error())
	}
	state.SetTokenExpiration(validation.Expires)
	state.SetImpersonated(validation.Impersonated)

	if deps.Registry != nil {
		_, _ = deps.Registry.Register(ctx, registry.Record{
			ClientID:       env.From,
			OrganizationID: validation.OrganizationID,
			Type:           registry.Portal,
			ConnectionID:   state.ConnectionID(),
			ClientVersion:  payload.ClientVersion,
			GatewayID:      deps.InstanceID,
			LastUpdatedOn:  time.Now(),
		})
	}

	reply := &wire.Envelope{
		From:      deps.InstanceID,
		To:        env.From,
		Type:      wire.TypeAuthPortal,
		MessageID: env.MessageID,
	}
	_ = reply.SetPayload(wire.AuthPortalResult{Accepted: true, WillReplaceToken: false})
	return replyPlain(state, reply)
}
