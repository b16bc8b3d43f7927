package behavior

import (
	"context"
	"time"

	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Auth implements the auth (Agent) behavior (§4.5.2). Precondition: state
// is AgentUnauth or AgentAuth.
func Auth(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	switch state.State() {
	case connstate.AgentUnauth, connstate.AgentAuth:
	default:
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	var payload wire.AuthAgentPayload
	if err := env.DecodePayload(&payload); err != nil || payload.Token == "" || payload.PublicKey == "" {
		return relayerr.PolicyViolation("MalformedEnvelope: empty auth payload, token, or publicKey")
	}

	if !allowedProtocolVersion(deps.AllowedProtocolVersions, payload.ProtocolVersion) {
		return relayerr.PolicyViolation("InvalidProtocolVersion")
	}

	resp, err := deps.Bus.Request(ctx, "ValidateAgentRequestToken", wire.ValidateAgentRequestToken{Token: payload.Token})
	var validation wire.TokenValidationResponse
	if err == nil {
		_ = jsonDecode(resp, &validation)
	}
	if err != nil || !validation.Success {
		return relayerr.PolicyViolation("TokenExpired")
	}

	pubKey, err := certutil.ParsePublicKeyPEM([]byte(payload.PublicKey))
	if err != nil {
		return relayerr.PolicyViolation("MalformedEnvelope: invalid publicKey")
	}

	if err := state.Authenticate(connstate.AgentAuth, env.From, validation.OrganizationID); err != nil {
		return relayerr.PolicyViolation(err.Error())
	}
	state.SetClientPublicKey(pubKey)
	state.SetTokenExpiration(validation.Expires)
	state.SetRegisteredAgentID(validation.RegisteredAgentID)

	if deps.Registry != nil {
		_, _ = deps.Registry.Register(ctx, registry.Record{
			ClientID:              env.From,
			OrganizationID:        validation.OrganizationID,
			Type:                  registry.Agent,
			ConnectionID:          state.ConnectionID(),
			MachineRegistrationID: validation.RegisteredAgentID,
			ClientVersion:         payload.ClientVersion,
			GatewayID:             deps.InstanceID,
			LastUpdatedOn:         time.Now(),
		})
	}

	if err := AfterAuthenticated(ctx, deps, state, payload.ClientVersion); err != nil {
		return err
	}

	reply := &wire.Envelope{
		From:      deps.InstanceID,
		To:        env.From,
		Type:      wire.TypeAuth,
		MessageID: env.MessageID,
	}
	_ = reply.SetPayload(wire.AuthAgentResult{Accepted: true, WillReplaceToken: false})
	return replySigned(deps, state, reply)
}

func allowedProtocolVersion(allowed []int, v int) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
