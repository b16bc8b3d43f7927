package behavior

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// NewGatewayNonce returns a fresh base64-encoded 32-byte random nonce, sent
// as N1 in the welcome envelope on Gateway ingress (§4.3 step 2).
func NewGatewayNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func gatewayHandshakeHash(psk, n1, n2 string) string {
	mac := hmac.New(sha256.New, []byte(psk))
	mac.Write([]byte(n1))
	mac.Write([]byte(n2))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthGateway implements the authgateway behavior (§4.5.3 pass 2): the
// Gateway ingress side verifies the outward peer's {nonce, hash} against the
// pre-shared key and the N1 it sent in its own welcome envelope.
func AuthGateway(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if state.State() != connstate.GatewayUnauth {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}

	var payload wire.AuthGatewayPayload
	if err := env.DecodePayload(&payload); err != nil || payload.Nonce == "" || payload.Hash == "" {
		return relayerr.PolicyViolation("MalformedEnvelope: empty authgateway payload")
	}

	n1 := state.GatewayNonces().Local
	expected := gatewayHandshakeHash(deps.GatewayPreSharedKey, n1, payload.Nonce)
	if !hmac.Equal([]byte(expected), []byte(payload.Hash)) {
		return relayerr.PolicyViolation("IncorrectGatewayHandshake")
	}

	if err := state.Authenticate(connstate.GatewayAuth, env.From, ""); err != nil {
		return relayerr.PolicyViolation(err.Error())
	}
	state.SetGatewayNonces(connstate.GatewayNonces{Local: n1, Remote: payload.Nonce, Hash: expected})
	return nil
}

// RespondToGatewayWelcome builds the outward peer's half of the handshake
// (§4.5.3 pass 1): given the inbound welcome's nonce N1, generate N2 and
// reply with {nonce: N2, hash: H(PSK, N1, N2)}. Used by the outbound
// gateway keeper (C11), not by inbound dispatch.
func RespondToGatewayWelcome(deps *Deps, state *connstate.SocketState, welcome *wire.WelcomePayload) error {
	n2, err := NewGatewayNonce()
	if err != nil {
		return err
	}
	hash := gatewayHandshakeHash(deps.GatewayPreSharedKey, welcome.Nonce, n2)
	state.SetGatewayNonces(connstate.GatewayNonces{Local: n2, Remote: welcome.Nonce, Hash: hash})

	reply := &wire.Envelope{
		From: deps.InstanceID,
		Type: wire.TypeAuthGateway,
	}
	_ = reply.SetPayload(wire.AuthGatewayPayload{Nonce: n2, Hash: hash})
	return replyPlain(state, reply)
}
