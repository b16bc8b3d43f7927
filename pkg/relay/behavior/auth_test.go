package behavior

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/wire"
)

func registerValidateAgentToken(deps *Deps, validTokens map[string]wire.TokenValidationResponse) {
	deps.Bus.HandleRequest("ValidateAgentRequestToken", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req wire.ValidateAgentRequestToken
		_ = jsonDecode(raw, &req)
		if resp, ok := validTokens[req.Token]; ok {
			return resp, nil
		}
		return wire.TokenValidationResponse{Success: false, Message: "unknown token"}, nil
	})
}

func TestAuthAcceptsValidAgent(t *testing.T) {
	deps := newTestDeps(t)
	registerValidateAgentToken(deps, map[string]wire.TokenValidationResponse{
		"agent-token": {Success: true, OrganizationID: "org-1", RegisteredAgentID: "reg-1"},
	})

	agentKey, err := certutil.Generate()
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}
	pubPEM, err := certutil.EncodePublicKeyPEM(&agentKey.PublicKey)
	if err != nil {
		t.Fatalf("encode agent public key: %v", err)
	}

	state, conn := newConn(deps, connstate.AgentUnauth)
	env := &wire.Envelope{From: "agent-1", Type: wire.TypeAuth, MessageID: "m1"}
	_ = env.SetPayload(wire.AuthAgentPayload{
		Token:           "agent-token",
		PublicKey:       string(pubPEM),
		ClientVersion:   "1.0",
		ProtocolVersion: 1,
	})

	if err := Auth(context.Background(), deps, state, env); err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if state.State() != connstate.AgentAuth {
		t.Fatalf("state = %s, want AgentAuth", state.State())
	}
	if state.OrganizationID() != "org-1" || state.RegisteredAgentID() != "reg-1" {
		t.Fatalf("unexpected tenant fields: org=%q reg=%q", state.OrganizationID(), state.RegisteredAgentID())
	}
	if state.ClientPublicKey() == nil {
		t.Fatal("expected the agent's public key to be stored")
	}

	// The reply is Sign-Only wrapped with this node's private key.
	data := conn.last()
	if data == nil {
		t.Fatal("no reply frame was written")
	}
	decoded, err := wire.Decode(data, wire.SignOnly, &deps.PrivateKey.PublicKey)
	if err != nil {
		t.Fatalf("decode signed reply: %v", err)
	}
	var result wire.AuthAgentResult
	if err := decoded.DecodePayload(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected accepted=true")
	}
}

func TestAuthRejectsUnknownProtocolVersion(t *testing.T) {
	deps := newTestDeps(t)
	registerValidateAgentToken(deps, map[string]wire.TokenValidationResponse{
		"agent-token": {Success: true, OrganizationID: "org-1"},
	})

	state, _ := newConn(deps, connstate.AgentUnauth)
	env := &wire.Envelope{From: "agent-1", Type: wire.TypeAuth, MessageID: "m1"}
	_ = env.SetPayload(wire.AuthAgentPayload{
		Token:           "agent-token",
		PublicKey:       "ignored-for-this-check",
		ProtocolVersion: 99,
	})

	if err := Auth(context.Background(), deps, state, env); err == nil {
		t.Fatal("expected a PolicyViolation for an unsupported protocol version")
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	deps := newTestDeps(t)
	registerValidateAgentToken(deps, map[string]wire.TokenValidationResponse{})

	state, _ := newConn(deps, connstate.AgentUnauth)
	env := &wire.Envelope{From: "agent-1", Type: wire.TypeAuth, MessageID: "m1"}
	_ = env.SetPayload(wire.AuthAgentPayload{Token: "not-registered", PublicKey: "x", ProtocolVersion: 1})

	if err := Auth(context.Background(), deps, state, env); err == nil {
		t.Fatal("expected a PolicyViolation for an unvalidatable token")
	}
	if state.State() != connstate.AgentUnauth {
		t.Fatalf("state = %s, want AgentUnauth (unchanged)", state.State())
	}
}

func TestAuthRejectsMalformedPublicKey(t *testing.T) {
	deps := newTestDeps(t)
	registerValidateAgentToken(deps, map[string]wire.TokenValidationResponse{
		"agent-token": {Success: true, OrganizationID: "org-1"},
	})

	state, _ := newConn(deps, connstate.AgentUnauth)
	env := &wire.Envelope{From: "agent-1", Type: wire.TypeAuth, MessageID: "m1"}
	_ = env.SetPayload(wire.AuthAgentPayload{Token: "agent-token", PublicKey: "not-a-pem-key", ProtocolVersion: 1})

	if err := Auth(context.Background(), deps, state, env); err == nil {
		t.Fatal("expected a PolicyViolation for a malformed public key")
	}
}
