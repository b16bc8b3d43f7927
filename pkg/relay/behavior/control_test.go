package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/wire"
)

func TestControlCompletesPendingCorrelation(t *testing.T) {
	deps := newTestDeps(t)
	state, _ := newConn(deps, connstate.AgentAuth)
	if err := state.Authenticate(connstate.AgentAuth, "agent-1", "org-1"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	key := correlator.Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "m1"}
	await, cancel := deps.Correlator.Prepare(context.Background(), key, 2*time.Second)
	defer cancel()

	env := &wire.Envelope{From: "agent-1", Type: wire.TypeControl, MessageID: "m1"}
	_ = env.SetPayload(wire.ControlResponse{Success: true, Message: "done"})

	if err := Control(context.Background(), deps, state, env); err != nil {
		t.Fatalf("Control: %v", err)
	}

	resp, err := await()
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	cr, ok := resp.(wire.ControlResponse)
	if !ok || !cr.Success || cr.Message != "done" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestControlRejectsNonAgentState(t *testing.T) {
	deps := newTestDeps(t)
	state, _ := newConn(deps, connstate.PortalAuth)
	env := &wire.Envelope{From: "portal-1", Type: wire.TypeControl, MessageID: "m1"}
	if err := Control(context.Background(), deps, state, env); err == nil {
		t.Fatal("expected a PolicyViolation outside AgentAuth")
	}
}
