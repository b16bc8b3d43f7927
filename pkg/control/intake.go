// Package control implements the external-request intake (C10): the bus-
// facing entry point a backend service uses to push an administrative
// command down to an Agent and await its reply, outside of any Portal
// session. Grounded on pkg/relay/behavior/command.go's local-vs-gateway
// routing decision and pkg/relay/behavior/control.go /
// pkg/relay/behavior/proxy.go's correlator-completion side, generalized
// from an inbound envelope handler to a bus-request handler.
package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// requestDeadline bounds how long intake waits for an Agent's reply before
// answering the bus with a timeout (§4.5.10 step 3).
const requestDeadline = 30 * time.Second

// Intake wires the AgentControlCommandRequest bus conversation to the
// command/control path and the pending-response correlator.
type Intake struct {
	Deps *behavior.Deps
}

// Register subscribes Intake as the handler for AgentControlCommandRequest.
// Idempotent in the sense that a second Register just replaces the first
// (bus.Bus.HandleRequest's own semantics).
func (i *Intake) Register() {
	i.Deps.Bus.HandleRequest("AgentControlCommandRequest", i.handle)
}

func (i *Intake) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var req wire.AgentControlCommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return wire.AgentControlCommandResponse{Success: false, Message: "malformed request"}, nil
	}

	agent := i.locateAgent(ctx, req.AgentID, req.OrganizationID)
	if agent == nil {
		return wire.AgentControlCommandResponse{
			AgentID: req.AgentID, OrganizationID: req.OrganizationID,
			Success: false, Message: "Client was not connected",
		}, nil
	}

	messageID := uuid.NewString()
	key := correlator.Key{OrganizationID: req.OrganizationID, ClientID: agent.ClientID, MessageID: messageID}
	await, cancel := i.Deps.Correlator.Prepare(ctx, key, requestDeadline)

	if !i.send(agent, req, messageID) {
		cancel()
		return wire.AgentControlCommandResponse{
			AgentID: req.AgentID, OrganizationID: req.OrganizationID,
			Success: false, Message: "agent not reachable",
		}, nil
	}

	resp, err := await()
	if err != nil {
		return wire.AgentControlCommandResponse{
			AgentID: req.AgentID, OrganizationID: req.OrganizationID,
			Success: false, Message: "timed out awaiting agent response",
		}, nil
	}

	ctrl, _ := resp.(wire.ControlResponse)
	return wire.AgentControlCommandResponse{
		AgentID:        req.AgentID,
		OrganizationID: req.OrganizationID,
		Settings:       ctrl.Output,
		Success:        ctrl.Success,
		Message:        ctrl.Message,
	}, nil
}

// locateAgent implements §4.5.10 step 1: type=Agent, matching
// machineRegistrationId and organizationId.
func (i *Intake) locateAgent(ctx context.Context, agentID, organizationID string) *registry.Record {
	agents, err := i.Deps.Registry.GetAgents(ctx, organizationID)
	if err != nil {
		return nil
	}
	for idx := range agents {
		if agents[idx].MachineRegistrationID == agentID {
			return &agents[idx]
		}
	}
	return nil
}

// send implements §4.5.10 steps 2/4: local delivery Encrypt-wrapped direct
// to the Agent, or a PlainText proxy(control) over the best outward gateway
// candidate when the agent's gatewayId points elsewhere.
func (i *Intake) send(agent *registry.Record, req wire.AgentControlCommandRequest, messageID string) bool {
	inner := wire.ControlRequest{Command: req.Command, Settings: req.Settings}

	if agent.GatewayID == "" || agent.GatewayID == i.Deps.InstanceID {
		if i.Deps.Directory == nil {
			return false
		}
		entry := i.Deps.Directory.FirstWhere(func(e *directory.Entry) bool {
			return e.State.State() == connstate.AgentAuth &&
				e.State.OrganizationID() == req.OrganizationID &&
				e.State.ClientID() == agent.ClientID
		})
		if entry == nil {
			return false
		}
		env := &wire.Envelope{From: i.Deps.InstanceID, To: agent.ClientID, Type: wire.TypeControl, MessageID: messageID}
		if err := env.SetPayload(inner); err != nil {
			return false
		}
		key := entry.State.ClientPublicKey()
		if key == nil {
			return false
		}
		return entry.State.Write(env, wire.Encrypt, key) == nil
	}

	if i.Deps.GatewayDirectory == nil {
		return false
	}
	candidates := i.gatewayCandidates(agent, req.OrganizationID)
	if len(candidates) == 0 {
		return false
	}

	proxied := &wire.Envelope{From: i.Deps.InstanceID, Type: wire.TypeProxy, MessageID: messageID}
	innerPayload, err := json.Marshal(inner)
	if err != nil {
		return false
	}
	body := wire.ProxyEnvelope{
		Type:           wire.TypeControl,
		From:           i.Deps.InstanceID,
		To:             agent.ClientID,
		OrganizationID: req.OrganizationID,
		InnerMessage:   innerPayload,
	}
	if err := proxied.SetPayload(body); err != nil {
		return false
	}

	for _, gw := range candidates {
		if gw.State.State() != connstate.GatewayAuth {
			continue
		}
		if gw.State.Write(proxied, wire.PlainText, nil) != nil {
			continue
		}
		if gw.State.InterestMap != nil {
			gw.State.InterestMap.MarkInterest(req.OrganizationID, agent.ClientID)
		}
		return true
	}
	return false
}

func (i *Intake) gatewayCandidates(agent *registry.Record, organizationID string) []*directory.Entry {
	if agent.GatewayID != "" {
		if byID := i.Deps.GatewayDirectory.FindByClientID(agent.GatewayID); byID != nil {
			return []*directory.Entry{byID}
		}
	}
	if relevant := i.Deps.GatewayDirectory.WhereRelevantTo(organizationID, agent.ClientID); len(relevant) > 0 {
		return relevant
	}
	return i.Deps.GatewayDirectory.Snapshot()
}
