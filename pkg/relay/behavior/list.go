package behavior

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// List implements the list behavior (§4.5.5). Precondition: PortalAuth.
func List(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	if state.State() != connstate.PortalAuth {
		return relayerr.PolicyViolation("InvalidConnectionStateForAuthentication")
	}
	return sendAgentList(ctx, deps, state, env.MessageID)
}

// sendAgentList fetches active Agents for state's tenant and replies
// PlainText with the serialized ClientRegistration array. Shared by the
// list behavior itself, AfterAuthenticated's portal push, and the gateway
// proxy's synthesized list push (§4.5.8, §4.5.9).
func sendAgentList(ctx context.Context, deps *Deps, state *connstate.SocketState, messageID string) error {
	var registrations []wire.ClientRegistration
	if deps.Registry != nil {
		agents, err := deps.Registry.GetAgents(ctx, state.OrganizationID())
		if err == nil {
			for _, a := range agents {
				registrations = append(registrations, wire.ClientRegistration{
					ClientID:              a.ClientID,
					OrganizationID:        a.OrganizationID,
					Type:                  "agent",
					MachineRegistrationID: a.MachineRegistrationID,
					ClientVersion:         a.ClientVersion,
					GatewayID:             a.GatewayID,
					LastUpdatedOn:         a.LastUpdatedOn,
				})
			}
		}
	}

	if messageID == "" {
		messageID = newMessageID()
	}
	reply := &wire.Envelope{
		From:      deps.InstanceID,
		To:        state.ClientID(),
		Type:      wire.TypeList,
		MessageID: messageID,
	}
	_ = reply.SetPayload(registrations)
	return replyPlain(state, reply)
}
