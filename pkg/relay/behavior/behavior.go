// Package behavior implements the per-message-type rules of the relay
// protocol (C5): authentication, ping/pong, list, command routing, the
// backend control path, and gateway-to-gateway proxying. Structurally
// grounded on the teacher's pkg/relay/executor.go, which dispatches one
// function per command type, precondition-checked, returning a result or
// an error — generalized here from shell/file execution to envelope
// handling.
package behavior

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/freitascorp/relaycore/pkg/audit"
	"github.com/freitascorp/relaycore/pkg/bus"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/metrics"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Behavior handles one envelope type for one stream. Preconditions on the
// connection's current state are enforced inside the behavior itself;
// dispatch does not know about state (§4.4).
type Behavior func(ctx context.Context, deps *Deps, state *connstate.SocketState, env *wire.Envelope) error

// Deps bundles every collaborator a behavior may need. One Deps is shared
// across all streams on a node.
type Deps struct {
	Registry         registry.Registry
	Directory        *directory.Directory
	GatewayDirectory *directory.GatewayDirectory
	Correlator       *correlator.Correlator
	Bus              *bus.Bus
	Metrics          *metrics.Registry
	Audit            audit.Store

	PrivateKey              *rsa.PrivateKey
	InstanceID              string
	MachineName             string
	ServerVersion           string
	AllowedProtocolVersions []int
	PingInterval            time.Duration
	ControlResponseTimeout  time.Duration
	GatewayPreSharedKey     string
}

func newMessageID() string {
	return uuid.NewString()
}

// jsonDecode is a small convenience wrapper around json.Unmarshal for bus
// responses, which travel as json.RawMessage.
func jsonDecode(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// replyPlain writes env as a PlainText frame on state's connection.
func replyPlain(state *connstate.SocketState, env *wire.Envelope) error {
	return state.Write(env, wire.PlainText, nil)
}

// replySigned writes env as a Sign-Only frame using this node's private key
// — used for the auth (Agent) reply, which must be verifiable before the
// Agent's own public key is trusted for Encrypt traffic.
func replySigned(deps *Deps, state *connstate.SocketState, env *wire.Envelope) error {
	return state.Write(env, wire.SignOnly, deps.PrivateKey)
}

// replyEncrypted writes env Encrypt-wrapped to state's stored client public
// key (an authenticated Agent connection).
func replyEncrypted(state *connstate.SocketState, env *wire.Envelope) error {
	key := state.ClientPublicKey()
	if key == nil {
		return relayerr.PolicyViolation("MissingClientPublicKey")
	}
	return state.Write(env, wire.Encrypt, key)
}

// isLocalAgentEntry reports whether a directory entry is a locally attached,
// authenticated Agent with the given tenant and clientId (§3).
func isLocalAgentEntry(e *directory.Entry, organizationID, clientID string) bool {
	return e.State.State() == connstate.AgentAuth &&
		e.State.OrganizationID() == organizationID &&
		e.State.ClientID() == clientID
}

// closeBothStreams is the cross-tenant denial path (§4.5.6's invariant):
// force both the source and the (supposed) destination connection closed
// with a PolicyViolation. state always belongs to this node; other may be
// nil if the destination isn't locally attached (only the source is then
// closed, by the receive loop unwinding on the returned error).
func closeBothStreams(deps *Deps, reason string, state *connstate.SocketState, other *connstate.SocketState) error {
	if deps.Audit != nil {
		_ = deps.Audit.Append(context.Background(), &audit.Event{
			Type:           audit.EventTenantDenied,
			ClientID:       state.ClientID(),
			OrganizationID: state.OrganizationID(),
			ConnectionID:   state.ConnectionID(),
			Reason:         reason,
		})
	}
	if deps.Metrics != nil {
		deps.Metrics.GetCounter("relay.cross_tenant_denied").Inc()
	}
	if other != nil {
		_ = other.Close(connstate.CloseViolation, reason)
	}
	// state itself is closed by the receive loop when this PolicyViolation
	// propagates back up through dispatch.
	return relayerr.PolicyViolation(reason)
}
