package relay

import (
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Dispatch maps an envelope's Type to the behavior that handles it (C4).
// Grounded on pkg/relay/executor.go's switch-on-command-type dispatch,
// lifted to a table built once per role at startup — dispatch itself does
// not know about connection state; each behavior enforces its own
// preconditions (§4.4).
type Dispatch map[wire.Type]behavior.Behavior

// NewServiceDispatch builds the table for the /agent and /portal ingress
// routes: portal and agent auth, the post-auth Portal/Agent protocol
// (ping, list, command), and the backend control path.
func NewServiceDispatch() Dispatch {
	return Dispatch{
		wire.TypeAuthPortal: behavior.AuthPortal,
		wire.TypeAuth:       behavior.Auth,
		wire.TypePing:       behavior.Ping,
		wire.TypeList:       behavior.List,
		wire.TypeCommand:    behavior.Command,
		wire.TypeControl:    behavior.Control,
	}
}

// NewGatewayDispatch builds the table for the /gateway ingress route and
// for the outbound keeper's (C11) own receive loop: the gateway handshake,
// liveness ping, and cross-node proxying.
func NewGatewayDispatch() Dispatch {
	return Dispatch{
		wire.TypeAuthGateway: behavior.AuthGateway,
		wire.TypePing:        behavior.Ping,
		wire.TypeProxy:       behavior.Proxy,
	}
}
