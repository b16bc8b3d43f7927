package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/freitascorp/relaycore/pkg/audit"
	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/config"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
	"github.com/freitascorp/relaycore/pkg/relayerr"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// wsWriter adapts a *websocket.Conn to connstate.Writer. Grounded on the
// teacher's WSTunnel, which held the raw *websocket.Conn directly; here the
// connection is wrapped so SocketState never imports the websocket package.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) WriteText(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsWriter) Close(code connstate.CloseCode, reason string) error {
	status := websocket.StatusNormalClosure
	if code == connstate.CloseViolation {
		status = websocket.StatusPolicyViolation
	}
	return w.conn.Close(status, reason)
}

// Loop runs the receive loop (C3) shared by every ingress route and by the
// outbound gateway keeper (C11). One Loop is built per node and reused
// across every stream.
type Loop struct {
	Deps     *behavior.Deps
	Dispatch Dispatch
	Config   *config.Config
	Logger   *slog.Logger
}

// Serve drives one accepted stream end to end: register in the directory,
// send the welcome envelope, read-decode-dispatch until the connection
// closes or the node shuts down, then run AfterDisconnect and deregister.
// Grounded on WSServer.handleAgentConnect + processAgentMessages, split
// from a single /relay/agent route into the three ingress routes §4.3
// names, and from the teacher's register/result/pong switch to a full
// pkg/wire decode + behavior.Dispatch handoff.
func (l *Loop) Serve(ctx context.Context, conn *websocket.Conn, initial connstate.State) {
	state := connstate.New(uuid.NewString(), &wsWriter{conn: conn})
	state.SetState(initial)

	var clientEntry, gatewayEntry *directory.Entry
	if initial.Role() == connstate.RoleGateway {
		state.InterestMap = connstate.NewInterestMap()
		gatewayEntry = l.Deps.GatewayDirectory.Add(state)
		defer l.Deps.GatewayDirectory.Remove(gatewayEntry)
	} else {
		clientEntry = l.Deps.Directory.Add(state)
		defer l.Deps.Directory.Remove(clientEntry)
	}

	if err := l.sendWelcome(state, initial); err != nil {
		l.Logger.Warn("send welcome failed", "error", err)
		_ = state.Close(connstate.CloseNormal, "welcome send failure")
		return
	}

	streamCtx, stopWatch := context.WithCancel(ctx)
	go l.watchShutdown(ctx, streamCtx, state)

	l.readLoop(ctx, conn, state)
	stopWatch()
	behavior.AfterDisconnect(context.Background(), l.Deps, state)
}

// sendWelcome implements §4.3 step 2: a PlainText welcome with this node's
// identity, and — on Gateway ingress only — a fresh N1 nonce that seeds the
// authgateway handshake (§4.5.3 pass 1).
func (l *Loop) sendWelcome(state *connstate.SocketState, initial connstate.State) error {
	payload := wire.WelcomePayload{
		MachineName:             l.Deps.MachineName,
		ServerVersion:           l.Deps.ServerVersion,
		AllowedProtocolVersions: l.Deps.AllowedProtocolVersions,
	}
	if hash, err := publicKeyHash(l.Deps); err == nil {
		payload.PublicKeyHash = hash
	}

	if initial.Role() == connstate.RoleGateway {
		n1, err := behavior.NewGatewayNonce()
		if err != nil {
			return fmt.Errorf("generate gateway nonce: %w", err)
		}
		payload.Nonce = n1
		state.SetGatewayNonces(connstate.GatewayNonces{Local: n1})
	}

	env := &wire.Envelope{From: l.Deps.InstanceID, Type: wire.TypeWelcome}
	if err := env.SetPayload(payload); err != nil {
		return err
	}
	return state.Write(env, wire.PlainText, nil)
}

// readLoop implements §4.3 steps 3-6.
func (l *Loop) readLoop(ctx context.Context, conn *websocket.Conn, state *connstate.SocketState) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			continue
		}

		state.RecordReceived(len(data))
		if violation := l.checkSizeCap(state, len(data)); violation != "" {
			l.closeWithReason(state, violation)
			return
		}

		env, err := l.decode(state, data)
		if err != nil {
			reason := err.Error()
			if relayerr.Is(err, relayerr.KindPolicyViolation) {
				l.closeWithReason(state, reason)
				return
			}
			l.Logger.Warn("decode failed", "error", err, "connectionId", state.ConnectionID())
			continue
		}

		if l.tokenExpired(state) {
			l.sendTokenExpiredWarning(state, env)
			l.closeWithReason(state, "TokenExpired")
			return
		}

		fn, ok := l.Dispatch[env.Type]
		if !ok {
			l.Logger.Debug("no behavior registered", "type", env.Type)
			continue
		}

		if err := fn(ctx, l.Deps, state, env); err != nil {
			if relayerr.Is(err, relayerr.KindPolicyViolation) {
				l.closeWithReason(state, err.Error())
				return
			}
			l.Logger.Warn("behavior error", "type", env.Type, "error", err)
		}
	}
}

// checkSizeCap enforces §3/§6's two-tier frame budget: a cumulative total
// before authentication, a per-frame cap after.
func (l *Loop) checkSizeCap(state *connstate.SocketState, frameLen int) string {
	if !state.State().Authenticated() {
		if int(state.BytesReceived()) > l.Config.MaxBytesBeforeAuthentication {
			return "Too much data received before authentication"
		}
		return ""
	}
	if frameLen > l.Config.MaxMessageSize {
		return "Message exceeds maxMessageSize"
	}
	return ""
}

// decode implements §4.3 step 4's inferWrapping dispatch, plus the
// AgentUnauth bootstrap case resolved in DESIGN.md: the first auth frame on
// a fresh Agent stream is extracted unverified since its own payload is the
// only place the verification key lives.
func (l *Loop) decode(state *connstate.SocketState, data []byte) (*wire.Envelope, error) {
	if state.State() == connstate.AgentUnauth {
		return wire.DecodeUnverified(data)
	}

	var key any
	if state.State() == connstate.AgentAuth {
		key = l.Deps.PrivateKey
	}
	return wire.Decode(data, state.InferWrapping(), key)
}

// tokenExpired checks the stored token expiry against now, once a stream is
// authenticated and has one set (§4.3 step 4, §7).
func (l *Loop) tokenExpired(state *connstate.SocketState) bool {
	exp := state.TokenExpiration()
	return !exp.IsZero() && time.Now().After(exp)
}

func (l *Loop) sendTokenExpiredWarning(state *connstate.SocketState, env *wire.Envelope) {
	warn := &wire.Envelope{
		From:         l.Deps.InstanceID,
		To:           env.From,
		Type:         wire.TypeWarning,
		ErrorMessage: "TokenExpired",
	}
	w := wire.PlainText
	var key any
	if state.State() == connstate.AgentAuth {
		w, key = wire.Encrypt, state.ClientPublicKey()
	}
	_ = state.Write(warn, w, key)
}

func (l *Loop) closeWithReason(state *connstate.SocketState, reason string) {
	if l.Deps.Audit != nil {
		_ = l.Deps.Audit.Append(context.Background(), &audit.Event{
			Type:           audit.EventPolicyViolation,
			ClientID:       state.ClientID(),
			OrganizationID: state.OrganizationID(),
			ConnectionID:   state.ConnectionID(),
			Reason:         reason,
		})
	}
	_ = state.Close(connstate.CloseViolation, reason)
}

// watchShutdown force-closes state once node is cancelled, bounding the
// graceful drain to 10s per §4.3/§5. stream is a per-connection child of
// node, cancelled early by Serve once this stream's own readLoop returns on
// its own — without it this goroutine would sit idle for the rest of the
// node's lifetime on every normally-closed stream. Waking because stream
// (not node) was cancelled means the connection is already gone, so there
// is nothing left to force-close.
func (l *Loop) watchShutdown(node, stream context.Context, state *connstate.SocketState) {
	<-stream.Done()
	if node.Err() == nil {
		return
	}
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	<-timer.C
	_ = state.Close(connstate.CloseNormal, "NormalClosure")
}

func publicKeyHash(deps *behavior.Deps) (string, error) {
	if deps.PrivateKey == nil {
		return "", fmt.Errorf("no node key configured")
	}
	return certutil.PublicKeyHash(&deps.PrivateKey.PublicKey)
}
