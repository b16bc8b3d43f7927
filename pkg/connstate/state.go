// Package connstate implements the per-stream connection state machine (C2):
// identity, auth status, buffered key material, byte counters, and the
// single-writer guard that serializes outbound frames.
package connstate

import (
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freitascorp/relaycore/pkg/wire"
)

// State is the connection state machine value for one stream.
type State int

const (
	Unknown State = iota
	PortalUnauth
	PortalAuth
	AgentUnauth
	AgentAuth
	GatewayUnauth
	GatewayAuth
)

func (s State) String() string {
	switch s {
	case PortalUnauth:
		return "PortalUnauth"
	case PortalAuth:
		return "PortalAuth"
	case AgentUnauth:
		return "AgentUnauth"
	case AgentAuth:
		return "AgentAuth"
	case GatewayUnauth:
		return "GatewayUnauth"
	case GatewayAuth:
		return "GatewayAuth"
	default:
		return "Unknown"
	}
}

// Authenticated reports whether s is one of the three *Auth states.
func (s State) Authenticated() bool {
	return s == PortalAuth || s == AgentAuth || s == GatewayAuth
}

// Role is the coarse client kind, derived from the current State.
type Role int

const (
	RoleUnknown Role = iota
	RoleAgent
	RolePortal
	RoleGateway
)

func (s State) Role() Role {
	switch s {
	case PortalUnauth, PortalAuth:
		return RolePortal
	case AgentUnauth, AgentAuth:
		return RoleAgent
	case GatewayUnauth, GatewayAuth:
		return RoleGateway
	default:
		return RoleUnknown
	}
}

// InferWrapping returns the wrapping a stream in State s is expected to use
// for inbound frames, per the §3 ConnectionState table.
func InferWrapping(s State) wire.Wrapping {
	switch s {
	case AgentUnauth:
		return wire.SignOnly
	case AgentAuth:
		return wire.Encrypt
	default:
		return wire.PlainText
	}
}

// AllowedOutbound lists the envelope types a stream in State s may send.
func AllowedOutbound(s State) []wire.Type {
	switch s {
	case PortalUnauth:
		return []wire.Type{wire.TypeAuthPortal}
	case PortalAuth:
		return []wire.Type{wire.TypePing, wire.TypeList, wire.TypeCommand, wire.TypeAuthPortal}
	case AgentUnauth:
		return []wire.Type{wire.TypeAuth}
	case AgentAuth:
		return []wire.Type{wire.TypePing, wire.TypeControl, wire.TypeCommand}
	case GatewayUnauth:
		return []wire.Type{wire.TypeWelcome, wire.TypeAuthGateway}
	case GatewayAuth:
		return []wire.Type{wire.TypePing, wire.TypeProxy}
	default:
		return nil
	}
}

// GatewayNonces holds the two short-lived nonces and three-part HMAC hash
// exchanged during an authgateway handshake.
type GatewayNonces struct {
	Local  string
	Remote string
	Hash   string
}

// CloseCode classifies why a stream is being force-closed. It crosses the
// Writer boundary instead of a raw wire status so this package never needs
// to import the websocket package (§3/§6's close-code table).
type CloseCode int

const (
	// CloseNormal is a graceful close: node shutdown drain, a client's own
	// disconnect, or a non-protocol failure like a welcome send error.
	CloseNormal CloseCode = iota
	// CloseViolation is RFC 6455's PolicyViolation (1008): every §4.5/§6
	// protocol violation (oversized frame, malformed envelope, expired
	// token, cross-tenant or impersonated destination, bad handshake).
	CloseViolation
)

// Writer is the minimal transport a SocketState needs to ship one text
// frame and to force the underlying connection closed (the cross-tenant
// and policy-violation paths in §3/§4.5.6 close a stream out-of-band from
// its own receive loop).
type Writer interface {
	WriteText(data []byte) error
	Close(code CloseCode, reason string) error
}

// SocketState is the per-stream, in-memory-only object described in §3.
// All mutation goes through its methods; fields are unexported so no
// behavior can share mutable state without going through them.
type SocketState struct {
	connectionID string
	conn         Writer

	mu                sync.RWMutex
	state             State
	clientID          string
	organizationID    string
	registeredAgentID string
	clientPublicKey   *rsa.PublicKey
	gatewayNonces     GatewayNonces
	connectedOn       time.Time
	lastReceived      time.Time
	lastSent          time.Time
	tokenExpiration   time.Time

	bytesReceived uint64
	bytesSent     uint64

	impersonated bool

	writeGuard sync.Mutex
	closeOnce  sync.Once
	closeErr   error
	closeReason string

	// InterestMap is non-nil only for outward (Service→Gateway) connections.
	InterestMap *InterestMap
}

// New creates a SocketState wired to the given Writer, in the Unknown state.
func New(connectionID string, conn Writer) *SocketState {
	return &SocketState{
		connectionID: connectionID,
		conn:         conn,
		state:        Unknown,
		connectedOn:  time.Now(),
	}
}

func (s *SocketState) ConnectionID() string { return s.connectionID }

func (s *SocketState) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions to newState. Tenant fields (clientID/organizationID)
// are set only via Authenticate, never cleared by a later SetState.
func (s *SocketState) SetState(newState State) {
	s.mu.Lock()
	s.state = newState
	s.mu.Unlock()
}

// Authenticate transitions into one of the *Auth states and fixes
// clientID/organizationID. Per the §3 invariant these never change again
// for the lifetime of the stream, even across re-authentication.
func (s *SocketState) Authenticate(newState State, clientID, organizationID string) error {
	if !newState.Authenticated() {
		return fmt.Errorf("connstate: %s is not an authenticated state", newState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientID != "" && s.clientID != clientID {
		return fmt.Errorf("connstate: clientId is immutable once set")
	}
	if s.organizationID != "" && s.organizationID != organizationID {
		return fmt.Errorf("connstate: organizationId is immutable once set")
	}
	s.state = newState
	s.clientID = clientID
	s.organizationID = organizationID
	return nil
}

func (s *SocketState) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

func (s *SocketState) OrganizationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.organizationID
}

// Impersonated reports whether this Portal connection's auth marked it as
// impersonating another identity (§4.5.1/§4.5.6). Always false for
// non-Portal streams.
func (s *SocketState) Impersonated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.impersonated
}

// SetImpersonated records the impersonation flag carried back on the
// token-validation response. Wire-level impersonation semantics are left
// to the authenticator; command's cross-tenant-denial path just honors
// whatever this is set to.
func (s *SocketState) SetImpersonated(v bool) {
	s.mu.Lock()
	s.impersonated = v
	s.mu.Unlock()
}

func (s *SocketState) RegisteredAgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registeredAgentID
}

func (s *SocketState) SetRegisteredAgentID(id string) {
	s.mu.Lock()
	s.registeredAgentID = id
	s.mu.Unlock()
}

func (s *SocketState) ClientPublicKey() *rsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientPublicKey
}

func (s *SocketState) SetClientPublicKey(key *rsa.PublicKey) {
	s.mu.Lock()
	s.clientPublicKey = key
	s.mu.Unlock()
}

func (s *SocketState) GatewayNonces() GatewayNonces {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayNonces
}

func (s *SocketState) SetGatewayNonces(n GatewayNonces) {
	s.mu.Lock()
	s.gatewayNonces = n
	s.mu.Unlock()
}

func (s *SocketState) TokenExpiration() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenExpiration
}

func (s *SocketState) SetTokenExpiration(t time.Time) {
	s.mu.Lock()
	s.tokenExpiration = t
	s.mu.Unlock()
}

func (s *SocketState) ConnectedOn() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedOn
}

func (s *SocketState) LastReceived() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReceived
}

func (s *SocketState) LastSent() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSent
}

func (s *SocketState) BytesReceived() uint64 {
	return atomic.LoadUint64(&s.bytesReceived)
}

func (s *SocketState) BytesSent() uint64 {
	return atomic.LoadUint64(&s.bytesSent)
}

// RecordReceived updates lastReceived and adds n to the received-bytes
// counter. Wraparound on overflow is acceptable per §5.
func (s *SocketState) RecordReceived(n int) {
	s.mu.Lock()
	s.lastReceived = time.Now()
	s.mu.Unlock()
	atomic.AddUint64(&s.bytesReceived, uint64(n))
}

// Write wraps+serializes env, then acquires the write guard, sends it as one
// text frame, and updates lastSent/bytesSent. Two concurrent callers never
// interleave bytes on the wire because the guard is exclusive for the send
// and the counter updates; encoding happens before the guard is taken.
func (s *SocketState) Write(env *wire.Envelope, w wire.Wrapping, key any) error {
	data, err := wire.Encode(env, w, key)
	if err != nil {
		return fmt.Errorf("connstate: encode: %w", err)
	}

	s.writeGuard.Lock()
	defer s.writeGuard.Unlock()

	if err := s.conn.WriteText(data); err != nil {
		return fmt.Errorf("connstate: write: %w", err)
	}

	s.mu.Lock()
	s.lastSent = time.Now()
	s.mu.Unlock()
	atomic.AddUint64(&s.bytesSent, uint64(len(data)))
	return nil
}

// InferWrapping returns the wrapping expected for inbound frames given the
// stream's current state.
func (s *SocketState) InferWrapping() wire.Wrapping {
	return InferWrapping(s.State())
}

// Close forces the underlying connection closed with the given close code,
// recording reason for the receive loop's after-disconnect hook. Idempotent:
// only the first call's code, reason, and error are retained.
func (s *SocketState) Close(code CloseCode, reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		s.closeErr = s.conn.Close(code, reason)
	})
	return s.closeErr
}

// CloseReason returns the reason passed to the first Close call, if any.
func (s *SocketState) CloseReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeReason
}
