package wire

import "time"

// AuthPortalPayload is the body of an authportal envelope.
type AuthPortalPayload struct {
	Token           string         `json:"token"`
	ClientVersion   string         `json:"clientVersion"`
	ProtocolVersion int            `json:"protocolVersion"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AuthPortalResult is the body of the authportal reply.
type AuthPortalResult struct {
	Accepted       bool   `json:"accepted"`
	WillReplaceToken bool `json:"willReplaceToken"`
	NewToken       string `json:"newToken,omitempty"`
}

// AuthAgentPayload is the body of an auth (Agent) envelope.
type AuthAgentPayload struct {
	Token           string         `json:"token"`
	PublicKey       string         `json:"publicKey"`
	ClientVersion   string         `json:"clientVersion"`
	ProtocolVersion int            `json:"protocolVersion"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AuthAgentResult is the body of the auth (Agent) reply.
type AuthAgentResult struct {
	Accepted         bool   `json:"accepted"`
	WillReplaceToken bool   `json:"willReplaceToken"`
	NewToken         string `json:"newToken,omitempty"`
}

// AuthGatewayPayload is the body of an authgateway handshake envelope.
type AuthGatewayPayload struct {
	Nonce string `json:"nonce"`
	Hash  string `json:"hash"`
}

// WelcomePayload is the body of a welcome envelope.
type WelcomePayload struct {
	PublicKeyHash         string   `json:"publicKeyHash"`
	MachineName           string   `json:"machineName"`
	ServerVersion         string   `json:"serverVersion"`
	Nonce                 string   `json:"nonce,omitempty"`
	AllowedProtocolVersions []int  `json:"allowedProtocolVersions"`
}

// ClientRegistration mirrors a tenant registry row as returned to a Portal's
// "list" request.
type ClientRegistration struct {
	ClientID              string    `json:"clientId"`
	OrganizationID        string    `json:"organizationId"`
	Type                  string    `json:"type"` // "agent" | "portal"
	MachineRegistrationID string    `json:"machineRegistrationId,omitempty"`
	ClientVersion         string    `json:"clientVersion,omitempty"`
	GatewayID             string    `json:"gatewayId,omitempty"`
	LastUpdatedOn         time.Time `json:"lastUpdatedOn"`
}

// ControlRequest is the inner payload sent to an Agent for a control
// message, originating from the external-request intake (C10).
type ControlRequest struct {
	Command  string         `json:"command"`
	Settings map[string]any `json:"settings,omitempty"`
}

// ControlResponse is the Agent's reply to a ControlRequest.
type ControlResponse struct {
	Output  map[string]any `json:"output,omitempty"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
}

// ValidateAgentRequestToken is the bus REQ payload used to validate an
// Agent's auth token (§6).
type ValidateAgentRequestToken struct {
	Token string `json:"token"`
}

// ValidateConnectRequestToken is the bus REQ payload used to validate a
// Portal's auth token (§6).
type ValidateConnectRequestToken struct {
	Token string `json:"token"`
}

// TokenValidationResponse answers either token-validation conversation.
// Impersonated carries the authenticator's own verdict on whether this
// token was issued for impersonating another identity; wire-level
// impersonation semantics are otherwise left entirely to the authenticator
// (§4.5.1/§4.5.6).
type TokenValidationResponse struct {
	Success           bool      `json:"success"`
	OrganizationID    string    `json:"organizationId,omitempty"`
	RegisteredAgentID string    `json:"registeredAgentId,omitempty"`
	Expires           time.Time `json:"expires,omitempty"`
	NewToken          string    `json:"newToken,omitempty"`
	Message           string    `json:"message,omitempty"`
	Impersonated      bool      `json:"impersonated,omitempty"`
}

// AgentControlCommandRequest is the bus REQ payload driving the external-
// request intake (C10).
type AgentControlCommandRequest struct {
	AgentID        string         `json:"agentId"`
	OrganizationID string         `json:"organizationId"`
	Command        string         `json:"command"`
	Settings       map[string]any `json:"settings,omitempty"`
}

// AgentControlCommandResponse answers an AgentControlCommandRequest.
type AgentControlCommandResponse struct {
	AgentID        string         `json:"agentId"`
	OrganizationID string         `json:"organizationId"`
	Settings       map[string]any `json:"settings,omitempty"`
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
}

// ActivityType enumerates the AgentActivityMessage activity kinds.
type ActivityType string

const (
	ActivityConnected    ActivityType = "Connected"
	ActivityPing         ActivityType = "Ping"
	ActivityDisconnected ActivityType = "Disconnected"
)

// AgentActivityMessage is the bus PUB payload announcing Agent lifecycle
// events (§6).
type AgentActivityMessage struct {
	ActivityType      ActivityType   `json:"activityType"`
	ConnectedOn       time.Time      `json:"connectedOn"`
	RegisteredAgentID string         `json:"registeredAgentId"`
	OrganizationID    string         `json:"organizationId"`
	ClientVersion     string         `json:"clientVersion,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// PublicKeyAnnouncement is the bus PUB payload periodically broadcasting
// this node's public key fingerprint (§6).
type PublicKeyAnnouncement struct {
	Hash         string    `json:"hash"`
	PEM          string    `json:"pem"`
	InstanceName string    `json:"instanceName"`
	Expires      time.Time `json:"expires"`
}

// DailyMessage is the bus SUB payload that triggers a registry/statistics
// purge (§6).
type DailyMessage struct {
	TriggeredOn time.Time `json:"triggeredOn"`
}
