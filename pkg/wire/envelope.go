// Package wire defines the relay fabric's on-wire message envelope and the
// three transport wrappings (PlainText, Sign-Only, Encrypt) applied to it.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the envelope's message kind.
type Type string

const (
	TypeWelcome      Type = "welcome"
	TypeAuthPortal   Type = "authportal"
	TypeAuth         Type = "auth"
	TypeAuthGateway  Type = "authgateway"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeList         Type = "list"
	TypeCommand      Type = "command"
	TypeControl      Type = "control"
	TypeProxy        Type = "proxy"
	TypeWarning      Type = "warning"
)

// Wrapping is the transport format applied to a serialized Envelope.
type Wrapping int

const (
	// PlainText ships the envelope JSON unmodified.
	PlainText Wrapping = iota
	// SignOnly wraps the envelope JSON in a compact JWS signed by the sender.
	SignOnly
	// Encrypt wraps the envelope JSON in a compact JWE to the recipient.
	Encrypt
)

func (w Wrapping) String() string {
	switch w {
	case PlainText:
		return "plaintext"
	case SignOnly:
		return "sign-only"
	case Encrypt:
		return "encrypt"
	default:
		return "unknown"
	}
}

// Envelope is the wire object exchanged between Portals, Agents, Gateways
// and Service nodes. All fields except Type are optional; Payload holds raw
// JSON and the rest are strings.
type Envelope struct {
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	Type         Type            `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// IsError reports whether this envelope is a failure response.
func (e *Envelope) IsError() bool {
	return e.ErrorMessage != ""
}

// SetPayload marshals v into the envelope's Payload field.
func (e *Envelope) SetPayload(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	e.Payload = raw
	return nil
}

// DecodePayload unmarshals the envelope's Payload field into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ProxyEnvelope is carried inside the payload of an outer envelope of
// Type TypeProxy, relaying a message between a Service node and a Gateway.
type ProxyEnvelope struct {
	Type           Type            `json:"type"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	OrganizationID string          `json:"organizationId"`
	InnerMessage   json.RawMessage `json:"innerMessage,omitempty"`
}
