package wire

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/freitascorp/relaycore/pkg/relayerr"
)

// headerEncrypted/headerVersion mirror spec.md §4.1's required JWS/JWE headers.
const (
	headerEncrypted = "encrypted"
	headerVersion   = "version"
	wireVersion     = "1"
)

// Encode serializes env to JSON and applies the given wrapping.
//
// PlainText needs no key. SignOnly needs the sender's RSA private key.
// Encrypt needs the recipient's RSA public key.
func Encode(env *Envelope, w Wrapping, key any) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	switch w {
	case PlainText:
		return body, nil

	case SignOnly:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("sign-only wrapping requires an *rsa.PrivateKey")
		}
		hdrs := jws.NewHeaders()
		if err := hdrs.Set(headerEncrypted, "false"); err != nil {
			return nil, err
		}
		if err := hdrs.Set(headerVersion, wireVersion); err != nil {
			return nil, err
		}
		signed, err := jws.Sign(body, jws.WithKey(jwa.RS256, priv, jws.WithProtectedHeaders(hdrs)))
		if err != nil {
			return nil, fmt.Errorf("sign envelope: %w", err)
		}
		return signed, nil

	case Encrypt:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("encrypt wrapping requires an *rsa.PublicKey")
		}
		hdrs := jwe.NewHeaders()
		if err := hdrs.Set(headerEncrypted, "true"); err != nil {
			return nil, err
		}
		if err := hdrs.Set(headerVersion, wireVersion); err != nil {
			return nil, err
		}
		encrypted, err := jwe.Encrypt(body,
			jwe.WithKey(jwa.RSA_OAEP_256, pub),
			jwe.WithContentEncryption(jwa.A256CBC_HS512),
			jwe.WithProtectedHeaders(hdrs),
		)
		if err != nil {
			return nil, fmt.Errorf("encrypt envelope: %w", err)
		}
		return encrypted, nil

	default:
		return nil, fmt.Errorf("unknown wrapping %v", w)
	}
}

// Decode inverts Encode. A mismatch between the wire bytes' actual shape and
// the expected wrapping w fails with a PolicyViolation-classed
// MalformedEnvelope error. Cryptographic failures (bad signature, failed
// decryption, wrong key) all fail with the same PolicyViolation-classed
// InvalidConnectionStateForAuthentication reason, carrying no detail from
// the underlying JOSE error, so a prober cannot tell which check failed.
func Decode(data []byte, w Wrapping, key any) (*Envelope, error) {
	var body []byte

	switch w {
	case PlainText:
		if looksLikeCompactJOSE(data) {
			return nil, relayerr.PolicyViolation("MalformedEnvelope: plaintext expected, got wrapped payload")
		}
		body = data

	case SignOnly:
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("sign-only wrapping requires an *rsa.PublicKey")
		}
		if !looksLikeCompactJOSE(data) {
			return nil, relayerr.PolicyViolation("MalformedEnvelope: sign-only wrapping expected")
		}
		verified, err := jws.Verify(data, jws.WithKey(jwa.RS256, pub))
		if err != nil {
			return nil, relayerr.New(relayerr.KindPolicyViolation, "InvalidConnectionStateForAuthentication")
		}
		body = verified

	case Encrypt:
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("encrypt wrapping requires an *rsa.PrivateKey")
		}
		if !looksLikeCompactJOSE(data) {
			return nil, relayerr.PolicyViolation("MalformedEnvelope: encrypt wrapping expected")
		}
		decrypted, err := jwe.Decrypt(data, jwe.WithKey(jwa.RSA_OAEP_256, priv))
		if err != nil {
			return nil, relayerr.New(relayerr.KindPolicyViolation, "InvalidConnectionStateForAuthentication")
		}
		body = decrypted

	default:
		return nil, fmt.Errorf("unknown wrapping %v", w)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, relayerr.PolicyViolation("MalformedEnvelope: " + err.Error())
	}
	return &env, nil
}

// DecodeUnverified extracts the JSON envelope from a Sign-Only (JWS compact)
// frame without verifying its signature. It exists for exactly one caller:
// the receive loop's handling of the first auth envelope on a fresh Agent
// stream, where the signing key lives inside the envelope's own payload and
// so cannot be known ahead of parsing it (§4.5.2). The signature is not the
// trust boundary at this step — the external token validator is — so
// skipping verification here does not weaken authentication; AuthGateway and
// Ping/Command/Control/List/Proxy all still go through the verified Decode
// path above once a stream is authenticated.
func DecodeUnverified(data []byte) (*Envelope, error) {
	if !looksLikeCompactJOSE(data) {
		return nil, relayerr.PolicyViolation("MalformedEnvelope: sign-only wrapping expected")
	}
	msg, err := jws.Parse(data)
	if err != nil {
		return nil, relayerr.PolicyViolation("MalformedEnvelope: " + err.Error())
	}
	var env Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		return nil, relayerr.PolicyViolation("MalformedEnvelope: " + err.Error())
	}
	return &env, nil
}

// looksLikeCompactJOSE distinguishes a bare JSON envelope (starts with '{')
// from a JWS/JWE compact serialization (dot-separated base64url segments).
func looksLikeCompactJOSE(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return false
		default:
			return true
		}
	}
	return false
}
