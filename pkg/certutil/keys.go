// Package certutil manages a node's RSA identity key pair — the private
// key used to sign SignOnly envelopes and decrypt Encrypt envelopes
// addressed to this node, and the public key fingerprint advertised in the
// welcome envelope. Adapted from the teacher's pkg/relay/mtls.go PEM
// generate/load/write helpers, switched from ECDSA P256 certificate chains
// (mTLS) to bare RSA key pairs (spec.md's RSA-OAEP-256/RS256 wrapping has
// no certificate-chain requirement).
package certutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// KeySize is the RSA modulus size for generated node identity keys.
const KeySize = 2048

// Generate creates a new RSA private key for a node identity.
func Generate() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("certutil: generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM marshals key to a PKCS#1 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

// EncodePublicKeyPEM marshals the public half of key to a PKIX PEM block.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("certutil: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM inverts EncodePrivateKeyPEM.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse private key: %w", err)
	}
	return key, nil
}

// ParsePublicKeyPEM inverts EncodePublicKeyPEM.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certutil: not an RSA public key")
	}
	return rsaPub, nil
}

// LoadOrGenerate reads a PEM-encoded private key from path, generating and
// writing a fresh one if the file doesn't exist yet.
func LoadOrGenerate(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParsePrivateKeyPEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("certutil: read %s: %w", path, err)
	}

	key, genErr := Generate()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, EncodePrivateKeyPEM(key), 0o600); writeErr != nil {
		return nil, fmt.Errorf("certutil: write %s: %w", path, writeErr)
	}
	return key, nil
}

// PublicKeyHash returns the base64-encoded SHA-256 fingerprint of key, as
// advertised in the welcome envelope's publicKeyHash field.
func PublicKeyHash(key *rsa.PublicKey) (string, error) {
	pemBytes, err := EncodePublicKeyPEM(key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pemBytes)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// Expiry is a convenience for computing a key's configured expiration.
func Expiry(validFor time.Duration) time.Time {
	return time.Now().Add(validFor)
}
