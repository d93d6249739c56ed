// Package signer provides the signing abstraction used when sealing ledger
// records.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Signer signs proof-artifact hashes before they are persisted.
type Signer interface {
	// Sign signs the provided hash bytes and returns (signature, signerID, error).
	Sign(hash []byte) (sig []byte, signerID string, err error)

	// PublicKey returns the public key bytes for verification (nil if not supported).
	PublicKey() []byte
}

// LocalSigner is an in-process Ed25519 signer for development and testing.
type LocalSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerID string
}

// NewLocalSigner generates a fresh Ed25519 keypair under the given logical id.
func NewLocalSigner(signerID string) *LocalSigner {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// Key generation should not fail in normal environments; surface early.
		panic(err)
	}
	return &LocalSigner{priv: priv, pub: pub, signerID: signerID}
}

// NewLocalSignerFromB64 builds a LocalSigner from a base64-encoded Ed25519
// private key, as loaded from configuration.
func NewLocalSignerFromB64(privB64, signerID string) (*LocalSigner, error) {
	raw, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return &LocalSigner{
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		signerID: signerID,
	}, nil
}

// Sign signs the provided hash using Ed25519.
func (l *LocalSigner) Sign(hash []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("local signer: private key not initialized")
	}
	return ed25519.Sign(l.priv, hash), l.signerID, nil
}

// PublicKey returns the Ed25519 public key bytes.
func (l *LocalSigner) PublicKey() []byte {
	return l.pub
}
