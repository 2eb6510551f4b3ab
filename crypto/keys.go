package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/opd-ai/meshcore/interfaces"
)

const (
	// DHKeySize is the X25519 key size.
	DHKeySize = 32

	// SafetyNumberSize is how many hash bytes a safety number shows.
	SafetyNumberSize = 8

	// SignatureSize is the Ed25519 signature appended to signed payloads.
	SignatureSize = ed25519.SignatureSize

	// AttachedOverhead is what SignAttached adds: the signer key and signature.
	AttachedOverhead = ed25519.PublicKeySize + SignatureSize
)

var (
	// ErrInvalidKey indicates key material of the wrong size.
	ErrInvalidKey = errors.New("invalid key")

	// ErrBadSignature indicates a signed payload that failed verification.
	ErrBadSignature = errors.New("signature verification failed")
)

// GenerateIdentityKeys creates an Ed25519 signing pair and an X25519
// key-exchange pair. A nil rng means crypto/rand.
func GenerateIdentityKeys(rng io.Reader) (*interfaces.IdentityKeys, error) {
	if rng == nil {
		rng = rand.Reader
	}

	signPub, signPriv, err := ed25519.GenerateKey(rng)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	dh, err := noise.DH25519.GenerateKeypair(rng)
	if err != nil {
		return nil, fmt.Errorf("generate key-exchange key: %w", err)
	}

	keys := &interfaces.IdentityKeys{
		SignPublic:  []byte(signPub),
		SignPrivate: []byte(signPriv),
		DHPublic:    dh.Public,
		DHPrivate:   dh.Private,
	}

	NewLogger("GenerateIdentityKeys").
		WithKey("sign_public", keys.SignPublic).
		WithKey("dh_public", keys.DHPublic).
		Debug("Identity keys generated")

	return keys, nil
}

// ValidateIdentityKeys checks every key has its expected size.
func ValidateIdentityKeys(keys *interfaces.IdentityKeys) error {
	if keys == nil {
		return fmt.Errorf("%w: nil identity keys", ErrInvalidKey)
	}
	switch {
	case len(keys.SignPublic) != ed25519.PublicKeySize:
		return fmt.Errorf("%w: signing public key is %d bytes", ErrInvalidKey, len(keys.SignPublic))
	case len(keys.SignPrivate) != ed25519.PrivateKeySize:
		return fmt.Errorf("%w: signing private key is %d bytes", ErrInvalidKey, len(keys.SignPrivate))
	case len(keys.DHPublic) != DHKeySize:
		return fmt.Errorf("%w: key-exchange public key is %d bytes", ErrInvalidKey, len(keys.DHPublic))
	case len(keys.DHPrivate) != DHKeySize:
		return fmt.Errorf("%w: key-exchange private key is %d bytes", ErrInvalidKey, len(keys.DHPrivate))
	}
	return nil
}

// SafetyNumber returns the hex of the first 8 bytes of
// SHA-256(signPublic || dhPublic).
func SafetyNumber(signPublic, dhPublic []byte) string {
	h := sha256.New()
	h.Write(signPublic)
	h.Write(dhPublic)
	return hex.EncodeToString(h.Sum(nil)[:SafetyNumberSize])
}

// EncodePublicKeys returns both public keys in standard base64.
func EncodePublicKeys(keys *interfaces.IdentityKeys) (signPub, dhPub string) {
	return base64.StdEncoding.EncodeToString(keys.SignPublic),
		base64.StdEncoding.EncodeToString(keys.DHPublic)
}

// DecodePublicKey parses a base64 public key and checks its size.
func DecodePublicKey(encoded string, size int) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), size)
	}
	return key, nil
}

// SignAttached returns payload || signer public key || signature. The
// signature covers the payload and the key, so a receiver can verify it
// without having exchanged keys with the origin.
func SignAttached(signPrivate, payload []byte) ([]byte, error) {
	if len(signPrivate) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: signing private key is %d bytes", ErrInvalidKey, len(signPrivate))
	}
	priv := ed25519.PrivateKey(signPrivate)

	out := make([]byte, 0, len(payload)+AttachedOverhead)
	out = append(out, payload...)
	out = append(out, priv.Public().(ed25519.PublicKey)...)
	return append(out, ed25519.Sign(priv, out)...), nil
}

// VerifyAttached checks a payload produced by SignAttached. It returns the
// original payload and the signer's public key.
func VerifyAttached(signed []byte) (body, signer []byte, err error) {
	if len(signed) < AttachedOverhead {
		return nil, nil, fmt.Errorf("%w: payload shorter than signer key and signature", ErrBadSignature)
	}

	split := len(signed) - SignatureSize
	msg, sig := signed[:split], signed[split:]
	keyAt := len(msg) - ed25519.PublicKeySize
	if !ed25519.Verify(ed25519.PublicKey(msg[keyAt:]), msg, sig) {
		return nil, nil, ErrBadSignature
	}
	return bytes.Clone(msg[:keyAt]), bytes.Clone(msg[keyAt:]), nil
}
