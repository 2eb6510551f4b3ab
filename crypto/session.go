package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the symmetric key size produced by DeriveSessionKey.
const SessionKeySize = 32

var sessionInfo = []byte("meshcore session v1")

// DeriveSessionKey computes the symmetric key two peers share.
//
// The X25519 shared secret is expanded with HKDF-SHA256, salted with both
// public keys in byte order so each side derives the same key.
func DeriveSessionKey(localPrivate, localPublic, peerPublic []byte) ([SessionKeySize]byte, error) {
	var key [SessionKeySize]byte

	if len(localPrivate) != DHKeySize || len(localPublic) != DHKeySize || len(peerPublic) != DHKeySize {
		return key, fmt.Errorf("%w: key-exchange keys must be %d bytes", ErrInvalidKey, DHKeySize)
	}

	shared, err := noise.DH25519.DH(localPrivate, peerPublic)
	if err != nil {
		return key, fmt.Errorf("key exchange: %w", err)
	}
	defer ZeroBytes(shared)

	if isZero(shared) {
		return key, fmt.Errorf("%w: low-order peer public key", ErrInvalidKey)
	}

	salt := make([]byte, 0, 2*DHKeySize)
	if bytes.Compare(localPublic, peerPublic) <= 0 {
		salt = append(append(salt, localPublic...), peerPublic...)
	} else {
		salt = append(append(salt, peerPublic...), localPublic...)
	}

	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, sessionInfo), key[:]); err != nil {
		return key, fmt.Errorf("expand session key: %w", err)
	}

	return key, nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
