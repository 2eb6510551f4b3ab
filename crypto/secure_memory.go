package crypto

import (
	"errors"
	"runtime"

	"github.com/opd-ai/meshcore/interfaces"
)

var (
	// ErrNilBuffer is returned when asked to wipe a nil slice.
	ErrNilBuffer = errors.New("cannot wipe nil buffer")
	// ErrNilIdentity is returned when asked to wipe a nil identity.
	ErrNilIdentity = errors.New("cannot wipe nil identity keys")
)

// SecureWipe zeroes buf in place. The runtime.KeepAlive call stops the
// compiler from treating the writes as dead stores when buf is not read again.
func SecureWipe(buf []byte) error {
	if buf == nil {
		return ErrNilBuffer
	}
	clear(buf)
	runtime.KeepAlive(buf)
	return nil
}

// ZeroBytes wipes every buffer given, skipping nil ones.
func ZeroBytes(bufs ...[]byte) {
	for _, b := range bufs {
		_ = SecureWipe(b)
	}
}

// WipeIdentityKeys zeroes the signing and key-exchange private keys of an
// identity. Public halves are left intact so the identity stays displayable.
func WipeIdentityKeys(keys *interfaces.IdentityKeys) error {
	if keys == nil {
		return ErrNilIdentity
	}
	ZeroBytes(keys.SignPrivate, keys.DHPrivate)
	return nil
}
