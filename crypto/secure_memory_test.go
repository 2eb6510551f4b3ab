package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecureWipe(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"nil", nil, ErrNilBuffer},
		{"empty", []byte{}, nil},
		{"session key", bytes.Repeat([]byte{0x5a}, 32), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SecureWipe(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SecureWipe() error = %v, want %v", err, tt.wantErr)
			}
			if !isZero(tt.buf) {
				t.Errorf("buffer not wiped: %x", tt.buf)
			}
		})
	}
}

func TestZeroBytesMultiple(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}

	ZeroBytes(a, nil, b)

	if !isZero(a) || !isZero(b) {
		t.Errorf("buffers not wiped: %x %x", a, b)
	}
}

func TestWipeIdentityKeys(t *testing.T) {
	keys, err := GenerateIdentityKeys(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := WipeIdentityKeys(keys); err != nil {
		t.Fatalf("WipeIdentityKeys failed: %v", err)
	}
	if !isZero(keys.SignPrivate) || !isZero(keys.DHPrivate) {
		t.Fatal("private key material not wiped")
	}
	if isZero(keys.SignPublic) || isZero(keys.DHPublic) {
		t.Error("public keys should survive a wipe")
	}

	if err := WipeIdentityKeys(nil); !errors.Is(err, ErrNilIdentity) {
		t.Errorf("WipeIdentityKeys(nil) error = %v, want %v", err, ErrNilIdentity)
	}
}
