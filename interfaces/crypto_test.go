package interfaces

import (
	"errors"
	"testing"
	"time"
)

func TestCryptoConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *CryptoConfig
		wantErr error
	}{
		{
			name:   "real without persistence",
			config: &CryptoConfig{},
		},
		{
			name:   "simulation with dir needs no passphrase",
			config: &CryptoConfig{UseSimulation: true, KeyStoreDir: "/tmp/keys"},
		},
		{
			name:   "real with dir and passphrase",
			config: &CryptoConfig{KeyStoreDir: "/tmp/keys", Passphrase: []byte("secret")},
		},
		{
			name:    "real with dir and no passphrase",
			config:  &CryptoConfig{KeyStoreDir: "/tmp/keys"},
			wantErr: ErrMissingPassphrase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCryptoConfigValidateNil(t *testing.T) {
	var c *CryptoConfig
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() on nil config should fail")
	}
}

func TestDefaultTimeProvider(t *testing.T) {
	var tp TimeProvider = DefaultTimeProvider{}
	start := tp.Now()
	if tp.Since(start) < 0 {
		t.Fatal("Since returned a negative duration")
	}
	if time.Since(start) > time.Minute {
		t.Fatal("Now returned a stale time")
	}
}
