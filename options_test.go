package meshcore

import (
	"testing"
	"time"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/identity"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearMeshEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvRelayEnabled, EnvRotationInterval, EnvDefaultTTL, EnvLogLevel, EnvSignMessages} {
		t.Setenv(name, "")
	}
}

func TestNewOptionsDefaults(t *testing.T) {
	clearMeshEnv(t)

	options := NewOptions()
	assert.True(t, options.RelayEnabled)
	assert.Equal(t, uint32(envelope.DefaultTTL), options.DefaultTTL)
	assert.Equal(t, identity.DefaultRotationInterval, options.RotationInterval)
	assert.Equal(t, identity.DefaultIDSize, options.EphemeralIDSize)
	assert.Equal(t, 30*time.Second, options.PartialTimeout)
	assert.Equal(t, 5*time.Second, options.SweepInterval)
	assert.Equal(t, 10*time.Second, options.StatsInterval)
	assert.Equal(t, 5*time.Second, options.SendTimeout)
	assert.Equal(t, "info", options.LogLevel)
	assert.False(t, options.SignMessages)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearMeshEnv(t)
	t.Setenv(EnvRelayEnabled, "false")
	t.Setenv(EnvRotationInterval, "30m")
	t.Setenv(EnvDefaultTTL, "3")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvSignMessages, "true")

	options := NewOptions()
	assert.False(t, options.RelayEnabled)
	assert.Equal(t, 30*time.Minute, options.RotationInterval)
	assert.Equal(t, uint32(3), options.DefaultTTL)
	assert.Equal(t, "debug", options.LogLevel)
	assert.True(t, options.SignMessages)
}

func TestInvalidEnvironmentKeepsDefaults(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
		check func(t *testing.T, o *Options)
	}{
		{"relay not bool", EnvRelayEnabled, "sometimes", func(t *testing.T, o *Options) {
			assert.True(t, o.RelayEnabled)
		}},
		{"rotation not duration", EnvRotationInterval, "soon", func(t *testing.T, o *Options) {
			assert.Equal(t, identity.DefaultRotationInterval, o.RotationInterval)
		}},
		{"rotation too short", EnvRotationInterval, "1m", func(t *testing.T, o *Options) {
			assert.Equal(t, identity.DefaultRotationInterval, o.RotationInterval)
		}},
		{"rotation too long", EnvRotationInterval, "2h", func(t *testing.T, o *Options) {
			assert.Equal(t, identity.DefaultRotationInterval, o.RotationInterval)
		}},
		{"ttl negative", EnvDefaultTTL, "-1", func(t *testing.T, o *Options) {
			assert.Equal(t, uint32(envelope.DefaultTTL), o.DefaultTTL)
		}},
		{"ttl too large", EnvDefaultTTL, "65", func(t *testing.T, o *Options) {
			assert.Equal(t, uint32(envelope.DefaultTTL), o.DefaultTTL)
		}},
		{"ttl not int", EnvDefaultTTL, "eight", func(t *testing.T, o *Options) {
			assert.Equal(t, uint32(envelope.DefaultTTL), o.DefaultTTL)
		}},
		{"unknown log level", EnvLogLevel, "loud", func(t *testing.T, o *Options) {
			assert.Equal(t, "info", o.LogLevel)
		}},
		{"signing not bool", EnvSignMessages, "maybe", func(t *testing.T, o *Options) {
			assert.False(t, o.SignMessages)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearMeshEnv(t)
			t.Setenv(tt.env, tt.value)
			tt.check(t, NewOptions())
		})
	}
}

func TestTTLBoundaryAccepted(t *testing.T) {
	clearMeshEnv(t)
	t.Setenv(EnvDefaultTTL, "0")
	assert.Equal(t, uint32(0), NewOptions().DefaultTTL)

	t.Setenv(EnvDefaultTTL, "64")
	assert.Equal(t, uint32(MaxTTL), NewOptions().DefaultTTL)
}

func TestNewRejectsExcessiveTTL(t *testing.T) {
	options := testOptions("A")
	options.DefaultTTL = MaxTTL + 1
	_, err := New(options)
	assert.Error(t, err)
}

func TestApplyLogLevel(t *testing.T) {
	previous := logrus.GetLevel()
	t.Cleanup(func() { logrus.SetLevel(previous) })

	applyLogLevel(&Options{LogLevel: "warn"})
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	applyLogLevel(&Options{LogLevel: "bogus"})
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	applyLogLevel(&Options{})
	require.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}
