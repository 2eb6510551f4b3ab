package meshcore

import (
	"os"
	"strconv"
	"time"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/fragment"
	"github.com/opd-ai/meshcore/identity"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/router"
	"github.com/sirupsen/logrus"
)

// Environment variables read by NewOptions.
const (
	EnvRelayEnabled     = "MESH_RELAY_ENABLED"
	EnvRotationInterval = "MESH_ROTATION_INTERVAL"
	EnvDefaultTTL       = "MESH_DEFAULT_TTL"
	EnvLogLevel         = "MESH_LOG_LEVEL"
	EnvSignMessages     = "MESH_SIGN_MESSAGES"
)

// MaxTTL is the largest hop budget accepted for outgoing envelopes.
const MaxTTL = 64

// Options contains configuration options for creating a Node.
type Options struct {
	// NodeID names this node in logs. It is not sent on the wire.
	NodeID string

	RelayEnabled bool
	DefaultTTL   uint32

	// SignMessages attaches this node's Ed25519 key and signature to every
	// outgoing message. Signed messages from others are verified whether or
	// not this is set.
	SignMessages bool

	RotationInterval time.Duration
	EphemeralIDSize  int

	PartialTimeout time.Duration
	SweepInterval  time.Duration
	StatsInterval  time.Duration
	SendTimeout    time.Duration

	// LogLevel is a logrus level name. Empty leaves the global level alone.
	LogLevel string

	// Crypto selects the crypto backend through the factory. Nil uses the
	// factory's environment-derived default.
	Crypto *interfaces.CryptoConfig

	// KeyStore and SessionCrypto, when both set, bypass the factory.
	KeyStore      interfaces.KeyStore
	SessionCrypto interfaces.SessionCrypto

	TimeProvider interfaces.TimeProvider
}

// NewOptions creates default Options and applies MESH_* overrides.
func NewOptions() *Options {
	options := &Options{
		RelayEnabled:     true,
		DefaultTTL:       envelope.DefaultTTL,
		RotationInterval: identity.DefaultRotationInterval,
		EphemeralIDSize:  identity.DefaultIDSize,
		PartialTimeout:   fragment.DefaultPartialTimeout,
		SweepInterval:    fragment.DefaultSweepInterval,
		StatsInterval:    router.DefaultStatsInterval,
		SendTimeout:      router.DefaultSendTimeout,
		LogLevel:         "info",
		TimeProvider:     interfaces.DefaultTimeProvider{},
	}
	applyEnvironmentOverrides(options)
	return options
}

func applyEnvironmentOverrides(options *Options) {
	parseRelaySetting(options)
	parseRotationSetting(options)
	parseTTLSetting(options)
	parseLogLevelSetting(options)
	parseSigningSetting(options)
}

// parseRelaySetting updates RelayEnabled from MESH_RELAY_ENABLED.
func parseRelaySetting(options *Options) {
	value := os.Getenv(EnvRelayEnabled)
	if value == "" {
		return
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseRelaySetting",
			"env_var":     EnvRelayEnabled,
			"value":       value,
			"error":       err.Error(),
			"using_value": options.RelayEnabled,
		}).Warn("Failed to parse MESH_RELAY_ENABLED environment variable, using default")
		return
	}
	options.RelayEnabled = enabled
}

// parseSigningSetting updates SignMessages from MESH_SIGN_MESSAGES.
func parseSigningSetting(options *Options) {
	value := os.Getenv(EnvSignMessages)
	if value == "" {
		return
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseSigningSetting",
			"env_var":     EnvSignMessages,
			"value":       value,
			"error":       err.Error(),
			"using_value": options.SignMessages,
		}).Warn("Failed to parse MESH_SIGN_MESSAGES environment variable, using default")
		return
	}
	options.SignMessages = enabled
}

// parseRotationSetting updates RotationInterval from MESH_ROTATION_INTERVAL.
// Values outside the rotator bounds are rejected.
func parseRotationSetting(options *Options) {
	value := os.Getenv(EnvRotationInterval)
	if value == "" {
		return
	}

	interval, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseRotationSetting",
			"env_var":     EnvRotationInterval,
			"value":       value,
			"error":       err.Error(),
			"using_value": options.RotationInterval.String(),
		}).Warn("Failed to parse MESH_ROTATION_INTERVAL environment variable, using default")
		return
	}

	if interval < identity.MinRotationInterval || interval > identity.MaxRotationInterval {
		logrus.WithFields(logrus.Fields{
			"function":    "parseRotationSetting",
			"env_var":     EnvRotationInterval,
			"value":       interval.String(),
			"min":         identity.MinRotationInterval.String(),
			"max":         identity.MaxRotationInterval.String(),
			"using_value": options.RotationInterval.String(),
		}).Warn("MESH_ROTATION_INTERVAL out of range, using default")
		return
	}
	options.RotationInterval = interval
}

// parseTTLSetting updates DefaultTTL from MESH_DEFAULT_TTL.
func parseTTLSetting(options *Options) {
	value := os.Getenv(EnvDefaultTTL)
	if value == "" {
		return
	}

	ttl, err := strconv.Atoi(value)
	if err != nil || ttl < 0 || ttl > MaxTTL {
		fields := logrus.Fields{
			"function":    "parseTTLSetting",
			"env_var":     EnvDefaultTTL,
			"value":       value,
			"max":         MaxTTL,
			"using_value": options.DefaultTTL,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logrus.WithFields(fields).Warn("Invalid MESH_DEFAULT_TTL environment variable, using default")
		return
	}
	options.DefaultTTL = uint32(ttl)
}

// parseLogLevelSetting updates LogLevel from MESH_LOG_LEVEL.
func parseLogLevelSetting(options *Options) {
	value := os.Getenv(EnvLogLevel)
	if value == "" {
		return
	}

	if _, err := logrus.ParseLevel(value); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseLogLevelSetting",
			"env_var":     EnvLogLevel,
			"value":       value,
			"error":       err.Error(),
			"using_value": options.LogLevel,
		}).Warn("Failed to parse MESH_LOG_LEVEL environment variable, using default")
		return
	}
	options.LogLevel = value
}

// applyLogLevel sets the global logrus level from options.LogLevel.
func applyLogLevel(options *Options) {
	if options.LogLevel == "" {
		return
	}
	level, err := logrus.ParseLevel(options.LogLevel)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "applyLogLevel",
			"log_level": options.LogLevel,
			"error":     err.Error(),
		}).Warn("Ignoring invalid log level")
		return
	}
	logrus.SetLevel(level)
}
