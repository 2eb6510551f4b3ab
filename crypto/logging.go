package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// fingerprintLen is the number of digest bytes shown for a logged key.
const fingerprintLen = 6

// LoggerHelper accumulates fields for a single crypto log line. Every line
// carries the calling function and package so fail-open events can be
// filtered out of node logs.
type LoggerHelper struct {
	entry *logrus.Entry
}

// NewLogger starts a log line for function.
func NewLogger(function string) *LoggerHelper {
	return &LoggerHelper{entry: logrus.WithFields(logrus.Fields{
		"function": function,
		"package":  "crypto",
	})}
}

func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.entry = l.entry.WithField(key, value)
	return l
}

func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	l.entry = l.entry.WithFields(fields)
	return l
}

// WithPeer tags the line with the remote peer identifier.
func (l *LoggerHelper) WithPeer(peerID string) *LoggerHelper {
	return l.WithField("peer_id", peerID)
}

// WithKey adds a fingerprint of key material under name. Raw key bytes are
// never written.
func (l *LoggerHelper) WithKey(name string, key []byte) *LoggerHelper {
	return l.WithFields(KeyFingerprint(key, name))
}

// WithOutcome records which operation ran and how it ended.
func (l *LoggerHelper) WithOutcome(operation, status string) *LoggerHelper {
	return l.WithFields(logrus.Fields{"operation": operation, "status": status})
}

// WithError records err as a string along with its category and the
// operation that produced it.
func (l *LoggerHelper) WithError(err error, errorType, operation string) *LoggerHelper {
	return l.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_type": errorType,
		"operation":  operation,
	})
}

func (l *LoggerHelper) Debug(msg string) { l.entry.Debug(msg) }
func (l *LoggerHelper) Info(msg string)  { l.entry.Info(msg) }
func (l *LoggerHelper) Warn(msg string)  { l.entry.Warn(msg) }
func (l *LoggerHelper) Error(msg string) { l.entry.Error(msg) }

// Fields returns the fields collected so far.
func (l *LoggerHelper) Fields() logrus.Fields {
	return l.entry.Data
}

// KeyFingerprint returns log fields identifying key without revealing it:
// a truncated SHA-256 digest and the key length. An empty key yields the
// fingerprint "none".
func KeyFingerprint(key []byte, name string) logrus.Fields {
	fp := "none"
	if len(key) > 0 {
		sum := sha256.Sum256(key)
		fp = hex.EncodeToString(sum[:fingerprintLen])
	}
	return logrus.Fields{
		name + "_fp":  fp,
		name + "_len": len(key),
	}
}
