package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func newTestLedger() *Ledger {
	return NewLedger(&stepClock{now: time.Unix(1700000000, 0)})
}

func TestTrackCreatesSendingRecord(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicLocal, []byte("hi"))

	rec, created := l.Track(env, "peer-a")
	require.True(t, created)
	assert.Equal(t, StatusSending, rec.Status)
	assert.Equal(t, env.MsgID, rec.MsgID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, 1, l.Len())

	again, created := l.Track(env, "peer-a")
	assert.False(t, created)
	assert.Equal(t, rec.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, l.Len())
}

func TestSendThenDeliver(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicLocal, []byte("hi"))
	l.Track(env, "peer-a")

	require.True(t, l.MarkSent(env.MsgID, "peer-a"))
	assert.Equal(t, 1, l.MarkDelivered(env.MsgID))

	rec, ok := l.Get(env.MsgID, "peer-a")
	require.True(t, ok)
	assert.Equal(t, StatusDelivered, rec.Status)
	assert.False(t, rec.SentAt.IsZero())
	assert.False(t, rec.DeliveredAt.IsZero())
	assert.True(t, rec.DeliveredAt.After(rec.SentAt))
}

func TestAckBeforeSentCompletes(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicLocal, nil)
	l.Track(env, "peer-a")

	assert.Equal(t, 1, l.MarkDelivered(env.MsgID))
	assert.False(t, l.MarkSent(env.MsgID, "peer-a"), "delivered must not regress to sent")

	rec, _ := l.Get(env.MsgID, "peer-a")
	assert.Equal(t, StatusDelivered, rec.Status)
}

func TestTransitionsAreMonotonic(t *testing.T) {
	tests := []struct {
		name  string
		steps []DeliveryStatus
		want  DeliveryStatus
	}{
		{"failed is terminal", []DeliveryStatus{StatusFailed, StatusSent, StatusDelivered}, StatusFailed},
		{"delivered is terminal", []DeliveryStatus{StatusSent, StatusDelivered, StatusFailed}, StatusDelivered},
		{"sent cannot fail", []DeliveryStatus{StatusSent, StatusFailed}, StatusSent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger()
			env := envelope.New(envelope.TopicLocal, nil)
			l.Track(env, "p")

			for _, s := range tt.steps {
				switch s {
				case StatusSent:
					l.MarkSent(env.MsgID, "p")
				case StatusFailed:
					l.MarkFailed(env.MsgID, "p")
				case StatusDelivered:
					l.MarkDelivered(env.MsgID)
				}
			}

			rec, _ := l.Get(env.MsgID, "p")
			assert.Equal(t, tt.want, rec.Status)
		})
	}
}

func TestUnknownAckIgnored(t *testing.T) {
	l := newTestLedger()
	assert.Equal(t, 0, l.MarkDelivered(envelope.NewMsgID()))
	assert.False(t, l.MarkSent(envelope.NewMsgID(), "x"))
	assert.Nil(t, l.Outgoing(envelope.NewMsgID()))
}

func TestBroadcastRecordsPerPeer(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicBroadcast, []byte("flood"))
	for _, p := range []string{"a", "b", "c"} {
		l.Track(env, p)
	}
	l.MarkSent(env.MsgID, "a")
	l.MarkSent(env.MsgID, "b")
	l.MarkFailed(env.MsgID, "c")

	assert.Equal(t, 2, l.MarkDelivered(env.MsgID))
	assert.Len(t, l.Outgoing(env.MsgID), 3)

	stats := l.Stats()
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestStatusCallbacks(t *testing.T) {
	l := newTestLedger()
	var mu sync.Mutex
	var seen []DeliveryStatus
	l.OnStatusChange(func(rec OutgoingMessage) {
		mu.Lock()
		seen = append(seen, rec.Status)
		mu.Unlock()
	})
	l.OnStatusChange(nil)

	env := envelope.New(envelope.TopicLocal, nil)
	l.Track(env, "p")
	l.MarkSent(env.MsgID, "p")
	l.MarkDelivered(env.MsgID)
	l.MarkDelivered(env.MsgID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []DeliveryStatus{StatusSending, StatusSent, StatusDelivered}, seen)
}

func TestConcurrentTracking(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicBroadcast, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := string(rune('A' + i%26))
			l.Track(env, peer)
			l.MarkSent(env.MsgID, peer)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 26, l.Len())
	assert.Equal(t, 26, l.MarkDelivered(env.MsgID))
}

func TestClear(t *testing.T) {
	l := newTestLedger()
	env := envelope.New(envelope.TopicLocal, nil)
	l.Track(env, "p")
	l.MarkSent(env.MsgID, "p")

	l.Clear()
	assert.Equal(t, 0, l.Len())
	_, ok := l.Get(env.MsgID, "p")
	assert.False(t, ok)
	assert.Equal(t, LedgerStats{}, l.Stats())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "SENDING", StatusSending.String())
	assert.Equal(t, "SENT", StatusSent.String())
	assert.Equal(t, "DELIVERED", StatusDelivered.String())
	assert.Equal(t, "FAILED", StatusFailed.String())
	assert.Equal(t, "UNKNOWN", DeliveryStatus(42).String())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusSent.IsTerminal())
}
