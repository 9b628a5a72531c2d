package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/logging"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *memorySink) Write(ctx context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *memorySink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestLogger_WritesQueuedEvents(t *testing.T) {
	sink := &memorySink{}
	l := NewLogger(sink, 8, time.Second)
	l.Start()

	assert.True(t, l.Log(Event{Method: "personal_sign", Outcome: OutcomeSigned, Domain: "a.com"}))
	assert.True(t, l.Log(Event{Method: "sendToken", Outcome: OutcomeSent, TxHash: "0xabc"}))
	require.NoError(t, l.Stop(context.Background()))

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "personal_sign", events[0].Method)
	assert.Len(t, events[0].ID, 26)
	assert.False(t, events[0].Time.IsZero())
	assert.Less(t, events[0].ID, events[1].ID)
}

func TestLogger_DropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	l := NewLogger(sink, 1, time.Second)
	l.Start()

	// First event is taken by the writer and blocks; second fills the queue.
	l.Log(Event{Method: "a"})
	require.Eventually(t, func() bool { return len(l.queue) == 0 }, time.Second, time.Millisecond)
	assert.True(t, l.Log(Event{Method: "b"}))
	assert.False(t, l.Log(Event{Method: "c"}))
	assert.Equal(t, uint64(1), l.Dropped())

	close(sink.block)
	require.NoError(t, l.Stop(context.Background()))
	assert.Len(t, sink.all(), 2)
}

func TestLogger_StoppedAndNil(t *testing.T) {
	l := NewLogger(&memorySink{}, 1, time.Second)
	l.Start()
	require.NoError(t, l.Stop(context.Background()))
	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.Log(Event{Method: "late"}))

	var nilLogger *Logger
	assert.False(t, nilLogger.Log(Event{}))
	assert.NoError(t, nilLogger.Stop(context.Background()))
	assert.Zero(t, nilLogger.Dropped())
}

func TestLogger_CountsSinkFailures(t *testing.T) {
	sink := &memorySink{err: errors.New("down")}
	l := NewLogger(sink, 4, time.Second)
	l.Start()
	l.Log(Event{Method: "x"})
	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, uint64(1), l.Failed())
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewAMQPSink(pub, "miniapp.audit")

	e := Event{ID: NewID(time.Now()), Time: time.Now().UTC(), Method: "eth_sendTransaction", Outcome: OutcomeSent, TxHash: "0x01"}
	require.NoError(t, s.Write(context.Background(), e))

	assert.Equal(t, "miniapp.audit", pub.exchange)
	assert.Equal(t, "audit.eth_sendTransaction", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, e.ID, pub.msg.MessageId)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.Equal(t, "0x01", decoded.TxHash)
	assert.NoError(t, s.Close())
}

func TestMultiSink(t *testing.T) {
	a := &memorySink{}
	b := &memorySink{err: errors.New("b failed")}
	m := MultiSink{a, b, NewLogSink(logging.NewDiscard())}

	err := m.Write(context.Background(), Event{Method: "signIn"})
	assert.EqualError(t, err, "b failed")
	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}
