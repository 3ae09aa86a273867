package natsconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu        sync.Mutex
	subject   string
	queue     string
	handler   nats.MsgHandler
	published []published
	subErr    error
}

func (f *fakeConn) QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subject, f.queue, f.handler = subj, queue, cb
	return nil, nil
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{subject: subj, data: data})
	return nil
}

type failingEngine struct{}

func (failingEngine) Handle(context.Context, command.RecordMessageCommand) (*command.RecordMessageResult, error) {
	return nil, shared.WrapError("test", "save", shared.ErrPersistence, "down", errors.New("boom"))
}

func newEngine() Engine {
	fixed := func(min, max int) int { return 20 }
	store := memory.New()
	return command.NewRecordMessageHandler(store, store, nil, nil,
		command.DefaultAccrualConfig(), nil, command.WithRandomInt(fixed))
}

func payload(t *testing.T, ev MessageEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestConsumer_SubscribesWithQueueGroup(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn, newEngine(), Config{Subject: "chat.in", QueueGroup: "lvl"}, nil)

	require.NoError(t, c.Start())
	assert.Equal(t, "chat.in", conn.subject)
	assert.Equal(t, "lvl", conn.queue)
	require.NotNil(t, conn.handler)
	require.NoError(t, c.Stop())
}

func TestConsumer_StartError(t *testing.T) {
	conn := &fakeConn{subErr: nats.ErrConnectionClosed}
	c := New(conn, newEngine(), DefaultConfig(), nil)
	assert.ErrorIs(t, c.Start(), nats.ErrConnectionClosed)
}

func TestConsumer_ProcessAccruesAndSuppresses(t *testing.T) {
	c := New(&fakeConn{}, newEngine(), DefaultConfig(), nil)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	reply := c.Process(ctx, payload(t, MessageEvent{GroupID: "g1", MemberID: "m1", ChannelID: "c1", Timestamp: t0}))
	require.True(t, reply.OK, reply.Error)
	assert.EqualValues(t, 20, reply.Result.TotalXP)

	reply = c.Process(ctx, payload(t, MessageEvent{GroupID: "g1", MemberID: "m1", ChannelID: "c1", Timestamp: t0.Add(time.Second)}))
	require.True(t, reply.OK)
	assert.False(t, reply.Result.Accrued())

	reply = c.Process(ctx, payload(t, MessageEvent{GroupID: "g1", MemberID: "bot", ChannelID: "c1", Timestamp: t0, IsBot: true}))
	require.True(t, reply.OK)
	assert.Equal(t, command.SuppressBotAuthor, reply.Result.Suppressed)

	stats := c.Stats()
	assert.EqualValues(t, 3, stats.Received)
	assert.EqualValues(t, 1, stats.Accrued)
	assert.EqualValues(t, 2, stats.Suppressed)
}

func TestConsumer_ProcessRejectsBadPayloads(t *testing.T) {
	c := New(&fakeConn{}, newEngine(), DefaultConfig(), nil)
	ctx := context.Background()

	reply := c.Process(ctx, []byte("{not json"))
	assert.False(t, reply.OK)

	reply = c.Process(ctx, payload(t, MessageEvent{GroupID: "g1"}))
	assert.False(t, reply.OK)

	assert.EqualValues(t, 2, c.Stats().Rejected)
}

func TestConsumer_EngineFailure(t *testing.T) {
	c := New(&fakeConn{}, failingEngine{}, DefaultConfig(), nil)

	reply := c.Process(context.Background(), payload(t, MessageEvent{GroupID: "g1", MemberID: "m1"}))
	assert.False(t, reply.OK)
	assert.EqualValues(t, 1, c.Stats().Failed)
}

func TestConsumer_RepliesToRequests(t *testing.T) {
	conn := &fakeConn{}
	c := New(conn, newEngine(), DefaultConfig(), nil)
	require.NoError(t, c.Start())

	conn.handler(&nats.Msg{
		Subject: "chat.messages",
		Reply:   "_INBOX.1",
		Data:    payload(t, MessageEvent{GroupID: "g1", MemberID: "m1", ChannelID: "c1", Timestamp: time.Now()}),
	})
	conn.handler(&nats.Msg{
		Subject: "chat.messages",
		Data:    payload(t, MessageEvent{GroupID: "g1", MemberID: "m2", ChannelID: "c1", Timestamp: time.Now()}),
	})

	require.Len(t, conn.published, 1, "fire-and-forget messages get no reply")
	assert.Equal(t, "_INBOX.1", conn.published[0].subject)

	var reply Reply
	require.NoError(t, json.Unmarshal(conn.published[0].data, &reply))
	assert.True(t, reply.OK)
	assert.Equal(t, "m1", reply.Result.MemberID)
}
