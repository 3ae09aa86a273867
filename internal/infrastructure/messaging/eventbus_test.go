package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false, EnableMetrics: true})
}

func TestInMemoryEventBus_DispatchesByType(t *testing.T) {
	bus := syncBus()

	var levelUps, all int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(ctx context.Context, e shared.Event) error {
		levelUps++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(ctx context.Context, e shared.Event) error {
		all++
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, shared.NewLevelUpEvent("g1", "m1", "c1", 0, 1, 100)))
	require.NoError(t, bus.Publish(ctx, shared.NewXPChangedEvent("g1", "m1", shared.SourceMessage, 80, 100, 0, 1)))

	assert.Equal(t, 1, levelUps)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := syncBus()

	var after int
	require.NoError(t, bus.Subscribe(shared.EventGroupReset, func(ctx context.Context, e shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventGroupReset, func(ctx context.Context, e shared.Event) error {
		panic("kaboom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventGroupReset, func(ctx context.Context, e shared.Event) error {
		after++
		return nil
	}))

	err := bus.Publish(context.Background(), shared.NewGroupResetEvent("g1", 3))

	assert.NoError(t, err)
	assert.Equal(t, 1, after)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncSurvivesCancelledContext(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var calls atomic.Int32
	var sawCancel atomic.Bool
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(ctx context.Context, e shared.Event) error {
		calls.Add(1)
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Publish(ctx, shared.NewLevelUpEvent("g1", "m1", "c1", 0, 1, 100)))
	cancel()
	bus.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, sawCancel.Load())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), shared.NewGroupResetEvent("g1", 0)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(context.Context, shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSEventBus_MirrorsEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	bus, err := NewNATSEventBus(NATSEventBusConfig{
		Conn:           pub,
		Source:         "test",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)

	var local int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(ctx context.Context, e shared.Event) error {
		local++
		return nil
	}))

	event := shared.NewLevelUpEvent("g1", "m1", "c1", 1, 2, 300)
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, 1, local)
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "leveling.events.progress.level_up", pub.subjects[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.Equal(t, event.ID, env.ID)
	assert.Equal(t, "g1:m1", env.Aggregate)
	assert.Equal(t, "test", env.Source)

	var payload shared.LevelUpEvent
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, 2, payload.NewLevel)
	assert.Equal(t, int64(300), payload.TotalXP)
	assert.Equal(t, int64(1), bus.Mirrored())
}

func TestNATSEventBus_MirrorFailureDoesNotFailPublish(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disconnected")}
	bus, err := NewNATSEventBus(NATSEventBusConfig{Conn: pub, LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false}})
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(context.Background(), shared.NewGroupResetEvent("g1", 1)))
	assert.Equal(t, int64(0), bus.Mirrored())
}

func TestNewNATSEventBus_RequiresConn(t *testing.T) {
	_, err := NewNATSEventBus(NATSEventBusConfig{})
	assert.Error(t, err)
}
