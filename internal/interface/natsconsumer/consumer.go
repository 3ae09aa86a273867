// Package natsconsumer feeds chat message events from NATS into the
// accrual engine.
package natsconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/logger"
)

// Conn is the subset of *nats.Conn used by the consumer.
type Conn interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
}

// Engine records one chat message.
type Engine interface {
	Handle(ctx context.Context, cmd command.RecordMessageCommand) (*command.RecordMessageResult, error)
}

// Config contains consumer configuration.
type Config struct {
	Subject    string
	QueueGroup string

	// HandleTimeout bounds processing of a single message.
	HandleTimeout time.Duration
}

// DefaultConfig returns default consumer configuration.
func DefaultConfig() Config {
	return Config{
		Subject:       "chat.messages",
		QueueGroup:    "leveling",
		HandleTimeout: 5 * time.Second,
	}
}

// MessageEvent is the wire format of an inbound chat message.
type MessageEvent struct {
	MemberID  string    `json:"member_id"`
	GroupID   string    `json:"group_id"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	IsBot     bool      `json:"is_bot"`

	// EventID is optional and used as the correlation ID.
	EventID string `json:"event_id,omitempty"`
}

// Reply is sent back when the publisher used request/reply.
type Reply struct {
	OK     bool                         `json:"ok"`
	Error  string                       `json:"error,omitempty"`
	Result *command.RecordMessageResult `json:"result,omitempty"`
}

// Stats are running counters.
type Stats struct {
	Received   int64
	Accrued    int64
	Suppressed int64
	Rejected   int64
	Failed     int64
}

// Consumer subscribes to the message subject within a queue group so that
// replicas share the stream.
type Consumer struct {
	conn   Conn
	engine Engine
	config Config
	log    *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	received   atomic.Int64
	accrued    atomic.Int64
	suppressed atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// New creates a consumer.
func New(conn Conn, engine Engine, config Config, log *zap.Logger) *Consumer {
	def := DefaultConfig()
	if config.Subject == "" {
		config.Subject = def.Subject
	}
	if config.QueueGroup == "" {
		config.QueueGroup = def.QueueGroup
	}
	if config.HandleTimeout <= 0 {
		config.HandleTimeout = def.HandleTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		conn:   conn,
		engine: engine,
		config: config,
		log:    log.With(logger.Component("nats_consumer")),
	}
}

// Start subscribes. It is an error to start twice.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		return errors.New("natsconsumer: already started")
	}
	sub, err := c.conn.QueueSubscribe(c.config.Subject, c.config.QueueGroup, c.onMessage)
	if err != nil {
		return err
	}
	c.sub = sub
	c.log.Info("consuming chat messages",
		zap.String("subject", c.config.Subject),
		zap.String("queue", c.config.QueueGroup),
	)
	return nil
}

// Stop drains the subscription so in-flight messages finish.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Drain()
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Accrued:    c.accrued.Load(),
		Suppressed: c.suppressed.Load(),
		Rejected:   c.rejected.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Consumer) onMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandleTimeout)
	defer cancel()

	reply := c.Process(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		c.log.Error("failed to encode reply", zap.Error(err))
		return
	}
	if err := c.conn.Publish(msg.Reply, data); err != nil {
		c.log.Warn("failed to send reply", zap.String("reply", msg.Reply), zap.Error(err))
	}
}

// Process decodes one payload and runs it through the engine.
func (c *Consumer) Process(ctx context.Context, data []byte) Reply {
	c.received.Add(1)

	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.rejected.Add(1)
		c.log.Warn("malformed message event", zap.Int("bytes", len(data)), zap.Error(err))
		return Reply{Error: "malformed message event"}
	}

	correlationID := ev.EventID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := c.log.With(logger.RequestID(correlationID))

	res, err := c.engine.Handle(logger.WithContext(ctx, log), command.RecordMessageCommand{
		GroupID:       ev.GroupID,
		MemberID:      ev.MemberID,
		ChannelID:     ev.ChannelID,
		Timestamp:     ev.Timestamp,
		IsBot:         ev.IsBot,
		CorrelationID: correlationID,
	})
	switch {
	case err != nil && shared.IsValidation(err):
		c.rejected.Add(1)
		log.Warn("message event rejected", logger.GroupID(ev.GroupID), logger.MemberID(ev.MemberID), zap.Error(err))
		return Reply{Error: err.Error()}
	case err != nil:
		c.failed.Add(1)
		log.Error("failed to record message", logger.GroupID(ev.GroupID), logger.MemberID(ev.MemberID), zap.Error(err))
		return Reply{Error: err.Error()}
	}

	if res.Accrued() {
		c.accrued.Add(1)
	} else {
		c.suppressed.Add(1)
	}
	return Reply{OK: true, Result: res}
}
