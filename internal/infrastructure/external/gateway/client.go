// Package gateway talks to the chat platform gateway over NATS request/reply.
// The gateway owns the platform credentials; this service only asks it to
// list, grant and revoke member roles and to post announcements.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/pkg/circuitbreaker"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"github.com/levelhub/chat-leveling/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains gateway client settings.
type Config struct {
	// SubjectPrefix is prepended to every request subject, e.g. "gateway".
	SubjectPrefix string

	// Timeout bounds a single request attempt.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "gateway",
		Timeout:       3 * time.Second,
	}
}

// Request subjects, relative to the prefix.
const (
	SubjectListRoles  = "roles.list"
	SubjectGrantRole  = "roles.grant"
	SubjectRevokeRole = "roles.revoke"
	SubjectAnnounce   = "announce"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRejected is returned when the gateway answers with an error.
	ErrRejected = errors.New("gateway rejected request")

	// ErrBadReply is returned when the reply cannot be decoded.
	ErrBadReply = errors.New("gateway reply is malformed")
)

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrConnectionReconnecting)
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// RoleRequest is the payload of role requests.
type RoleRequest struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
	RoleID   string `json:"role_id,omitempty"`
}

// Reply is the common reply envelope.
type Reply struct {
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Requester is the subset of *nats.Conn the client needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client implements leveling.RoleService and leveling.Announcer.
type Client struct {
	conn    Requester
	config  Config
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *zap.Logger
}

var (
	_ leveling.RoleService = (*Client)(nil)
	_ leveling.Announcer   = (*Client)(nil)
)

// Option customizes the client.
type Option func(*Client)

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates a gateway client.
func NewClient(conn Requester, cfg Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		conn:   conn,
		config: cfg,
		log:    log.With(logger.Component("gateway")),
	}
	c.retrier = retry.GatewayRetrier(IsTransient)
	c.breaker = circuitbreaker.GatewayBreaker(IsTransient, func(name string, from, to circuitbreaker.State) {
		c.log.Warn("gateway circuit state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subject returns the full subject for a request kind.
func (c *Client) Subject(kind string) string {
	return strings.TrimSuffix(c.config.SubjectPrefix, ".") + "." + kind
}

// ListRoles returns the member's current roles.
func (c *Client) ListRoles(ctx context.Context, groupID, memberID string) ([]string, error) {
	reply, err := c.request(ctx, SubjectListRoles, RoleRequest{GroupID: groupID, MemberID: memberID})
	if err != nil {
		return nil, err
	}
	return reply.Roles, nil
}

// Grant adds a role to the member.
func (c *Client) Grant(ctx context.Context, groupID, memberID, roleID string) error {
	_, err := c.request(ctx, SubjectGrantRole, RoleRequest{GroupID: groupID, MemberID: memberID, RoleID: roleID})
	return err
}

// Revoke removes a role from the member.
func (c *Client) Revoke(ctx context.Context, groupID, memberID, roleID string) error {
	_, err := c.request(ctx, SubjectRevokeRole, RoleRequest{GroupID: groupID, MemberID: memberID, RoleID: roleID})
	return err
}

// Announce posts a level-up announcement.
func (c *Client) Announce(ctx context.Context, a leveling.Announcement) error {
	_, err := c.request(ctx, SubjectAnnounce, a)
	return err
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// BreakerCounts returns the breaker's counters.
func (c *Client) BreakerCounts() circuitbreaker.Counts {
	return c.breaker.Counts()
}

func (c *Client) request(ctx context.Context, kind string, payload any) (*Reply, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", kind, err)
	}
	subject := c.Subject(kind)
	start := time.Now()

	reply, err := circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (*Reply, error) {
		var out *Reply
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()

			msg, err := c.conn.RequestWithContext(attemptCtx, subject, data)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					err = nats.ErrTimeout
				}
				return err
			}
			out, err = decodeReply(msg.Data)
			return err
		})
		return out, err
	})

	if err != nil {
		c.log.Debug("gateway request failed",
			zap.String("subject", subject),
			logger.Latency(time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("gateway: %s: %w", kind, err)
	}
	return reply, nil
}

func decodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	if !r.OK {
		if r.Error == "" {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, r.Error)
	}
	return &r, nil
}
