// Package notify queues reminder, summary and operator notifications in an
// outbox table for the push, email and local transports to deliver.
//
// Each channel has its own token-bucket limiter. An enqueue that finds the
// bucket empty is not an error: it reports OutcomeThrottled and writes nothing.
package notify

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
)

// Channel is a delivery transport.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelLocal Channel = "local"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelLocal}
}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelPush, ChannelEmail, ChannelLocal:
		return c, nil
	}
	return "", errors.NewInvalidRequestError("unknown channel %q (want push, email or local)", s)
}

// Kind classifies a notification for the transports.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindSummary  Kind = "summary"
	KindSession  Kind = "session"
	KindOperator Kind = "operator"
)

// Payload is the content of a notification.
type Payload struct {
	UserID string // empty for operator notifications
	Kind   Kind
	Title  string
	Body   string
}

// Outcome is the result of an enqueue attempt.
type Outcome string

const (
	OutcomeQueued    Outcome = "queued"
	OutcomeThrottled Outcome = "throttled"
)

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Notification is one outbox row.
type Notification struct {
	ID        string
	UserID    string
	Channel   Channel
	Kind      Kind
	Title     string
	Body      string
	Status    Status
	CreatedAt time.Time
}

// Config sets the per-channel rate limits.
type Config struct {
	RatePerMinute float64
	Burst         int
}

// DefaultConfig allows one notification per second per channel with bursts of 20.
func DefaultConfig() Config {
	return Config{RatePerMinute: 60, Burst: 20}
}

// Dispatcher writes notifications to the outbox.
type Dispatcher struct {
	db       *sql.DB
	clock    clock.Clock
	logger   *zap.SugaredLogger
	limiters map[Channel]*rate.Limiter
}

// NewDispatcher creates a dispatcher. A nil clock uses the wall clock and a
// nil logger uses the "notify" component logger.
func NewDispatcher(database *sql.DB, cfg Config, clk clock.Clock, log *zap.SugaredLogger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.ComponentLogger("notify")
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultConfig().RatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	limiters := make(map[Channel]*rate.Limiter, 3)
	for _, ch := range Channels() {
		limiters[ch] = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60.0), cfg.Burst)
	}

	return &Dispatcher{db: database, clock: clk, logger: log, limiters: limiters}
}

// Enqueue writes a notification for ch unless the channel is rate limited.
func (d *Dispatcher) Enqueue(ctx context.Context, p Payload, ch Channel) (Outcome, error) {
	limiter, ok := d.limiters[ch]
	if !ok {
		return "", errors.NewInvalidRequestError("unknown channel %q", string(ch))
	}
	if strings.TrimSpace(p.Title) == "" {
		return "", errors.NewInvalidRequestError("notification title is required")
	}
	if p.Kind == "" {
		p.Kind = KindReminder
	}

	now := d.clock.Now()
	if !limiter.AllowN(now, 1) {
		d.logger.Debugw("Notification throttled",
			"channel", string(ch),
			"kind", string(p.Kind),
			logger.FieldUserID, p.UserID)
		return OutcomeThrottled, nil
	}

	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		Channel:   ch,
		Kind:      p.Kind,
		Title:     p.Title,
		Body:      p.Body,
		Status:    StatusQueued,
		CreatedAt: now,
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, channel, kind, title, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Channel), string(n.Kind), n.Title, n.Body, string(n.Status),
		db.FormatTime(n.CreatedAt))
	if err != nil {
		return "", errors.Wrapf(err, "failed to enqueue %s notification", ch)
	}
	return OutcomeQueued, nil
}

// ListQueued returns undelivered notifications, oldest first. An empty
// channel lists every channel.
func (d *Dispatcher) ListQueued(ctx context.Context, ch Channel, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, user_id, channel, kind, title, body, status, created_at
		FROM notifications WHERE status = 'queued'`
	args := []interface{}{}
	if ch != "" {
		query += ` AND channel = ?`
		args = append(args, string(ch))
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var channel, kind, status, createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &channel, &kind, &n.Title, &n.Body, &status, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		n.Channel = Channel(channel)
		n.Kind = Kind(kind)
		n.Status = Status(status)
		if n.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "created_at for notification %s", n.ID)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating notifications")
	}
	return out, nil
}

// MarkStatus records the delivery result of a notification.
func (d *Dispatcher) MarkStatus(ctx context.Context, id string, status Status) error {
	if status != StatusDelivered && status != StatusFailed {
		return errors.NewInvalidRequestError("cannot mark notification %s as %q", id, string(status))
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ? AND status = 'queued'`, string(status), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update notification %s", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("queued notification %s", id)
	}
	return nil
}

// ChannelNames renders channels for logs and CLI output.
func ChannelNames(chs []Channel) string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = string(ch)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
