package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
	"git.home.luguber.info/inful/clashchain/internal/retry"
)

const connectTimeout = 5 * time.Second

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes events on a core NATS subject.
type NATSPublisher struct {
	conn    conn
	subject string
	policy  retry.Policy
}

// NewNATSPublisher connects to url. The connection reconnects on its own after
// transient failures; policy bounds how long a single publish keeps trying.
func NewNATSPublisher(url, subject string, policy retry.Policy) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("clashchain"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNotify, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}
	slog.Info("NATS publisher initialized", slog.String("url", url), slog.String("subject", subject))
	return &NATSPublisher{conn: nc, subject: subject, policy: policy}, nil
}

// Publish sends ev and waits for the server to acknowledge the flush. Failed
// attempts are retried under the publisher's policy.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal run event").Build()
	}
	return p.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			slog.Debug("Retrying run event publish", logfields.RunID(ev.RunID), slog.Int("attempt", attempt))
		}
		return p.publish(ctx, ev.RunID, data)
	})
}

func (p *NATSPublisher) publish(ctx context.Context, runID string, data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "failed to publish run event").
			Retryable().
			WithContext("subject", p.subject).
			WithContext("run_id", runID).
			Build()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "failed to flush run event").
			Retryable().
			WithContext("subject", p.subject).
			WithContext("run_id", runID).
			Build()
	}
	return nil
}

// Close drops the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
