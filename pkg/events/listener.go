// Package events matches postings as they arrive over NATS and publishes the
// results.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/telemetry"
)

var tracer = telemetry.Tracer("github.com/japaniel/occumatch/pkg/events")

// Config names the NATS endpoints of the listener.
type Config struct {
	URL           string
	Subject       string
	ResultSubject string
	Queue         string
	Timeout       time.Duration
}

// Connect dials NATS with reconnects enabled.
func Connect(cfg Config, log *zap.Logger) (*nats.Conn, error) {
	log = logger.OrNop(log)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("occumatch"),
		nats.Timeout(timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Listener matches every posting received on Subject, stores the result and
// publishes it on ResultSubject.
type Listener struct {
	db       *sql.DB
	strategy matcher.Strategy
	version  string
	pub      Publisher
	cfg      Config
	log      *zap.Logger
}

// NewListener creates a Listener. pub may be nil to skip publishing results.
func NewListener(conn *sql.DB, s matcher.Strategy, version string, pub Publisher, cfg Config, log *zap.Logger) *Listener {
	if version == "" {
		version = s.Name()
	}
	return &Listener{db: conn, strategy: s, version: version, pub: pub, cfg: cfg, log: logger.OrNop(log)}
}

// Subscribe joins the queue group on nc. Messages are handled on the NATS
// delivery goroutine.
func (l *Listener) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	sub, err := nc.QueueSubscribe(l.cfg.Subject, l.cfg.Queue, l.onMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", l.cfg.Subject, err)
	}
	l.log.Info("listening", zap.String("subject", l.cfg.Subject), zap.String("queue", l.cfg.Queue),
		zap.String("matching_version", l.version))
	return sub, nil
}

func (l *Listener) onMsg(msg *nats.Msg) {
	if _, err := l.Handle(context.Background(), msg.Data); err != nil {
		l.log.Error("posting message dropped", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Handle processes one encoded posting record. Malformed payloads and
// storage failures are returned; matching problems are part of the result.
func (l *Listener) Handle(ctx context.Context, data []byte) (matcher.Result, error) {
	ctx, span := tracer.Start(ctx, "events.handle")
	defer span.End()
	span.SetAttributes(attribute.Int("message.size", len(data)))

	res, err := l.handle(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("posting.id", res.PostingID), attribute.String("match.state", string(res.State)))
	return res, nil
}

func (l *Listener) handle(ctx context.Context, data []byte) (matcher.Result, error) {
	rec, err := posting.ParseRecord(data)
	if err != nil {
		return matcher.Result{}, err
	}
	rec = posting.Sanitize(rec)
	if strings.TrimSpace(rec.Posting.ID) == "" {
		return matcher.Result{}, matcherr.MissingInput("posting message has no id")
	}
	if err := db.SaveRecord(l.db, rec); err != nil {
		return matcher.Result{}, fmt.Errorf("store posting %s: %w", rec.Posting.ID, err)
	}

	res := l.strategy.Match(ctx, rec)
	res.MatchingVersion = l.version
	if err := res.Save(l.db); err != nil {
		return res, fmt.Errorf("store result of %s: %w", rec.Posting.ID, err)
	}
	l.log.Info("posting matched", append(logger.Posting(res.PostingID, res.MatchingVersion),
		zap.String("state", string(res.State)), zap.String("code", res.OccupationCode))...)

	if l.pub == nil || l.cfg.ResultSubject == "" {
		return res, nil
	}
	out, err := json.Marshal(res)
	if err != nil {
		return res, fmt.Errorf("encode result of %s: %w", res.PostingID, err)
	}
	if err := l.pub.Publish(l.cfg.ResultSubject, out); err != nil {
		return res, fmt.Errorf("publish result of %s: %w", res.PostingID, err)
	}
	return res, nil
}
