package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
)

// Header names carried on every replicated frame.
const (
	HeaderOrigin    = "origin"
	HeaderFrameType = "frame_type"
	HeaderSequence  = "sequence"
)

// jetStream is the part of nats.JetStreamContext the sink uses.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSSink publishes frames to JetStream under <subject>.<frame type>.
type NATSSink struct {
	js      jetStream
	subject string
	logger  *zap.Logger
}

// NewNATSSink creates a JetStream-backed sink on an existing connection.
func NewNATSSink(nc *nats.Conn, subject string, logger *zap.Logger) (*NATSSink, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return newNATSSink(js, subject, logger), nil
}

func newNATSSink(js jetStream, subject string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{js: js, subject: subject, logger: logger}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, f Outbound) error {
	start := time.Now()
	subject := s.subject + "." + f.Type.String()

	msg := nats.NewMsg(subject)
	msg.Data = f.Data
	msg.Header.Set(HeaderOrigin, f.Origin)
	msg.Header.Set(HeaderFrameType, f.Type.String())
	msg.Header.Set(HeaderSequence, strconv.FormatUint(f.Sequence, 10))

	_, err := s.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.SinkLatency, start, s.Name())
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	s.logger.Debug("transport.nats_published",
		zap.String("subject", subject),
		zap.Uint64("sequence", f.Sequence),
		zap.Int("bytes", len(f.Data)))
	return nil
}

// natsConn is the part of *nats.Conn the subscriber uses.
type natsConn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSSubscriber feeds frames published by peers into a Replicator.
type NATSSubscriber struct {
	ctx     context.Context
	nc      natsConn
	subject string
	rep     *Replicator
	logger  *zap.Logger
	sub     *nats.Subscription
}

func NewNATSSubscriber(ctx context.Context, nc natsConn, subject string, rep *Replicator, logger *zap.Logger) *NATSSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSubscriber{ctx: ctx, nc: nc, subject: subject, rep: rep, logger: logger}
}

// Start subscribes to every frame type under the subject. Each node takes
// every frame, so this is a plain subscription, not a queue group.
func (s *NATSSubscriber) Start() error {
	subj := s.subject + ".>"
	sub, err := s.nc.Subscribe(subj, s.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subj, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to NATS subject", zap.String("subject", subj))
	return nil
}

// Stop drops the subscription.
func (s *NATSSubscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *NATSSubscriber) handleMessage(msg *nats.Msg) {
	origin := ""
	if msg.Header != nil {
		origin = msg.Header.Get(HeaderOrigin)
	}
	if err := s.rep.Apply(s.ctx, origin, msg.Data); err != nil {
		s.logger.Warn("replication.nats_frame_rejected",
			zap.String("subject", msg.Subject),
			zap.String("origin", origin),
			zap.Error(err))
	}
}
