// Package transport moves registry frames between nodes. The registry only
// produces and consumes byte buffers; the types here are thin adapters
// between its event bus, the wire codec and the brokers.
package transport

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/internal/wire"
	"github.com/Checker-Finance/venue-registry/pkg/eventbus"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Outbound is one encoded frame addressed to the sinks.
type Outbound struct {
	Origin   string
	Type     wire.MessageType
	Sequence uint64
	Data     []byte
}

// Sink delivers outbound frames to one broker or log.
type Sink interface {
	Name() string
	Publish(ctx context.Context, f Outbound) error
}

// Broadcaster encodes registry events and fans the frames out to its sinks.
type Broadcaster struct {
	origin  string
	enc     *wire.Encoder
	sinks   []Sink
	guard   *echoGuard
	timeout time.Duration
	logger  *zap.Logger
}

// NewBroadcaster returns a broadcaster stamping frames with origin.
func NewBroadcaster(origin string, enc *wire.Encoder, logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		origin:  origin,
		enc:     enc,
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// SuppressReplicated stops events caused by r applying a peer's frame from
// being sent back out.
func (b *Broadcaster) SuppressReplicated(r *Replicator) {
	b.guard = r.guard
}

// Attach subscribes the broadcaster to bus and returns the unsubscribe func.
func (b *Broadcaster) Attach(bus *eventbus.EventBus[model.RegistryEvent]) func() {
	return bus.Subscribe(b.Handle)
}

// Handle encodes ev and publishes it to every sink. Sink failures are logged
// and counted; one failing sink does not block the others.
func (b *Broadcaster) Handle(ev model.RegistryEvent) {
	if b.guard != nil && b.guard.consume(eventKey(ev)) {
		metrics.IncFrame("encode", ev.Kind.String(), "suppressed")
		return
	}

	buf, typ, err := b.enc.EncodeEvent(ev)
	if errors.Is(err, wire.ErrNoFrame) {
		return
	}
	if err != nil {
		metrics.IncFrame("encode", ev.Kind.String(), "error")
		b.logger.Error("transport.encode_failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
		return
	}
	h, err := wire.PeekHeader(buf)
	if err != nil {
		b.logger.Error("transport.encode_failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
		return
	}
	metrics.IncFrame("encode", typ.String(), "ok")

	out := Outbound{Origin: b.origin, Type: typ, Sequence: h.Sequence, Data: buf}
	for _, s := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := s.Publish(ctx, out)
		cancel()
		if err != nil {
			metrics.IncSinkPublish(s.Name(), "error")
			b.logger.Warn("transport.publish_failed",
				zap.String("sink", s.Name()),
				zap.Stringer("type", typ),
				zap.Uint64("sequence", h.Sequence),
				zap.Error(err))
			continue
		}
		metrics.IncSinkPublish(s.Name(), "ok")
	}
}
