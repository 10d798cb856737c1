package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/transport"
)

// Stream entry field names.
const (
	fieldOrigin   = "origin"
	fieldType     = "frame_type"
	fieldSequence = "sequence"
	fieldFrame    = "frame"
)

// FrameLog appends outbound frames to a Redis stream and reads them back for
// replay. It is both a transport.Sink and a transport.FrameSource.
type FrameLog struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
	batch  int64
	logger *zap.Logger
}

// NewFrameLog returns a log over stream. maxLen > 0 caps the stream length
// with approximate trimming.
func NewFrameLog(rdb redis.Cmdable, stream string, maxLen int64, logger *zap.Logger) *FrameLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameLog{rdb: rdb, stream: stream, maxLen: maxLen, batch: 500, logger: logger}
}

func (l *FrameLog) Name() string { return "redis" }

// Publish appends f to the stream.
func (l *FrameLog) Publish(ctx context.Context, f transport.Outbound) error {
	_, err := l.Append(ctx, f)
	return err
}

// Append adds f and returns the stream entry ID.
func (l *FrameLog) Append(ctx context.Context, f transport.Outbound) (string, error) {
	args := &redis.XAddArgs{
		Stream: l.stream,
		Values: []any{
			fieldOrigin, f.Origin,
			fieldType, f.Type.String(),
			fieldSequence, strconv.FormatUint(f.Sequence, 10),
			fieldFrame, f.Data,
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		l.logger.Error("store.redis.xadd_failed", zap.String("stream", l.stream), zap.Error(err))
		return "", fmt.Errorf("xadd %s: %w", l.stream, err)
	}
	return id, nil
}

// Len is the number of entries in the stream.
func (l *FrameLog) Len(ctx context.Context) (int64, error) {
	return l.rdb.XLen(ctx, l.stream).Result()
}

// Range calls fn for every entry in append order, reading in pages. It stops
// at the first error returned by fn.
func (l *FrameLog) Range(ctx context.Context, fn func(transport.Record) error) error {
	start := "-"
	for {
		msgs, err := l.rdb.XRangeN(ctx, l.stream, start, "+", l.batch).Result()
		if err != nil {
			return fmt.Errorf("xrange %s: %w", l.stream, err)
		}
		n := 0
		for _, m := range msgs {
			// Pages after the first start at the last ID seen.
			if m.ID == start {
				continue
			}
			n++
			if err := fn(recordFrom(m)); err != nil {
				return err
			}
			start = m.ID
		}
		if n == 0 || int64(len(msgs)) < l.batch {
			return nil
		}
	}
}

func recordFrom(m redis.XMessage) transport.Record {
	rec := transport.Record{ID: m.ID}
	if v, ok := m.Values[fieldOrigin].(string); ok {
		rec.Origin = v
	}
	if v, ok := m.Values[fieldFrame].(string); ok {
		rec.Frame = []byte(v)
	}
	return rec
}
