package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
)

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes frames to RabbitMQ under a fixed routing key.
type AMQPSink struct {
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewAMQPSink dials url and opens the channel frames are published on.
func NewAMQPSink(url, exchange, routingKey string, logger *zap.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	s := newAMQPSink(channel, exchange, routingKey, logger)
	s.conn = conn
	return s, nil
}

func newAMQPSink(ch amqpChannel, exchange, routingKey string, logger *zap.Logger) *AMQPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPSink{channel: ch, exchange: exchange, routingKey: routingKey, logger: logger}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, f Outbound) error {
	start := time.Now()
	err := s.channel.PublishWithContext(
		ctx,
		s.exchange,   // exchange
		s.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/octet-stream",
			DeliveryMode: amqp.Persistent,
			MessageId:    f.Origin + ":" + strconv.FormatUint(f.Sequence, 10),
			Type:         f.Type.String(),
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				HeaderOrigin:    f.Origin,
				HeaderFrameType: f.Type.String(),
				HeaderSequence:  int64(f.Sequence),
			},
			Body: f.Data,
		},
	)
	metrics.ObserveDuration(metrics.SinkLatency, start, s.Name())
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", s.routingKey, err)
	}
	s.logger.Debug("transport.amqp_published",
		zap.String("routing_key", s.routingKey),
		zap.Uint64("sequence", f.Sequence))
	return nil
}

// Close closes the channel and, when the sink dialled it, the connection.
func (s *AMQPSink) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
