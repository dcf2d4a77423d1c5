package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sfm/internal/logging"
)

const (
	defaultReconnectDelay      = time.Second
	defaultMaxReconnectDelay   = 30 * time.Second
	reconnectBackoffMultiplier = 2
)

// ErrNoChannels is returned when a subscriber has nothing to listen to.
var ErrNoChannels = errors.New("no channels to subscribe to")

// Handler processes one message. It must not retain body.
type Handler func(ctx context.Context, routingKey string, body []byte)

// SubscriberConfig tunes reconnection.
type SubscriberConfig struct {
	// Channels are channel names or glob patterns such as "harvest.status.*".
	Channels []string
	// ReconnectDelay is the initial delay between reconnection attempts.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
}

// Subscriber delivers Redis pub/sub messages to a handler.
type Subscriber struct {
	client  *redis.Client
	handler Handler
	config  SubscriberConfig
	logger  *slog.Logger

	// ready, when set, is closed once the first subscription is confirmed.
	ready chan struct{}
}

// NewSubscriber creates a subscriber. Zero delays fall back to defaults.
func NewSubscriber(client *redis.Client, handler Handler, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(defaultMaxReconnectDelay, cfg.ReconnectDelay)
	}
	return &Subscriber{
		client:  client,
		handler: handler,
		config:  cfg,
		logger:  logging.NewComponentLogger(logger, "bus"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscriber has confirmed its first subscription.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Run subscribes and processes messages until ctx is cancelled. Connection
// failures are retried with exponential backoff; Run only returns ctx's
// error or ErrNoChannels.
func (s *Subscriber) Run(ctx context.Context) error {
	if len(s.config.Channels) == 0 {
		return ErrNoChannels
	}

	delay := s.config.ReconnectDelay
	first := true
	for {
		pubsub, err := s.subscribe(ctx)
		if err == nil {
			if first {
				close(s.ready)
				first = false
			}
			delay = s.config.ReconnectDelay
			err = s.receive(ctx, pubsub)
			_ = pubsub.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("redis subscription lost; reconnecting",
			logging.Error(err),
			logging.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= reconnectBackoffMultiplier
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// subscribe opens a pattern subscription and waits for its confirmation.
func (s *Subscriber) subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := s.client.PSubscribe(ctx, s.config.Channels...)
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("subscribed to bus", logging.Any("channels", s.config.Channels))
	return pubsub, nil
}

// receive reads messages until the connection fails or ctx is done. Socket
// reads do not observe ctx, so cancellation closes the subscription.
func (s *Subscriber) receive(ctx context.Context, pubsub *redis.PubSub) error {
	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.logger.Debug("message received",
			logging.String(logging.FieldRoutingKey, msg.Channel),
			logging.Int("bytes", len(msg.Payload)),
		)
		s.handler(ctx, msg.Channel, []byte(msg.Payload))
	}
}
