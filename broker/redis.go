package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker is a Broker backed by Redis pub/sub, for deployments where
// stream consumers and session actors live in different processes. Redis
// pub/sub is fire-and-forget: events published while no subscriber is
// attached are lost, which matches the no-history contract of Broker.
type RedisBroker struct {
	client     *redis.Client
	channelFmt string
	logger     *zap.Logger
}

// RedisBrokerConfig configures a RedisBroker.
type RedisBrokerConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg RedisBrokerConfig, logger *zap.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "scoutflow:"
	}

	return &RedisBroker{
		client:     client,
		channelFmt: prefix + "events:%s",
		logger:     logger.With(zap.String("component", "redis_broker")),
	}, nil
}

func (b *RedisBroker) channel(sessionID string) string {
	return fmt.Sprintf(b.channelFmt, sessionID)
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan Event
	closeOnce sync.Once
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(sessionID))

	// Wait for the subscription to be confirmed so the caller does not
	// miss events published immediately after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("confirm subscription: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Event, subscriberBuffer),
	}

	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping undecodable event",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				continue
			}
			for {
				select {
				case sub.ch <- event:
				default:
					// Buffer full: shed the oldest undelivered event so the
					// forwarder never blocks and can always observe the
					// pubsub closing. The consumer sees the gap as a
					// SequenceNo jump.
					select {
					case dropped := <-sub.ch:
						b.logger.Debug("dropped event for slow subscriber",
							zap.String("session_id", sessionID),
							zap.Uint64("sequence_no", dropped.SequenceNo),
						)
					default:
					}
					continue
				}
				break
			}
		}
	}()

	return sub, nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
