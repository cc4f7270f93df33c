package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans events out to every server instance through a Redis
// pub/sub channel. Each instance runs the relay and delivers what it
// receives to its local broker.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Broker
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local *Broker, log *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run consumes the channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.log.Warn("relay: dropping malformed event", zap.Error(err))
				continue
			}
			r.local.Deliver(e)
		}
	}
}
