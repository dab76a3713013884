package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

const DefaultRedisChannel = "livepage:docstore:changes"

// RedisFeed fans collection changes out to every instance sharing a Redis
// server. Publishes go to Redis only; Run forwards what arrives on the
// channel, including this instance's own publishes, into a local feed.
type RedisFeed struct {
	client  *redis.Client
	channel string
	local   *LocalFeed
}

func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisFeed{client: client, channel: channel, local: NewLocalFeed()}
}

func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (f *RedisFeed) Publish(ctx context.Context, collection string) error {
	if err := f.client.Publish(ctx, f.channel, collection).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Listen(collection string) (<-chan struct{}, func()) {
	return f.local.Listen(collection)
}

// Run blocks until ctx is cancelled or the subscription channel closes.
func (f *RedisFeed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.channel, err)
	}
	slog.Info("docstore: listening for changes", "channel", f.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			_ = f.local.Publish(ctx, msg.Payload)
		}
	}
}
