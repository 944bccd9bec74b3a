package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/agrilovers/internal/logger"
)

// RedisSource читает изменения из pub/sub канала Redis (мост из внешнего CDC).
type RedisSource struct {
	cli     *redis.Client
	channel string
}

func NewRedisSource(cli *redis.Client, channel string) *RedisSource {
	return &RedisSource{cli: cli, channel: channel}
}

func (s *RedisSource) Listen(ctx context.Context, deliver func([]byte)) error {
	sub := s.cli.Subscribe(ctx, s.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Warnf("realtime: redis unsubscribe: %v", err)
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Infof("realtime: redis subscribed to %s", s.channel)
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			deliver([]byte(m.Payload))
		}
	}
}
