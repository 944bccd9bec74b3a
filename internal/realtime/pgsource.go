package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrilovers/internal/logger"
)

// PGSource слушает LISTEN-канал, в который пишет триггер notify_change().
// Соединение держится отдельно от пула запросов; при обрыве переподключается.
type PGSource struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPGSource(pool *pgxpool.Pool, channel string) *PGSource {
	return &PGSource{pool: pool, channel: channel}
}

func (s *PGSource) Listen(ctx context.Context, deliver func([]byte)) error {
	backoff := time.Second
	for {
		err := s.listenOnce(ctx, deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Errorf("realtime: listen %s: %v, reconnect in %v", s.channel, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PGSource) listenOnce(ctx context.Context, deliver func([]byte)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Infof("realtime: listening on %s", s.channel)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		deliver([]byte(n.Payload))
	}
}
