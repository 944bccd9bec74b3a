package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/agrilovers/internal/realtime"
)

// Бакеты объектного хранилища.
const (
	BucketPostImages      = "post-images"
	BucketStoryImages     = "story-images"
	BucketChatAttachments = "chat-attachments"
	BucketAvatars         = "avatars"
)

// Session — текущая сессия пользователя, как её видят менеджеры.
type Session interface {
	UserID() string
	AccessToken() string
}

type Options struct {
	Session  Session
	DB       DB
	Storage  ObjectStore
	Realtime *realtime.Broker
	Limits   UploadLimits
	Timeout  time.Duration
}

// Gateway — единый дескриптор бэкенда, разделяемый менеджерами только на чтение.
type Gateway struct {
	Session  Session
	DB       DB
	Storage  ObjectStore
	Realtime *realtime.Broker
	Limits   UploadLimits
	Timeout  time.Duration
}

func New(opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	return &Gateway{
		Session:  opts.Session,
		DB:       opts.DB,
		Storage:  opts.Storage,
		Realtime: opts.Realtime,
		Limits:   opts.Limits,
		Timeout:  opts.Timeout,
	}
}

// Configured — есть ли реальная БД за шлюзом.
func (g *Gateway) Configured() bool { return g != nil && g.DB != nil }

// Ready возвращает ErrNotConfigured, если за шлюзом нет бэкенда.
func (g *Gateway) Ready() error {
	if !g.Configured() {
		return ErrNotConfigured
	}
	return nil
}

// UserID текущего пользователя; "" для гостя.
func (g *Gateway) UserID() string {
	if g == nil || g.Session == nil {
		return ""
	}
	return g.Session.UserID()
}

// RequireUser — id пользователя для операций записи.
func (g *Gateway) RequireUser() (string, error) {
	if err := g.Ready(); err != nil {
		return "", err
	}
	uid := g.UserID()
	if uid == "" {
		return "", ErrNotAuthenticated
	}
	return uid, nil
}

// Subscribe открывает канал изменений; без брокера — ErrNotConfigured.
func (g *Gateway) Subscribe(name string, f realtime.Filter, h realtime.Handler) (*realtime.Channel, error) {
	if g == nil || g.Realtime == nil {
		return nil, ErrNotConfigured
	}
	return g.Realtime.Subscribe(name, f, h)
}

// RemoveChannel идемпотентен.
func (g *Gateway) RemoveChannel(ch *realtime.Channel) {
	if g == nil || g.Realtime == nil || ch == nil {
		return
	}
	g.Realtime.RemoveChannel(ch)
}

func (g *Gateway) Close() {
	if g != nil && g.Realtime != nil {
		g.Realtime.Close()
	}
}

// WithTimeout выполняет fn с фиксированным таймаутом; истечение превращается в ErrTimeout.
// Отменённая по таймауту операция не повторяется.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && tctx.Err() != nil && ctx.Err() == nil {
			return zero, ErrTimeout
		}
		return r.v, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrTimeout
	}
}
