package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/storage"
)

const (
	sessionKey    = "auth_session"
	refreshMargin = time.Minute
)

// refreshRevoker — провайдеры, которые хранят refresh-токены локально.
type refreshRevoker interface {
	RevokeRefresh(ctx context.Context, refreshToken string) error
}

// Client держит текущую сессию, сохраняет её в локальном KV и рассылает события
// смены состояния. Удовлетворяет gateway.Session.
type Client struct {
	provider Provider
	kv       storage.Store
	secret   string

	mu        sync.RWMutex
	session   *Session
	listeners map[int]func(Event)
	nextID    int
	kick      chan struct{}
}

func NewClient(p Provider, kv storage.Store, jwtSecret string) *Client {
	return &Client{
		provider:  p,
		kv:        kv,
		secret:    jwtSecret,
		listeners: make(map[int]func(Event)),
		kick:      make(chan struct{}, 1),
	}
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.User.ID
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// OnChange подписывает на события; возвращает функцию отписки.
func (c *Client) OnChange(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(ev Event) {
	c.mu.RLock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) setSession(ctx context.Context, s *Session, typ EventType) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	if c.kv != nil {
		if s == nil {
			if err := c.kv.Delete(ctx, sessionKey); err != nil {
				logger.Warnf("auth: forget session: %v", err)
			}
		} else if data, err := json.Marshal(s); err == nil {
			if err := c.kv.Set(ctx, sessionKey, string(data), 0); err != nil {
				logger.Warnf("auth: persist session: %v", err)
			}
		}
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
	c.emit(Event{Type: typ, Session: s})
}

// Restore поднимает сохранённую сессию; просроченную пытается обновить.
// Событие SIGNED_IN не рассылается: состояние читается вызывающим напрямую.
func (c *Client) Restore(ctx context.Context) (*Session, error) {
	if c.kv == nil {
		return nil, nil
	}
	raw, err := c.kv.Get(ctx, sessionKey)
	if err != nil || raw == "" {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		_ = c.kv.Delete(ctx, sessionKey)
		return nil, nil
	}
	if s.Expired(time.Now().Add(refreshMargin)) {
		if s.RefreshToken == "" {
			_ = c.kv.Delete(ctx, sessionKey)
			return nil, nil
		}
		fresh, err := c.provider.Refresh(ctx, s.RefreshToken)
		if err != nil {
			if gateway.Classify(err) == gateway.KindAuthorization || errors.Is(err, gateway.ErrSessionExpired) {
				_ = c.kv.Delete(ctx, sessionKey)
				return nil, nil
			}
			return nil, err
		}
		s = *fresh
	}
	if _, err := ParseAccessToken(s.AccessToken, c.secret); err != nil && !errors.Is(err, gateway.ErrSessionExpired) {
		_ = c.kv.Delete(ctx, sessionKey)
		return nil, nil
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	if data, err := json.Marshal(&s); err == nil {
		_ = c.kv.Set(ctx, sessionKey, string(data), 0)
	}
	return c.Session(), nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	res, err := c.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		c.setSession(ctx, res.Session, EventSignedIn)
	}
	return res, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, s, EventSignedIn)
	return s, nil
}

func (c *Client) SendOTP(ctx context.Context, ch Channel, target string) error {
	return c.provider.SendOTP(ctx, ch, target)
}

func (c *Client) VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Session, error) {
	s, err := c.provider.VerifyOTP(ctx, ch, target, code)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, s, EventSignedIn)
	return s, nil
}

// SignOut сбрасывает локальную сессию даже при ошибке провайдера.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	err := c.provider.SignOut(ctx, s.AccessToken)
	if r, ok := c.provider.(refreshRevoker); ok && s.RefreshToken != "" {
		if rerr := r.RevokeRefresh(ctx, s.RefreshToken); rerr != nil {
			logger.Warnf("auth: revoke refresh: %v", rerr)
		}
	}
	c.setSession(ctx, nil, EventSignedOut)
	if err != nil {
		return fmt.Errorf("auth.SignOut: %w", err)
	}
	return nil
}

// Refresh обновляет токены; отказ провайдера завершает сессию.
func (c *Client) Refresh(ctx context.Context) error {
	s := c.Session()
	if s == nil || s.RefreshToken == "" {
		return gateway.ErrNotAuthenticated
	}
	fresh, err := c.provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		if k := gateway.Classify(err); k == gateway.KindAuthorization || k == gateway.KindValidation {
			c.setSession(ctx, nil, EventSignedOut)
		}
		return err
	}
	c.setSession(ctx, fresh, EventTokenRefreshed)
	return nil
}

// RunAutoRefresh обновляет токен за минуту до истечения, пока жив ctx.
func (c *Client) RunAutoRefresh(ctx context.Context) {
	for {
		wait := time.Hour
		if s := c.Session(); s != nil && !s.ExpiresAt.IsZero() {
			wait = time.Until(s.ExpiresAt) - refreshMargin
			if wait < time.Second {
				wait = time.Second
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.kick:
			timer.Stop()
			continue
		case <-timer.C:
		}
		if c.Session() == nil {
			continue
		}
		if err := c.Refresh(ctx); err != nil {
			logger.Errorf("auth: refresh: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
		}
	}
}
