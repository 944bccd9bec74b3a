// Package push отправляет Web Push уведомления, когда в браузере нет открытой
// вкладки приложения. Подписки браузеров хранятся в локальном key-value.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/storage"
)

const (
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
	notifyTimeout   = 10 * time.Second
)

// Subscription — подписка из PushManager.subscribe() браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Client хранит подписки и рассылает уведомления. Без VAPID-ключей подписки
// сохраняются, отправка не выполняется.
type Client struct {
	kv    storage.Store
	vapid *webpush.Options
	send  func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

// NewClient: keys == nil — пуши отключены.
func NewClient(kv storage.Store, keys *VAPIDKeys, subscriber string) *Client {
	c := &Client{kv: kv, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		c.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return c
}

// PublicKey — ключ для applicationServerKey в браузере; "" — пуши выключены.
func (c *Client) PublicKey() string {
	if c == nil || c.vapid == nil {
		return ""
	}
	return c.vapid.VAPIDPublicKey
}

func (c *Client) Enabled() bool { return c.PublicKey() != "" }

func (c *Client) list(ctx context.Context, userID string) ([]Subscription, error) {
	raw, err := c.kv.Get(ctx, storage.PushSubsKey(userID))
	if err != nil || raw == "" {
		return nil, err
	}
	var subs []Subscription
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		return nil, fmt.Errorf("push: decode subscriptions: %w", err)
	}
	return subs, nil
}

func (c *Client) save(ctx context.Context, userID string, subs []Subscription) error {
	key := storage.PushSubsKey(userID)
	if len(subs) == 0 {
		return c.kv.Delete(ctx, key)
	}
	raw, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, key, string(raw), subscriptionTTL)
}

// Subscribe сохраняет подписку; повтор того же endpoint заменяет ключи.
// Хранятся последние maxSubsPerUser подписок.
func (c *Client) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	subs, err := c.list(ctx, userID)
	if err != nil {
		return err
	}
	subs = without(subs, sub.Endpoint)
	subs = append(subs, sub)
	if len(subs) > maxSubsPerUser {
		subs = subs[len(subs)-maxSubsPerUser:]
	}
	return c.save(ctx, userID, subs)
}

// Unsubscribe удаляет подписку по endpoint; неизвестный endpoint — no-op.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	subs, err := c.list(ctx, userID)
	if err != nil {
		return err
	}
	return c.save(ctx, userID, without(subs, endpoint))
}

func without(subs []Subscription, endpoint string) []Subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify отправляет уведомление на все подписки пользователя. Подписки, на
// которые сервис ответил 404/410, удаляются.
func (c *Client) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if c == nil || c.vapid == nil || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	subs, err := c.list(ctx, userID)
	if err != nil {
		logger.Errorf("push: subscriptions for %s: %v", userID, err)
		return
	}
	raw, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		return
	}
	var gone []string
	for _, s := range subs {
		resp, err := c.send(ctx, raw, &webpush.Subscription{
			Endpoint: s.Endpoint,
			Keys:     webpush.Keys{P256dh: s.Keys.P256dh, Auth: s.Keys.Auth},
		}, c.vapid)
		if err != nil {
			logger.Errorf("push: send %s: %v", s.Endpoint[:min(50, len(s.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			gone = append(gone, s.Endpoint)
		}
	}
	if len(gone) == 0 {
		return
	}
	for _, e := range gone {
		subs = without(subs, e)
	}
	if err := c.save(ctx, userID, subs); err != nil {
		logger.Errorf("push: drop expired subscriptions: %v", err)
	}
}
