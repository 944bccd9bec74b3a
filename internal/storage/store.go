package storage

import (
	"context"
	"time"
)

// Store — локальное key-value хранилище клиентского состояния: последняя вкладка,
// черновики историй, браузерные push-подписки. Не является системой записи.
// Реализации: redis.Client, memory.Client (по умолчанию без REDIS_URL).
type Store interface {
	// Get возвращает "" без ошибки, если ключа нет или он истёк.
	Get(ctx context.Context, key string) (string, error)
	// Set сохраняет значение; ttl <= 0 — без срока жизни.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Ключи. userID пустой для гостя.
func LastViewKey(userID string) string   { return "last_view:" + userID }
func StoryDraftKey(userID string) string { return "story_draft:" + userID }
func PushSubsKey(userID string) string   { return "push_subs:" + userID }

// StoryDraftTTL — черновик истории живёт столько же, сколько сама история.
const StoryDraftTTL = 24 * time.Hour
