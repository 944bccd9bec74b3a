package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// NotificationsManager — персональные уведомления. Строки создают серверные триггеры.
type NotificationsManager struct {
	gw *gateway.Gateway
}

func NewNotificationsManager(gw *gateway.Gateway) *NotificationsManager {
	return &NotificationsManager{gw: gw}
}

const notificationCols = `n.id::text, n.recipient_id::text, COALESCE(n.actor_id::text,''), n.type, n.payload, n.is_read, n.created_at,
	COALESCE(pr.first_name,''), COALESCE(pr.last_name,''), COALESCE(pr.avatar_url,'')`

func scanNotification(r pgx.Rows) (model.Notification, error) {
	var n model.Notification
	var actor model.ProfileRef
	var payload []byte
	err := r.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.Type, &payload, &n.IsRead, &n.CreatedAt,
		&actor.FirstName, &actor.LastName, &actor.AvatarURL)
	n.Payload = payload
	if n.ActorID != "" {
		actor.ID = n.ActorID
		n.Actor = &actor
	}
	return n, err
}

func (m *NotificationsManager) List(ctx context.Context, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notifications.List", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+notificationCols+`
		 FROM notifications n LEFT JOIN profiles pr ON pr.id = n.actor_id
		 WHERE n.recipient_id = $1
		 ORDER BY n.created_at DESC LIMIT $2`, uid, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("notificationsMgr.List: %w", err)
	}
	return collect(rows, "notificationsMgr.List", scanNotification)
}

// Get перечитывает уведомление по id (для событий realtime).
func (m *NotificationsManager) Get(ctx context.Context, id string) (*model.Notification, error) {
	defer logger.DeferLogDuration("notifications.Get", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+notificationCols+`
		 FROM notifications n LEFT JOIN profiles pr ON pr.id = n.actor_id
		 WHERE n.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("notificationsMgr.Get: %w", err)
	}
	list, err := collect(rows, "notificationsMgr.Get", scanNotification)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, gateway.ErrNotFound
	}
	return &list[0], nil
}

func (m *NotificationsManager) UnreadCount(ctx context.Context) (int, error) {
	uid, err := m.gw.RequireUser()
	if err != nil {
		return 0, err
	}
	var n int
	if err := m.gw.DB.QueryRow(ctx,
		`SELECT COUNT(*)::int FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, uid).Scan(&n); err != nil {
		return 0, fmt.Errorf("notificationsMgr.UnreadCount: %w", err)
	}
	return n, nil
}

func (m *NotificationsManager) MarkRead(ctx context.Context, id string) error {
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, uid); err != nil {
		return fmt.Errorf("notificationsMgr.MarkRead: %w", err)
	}
	return nil
}

func (m *NotificationsManager) MarkAllRead(ctx context.Context) error {
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE`, uid); err != nil {
		return fmt.Errorf("notificationsMgr.MarkAllRead: %w", err)
	}
	return nil
}

// SubscribeToNotifications — персональный канал новых уведомлений пользователя.
// Обработчик получает id и автора; полную запись читает Get.
func (m *NotificationsManager) SubscribeToNotifications(userID string, onNew func(id, actorID string)) (*realtime.Channel, error) {
	f := realtime.Filter{Table: "notifications", Event: realtime.EventInsert, Column: "recipient_id", Value: userID}
	return m.gw.Subscribe("notifications:"+userID, f, func(c realtime.Change) {
		if id := c.Field("id"); id != "" {
			onNew(id, c.Field("actor_id"))
		}
	})
}
