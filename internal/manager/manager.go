// Package manager — доменные обёртки над шлюзом: посты, рынок, группы, сообщения,
// друзья, истории, поиск, инструменты и уведомления. Менеджеры не хранят UI-состояние
// и возвращают ошибки вызывающему (контроллеру).
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/model"
)

// DefaultLimit — размер страницы списков по умолчанию.
const DefaultLimit = 20

// Set — все менеджеры приложения поверх одного шлюза.
type Set struct {
	Posts         *PostsManager
	Market        *MarketManager
	Groups        *GroupsManager
	Messaging     *MessagingManager
	Friends       *FriendsManager
	Stories       *StoriesManager
	Search        *SearchManager
	Tools         *ToolsManager
	Notifications *NotificationsManager
}

func NewSet(gw *gateway.Gateway, tools *ToolsManager, drafts DraftStore) *Set {
	if tools == nil {
		tools = NewToolsManager("", nil)
	}
	return &Set{
		Posts:         NewPostsManager(gw),
		Market:        NewMarketManager(gw),
		Groups:        NewGroupsManager(gw),
		Messaging:     NewMessagingManager(gw),
		Friends:       NewFriendsManager(gw),
		Stories:       NewStoriesManager(gw, drafts),
		Search:        NewSearchManager(gw),
		Tools:         tools,
		Notifications: NewNotificationsManager(gw),
	}
}

// refCols — колонки краткой карточки профиля под алиасом a, порядок как в refDest.
func refCols(a string) string {
	return fmt.Sprintf(`%[1]s.id::text, COALESCE(%[1]s.first_name,''), COALESCE(%[1]s.last_name,''),
		COALESCE(%[1]s.avatar_url,''), COALESCE(%[1]s.province,''), COALESCE(%[1]s.district,''),
		COALESCE(%[1]s.farmer_type,'')`, a)
}

func refDest(r *model.ProfileRef) []any {
	return []any{&r.ID, &r.FirstName, &r.LastName, &r.AvatarURL, &r.Province, &r.District, &r.FarmerType}
}

func dest(head []any, tail ...[]any) []any {
	out := head
	for _, t := range tail {
		out = append(out, t...)
	}
	return out
}

// noRows переводит pgx.ErrNoRows в gateway.ErrNotFound.
func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

func limitOr(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// likePattern экранирует ввод для ILIKE '%q%'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &gateway.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// collect читает все строки через scan.
func collect[T any](rows pgx.Rows, op string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

// ready — общая проверка для операций чтения.
func ready(ctx context.Context, gw *gateway.Gateway) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return gw.Ready()
}

// profileCols — полный профиль под алиасом a, порядок как в auth.ScanProfile.
func profileCols(a string) string {
	return fmt.Sprintf(`%[1]s.id::text, COALESCE(%[1]s.first_name,''), COALESCE(%[1]s.last_name,''),
		COALESCE(%[1]s.avatar_url,''), COALESCE(%[1]s.phone,''), COALESCE(%[1]s.province,''),
		COALESCE(%[1]s.district,''), COALESCE(%[1]s.farmer_type,''), COALESCE(%[1]s.crops,''),
		COALESCE(%[1]s.livestock,''), COALESCE(%[1]s.farm_size_ha,0)::float8, COALESCE(%[1]s.bio,''),
		%[1]s.is_verified, %[1]s.created_at`, a)
}
