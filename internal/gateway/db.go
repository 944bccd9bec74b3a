package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrilovers/internal/logger"
)

// DB — то, что менеджеры используют от реляционного хранилища.
// *pgxpool.Pool удовлетворяет интерфейсу напрямую.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Claims — утверждения текущей сессии, которые видят политики RLS через
// current_setting('request.jwt.claims').
type Claims struct {
	Sub  string `json:"sub,omitempty"`
	Role string `json:"role"`
}

// ClaimsHolder хранит утверждения, применяемые к каждому соединению при выдаче из пула.
type ClaimsHolder struct {
	v   atomic.Value // claimsCache
	src atomic.Pointer[Session]
}

type claimsCache struct {
	uid  string
	json string
}

func NewClaimsHolder() *ClaimsHolder {
	h := &ClaimsHolder{}
	h.Set("")
	return h
}

// Set задаёт пользователя; пустой userID — анонимная роль.
func (h *ClaimsHolder) Set(userID string) {
	c := Claims{Sub: userID, Role: "anon"}
	if userID != "" {
		c.Role = "authenticated"
	}
	data, _ := json.Marshal(c)
	h.v.Store(claimsCache{uid: userID, json: string(data)})
}

// Follow связывает claims с сессией: пользователь читается при каждой выдаче
// соединения, в том числе после восстановления сохранённой сессии.
func (h *ClaimsHolder) Follow(s Session) {
	h.src.Store(&s)
}

func (h *ClaimsHolder) JSON() string {
	c := h.v.Load().(claimsCache)
	if p := h.src.Load(); p != nil {
		if uid := (*p).UserID(); uid != c.uid {
			h.Set(uid)
			c = h.v.Load().(claimsCache)
		}
	}
	return c.json
}

// InstallRLS ставит хук пула: перед выдачей соединения выставляются claims текущего пользователя.
func InstallRLS(cfg *pgxpool.Config, h *ClaimsHolder) {
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		if _, err := conn.Exec(ctx, `SELECT set_config('request.jwt.claims', $1, false)`, h.JSON()); err != nil {
			logger.Warnf("gateway: set claims: %v", err)
			return false
		}
		return true
	}
}
