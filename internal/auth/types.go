package auth

import (
	"context"
	"time"
)

// Channel — куда отправляется одноразовый код.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// User — пользователь провайдера аутентификации (не прикладной профиль).
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session — выданные провайдером токены.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// SignUpResult: Session пустая, если провайдер требует подтверждения email.
type SignUpResult struct {
	Session *Session
	User    *User
}

// Provider — контракт хостингового провайдера аутентификации.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SendOTP(ctx context.Context, ch Channel, target string) error
	VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// EventType — событие смены состояния аутентификации.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

type Event struct {
	Type    EventType
	Session *Session
}
