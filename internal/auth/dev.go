package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/storage"
)

var (
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrInvalidOTP         = errors.New("invalid or expired code")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrInvalidPhone       = errors.New("invalid phone format")
	ErrUserExists         = errors.New("user already registered")
)

const (
	otpTTL          = 5 * time.Minute
	otpLimitWindow  = 10 * time.Minute
	otpLimitMax     = 10
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

var (
	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegexp = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// CodeSender доставляет одноразовый код (SMTP или лог).
type CodeSender interface {
	SendOTP(ctx context.Context, to, code string) error
}

// logSender пишет код в лог: в -dev без SMTP и для телефонов.
type logSender struct{}

func (logSender) SendOTP(ctx context.Context, to, code string) error {
	logger.Infof("auth(dev): code for %s: %s", to, code)
	return nil
}

// DevProvider — локальный провайдер для режима -dev: пользователи в таблице
// dev_auth_users, коды и refresh-токены в локальном KV, access-токены HS256.
type DevProvider struct {
	db     gateway.DB
	kv     storage.Store
	mailer CodeSender
	secret string
}

func NewDevProvider(db gateway.DB, kv storage.Store, mailer CodeSender, secret string) *DevProvider {
	if mailer == nil {
		mailer = logSender{}
	}
	return &DevProvider{db: db, kv: kv, mailer: mailer, secret: secret}
}

func onlyDigits(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}

func generateOTP(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			d = big.NewInt(int64(time.Now().UnixNano() % 10))
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String()
}

func normalizeTarget(ch Channel, target string) (string, error) {
	t := strings.TrimSpace(target)
	if ch == ChannelPhone {
		t = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(t)
		if !phoneRegexp.MatchString(t) {
			return "", ErrInvalidPhone
		}
		return t, nil
	}
	t = strings.ToLower(t)
	if !emailRegexp.MatchString(t) {
		return "", ErrInvalidEmail
	}
	return t, nil
}

const devUserCols = `id::text, COALESCE(email,''), COALESCE(phone,''), password_hash, email_confirmed_at, created_at`

func scanDevUser(row pgx.Row) (*User, string, error) {
	u := &User{}
	var hash string
	if err := row.Scan(&u.ID, &u.Email, &u.Phone, &hash, &u.EmailConfirmedAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", gateway.ErrNotFound
		}
		return nil, "", err
	}
	return u, hash, nil
}

func (p *DevProvider) findUser(ctx context.Context, ch Channel, target string) (*User, string, error) {
	col := "email"
	if ch == ChannelPhone {
		col = "phone"
	}
	return scanDevUser(p.db.QueryRow(ctx, `SELECT `+devUserCols+` FROM dev_auth_users WHERE `+col+` = $1`, target))
}

func (p *DevProvider) createUser(ctx context.Context, ch Channel, target, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	u := &User{ID: uuid.NewString(), CreatedAt: now, EmailConfirmedAt: &now}
	if ch == ChannelPhone {
		u.Phone = target
	} else {
		u.Email = target
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO dev_auth_users (id, email, phone, password_hash, email_confirmed_at, created_at)
		 VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6)`,
		u.ID, u.Email, u.Phone, passwordHash, u.EmailConfirmedAt, u.CreatedAt)
	if err != nil {
		if gateway.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

func (p *DevProvider) issue(ctx context.Context, u *User) (*Session, error) {
	access, exp, err := IssueAccessToken(p.secret, *u, accessTokenTTL)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)
	if err := p.kv.Set(ctx, "refresh:"+refresh, u.ID, refreshTokenTTL); err != nil {
		return nil, err
	}
	return &Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, User: *u}, nil
}

func (p *DevProvider) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	target, err := normalizeTarget(ChannelEmail, email)
	if err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, &gateway.ValidationError{Field: "password", Reason: "password should be at least 6 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth(dev).SignUp: %w", err)
	}
	u, err := p.createUser(ctx, ChannelEmail, target, string(hash))
	if err != nil {
		return nil, fmt.Errorf("auth(dev).SignUp: %w", err)
	}
	s, err := p.issue(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("auth(dev).SignUp: %w", err)
	}
	return &SignUpResult{Session: s, User: u}, nil
}

func (p *DevProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	target, err := normalizeTarget(ChannelEmail, email)
	if err != nil {
		return nil, err
	}
	u, hash, err := p.findUser(ctx, ChannelEmail, target)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth(dev).SignInWithPassword: %w", err)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issue(ctx, u)
}

// checkRateLimit: не больше otpLimitMax запросов кода за окно от первого запроса.
// Значение ключа: "count:unixStart".
func (p *DevProvider) checkRateLimit(ctx context.Context, key string) (bool, error) {
	k := "otp_limit:" + key
	v, err := p.kv.Get(ctx, k)
	if err != nil {
		return false, err
	}
	now := time.Now()
	n, started := 0, now
	if cnt, ts, ok := strings.Cut(v, ":"); ok {
		n, _ = strconv.Atoi(cnt)
		if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
			started = time.Unix(sec, 0)
		}
	}
	left := otpLimitWindow - now.Sub(started)
	if left <= 0 {
		n, started, left = 0, now, otpLimitWindow
	}
	if n >= otpLimitMax {
		return false, nil
	}
	val := strconv.Itoa(n+1) + ":" + strconv.FormatInt(started.Unix(), 10)
	if err := p.kv.Set(ctx, k, val, left); err != nil {
		return false, err
	}
	return true, nil
}

func (p *DevProvider) SendOTP(ctx context.Context, ch Channel, target string) error {
	t, err := normalizeTarget(ch, target)
	if err != nil {
		return err
	}
	allowed, err := p.checkRateLimit(ctx, t)
	if err != nil {
		return fmt.Errorf("auth(dev).SendOTP: %w", err)
	}
	if !allowed {
		return ErrRateLimitExceeded
	}
	code := generateOTP(6)
	if err := p.kv.Set(ctx, "otp:"+t, code, otpTTL); err != nil {
		return fmt.Errorf("auth(dev).SendOTP: %w", err)
	}
	if ch == ChannelPhone {
		return logSender{}.SendOTP(ctx, t, code)
	}
	return p.mailer.SendOTP(ctx, t, code)
}

func (p *DevProvider) VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Session, error) {
	t, err := normalizeTarget(ch, target)
	if err != nil {
		return nil, err
	}
	codeNorm := onlyDigits(code)
	if len(codeNorm) != 6 {
		return nil, ErrInvalidOTP
	}
	stored, err := p.kv.Get(ctx, "otp:"+t)
	if err != nil || stored == "" {
		return nil, ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(codeNorm)) != 1 {
		return nil, ErrInvalidOTP
	}
	if err := p.kv.Delete(ctx, "otp:"+t); err != nil {
		logger.Errorf("auth(dev): delete otp for %s: %v", t, err)
	}
	u, _, err := p.findUser(ctx, ch, t)
	if errors.Is(err, gateway.ErrNotFound) {
		u, err = p.createUser(ctx, ch, t, "")
	}
	if err != nil {
		return nil, fmt.Errorf("auth(dev).VerifyOTP: %w", err)
	}
	return p.issue(ctx, u)
}

func (p *DevProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	uid, err := p.kv.Get(ctx, "refresh:"+refreshToken)
	if err != nil {
		return nil, fmt.Errorf("auth(dev).Refresh: %w", err)
	}
	if uid == "" {
		return nil, fmt.Errorf("auth(dev).Refresh: %w", gateway.ErrSessionExpired)
	}
	u, _, err := scanDevUser(p.db.QueryRow(ctx, `SELECT `+devUserCols+` FROM dev_auth_users WHERE id = $1`, uid))
	if err != nil {
		return nil, fmt.Errorf("auth(dev).Refresh: %w", err)
	}
	if err := p.kv.Delete(ctx, "refresh:"+refreshToken); err != nil {
		logger.Warnf("auth(dev): rotate refresh token: %v", err)
	}
	return p.issue(ctx, u)
}

// SignOut: access-токены не отзываются, refresh-токен удаляет клиент.
func (p *DevProvider) SignOut(ctx context.Context, accessToken string) error {
	return nil
}

// RevokeRefresh удаляет refresh-токен (вызывается клиентом при выходе).
func (p *DevProvider) RevokeRefresh(ctx context.Context, refreshToken string) error {
	return p.kv.Delete(ctx, "refresh:"+refreshToken)
}
