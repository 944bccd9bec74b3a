package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agrilovers/internal/gateway"
)

// HostedProvider — REST API /auth/v1 хостингового провайдера.
type HostedProvider struct {
	baseURL     string
	anonKey     string
	redirectURL string
	client      *http.Client
}

func NewHostedProvider(baseURL, anonKey, redirectURL string, client *http.Client) *HostedProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HostedProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		anonKey:     anonKey,
		redirectURL: redirectURL,
		client:      client,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

func (t *tokenResponse) session() *Session {
	if t.AccessToken == "" || t.User == nil {
		return nil
	}
	s := &Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, User: *t.User}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

type errorBody struct {
	Code        any    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Msg, e.Description, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (p *HostedProvider) post(ctx context.Context, path, bearer string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/v1"+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return &gateway.HTTPError{Status: resp.StatusCode, Code: eb.ErrorCode, Message: eb.text()}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (p *HostedProvider) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	body := map[string]any{"email": email, "password": password}
	if p.redirectURL != "" {
		body["options"] = map[string]string{"email_redirect_to": p.redirectURL}
	}
	var raw json.RawMessage
	if err := p.post(ctx, "/signup", "", body, &raw); err != nil {
		return nil, fmt.Errorf("auth.SignUp: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("auth.SignUp: %w", err)
	}
	if s := tr.session(); s != nil {
		return &SignUpResult{Session: s, User: &s.User}, nil
	}
	// без автоподтверждения провайдер возвращает сам объект пользователя
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("auth.SignUp: %w", err)
	}
	if u.ID == "" {
		return &SignUpResult{}, nil
	}
	return &SignUpResult{User: &u}, nil
}

func (p *HostedProvider) token(ctx context.Context, grant string, body any) (*Session, error) {
	var tr tokenResponse
	if err := p.post(ctx, "/token?grant_type="+grant, "", body, &tr); err != nil {
		return nil, err
	}
	s := tr.session()
	if s == nil {
		return nil, fmt.Errorf("empty session in %s response", grant)
	}
	return s, nil
}

func (p *HostedProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := p.token(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("auth.SignInWithPassword: %w", err)
	}
	return s, nil
}

func (p *HostedProvider) SendOTP(ctx context.Context, ch Channel, target string) error {
	body := map[string]any{string(ch): target, "create_user": true}
	if p.redirectURL != "" && ch == ChannelEmail {
		body["options"] = map[string]string{"email_redirect_to": p.redirectURL}
	}
	if err := p.post(ctx, "/otp", "", body, nil); err != nil {
		return fmt.Errorf("auth.SendOTP: %w", err)
	}
	return nil
}

func (p *HostedProvider) VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Session, error) {
	otpType := "email"
	if ch == ChannelPhone {
		otpType = "sms"
	}
	var tr tokenResponse
	body := map[string]string{string(ch): target, "token": code, "type": otpType}
	if err := p.post(ctx, "/verify", "", body, &tr); err != nil {
		return nil, fmt.Errorf("auth.VerifyOTP: %w", err)
	}
	s := tr.session()
	if s == nil {
		return nil, fmt.Errorf("auth.VerifyOTP: empty session")
	}
	return s, nil
}

func (p *HostedProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	s, err := p.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("auth.Refresh: %w", err)
	}
	return s, nil
}

func (p *HostedProvider) SignOut(ctx context.Context, accessToken string) error {
	if err := p.post(ctx, "/logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("auth.SignOut: %w", err)
	}
	return nil
}
