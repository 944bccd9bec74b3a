package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/agrilovers/internal/storage/memory"
)

type captureSender struct{ codes map[string]string }

func (c *captureSender) SendOTP(ctx context.Context, to, code string) error {
	c.codes[to] = code
	return nil
}

func TestDevSendOTPRateLimit(t *testing.T) {
	ctx := context.Background()
	mail := &captureSender{codes: map[string]string{}}
	p := NewDevProvider(nil, memory.New(), mail, "s")
	for i := 0; i < otpLimitMax; i++ {
		if err := p.SendOTP(ctx, ChannelEmail, " Farmer@Example.com "); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := p.SendOTP(ctx, ChannelEmail, "farmer@example.com"); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("want rate limit, got %v", err)
	}
	if len(mail.codes["farmer@example.com"]) != 6 {
		t.Fatalf("code %q", mail.codes["farmer@example.com"])
	}
}

func TestDevVerifyRejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	mail := &captureSender{codes: map[string]string{}}
	p := NewDevProvider(nil, memory.New(), mail, "s")
	if err := p.SendOTP(ctx, ChannelEmail, "a@b.co"); err != nil {
		t.Fatal(err)
	}
	wrong := "000000"
	if mail.codes["a@b.co"] == wrong {
		wrong = "111111"
	}
	if _, err := p.VerifyOTP(ctx, ChannelEmail, "a@b.co", wrong); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("want ErrInvalidOTP, got %v", err)
	}
	if _, err := p.VerifyOTP(ctx, ChannelEmail, "a@b.co", "12"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("short code: %v", err)
	}
}

func TestNormalizeTarget(t *testing.T) {
	if _, err := normalizeTarget(ChannelEmail, "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("got %v", err)
	}
	got, err := normalizeTarget(ChannelPhone, "+254 (700) 000-000")
	if err != nil || got != "+254700000000" {
		t.Fatalf("got %q, %v", got, err)
	}
}
