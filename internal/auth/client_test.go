package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/storage/memory"
)

type fakeProvider struct {
	signOutErr error
	refreshErr error
	refreshes  int
}

func (f *fakeProvider) session(id string) *Session {
	tok, exp, _ := IssueAccessToken("s", User{ID: id}, time.Hour)
	return &Session{AccessToken: tok, RefreshToken: "rt-" + id, ExpiresAt: exp, User: User{ID: id}}
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	return &SignUpResult{User: &User{ID: "pending"}}, nil
}
func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return f.session("u1"), nil
}
func (f *fakeProvider) SendOTP(ctx context.Context, ch Channel, target string) error { return nil }
func (f *fakeProvider) VerifyOTP(ctx context.Context, ch Channel, target, code string) (*Session, error) {
	return f.session("u2"), nil
}
func (f *fakeProvider) Refresh(ctx context.Context, rt string) (*Session, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session("u1"), nil
}
func (f *fakeProvider) SignOut(ctx context.Context, at string) error { return f.signOutErr }

func TestClientEventsAndPersistence(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	c := NewClient(&fakeProvider{}, kv, "s")
	var events []EventType
	c.OnChange(func(ev Event) { events = append(events, ev.Type) })

	if _, err := c.SignInWithPassword(ctx, "a@b.co", "pw"); err != nil {
		t.Fatal(err)
	}
	if c.UserID() != "u1" || c.AccessToken() == "" {
		t.Fatalf("user=%q", c.UserID())
	}
	if raw, _ := kv.Get(ctx, sessionKey); raw == "" {
		t.Fatal("session not persisted")
	}

	restored := NewClient(&fakeProvider{}, kv, "s")
	s, err := restored.Restore(ctx)
	if err != nil || s == nil || s.User.ID != "u1" {
		t.Fatalf("restore: %+v, %v", s, err)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if c.UserID() != "" {
		t.Fatal("still signed in")
	}
	if raw, _ := kv.Get(ctx, sessionKey); raw != "" {
		t.Fatal("session not forgotten")
	}
	if len(events) != 2 || events[0] != EventSignedIn || events[1] != EventSignedOut {
		t.Fatalf("events %v", events)
	}
}

func TestSignOutClearsOnProviderError(t *testing.T) {
	ctx := context.Background()
	c := NewClient(&fakeProvider{signOutErr: errors.New("offline")}, memory.New(), "s")
	_, _ = c.VerifyOTP(ctx, ChannelEmail, "a@b.co", "123456")
	if err := c.SignOut(ctx); err == nil {
		t.Fatal("provider error swallowed")
	}
	if c.Session() != nil {
		t.Fatal("local session kept after failed sign-out")
	}
}

func TestSignUpWithoutSessionEmitsNothing(t *testing.T) {
	c := NewClient(&fakeProvider{}, memory.New(), "s")
	fired := false
	c.OnChange(func(Event) { fired = true })
	res, err := c.SignUp(context.Background(), "a@b.co", "secret1")
	if err != nil || res.Session != nil {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if fired || c.UserID() != "" {
		t.Fatal("unconfirmed sign-up signed in")
	}
}

func TestRefreshRejectedSignsOut(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	c := NewClient(p, memory.New(), "s")
	_, _ = c.SignInWithPassword(ctx, "a@b.co", "pw")
	p.refreshErr = &gateway.HTTPError{Status: 401}
	if err := c.Refresh(ctx); err == nil {
		t.Fatal("want error")
	}
	if c.UserID() != "" {
		t.Fatal("session kept after rejected refresh")
	}
}

func TestRestoreRefreshesExpired(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	p := &fakeProvider{}
	old := &Session{AccessToken: "x", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute), User: User{ID: "u1"}}
	c := NewClient(p, kv, "s")
	c.setSession(ctx, old, EventSignedIn)

	fresh := NewClient(p, kv, "s")
	s, err := fresh.Restore(ctx)
	if err != nil || s == nil {
		t.Fatalf("restore: %v", err)
	}
	if p.refreshes != 1 || !s.ExpiresAt.After(time.Now()) {
		t.Fatalf("refreshes=%d exp=%v", p.refreshes, s.ExpiresAt)
	}
}
