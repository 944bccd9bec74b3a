package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agrilovers/internal/gateway"
)

func newHosted(t *testing.T, h http.HandlerFunc) *HostedProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHostedProvider(srv.URL, "anon", "http://127.0.0.1:8090/?view=feed", srv.Client())
}

func TestHostedSignIn(t *testing.T) {
	p := newHosted(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected %s", r.URL)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "refresh_token": "rt", "expires_in": 3600,
			"user": map[string]any{"id": "u1", "email": "a@b.co"},
		})
	})
	s, err := p.SignInWithPassword(context.Background(), "a@b.co", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if s.AccessToken != "at" || s.User.ID != "u1" || s.ExpiresAt.IsZero() {
		t.Fatalf("session %+v", s)
	}
}

func TestHostedSignUpNeedsConfirm(t *testing.T) {
	p := newHosted(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "u2", "email": "new@b.co"})
	})
	res, err := p.SignUp(context.Background(), "new@b.co", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Session != nil || res.User == nil || res.User.ID != "u2" {
		t.Fatalf("result %+v", res)
	}
}

func TestHostedVerifyPhoneUsesSMS(t *testing.T) {
	p := newHosted(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "sms" || body["phone"] != "+254700000000" {
			t.Errorf("body %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "expires_at": 4102444800,
			"user": map[string]any{"id": "u3"},
		})
	})
	if _, err := p.VerifyOTP(context.Background(), ChannelPhone, "+254700000000", "123456"); err != nil {
		t.Fatal(err)
	}
}

func TestHostedErrorMapping(t *testing.T) {
	p := newHosted(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})
	_, err := p.SignInWithPassword(context.Background(), "a@b.co", "bad")
	var herr *gateway.HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("want HTTPError, got %v", err)
	}
	if herr.Message != "Invalid login credentials" {
		t.Fatalf("message %q", herr.Message)
	}
}
