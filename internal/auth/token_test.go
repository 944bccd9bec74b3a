package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/agrilovers/internal/gateway"
)

func TestIssueAndParse(t *testing.T) {
	tok, exp, err := IssueAccessToken("secret", User{ID: "u1", Email: "a@b.co"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("exp too early: %v", exp)
	}
	c, err := ParseAccessToken(tok, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "u1" || c.Email != "a@b.co" || c.Role != "authenticated" {
		t.Fatalf("claims %+v", c)
	}
	if _, err := ParseAccessToken(tok, "other"); err == nil {
		t.Fatal("wrong secret accepted")
	}
	if c, err := ParseAccessToken(tok, ""); err != nil || c.Subject != "u1" {
		t.Fatalf("unverified parse: %v", err)
	}
}

func TestParseExpired(t *testing.T) {
	tok, _, err := IssueAccessToken("secret", User{ID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"secret", ""} {
		_, err := ParseAccessToken(tok, secret)
		if !errors.Is(err, gateway.ErrSessionExpired) {
			t.Fatalf("secret=%q: want ErrSessionExpired, got %v", secret, err)
		}
		if gateway.Classify(err) != gateway.KindAuthorization {
			t.Fatalf("expired token classified as %v", gateway.Classify(err))
		}
	}
}
