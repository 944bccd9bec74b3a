package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agrilovers/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, KindConflict},
		{"wrapped unique", fmt.Errorf("postsMgr.LikePost: %w", &pgconn.PgError{Code: "23505"}), KindConflict},
		{"missing table", &pgconn.PgError{Code: "42P01"}, KindConfig},
		{"rls denial", &pgconn.PgError{Code: "42501"}, KindAuthorization},
		{"conn failure", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"not configured", ErrNotConfigured, KindConfig},
		{"guest", ErrNotAuthenticated, KindUnauthenticated},
		{"expired", fmt.Errorf("auth: %w", ErrSessionExpired), KindAuthorization},
		{"timeout", ErrTimeout, KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"http 401", &HTTPError{Status: 401}, KindAuthorization},
		{"http 503", &HTTPError{Status: 503}, KindTransient},
		{"http 422", &HTTPError{Status: 422}, KindValidation},
		{"validation", &ValidationError{Field: "a.txt", Reason: "bad"}, KindValidation},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("x: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("wrapped 23505 not detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "42P01"}) {
		t.Fatal("42P01 reported as unique violation")
	}
	if !IsUndefinedTable(&pgconn.PgError{Code: "42P01"}) {
		t.Fatal("42P01 not detected")
	}
}

func TestHint(t *testing.T) {
	if h := Hint(ErrTimeout); h != "The request timed out. Check your connection and try again." {
		t.Fatalf("timeout hint %q", h)
	}
	if h := Hint(&pgconn.PgError{Code: "42501"}); h != "Access denied. Please sign in again." {
		t.Fatalf("auth hint %q", h)
	}
	if h := Hint(nil); h != "" {
		t.Fatalf("nil hint %q", h)
	}
}

func TestValidateUploads(t *testing.T) {
	limits := UploadLimits{MaxFiles: 2, MaxFileSize: 10, AllowedTypes: []string{"image/png"}}
	png := model.Upload{Name: "a.png", ContentType: "image/png", Data: []byte("12345")}
	if err := ValidateUploads([]model.Upload{png}, limits); err != nil {
		t.Fatalf("valid upload rejected: %v", err)
	}
	cases := map[string][]model.Upload{
		"too many": {png, png, png},
		"bad type": {{Name: "a.exe", ContentType: "application/x-msdownload", Data: []byte("1")}},
		"too big":  {{Name: "b.png", ContentType: "image/png", Data: make([]byte, 11)}},
		"empty":    {{Name: "c.png", ContentType: "image/png"}},
	}
	for name, files := range cases {
		err := ValidateUploads(files, limits)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: want ValidationError, got %v", name, err)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestRequireUser(t *testing.T) {
	var g *Gateway = New(Options{})
	if _, err := g.RequireUser(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
	if _, err := g.Subscribe("x", realtimeFilter(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("subscribe without broker: %v", err)
	}
	g.RemoveChannel(nil)
}
