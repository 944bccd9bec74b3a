package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agrilovers/internal/realtime"
)

func realtimeFilter() realtime.Filter { return realtime.Filter{Table: "messages"} }

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func TestHostedStorageUpload(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHostedStorage(srv.URL, "anon", staticToken("user-jwt"), srv.Client())
	u, err := s.Upload(context.Background(), BucketPostImages, "u1/x.png", "image/png", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/storage/v1/object/post-images/u1/x.png" {
		t.Fatalf("path %q", gotPath)
	}
	if gotAuth != "Bearer user-jwt" || gotBody != "img" {
		t.Fatalf("auth=%q body=%q", gotAuth, gotBody)
	}
	if u != srv.URL+"/storage/v1/object/public/post-images/u1/x.png" {
		t.Fatalf("public url %q", u)
	}
}

func TestHostedStorageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	s := NewHostedStorage(srv.URL, "anon", nil, srv.Client())
	_, err := s.Upload(context.Background(), BucketPostImages, "a.png", "image/png", []byte("x"))
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Status != http.StatusForbidden {
		t.Fatalf("want HTTPError 403, got %v", err)
	}
	if Classify(err) != KindAuthorization {
		t.Fatalf("403 classified as %v", Classify(err))
	}
}

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/files")
	if err != nil {
		t.Fatal(err)
	}
	u, err := s.Upload(context.Background(), BucketStoryImages, "u1/a.jpg", "image/jpeg", []byte("jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if u != "/files/story-images/u1/a.jpg" {
		t.Fatalf("url %q", u)
	}
	data, err := os.ReadFile(filepath.Join(dir, "story-images", "u1", "a.jpg"))
	if err != nil || string(data) != "jpg" {
		t.Fatalf("stored %q, %v", data, err)
	}
	if _, err := s.Upload(context.Background(), "b", "../../etc/passwd", "", []byte("x")); err == nil {
		t.Fatal("path traversal accepted")
	}
	if err := s.Remove(context.Background(), BucketStoryImages, "u1/a.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(context.Background(), BucketStoryImages, "u1/a.jpg"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestObjectPath(t *testing.T) {
	p := ObjectPath("u1", "Photo.JPG")
	if !strings.HasPrefix(p, "u1/") || !strings.HasSuffix(p, ".jpg") {
		t.Fatalf("path %q", p)
	}
	if p2 := ObjectPath("u1", "noext"); !strings.HasSuffix(p2, ".bin") {
		t.Fatalf("path %q", p2)
	}
}
