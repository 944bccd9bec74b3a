package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore — объектное хранилище: загрузка по пути возвращает публичный URL.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error)
	Remove(ctx context.Context, bucket, path string) error
}

// TokenSource отдаёт access token текущей сессии ("" для гостя).
type TokenSource interface {
	AccessToken() string
}

// HostedStorage — REST API хранилища /storage/v1.
type HostedStorage struct {
	baseURL string
	anonKey string
	tokens  TokenSource
	client  *http.Client
}

func NewHostedStorage(baseURL, anonKey string, tokens TokenSource, client *http.Client) *HostedStorage {
	if client == nil {
		client = http.DefaultClient
	}
	return &HostedStorage{baseURL: strings.TrimRight(baseURL, "/"), anonKey: anonKey, tokens: tokens, client: client}
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// PublicURL строит публичную ссылку на объект.
func (s *HostedStorage) PublicURL(bucket, path string) string {
	return s.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

func (s *HostedStorage) do(ctx context.Context, method, bucket, path, contentType string, body []byte) error {
	endpoint := s.baseURL + "/storage/v1/object/" + url.PathEscape(bucket) + "/" + escapePath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.anonKey)
	token := s.anonKey
	if s.tokens != nil && s.tokens.AccessToken() != "" {
		token = s.tokens.AccessToken()
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("x-upsert", "false")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

func (s *HostedStorage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	if err := s.do(ctx, http.MethodPost, bucket, path, contentType, data); err != nil {
		return "", fmt.Errorf("storage.Upload %s/%s: %w", bucket, path, err)
	}
	return s.PublicURL(bucket, path), nil
}

func (s *HostedStorage) Remove(ctx context.Context, bucket, path string) error {
	if err := s.do(ctx, http.MethodDelete, bucket, path, "", nil); err != nil {
		return fmt.Errorf("storage.Remove %s/%s: %w", bucket, path, err)
	}
	return nil
}

// LocalStorage — файлы в каталоге для режима -dev; раздаются хендлером по publicBase.
type LocalStorage struct {
	dir        string
	publicBase string
}

func NewLocalStorage(dir, publicBase string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &LocalStorage{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

func (s *LocalStorage) Dir() string { return s.dir }

func (s *LocalStorage) resolve(bucket, path string) (string, error) {
	rel := filepath.Clean(filepath.Join(bucket, filepath.FromSlash(path)))
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", &ValidationError{Field: "path", Reason: "invalid object path"}
	}
	return filepath.Join(s.dir, rel), nil
}

func (s *LocalStorage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage.Upload: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage.Upload: %w", err)
	}
	return s.publicBase + "/" + url.PathEscape(bucket) + "/" + escapePath(path), nil
}

func (s *LocalStorage) Remove(ctx context.Context, bucket, path string) error {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage.Remove: %w", err)
	}
	return nil
}
