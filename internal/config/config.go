package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agrilovers/internal/logger"
)

// Значения-заглушки из шаблона конфигурации: с ними бэкенд считается не настроенным.
const (
	placeholderURL     = "YOUR_SUPABASE_URL"
	placeholderAnonKey = "YOUR_SUPABASE_ANON_KEY"
)

// loadEnv подгружает .env только вне production (в контейнере конфиг только из env).
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := strings.TrimSuffix(dir, "/") + "/.env"
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		idx := strings.LastIndex(strings.TrimSuffix(dir, "/"), "/")
		if idx <= 0 {
			return
		}
		dir = dir[:idx]
	}
}

// BackendConfig — реквизиты хостингового бэкенда (auth, storage, БД).
type BackendConfig struct {
	URL         string `yaml:"url"`
	AnonKey     string `yaml:"anon_key"`
	DatabaseURL string `yaml:"database_url"`
	// JWTSecret — секрет подписи access-токенов; пустой — подпись не проверяется, читаются только claims.
	JWTSecret      string `yaml:"jwt_secret"`
	MaxConnections int    `yaml:"db_max_connections"`
}

// RealtimeConfig — источник событий изменения таблиц.
type RealtimeConfig struct {
	// Source: postgres (LISTEN/NOTIFY), redis (pub/sub) или memory.
	Source  string `yaml:"source"`
	Channel string `yaml:"channel"`
}

// UploadConfig — клиентские ограничения на вложения (сервер им не доверяется).
type UploadConfig struct {
	MaxFiles     int      `yaml:"max_files"`
	MaxFileSize  int64    `yaml:"-"`
	AllowedTypes []string `yaml:"allowed_types"`
	// LocalDir — каталог локального объектного хранилища для режима -dev.
	LocalDir string `yaml:"local_dir"`
}

// PushConfig — Web Push для фоновых уведомлений, когда нет открытой вкладки.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"-"`
	VAPIDPrivateKey string `yaml:"-"`
	Subscriber      string `yaml:"subscriber"`
}

// SMTPConfig — доставка кодов входа локальным провайдером (-dev). Пустой — коды пишутся в лог.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"-"`
	Password  string `yaml:"-"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Config содержит настройки клиента, бэкенда и локального хранилища.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Backend  BackendConfig
	Realtime RealtimeConfig
	Upload   UploadConfig
	Push     PushConfig
	SMTP     SMTPConfig

	// AuthRedirectURL — куда провайдер возвращает после подтверждения email.
	AuthRedirectURL string

	// RequestTimeout оборачивает каждое чтение истории/списка.
	RequestTimeout time.Duration
	// HistoryLimit — сколько последних сообщений загружать при открытии беседы.
	HistoryLimit int
	// WeatherURL — API прогноза погоды (Open-Meteo).
	WeatherURL string

	// KVURL — Redis для локального key-value; пустой — хранение в памяти.
	KVURL string

	MaxWSConnections int
	WSSendBufferSize int

	CORSAllowedOrigins string
	LogLevel           string
}

// BackendConfigured сообщает, заданы ли реальные реквизиты бэкенда.
// Без них клиент работает в демо-режиме и не обращается к сети.
func (c *Config) BackendConfigured() bool {
	u := strings.TrimSpace(c.Backend.URL)
	k := strings.TrimSpace(c.Backend.AnonKey)
	if u == "" || k == "" || u == placeholderURL || k == placeholderAnonKey {
		return false
	}
	return c.Backend.DatabaseURL != ""
}

// DBMaxConnections возвращает максимальное число соединений в пуле.
func (c *Config) DBMaxConnections() int {
	if c.Backend.MaxConnections <= 0 {
		return 8
	}
	return c.Backend.MaxConnections
}

// yamlConfig — промежуточная структура для парсинга YAML.
type yamlConfig struct {
	ServerAddr         string         `yaml:"server_addr"`
	ReadTimeout        int            `yaml:"read_timeout"`
	WriteTimeout       int            `yaml:"write_timeout"`
	IdleTimeout        int            `yaml:"idle_timeout"`
	Backend            BackendConfig  `yaml:"backend"`
	Realtime           RealtimeConfig `yaml:"realtime"`
	Upload             UploadConfig   `yaml:"upload"`
	MaxFileSizeMB      int            `yaml:"max_file_size_mb"`
	RequestTimeoutMS   int            `yaml:"request_timeout_ms"`
	HistoryLimit       int            `yaml:"history_limit"`
	WeatherURL         string         `yaml:"weather_url"`
	KVURL              string         `yaml:"kv_url"`
	MaxWSConnections   int            `yaml:"max_ws_connections"`
	WSSendBufferSize   int            `yaml:"ws_send_buffer_size"`
	CORSAllowedOrigins string         `yaml:"cors_allowed_origins"`
	LogLevel           string         `yaml:"log_level"`
	PushSubscriber     string         `yaml:"push_subscriber"`
	SMTP               SMTPConfig     `yaml:"smtp"`
	AuthRedirectURL    string         `yaml:"auth_redirect_url"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:   "127.0.0.1:8090",
		ReadTimeout:  15,
		WriteTimeout: 15,
		IdleTimeout:  60,
		Realtime:     RealtimeConfig{Source: "postgres", Channel: "realtime_changes"},
		Upload: UploadConfig{
			MaxFiles:     4,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
			LocalDir:     "./uploads",
		},
		MaxFileSizeMB:      5,
		RequestTimeoutMS:   12000,
		HistoryLimit:       50,
		WeatherURL:         "https://api.open-meteo.com/v1/forecast",
		MaxWSConnections:   32,
		WSSendBufferSize:   256,
		CORSAllowedOrigins: "http://127.0.0.1:8090",
		LogLevel:           "info",
		PushSubscriber:     "mailto:admin@agrilovers.local",
		SMTP:               SMTPConfig{Port: 587, FromName: "Agrilovers"},
		AuthRedirectURL:    "http://127.0.0.1:8090/?view=feed",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/app.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := parseYAML(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}
	return build(yc)
}

// parseYAML накладывает YAML поверх уже заполненных значений по умолчанию.
func parseYAML(data []byte, yc *yamlConfig) error {
	return yaml.Unmarshal(data, yc)
}

func build(yc yamlConfig) *Config {
	allowed := yc.Upload.AllowedTypes
	if raw := os.Getenv("UPLOAD_ALLOWED_TYPES"); raw != "" {
		allowed = splitList(raw)
	}
	cfg := &Config{
		ServerAddr:   envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:  time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout: time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:  time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		Backend: BackendConfig{
			URL:            strings.TrimSuffix(envStr("SUPABASE_URL", yc.Backend.URL), "/"),
			AnonKey:        envStr("SUPABASE_ANON_KEY", yc.Backend.AnonKey),
			DatabaseURL:    envStr("DATABASE_URL", yc.Backend.DatabaseURL),
			JWTSecret:      envStr("SUPABASE_JWT_SECRET", yc.Backend.JWTSecret),
			MaxConnections: envInt("DB_MAX_CONNECTIONS", yc.Backend.MaxConnections),
		},
		Realtime: RealtimeConfig{
			Source:  envStr("REALTIME_SOURCE", yc.Realtime.Source),
			Channel: envStr("REALTIME_CHANNEL", yc.Realtime.Channel),
		},
		Upload: UploadConfig{
			MaxFiles:     envInt("UPLOAD_MAX_FILES", yc.Upload.MaxFiles),
			MaxFileSize:  int64(envInt("UPLOAD_MAX_FILE_SIZE_MB", yc.MaxFileSizeMB)) << 20,
			AllowedTypes: allowed,
			LocalDir:     envStr("UPLOAD_DIR", yc.Upload.LocalDir),
		},
		Push: PushConfig{
			VAPIDPublicKey:  envStr("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: envStr("VAPID_PRIVATE_KEY", ""),
			Subscriber:      envStr("PUSH_SUBSCRIBER", yc.PushSubscriber),
		},
		SMTP: SMTPConfig{
			Host:      envStr("SMTP_HOST", yc.SMTP.Host),
			Port:      envInt("SMTP_PORT", yc.SMTP.Port),
			Username:  envStr("SMTP_USERNAME", ""),
			Password:  envStr("SMTP_PASSWORD", ""),
			FromEmail: envStr("SMTP_FROM_EMAIL", yc.SMTP.FromEmail),
			FromName:  envStr("SMTP_FROM_NAME", yc.SMTP.FromName),
		},
		AuthRedirectURL:    envStr("AUTH_REDIRECT_URL", yc.AuthRedirectURL),
		RequestTimeout:     time.Duration(envInt("REQUEST_TIMEOUT_MS", yc.RequestTimeoutMS)) * time.Millisecond,
		HistoryLimit:       envInt("HISTORY_LIMIT", yc.HistoryLimit),
		WeatherURL:         envStr("WEATHER_URL", yc.WeatherURL),
		KVURL:              envStr("REDIS_URL", yc.KVURL),
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 12 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Upload.MaxFiles <= 0 {
		cfg.Upload.MaxFiles = 4
	}
	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
