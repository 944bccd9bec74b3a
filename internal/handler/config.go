package handler

import (
	"net/http"

	"github.com/agrilovers/internal/config"
)

// PushKeys — источник публичного VAPID-ключа (*push.Client).
type PushKeys interface {
	Enabled() bool
	PublicKey() string
}

// ConfigHandler отдаёт публичные параметры клиента (без входа).
type ConfigHandler struct {
	cfg  *config.Config
	push PushKeys
}

func NewConfigHandler(cfg *config.Config, push PushKeys) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, push: push}
}

// GetAppConfig сообщает вкладке режим работы и ограничения загрузки файлов.
func (h *ConfigHandler) GetAppConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"demo":              !h.cfg.BackendConfigured(),
		"history_limit":     h.cfg.HistoryLimit,
		"upload_max_files":  h.cfg.Upload.MaxFiles,
		"upload_max_bytes":  h.cfg.Upload.MaxFileSize,
		"upload_file_types": h.cfg.Upload.AllowedTypes,
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.push == nil || !h.push.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.push.PublicKey(),
	})
}
