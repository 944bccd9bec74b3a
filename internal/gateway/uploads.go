package gateway

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/agrilovers/internal/model"
)

// UploadLimits — ограничения, проверяемые до загрузки.
type UploadLimits struct {
	MaxFiles     int
	MaxFileSize  int64
	AllowedTypes []string
}

func (l UploadLimits) allowed(contentType string) bool {
	if len(l.AllowedTypes) == 0 {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range l.AllowedTypes {
		if strings.EqualFold(t, ct) {
			return true
		}
	}
	return false
}

// ValidateUploads проверяет количество, тип и размер файлов.
func ValidateUploads(files []model.Upload, l UploadLimits) error {
	if l.MaxFiles > 0 && len(files) > l.MaxFiles {
		return &ValidationError{Field: "files", Reason: fmt.Sprintf("at most %d files allowed", l.MaxFiles)}
	}
	for _, f := range files {
		if f.Size() == 0 {
			return &ValidationError{Field: f.Name, Reason: "file is empty"}
		}
		if !l.allowed(f.ContentType) {
			return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("file type %q is not allowed", f.ContentType)}
		}
		if l.MaxFileSize > 0 && f.Size() > l.MaxFileSize {
			return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("file exceeds %d MB", l.MaxFileSize/(1024*1024))}
		}
	}
	return nil
}

// ObjectPath строит путь объекта: {owner}/{uuid}.{ext}.
func ObjectPath(ownerID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" || len(ext) > 6 {
		ext = ".bin"
	}
	return ownerID + "/" + uuid.NewString() + ext
}
