package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/model"
)

const multipartMemory = 8 << 20

// readUploads разбирает multipart-запрос: текстовые поля и файлы из поля field.
// Лимиты проверяются до чтения содержимого в память.
func readUploads(w http.ResponseWriter, r *http.Request, field string, l gateway.UploadLimits) ([]model.Upload, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, nil
	}
	if l.MaxFileSize > 0 && l.MaxFiles > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, l.MaxFileSize*int64(l.MaxFiles)+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, &gateway.ValidationError{Field: field, Reason: "invalid multipart form"}
	}
	headers := r.MultipartForm.File[field]
	if l.MaxFiles > 0 && len(headers) > l.MaxFiles {
		return nil, &gateway.ValidationError{Field: field, Reason: fmt.Sprintf("at most %d files allowed", l.MaxFiles)}
	}
	files := make([]model.Upload, 0, len(headers))
	for _, fh := range headers {
		if l.MaxFileSize > 0 && fh.Size > l.MaxFileSize {
			return nil, &gateway.ValidationError{Field: fh.Filename, Reason: fmt.Sprintf("file exceeds %d MB", l.MaxFileSize>>20)}
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		ct := fh.Header.Get("Content-Type")
		if ct == "" || ct == "application/octet-stream" {
			ct = http.DetectContentType(data)
		}
		files = append(files, model.Upload{Name: filepath.Base(fh.Filename), ContentType: ct, Data: data})
	}
	return files, gateway.ValidateUploads(files, l)
}

// formValue — текстовое поле multipart-формы.
func formValue(r *http.Request, key string) string {
	if r.MultipartForm == nil {
		return ""
	}
	if v := r.MultipartForm.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// FileHandler раздаёт файлы локального хранилища режима -dev.
type FileHandler struct {
	dir string
}

func NewFileHandler(dir string) *FileHandler {
	return &FileHandler{dir: dir}
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	bucket := filepath.Base(chi.URLParam(r, "bucket"))
	rest := filepath.Clean("/" + chi.URLParam(r, "*"))
	if bucket == "." || bucket == ".." || rest == "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, filepath.Join(h.dir, bucket, filepath.FromSlash(rest)))
}
