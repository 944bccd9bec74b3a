package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotConfigured    = errors.New("backend not configured")
	ErrTimeout          = errors.New("request timed out")
	ErrSessionExpired   = errors.New("session expired")
	ErrBlocked          = errors.New("messaging blocked between users")
	// ErrSuperseded — ответ пришёл после того, как представление сменилось; не показывается.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Коды SQLSTATE, на которых строится восстановление.
const (
	codeUniqueViolation    = "23505"
	codeUndefinedTable     = "42P01"
	codeInsufficientPrivil = "42501"
)

// Kind — класс ошибки для представления пользователю.
type Kind int

const (
	KindUnknown Kind = iota
	KindConflict
	KindConfig
	KindTransient
	KindAuthorization
	KindUnauthenticated
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindAuthorization:
		return "authorization"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// HTTPError — ответ REST-эндпоинта (auth, storage) с кодом ошибки.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// ValidationError — входные данные отклонены на клиенте до сетевого вызова.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation — ожидаемый конфликт (повторный лайк, заявка, членство).
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsUndefinedTable — агрегирующего представления нет, нужен ручной путь.
func IsUndefinedTable(err error) bool {
	return pgCode(err) == codeUndefinedTable
}

// Classify относит ошибку к одному из классов Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		return KindConfig
	case errors.Is(err, ErrNotAuthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrBlocked):
		return KindAuthorization
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	if code := pgCode(err); code != "" {
		switch {
		case code == codeUniqueViolation:
			return KindConflict
		case code == codeUndefinedTable:
			return KindConfig
		case code == codeInsufficientPrivil:
			return KindAuthorization
		case strings.HasPrefix(code, "28"):
			return KindConfig
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), strings.HasPrefix(code, "53"):
			return KindTransient
		}
		return KindUnknown
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		switch {
		case herr.Status == 401 || herr.Status == 403:
			return KindAuthorization
		case herr.Status == 409:
			return KindConflict
		case herr.Status == 429 || herr.Status >= 500:
			return KindTransient
		case herr.Status == 400 || herr.Status == 422:
			return KindValidation
		}
		return KindUnknown
	}
	if pgconn.Timeout(err) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindTransient
	}
	return KindUnknown
}

// Hint — однострочная подсказка пользователю по ошибке.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if errors.Is(err, ErrBlocked) {
		return "Messaging is not available with this farmer."
	}
	if IsUndefinedTable(err) {
		return "Database schema is missing. Run the migrations and reload."
	}
	switch Classify(err) {
	case KindConfig:
		return "Backend is not configured. Check the backend URL and key."
	case KindTransient:
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return "The request timed out. Check your connection and try again."
		}
		return "Network problem. Check your connection and try again."
	case KindAuthorization:
		return "Access denied. Please sign in again."
	case KindUnauthenticated:
		return "Sign in to continue."
	case KindConflict:
		return "This already exists."
	}
	return "Something went wrong. Please try again."
}
