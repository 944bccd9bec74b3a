package controller

import (
	"errors"
	"fmt"

	"github.com/agrilovers/internal/gateway"
)

var (
	ErrUnknownView = errors.New("unknown view")
	// ErrSignInRequired — действие записи без входа; открыто окно входа.
	ErrSignInRequired = fmt.Errorf("sign in required: %w", gateway.ErrNotAuthenticated)
)

// ErrorState — то, что видит пользователь вместо содержимого виджета.
type ErrorState struct {
	Kind      string `json:"kind"`
	Icon      string `json:"icon"`
	Title     string `json:"title"`
	Remedy    string `json:"remedy"`
	Retryable bool   `json:"retryable"`
}

// Present переводит ошибку в ErrorState; nil для nil.
func Present(err error) *ErrorState {
	if err == nil {
		return nil
	}
	kind := gateway.Classify(err)
	st := &ErrorState{Kind: kind.String(), Remedy: gateway.Hint(err)}
	switch kind {
	case gateway.KindTransient:
		st.Icon, st.Title, st.Retryable = "📡", "Could not load", true
	case gateway.KindConfig:
		st.Icon, st.Title = "⚙️", "Service not configured"
	case gateway.KindAuthorization:
		st.Icon, st.Title = "🔒", "Access denied"
	case gateway.KindUnauthenticated:
		st.Icon, st.Title = "👤", "Sign in required"
	case gateway.KindValidation:
		st.Icon, st.Title = "⚠️", "Check your input"
	case gateway.KindConflict:
		st.Icon, st.Title = "ℹ️", "Already done"
	default:
		st.Icon, st.Title, st.Retryable = "⚠️", "Something went wrong", true
	}
	return st
}
