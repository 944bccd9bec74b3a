package handler

import (
	"net/http"
	"strings"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/model"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AppHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.ctrl.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SignUp — после регистрации может потребоваться подтверждение email (needs_email_confirm).
func (h *AppHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.ctrl.SignUp(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type codeRequest struct {
	Channel auth.Channel `json:"channel"`
	Target  string       `json:"target"`
	Code    string       `json:"code,omitempty"`
}

func (req *codeRequest) normalize() bool {
	req.Target = strings.TrimSpace(req.Target)
	if req.Channel == "" {
		req.Channel = auth.ChannelEmail
	}
	return req.Channel == auth.ChannelEmail || req.Channel == auth.ChannelPhone
}

// SendCode отправляет одноразовый код на email или телефон.
func (h *AppHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.normalize() {
		badRequest(w, "channel must be email or phone")
		return
	}
	noContent(w, h.ctrl.SendCode(r.Context(), req.Channel, req.Target))
}

func (h *AppHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.normalize() {
		badRequest(w, "channel must be email or phone")
		return
	}
	res, err := h.ctrl.VerifyCode(r.Context(), req.Channel, req.Target, strings.TrimSpace(req.Code))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AppHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.SignOut(r.Context()))
}

// SaveProfile создаёт или обновляет профиль фермера вошедшего пользователя.
func (h *AppHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if !decodeJSON(w, r, &p) {
		return
	}
	saved, err := h.ctrl.SaveProfile(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
