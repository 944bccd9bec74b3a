package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/model"
)

type openChatRequest struct {
	Title string `json:"title"`
}

// OpenChat открывает беседу. Ответ приходит после загрузки истории; неудачное
// открытие оставляет панель закрытой с ошибкой в состоянии.
func (h *AppHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	var req openChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.OpenChat(r.Context(), chi.URLParam(r, "id"), req.Title); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Chat)
}

func (h *AppHandler) OpenGroupChat(w http.ResponseWriter, r *http.Request) {
	var req openChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.OpenGroupChat(r.Context(), chi.URLParam(r, "id"), req.Title); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Chat)
}

// StartChat — «Написать» на карточке фермера: найти или создать личный чат и открыть его.
func (h *AppHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req openChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.StartChatWithFarmer(r.Context(), chi.URLParam(r, "id"), req.Title); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Chat)
}

func (h *AppHandler) CloseChat(w http.ResponseWriter, r *http.Request) {
	h.ctrl.CloseConversation()
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage отправляет сообщение в открытую беседу: JSON {text} или
// multipart с полем text и файлами files.
func (h *AppHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var (
		req   sendMessageRequest
		files []model.Upload
		err   error
	)
	if files, err = readUploads(w, r, "files", h.uploads); err != nil {
		writeError(w, err)
		return
	}
	if r.MultipartForm != nil {
		req.Text = formValue(r, "text")
	} else if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.ctrl.SendChatMessage(r.Context(), req.Text, files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
