package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/gateway"
)

func (h *AppHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

type switchViewRequest struct {
	View string `json:"view"`
	// Push — добавить запись в историю браузера.
	Push bool `json:"push"`
}

// SwitchView меняет вкладку; неизвестное имя показывает not-found и не является ошибкой запроса.
func (h *AppHandler) SwitchView(w http.ResponseWriter, r *http.Request) {
	var req switchViewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.SwitchView(r.Context(), req.View, req.Push); err != nil && !errors.Is(err, controller.ErrUnknownView) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

type backRequest struct {
	URL string `json:"url"`
}

func (h *AppHandler) Back(w http.ResponseWriter, r *http.Request) {
	var req backRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ctrl.Back(r.Context(), req.URL); err != nil && !errors.Is(err, controller.ErrUnknownView) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

type reloadRequest struct {
	View string `json:"view"`
}

// Reload повторяет загрузку вкладки (кнопка «Повторить» в ErrorState).
func (h *AppHandler) Reload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, ok := controller.ParseView(req.View)
	if !ok {
		v = h.ctrl.Snapshot().View
	}
	err := h.ctrl.LoadView(r.Context(), v)
	if errors.Is(err, gateway.ErrSuperseded) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Content[v])
}

func (h *AppHandler) OpenModal(w http.ResponseWriter, r *http.Request) {
	h.ctrl.OpenModal(controller.Modal(chi.URLParam(r, "modal")))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppHandler) CloseModal(w http.ResponseWriter, r *http.Request) {
	h.ctrl.CloseModal(controller.Modal(chi.URLParam(r, "modal")))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.MarkNotificationRead(r.Context(), chi.URLParam(r, "id")))
}

func (h *AppHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	noContent(w, h.ctrl.MarkAllNotificationsRead(r.Context()))
}
