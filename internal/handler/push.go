package handler

import (
	"net/http"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/push"
)

// PushHandler хранит подписки браузера текущего пользователя.
type PushHandler struct {
	client *push.Client
	// user — id вошедшего пользователя, "" без входа.
	user func() string
}

func NewPushHandler(client *push.Client, user func() string) *PushHandler {
	return &PushHandler{client: client, user: user}
}

// SubscribeRequest — тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := h.user()
	if userID == "" {
		writeError(w, controller.ErrSignInRequired)
		return
	}
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Subscription.Valid() {
		badRequest(w, "subscription.endpoint and subscription.keys required")
		return
	}
	noContent(w, h.client.Subscribe(r.Context(), userID, req.Subscription))
}

// UnsubscribeRequest — тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := h.user()
	if userID == "" {
		writeError(w, controller.ErrSignInRequired)
		return
	}
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		badRequest(w, "endpoint required")
		return
	}
	noContent(w, h.client.Unsubscribe(r.Context(), userID, req.Endpoint))
}
