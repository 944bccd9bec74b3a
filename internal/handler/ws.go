package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/ws"
)

type WSHandler struct {
	hub      *ws.Hub
	origins  map[string]struct{}
	any      bool
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins задаётся как для CORS, через запятую; пусто или "*" пропускает всех.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o == "*" {
			h.any = true
		} else if o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.any = h.any || len(h.origins) == 0
	h.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if h.any || origin == "" {
		return true
	}
	if _, ok := h.origins[origin]; ok {
		return true
	}
	// вкладка открыта с адреса самого сервера
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// ServeWS подключает вкладку: снимок состояния, затем поток событий контроллера.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту (403 при чужом Origin)
		logger.Warnf("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	tab := ws.NewClient(h.hub, conn)
	tab.Start(ctx, cancel)
	h.hub.Register(tab)
}
