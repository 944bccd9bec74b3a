// Package ws связывает вкладки браузера с контроллером: события состояния
// рассылаются всем вкладкам, действия вкладок передаются контроллеру.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// Controller — часть контроллера, которой пользуются вкладки.
type Controller interface {
	Snapshot() controller.AppState
	SwitchView(ctx context.Context, name string, push bool) error
	Back(ctx context.Context, rawURL string) error
	LoadView(ctx context.Context, v controller.View) error
	OpenChat(ctx context.Context, chatID, title string) error
	OpenGroupChat(ctx context.Context, groupID, title string) error
	StartChatWithFarmer(ctx context.Context, farmerID, name string) error
	CloseConversation()
	SendChatMessage(ctx context.Context, text string, files []model.Upload) (*model.Message, error)
	LikePost(ctx context.Context, postID string) (model.LikeState, error)
	SetFeedFilters(ctx context.Context, f controller.FeedFilters) error
	SetMarketFilters(ctx context.Context, f controller.MarketFilters) error
	SetGroupFilters(ctx context.Context, f controller.GroupFilters) error
	Search(ctx context.Context, q controller.SearchQuery) error
	OpenModal(m controller.Modal)
	CloseModal(m controller.Modal)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// PushNotifier отправляет пуш, когда ни одной вкладки не открыто. nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

const intentTimeout = 30 * time.Second

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	sendBuf    int
	ctrl       Controller
	pushClient PushNotifier
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns, sendBuf int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 32
	}
	if sendBuf <= 0 {
		sendBuf = sendBufSize
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		sendBuf:    sendBuf,
		pushClient: pushClient,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

// Bind подключает контроллер. Вызывается один раз до Run: контроллер
// создаётся с хабом в качестве Sink.
func (h *Hub) Bind(ctrl Controller) { h.ctrl = ctrl }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting tab=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// новая вкладка сразу получает полное состояние
	if h.ctrl != nil {
		h.sendToClient(c, OutgoingMessage{Type: OutgoingType(controller.EventState), Payload: h.ctrl.Snapshot()})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// Connected — число открытых вкладок.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish — controller.Sink. Вызывается под мьютексом контроллера, поэтому
// только неблокирующая запись в буферы вкладок.
func (h *Hub) Publish(ev controller.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.pushFallback(ev)
		return
	}
	out := fromEvent(ev)
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) pushFallback(ev controller.Event) {
	if h.pushClient == nil || ev.Type != controller.EventNotification {
		return
	}
	n, ok := ev.Payload.(model.Notification)
	if !ok || n.RecipientID == "" {
		return
	}
	title, body := notificationText(n)
	go h.pushClient.Notify(context.Background(), n.RecipientID, title, body,
		map[string]string{"notification_id": n.ID, "type": string(n.Type)})
}

func notificationText(n model.Notification) (title, body string) {
	who := "A farmer"
	if n.Actor != nil {
		if name := n.Actor.DisplayName(); name != "" {
			who = name
		}
	}
	switch n.Type {
	case model.NotifyLike:
		return "New like", who + " liked your post"
	case model.NotifyComment:
		return "New comment", who + " commented on your post"
	case model.NotifyMessage:
		return "New message", who + " sent you a message"
	case model.NotifyFriendRequest:
		return "Friend request", who + " wants to connect"
	case model.NotifyGroupJoinRequest:
		return "Join request", who + " asked to join your group"
	case model.NotifyGroupJoinResult:
		return "Group request", "Your join request was answered"
	}
	return "Agrilovers", "You have a new notification"
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// буфер полон: медленная вкладка закрывается и переподключится со снимком состояния
		logger.Errorf("ws send buffer full, closing slow tab=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// HandleMessage передаёт действие вкладки контроллеру и отвечает ack или error.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if h.ctrl == nil {
		h.reply(c, msg, gateway.ErrNotConfigured)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()
	h.reply(c, msg, h.dispatch(ctx, msg))
}

func (h *Hub) dispatch(ctx context.Context, msg IncomingMessage) error {
	defer logger.DeferLogDuration("ws."+string(msg.Type), time.Now())()
	switch msg.Type {
	case IntentSwitchView:
		return h.ctrl.SwitchView(ctx, msg.View, msg.Push)
	case IntentBack:
		return h.ctrl.Back(ctx, msg.URL)
	case IntentReload:
		v, ok := controller.ParseView(msg.View)
		if !ok {
			v = h.ctrl.Snapshot().View
		}
		err := h.ctrl.LoadView(ctx, v)
		if errors.Is(err, gateway.ErrSuperseded) {
			return nil
		}
		return err
	case IntentOpenChat:
		return h.ctrl.OpenChat(ctx, msg.ID, msg.Title)
	case IntentOpenGroupChat:
		return h.ctrl.OpenGroupChat(ctx, msg.ID, msg.Title)
	case IntentStartChat:
		return h.ctrl.StartChatWithFarmer(ctx, msg.ID, msg.Title)
	case IntentCloseChat:
		h.ctrl.CloseConversation()
		return nil
	case IntentSendMessage:
		_, err := h.ctrl.SendChatMessage(ctx, msg.Text, nil)
		return err
	case IntentLike:
		_, err := h.ctrl.LikePost(ctx, msg.ID)
		return err
	case IntentFeedFilters:
		var f controller.FeedFilters
		if err := decodeFilters(msg.Filters, &f); err != nil {
			return err
		}
		return h.ctrl.SetFeedFilters(ctx, f)
	case IntentMarketFilters:
		var f controller.MarketFilters
		if err := decodeFilters(msg.Filters, &f); err != nil {
			return err
		}
		return h.ctrl.SetMarketFilters(ctx, f)
	case IntentGroupFilters:
		var f controller.GroupFilters
		if err := decodeFilters(msg.Filters, &f); err != nil {
			return err
		}
		return h.ctrl.SetGroupFilters(ctx, f)
	case IntentSearch:
		var q controller.SearchQuery
		if err := decodeFilters(msg.Filters, &q); err != nil {
			return err
		}
		if q.Query == "" {
			q.Query = msg.Text
		}
		return h.ctrl.Search(ctx, q)
	case IntentOpenModal:
		h.ctrl.OpenModal(controller.Modal(msg.Modal))
		return nil
	case IntentCloseModal:
		h.ctrl.CloseModal(controller.Modal(msg.Modal))
		return nil
	case IntentReadNotice:
		return h.ctrl.MarkNotificationRead(ctx, msg.ID)
	case IntentReadAll:
		return h.ctrl.MarkAllNotificationsRead(ctx)
	}
	return &gateway.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown intent %q", msg.Type)}
}

func decodeFilters(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &gateway.ValidationError{Field: "filters", Reason: "invalid JSON"}
	}
	return nil
}

func (h *Hub) reply(c *Client, msg IncomingMessage, err error) {
	if err == nil {
		if msg.RequestID != "" {
			h.sendToClient(c, OutgoingMessage{Type: OutgoingAck, RequestID: msg.RequestID})
		}
		return
	}
	logger.Debugf("ws %s tab=%s: %v", msg.Type, c.id, err)
	h.sendToClient(c, OutgoingMessage{
		Type:      OutgoingError,
		RequestID: msg.RequestID,
		Payload:   ErrorPayload{Message: err.Error(), State: controller.Present(err)},
	})
}
