package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/session"
)

// OpenChat открывает личную беседу в окне чата.
func (c *Controller) OpenChat(ctx context.Context, chatID, title string) error {
	return c.openConversation(ctx, session.Direct(chatID), title)
}

// OpenGroupChat открывает чат группы.
func (c *Controller) OpenGroupChat(ctx context.Context, groupID, title string) error {
	return c.openConversation(ctx, session.Group(groupID), title)
}

func (c *Controller) openConversation(ctx context.Context, conv session.Conversation, title string) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if c.conv == nil {
		return gateway.ErrNotConfigured
	}
	key := conv.String()
	c.mu.Lock()
	c.titles[key] = title
	c.setPanelLocked(conv)
	c.state.Chat.State = session.Opening.String()
	c.state.Chat.Error = nil
	c.state.openModal(ModalChat)
	c.publishChatLocked()
	c.mu.Unlock()

	err := c.conv.Open(ctx, conv)
	if errors.Is(err, gateway.ErrSuperseded) {
		return nil
	}

	// Open без ErrSuperseded завершился последним: панель следует за ним
	c.mu.Lock()
	c.setPanelLocked(conv)
	if err != nil {
		c.state.Chat.State = session.Closed.String()
		c.state.Chat.Messages = []model.Message{}
		c.state.Chat.Error = Present(err)
	} else {
		c.state.Chat.State = session.Open.String()
	}
	c.publishChatLocked()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("controller.open %s: %w", conv, err)
	}
	if conv.Kind() == model.KindDirect {
		c.markChatRead(ctx, conv.ID())
	}
	return nil
}

// setPanelLocked переключает панель на conv; черновик сохраняется только для той же беседы.
func (c *Controller) setPanelLocked(conv session.Conversation) {
	key := conv.String()
	if c.state.Chat.Conversation == key {
		c.state.Chat.Title = c.titles[key]
		return
	}
	c.state.Chat = ChatPanel{
		Conversation: key,
		Kind:         conv.Kind(),
		ID:           conv.ID(),
		Title:        c.titles[key],
		State:        session.Closed.String(),
		Messages:     []model.Message{},
	}
}

// CloseConversation закрывает окно чата и освобождает подписку. Повтор — no-op.
func (c *Controller) CloseConversation() {
	if c.conv != nil {
		c.conv.Close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Chat = ChatPanel{Conversation: session.None().String(), State: session.Closed.String(), Messages: []model.Message{}}
	c.state.closeModal(ModalChat)
	c.publishChatLocked()
}

// SendChatMessage отправляет сообщение в открытую беседу. Текст в поле ввода
// очищается только после подтверждения сервером; при ошибке он остаётся.
func (c *Controller) SendChatMessage(ctx context.Context, text string, files []model.Upload) (*model.Message, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	c.mu.Lock()
	panel := c.state.Chat
	if panel.ID == "" {
		c.mu.Unlock()
		return nil, &gateway.ValidationError{Field: "chat", Reason: "no conversation is open"}
	}
	c.state.Chat.Compose = text
	if text == "" && len(files) == 0 {
		c.mu.Unlock()
		return nil, &gateway.ValidationError{Field: "content", Reason: "message is empty"}
	}
	c.state.Chat.Sending = true
	c.state.Chat.Error = nil
	c.publishChatLocked()
	c.mu.Unlock()

	msg, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Message, error) {
		if panel.Kind == model.KindGroup {
			return c.groups.SendGroupMessage(ctx, panel.ID, text, files)
		}
		return c.chats.SendMessage(ctx, panel.ID, text, files)
	})

	c.mu.Lock()
	same := c.state.Chat.Conversation == panel.Conversation
	if same {
		c.state.Chat.Sending = false
	}
	if err != nil {
		if same {
			c.state.Chat.Error = Present(err)
			c.publishChatLocked()
		}
		c.toastLocked("error", "Failed to send message")
		c.mu.Unlock()
		return nil, fmt.Errorf("controller.SendChatMessage: %w", err)
	}
	if same {
		c.state.Chat.Compose = ""
		c.publishChatLocked()
	}
	if msg.Kind == model.KindDirect {
		c.touchChatLocked(*msg)
	}
	c.mu.Unlock()

	// отрисовка через слот: пузырь появится один раз, даже если эхо подписки пришло раньше
	c.conv.AddLocal(*msg)
	return msg, nil
}

// StartChatWithFarmer находит или создаёт личную беседу и открывает её.
func (c *Controller) StartChatWithFarmer(ctx context.Context, farmerID, name string) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	chat, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Chat, error) {
		return c.chats.GetOrCreateChat(ctx, farmerID)
	})
	if err != nil {
		c.toast("error", "Failed to start chat")
		return fmt.Errorf("controller.StartChatWithFarmer: %w", err)
	}
	if name == "" {
		name = "Chat"
	}
	return c.OpenChat(ctx, chat.ID, name)
}

func (c *Controller) markChatRead(ctx context.Context, chatID string) {
	_, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.chats.MarkAsRead(ctx, chatID)
	})
	if err != nil {
		logger.Warnf("controller: mark chat %s read: %v", chatID, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexChat(c.state.Chats, chatID)
	if i < 0 || c.state.Chats[i].UnreadCount == 0 {
		return
	}
	chats := append([]model.ChatSummary(nil), c.state.Chats...)
	chats[i].UnreadCount = 0
	c.state.Chats = chats
	c.publish(Event{Type: EventChatList, Payload: chats})
}

// touchChatLocked обновляет превью беседы в списке ("You: Hello").
func (c *Controller) touchChatLocked(msg model.Message) {
	i := indexChat(c.state.Chats, msg.ChatID)
	if i < 0 {
		return
	}
	chats := append([]model.ChatSummary(nil), c.state.Chats...)
	at := msg.CreatedAt
	chats[i].Preview = manager.PreviewText(msg.Content, msg.SenderID == c.state.UserID)
	chats[i].LastMessageAt = &at
	c.state.Chats = chats
	if cont, ok := c.state.Content[ViewMessages]; ok && cont.Items != nil {
		cont.Items = chats
	}
	c.publish(Event{Type: EventChatList, Payload: chats})
}

func indexChat(chats []model.ChatSummary, id string) int {
	for i, ch := range chats {
		if ch.ID == id {
			return i
		}
	}
	return -1
}

func hasMessage(msgs []model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// RenderHistory — session.Renderer: история беседы, которая сейчас открывается.
func (c *Controller) RenderHistory(conv session.Conversation, msgs []model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPanelLocked(conv)
	c.state.Chat.Messages = msgs
	c.publishChatLocked()
}

// RenderMessage — session.Renderer: новое сообщение открытой беседы.
func (c *Controller) RenderMessage(conv session.Conversation, msg model.Message) {
	c.mu.Lock()
	incoming := msg.SenderID != c.state.UserID
	shown := false
	if c.state.Chat.Conversation == conv.String() && !hasMessage(c.state.Chat.Messages, msg.ID) {
		c.state.Chat.Messages = append(c.state.Chat.Messages, msg)
		c.publish(Event{Type: EventChatMessage, Payload: msg})
		shown = true
	}
	if msg.Kind == model.KindDirect {
		c.touchChatLocked(msg)
	}
	c.mu.Unlock()
	if shown && incoming && msg.Kind == model.KindDirect {
		go c.markChatRead(context.Background(), msg.ChatID)
	}
}

// ChatActivity — session.Renderer: чужое сообщение в любой личной беседе.
func (c *Controller) ChatActivity(chatID string) {
	c.mu.Lock()
	view := c.state.View
	open := c.state.Chat.Kind == model.KindDirect && c.state.Chat.ID == chatID
	if view != ViewMessages && !open {
		c.toastLocked("info", "New message received! 💬")
	}
	c.mu.Unlock()
	if view == ViewMessages {
		go func() {
			if err := c.LoadView(context.Background(), ViewMessages); err != nil && !errors.Is(err, gateway.ErrSuperseded) {
				logger.Warnf("controller: reload chats: %v", err)
			}
		}()
	}
}

// NewPost — session.Renderer: чужой новый пост, уже перечитанный по id.
func (c *Controller) NewPost(p model.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertPostLocked(p)
}

// NewNotification — session.Renderer: личное уведомление; повтор по id игнорируется.
func (c *Controller) NewNotification(n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.notices[n.ID]; seen {
		return
	}
	c.notices[n.ID] = n
	if !n.IsRead {
		c.state.UnreadNotices++
	}
	if cont, ok := c.state.Content[ViewNotifications]; ok {
		if list, ok := cont.Items.([]model.Notification); ok {
			cont.Items = append([]model.Notification{n}, list...)
		}
	}
	c.publish(Event{Type: EventNotification, Payload: n})
}
