// Package session держит ровно одну живую подписку на открытую беседу
// (личную или групповую) и фиксированный набор фоновых каналов.
//
// Переключение беседы идёт в шесть шагов: запомнить прежнюю беседу вместе с её
// дескриптором, выставить новую и очистить дескриптор, загрузить историю с
// таймаутом, отрисовать её, освободить прежний дескриптор его собственной
// точкой выхода, подписаться на новую беседу. Каждое открытие получает
// номер поколения; ответ устаревшего открытия не отрисовывается и не
// подписывается, но захваченный им прежний дескриптор всё равно освобождается.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// DirectChats — часть MessagingManager, нужная сессии.
type DirectChats interface {
	GetMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SubscribeToMessages(chatID string, onMessage func(messageID string)) (*manager.ChatSubscription, error)
	UnsubscribeFromMessages(sub *manager.ChatSubscription)
	SubscribeToChatActivity(onActivity func(chatID, senderID string)) (*realtime.Channel, error)
}

// GroupChats — часть GroupsManager, нужная сессии.
type GroupChats interface {
	GetGroupMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error)
	GetGroupMessage(ctx context.Context, id string) (*model.Message, error)
	SubscribeToGroupMessages(groupID string, onMessage func(messageID string)) (*manager.GroupChatSubscription, error)
	UnsubscribeFromGroupMessages(sub *manager.GroupChatSubscription)
}

type PostFeed interface {
	GetPost(ctx context.Context, id string) (*model.Post, error)
	SubscribeToPosts(onPost func(postID, authorID string)) (*realtime.Channel, error)
}

type Notifications interface {
	Get(ctx context.Context, id string) (*model.Notification, error)
	SubscribeToNotifications(userID string, onNew func(id, actorID string)) (*realtime.Channel, error)
}

// ChannelCloser освобождает фоновые каналы (обычно *gateway.Gateway).
type ChannelCloser interface {
	RemoveChannel(ch *realtime.Channel)
}

// Renderer получает уже перечитанные по id записи. Вызовы сериализованы.
type Renderer interface {
	RenderHistory(conv Conversation, msgs []model.Message)
	RenderMessage(conv Conversation, msg model.Message)
	ChatActivity(chatID string)
	NewPost(post model.Post)
	NewNotification(n model.Notification)
}

type Options struct {
	Direct        DirectChats
	Groups        GroupChats
	Posts         PostFeed
	Notifications Notifications
	Channels      ChannelCloser
	Renderer      Renderer
	// Timeout — фиксированный таймаут каждой загрузки; по истечении операция не повторяется.
	Timeout       time.Duration
	HistoryLimit  int
	RecentPostTTL time.Duration
}

type Session struct {
	direct   DirectChats
	groups   GroupChats
	posts    PostFeed
	notifs   Notifications
	channels ChannelCloser
	renderer Renderer
	timeout  time.Duration
	limit    int

	// renderMu упорядочивает вызовы Renderer
	renderMu sync.Mutex

	mu      sync.Mutex
	current Conversation
	state   State
	handle  handle
	gen     uint64
	list    *MessageList
	lastErr error

	// bgMu держится на всё время открытия и закрытия фоновых каналов
	bgMu   sync.Mutex
	bg     *background
	bgGen  uint64
	recent *recentSet
}

func New(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = manager.MessageHistoryLimit
	}
	if opts.RecentPostTTL <= 0 {
		opts.RecentPostTTL = time.Minute
	}
	if opts.Renderer == nil {
		opts.Renderer = nopRenderer{}
	}
	return &Session{
		direct:   opts.Direct,
		groups:   opts.Groups,
		posts:    opts.Posts,
		notifs:   opts.Notifications,
		channels: opts.Channels,
		renderer: opts.Renderer,
		timeout:  opts.Timeout,
		limit:    opts.HistoryLimit,
		list:     NewMessageList(),
		recent:   newRecentSet(opts.RecentPostTTL),
	}
}

func (s *Session) Current() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err — ошибка последнего открытия текущей беседы (nil после успеха).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribed — беседа, на которую сейчас оформлена подписка, или None.
func (s *Session) Subscribed() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return None()
	}
	return s.handle.conversation()
}

// Messages — копия отображаемой истории текущей беседы.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Items()
}

// Open переключает слот на conv. Ошибка загрузки или подписки оставляет беседу
// текущей в состоянии Closed с Err() != nil; повтор — только новым вызовом Open.
// Устаревшее открытие возвращает gateway.ErrSuperseded.
func (s *Session) Open(ctx context.Context, conv Conversation) error {
	if conv.IsNone() {
		s.Close()
		return nil
	}
	if s.source(conv) == nil {
		return fmt.Errorf("session.Open %s: %w", conv, gateway.ErrNotConfigured)
	}

	// 1–2: запомнить прежнюю беседу с её типом и дескриптором, выставить новую
	s.mu.Lock()
	prev := s.handle
	s.handle = nil
	s.current = conv
	s.state = Opening
	s.lastErr = nil
	s.gen++
	gen := s.gen
	s.list = NewMessageList()
	s.mu.Unlock()

	// 3: история с фиксированным таймаутом
	msgs, err := gateway.WithTimeout(ctx, s.timeout, func(ctx context.Context) ([]model.Message, error) {
		return s.fetchHistory(ctx, conv)
	})

	// 4: отрисовка, только если открытие ещё актуально
	var shown []model.Message
	_, stale := s.commit(gen, func() bool {
		if err != nil {
			return false
		}
		s.list.Reset(msgs)
		shown = s.list.Items()
		return true
	}, func() {
		s.renderer.RenderHistory(conv, shown)
	})

	// 5: прежний дескриптор освобождается в любом исходе, своим типом
	if prev != nil {
		logger.Debugf("session: release %s", prev.conversation())
		prev.release()
	}

	if stale {
		return gateway.ErrSuperseded
	}
	if err != nil {
		s.fail(gen, err)
		return fmt.Errorf("session.Open %s history: %w", conv, err)
	}

	// 6: подписка на новую беседу
	h, err := s.subscribe(conv, gen)
	if err != nil {
		s.fail(gen, err)
		return fmt.Errorf("session.Open %s subscribe: %w", conv, err)
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		h.release()
		return gateway.ErrSuperseded
	}
	s.handle = h
	s.state = Open
	s.mu.Unlock()
	logger.Infof("session: opened %s (%d messages)", conv, len(msgs))
	return nil
}

// Close закрывает текущую беседу. Повторный вызов ничего не делает.
func (s *Session) Close() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.current = None()
	s.state = Closed
	s.lastErr = nil
	s.gen++
	s.list = NewMessageList()
	s.mu.Unlock()
	if h != nil {
		logger.Debugf("session: release %s", h.conversation())
		h.release()
	}
}

// Shutdown освобождает беседу и фоновые каналы.
func (s *Session) Shutdown() {
	s.Close()
	s.StopBackground()
}

// AddLocal добавляет подтверждённое сервером отправленное сообщение.
// false — сообщение не из текущей беседы или уже пришло через подписку.
func (s *Session) AddLocal(msg model.Message) bool {
	conv := conversationOf(msg)
	s.mu.Lock()
	gen, cur := s.gen, s.current
	s.mu.Unlock()
	if conv.IsNone() || conv != cur {
		return false
	}
	return s.appendMessage(conv, gen, msg)
}

func conversationOf(m model.Message) Conversation {
	if m.Kind == model.KindGroup {
		return Group(m.GroupID)
	}
	return Direct(m.ChatID)
}

func (s *Session) source(conv Conversation) any {
	switch conv.Kind() {
	case model.KindDirect:
		if s.direct != nil {
			return s.direct
		}
	case model.KindGroup:
		if s.groups != nil {
			return s.groups
		}
	}
	return nil
}

func (s *Session) fetchHistory(ctx context.Context, conv Conversation) ([]model.Message, error) {
	if conv.Kind() == model.KindGroup {
		return s.groups.GetGroupMessages(ctx, conv.ID(), s.limit)
	}
	return s.direct.GetMessages(ctx, conv.ID(), s.limit)
}

func (s *Session) fetchOne(ctx context.Context, conv Conversation, id string) (*model.Message, error) {
	if conv.Kind() == model.KindGroup {
		return s.groups.GetGroupMessage(ctx, id)
	}
	return s.direct.GetMessage(ctx, id)
}

func (s *Session) subscribe(conv Conversation, gen uint64) (handle, error) {
	onMessage := func(id string) { s.deliver(conv, gen, id) }
	if conv.Kind() == model.KindGroup {
		sub, err := s.groups.SubscribeToGroupMessages(conv.ID(), onMessage)
		if err != nil {
			return nil, err
		}
		return groupHandle{sub: sub, groups: s.groups}, nil
	}
	sub, err := s.direct.SubscribeToMessages(conv.ID(), onMessage)
	if err != nil {
		return nil, err
	}
	return directHandle{sub: sub, chats: s.direct}, nil
}

// deliver: событие → перечитывание по id → добавление без повторов → отрисовка.
// События для уже не текущей подписки отбрасываются.
func (s *Session) deliver(conv Conversation, gen uint64, id string) {
	s.mu.Lock()
	drop := gen != s.gen || s.list.Has(id)
	s.mu.Unlock()
	if drop {
		return
	}
	msg, err := gateway.WithTimeout(context.Background(), s.timeout, func(ctx context.Context) (*model.Message, error) {
		return s.fetchOne(ctx, conv, id)
	})
	if err != nil {
		logger.Warnf("session: fetch message %s in %s: %v", id, conv, err)
		return
	}
	s.appendMessage(conv, gen, *msg)
}

func (s *Session) appendMessage(conv Conversation, gen uint64, msg model.Message) bool {
	added, _ := s.commit(gen, func() bool {
		return s.list.Add(msg)
	}, func() {
		s.renderer.RenderMessage(conv, msg)
	})
	return added
}

// commit применяет mutate под s.mu, если поколение gen ещё текущее, и при успехе
// вызывает render. stale — поколение сменилось, mutate не вызывался.
func (s *Session) commit(gen uint64, mutate func() bool, render func()) (applied, stale bool) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false, true
	}
	applied = mutate()
	s.mu.Unlock()
	if applied {
		render()
	}
	return applied, false
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.state = Closed
		s.lastErr = err
	}
}

type nopRenderer struct{}

func (nopRenderer) RenderHistory(Conversation, []model.Message) {}
func (nopRenderer) RenderMessage(Conversation, model.Message)   {}
func (nopRenderer) ChatActivity(string)                          {}
func (nopRenderer) NewPost(model.Post)                           {}
func (nopRenderer) NewNotification(model.Notification)           {}
