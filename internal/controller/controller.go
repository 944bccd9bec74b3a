// Package controller владеет состоянием интерфейса (AppState) и переводит
// действия пользователя в вызовы менеджеров. Каждая загрузка списка захватывает
// номер поколения своей вкладки и применяет ответ, только если номер не сменился.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/session"
	"github.com/agrilovers/internal/storage"
)

type Posts interface {
	GetPosts(ctx context.Context, f manager.PostFilter) ([]model.Post, error)
	GetMarketPosts(ctx context.Context, marketType model.MarketType, f manager.PostFilter) ([]model.Post, error)
	CreatePost(ctx context.Context, np model.NewPost) (*model.Post, error)
	LikePost(ctx context.Context, postID string) (model.LikeState, error)
	UnlikePost(ctx context.Context, postID string) error
	AddComment(ctx context.Context, postID, content string) (*model.Comment, error)
	GetComments(ctx context.Context, postID string) ([]model.Comment, error)
}

type Market interface {
	GetPriceReports(ctx context.Context, f manager.PriceFilter) ([]model.PriceReport, error)
	CreatePriceReport(ctx context.Context, in model.NewPriceReport) (*model.PriceReport, error)
	GetAveragePrice(ctx context.Context, crop, province string, days int) (*model.AveragePrice, error)
}

type Groups interface {
	GetGroups(ctx context.Context, f manager.GroupFilter) ([]model.Group, error)
	CreateGroup(ctx context.Context, in model.NewGroup) (*model.Group, error)
	JoinGroup(ctx context.Context, groupID string) (bool, error)
	LeaveGroup(ctx context.Context, groupID string) error
	RequestToJoin(ctx context.Context, groupID string) (*model.JoinRequest, error)
	SendGroupMessage(ctx context.Context, groupID, content string, files []model.Upload) (*model.Message, error)
}

type Chats interface {
	GetChats(ctx context.Context) ([]model.ChatSummary, error)
	GetOrCreateChat(ctx context.Context, otherUserID string) (*model.Chat, error)
	SendMessage(ctx context.Context, chatID, content string, files []model.Upload) (*model.Message, error)
	MarkAsRead(ctx context.Context, chatID string) error
}

type Friends interface {
	GetFriends(ctx context.Context, userID string) ([]model.Friend, error)
	GetPendingRequests(ctx context.Context) ([]model.FriendRequest, error)
	SendFriendRequest(ctx context.Context, receiverID string) (*model.FriendRequest, error)
	RespondToFriendRequest(ctx context.Context, requestID string, accept bool) error
	RemoveFriend(ctx context.Context, friendID string) error
}

type Stories interface {
	GetActiveStories(ctx context.Context) ([]model.StoryGroup, error)
	CreateStory(ctx context.Context, caption string, img model.Upload) (*model.Story, error)
	ViewStory(ctx context.Context, storyID string) error
}

type Search interface {
	SearchAll(ctx context.Context, query string, t model.SearchType, f model.SearchFilters, limit int) (*model.SearchResponse, error)
	SaveSearchHistory(ctx context.Context, query string, t model.SearchType, f model.SearchFilters) error
	GetSearchSuggestions(ctx context.Context, q string) ([]model.Suggestion, error)
}

type Tools interface {
	CalculateSeedRate(crop string, areaHa float64) (*model.SeedRate, error)
	CalculateFertilizer(crop string, areaHa float64) (*model.FertilizerPlan, error)
	GetWeather(ctx context.Context, province string) *model.Weather
}

type Notifications interface {
	List(ctx context.Context, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Conversations — слот открытой беседы и фоновые каналы (*session.Session).
type Conversations interface {
	Open(ctx context.Context, conv session.Conversation) error
	Close()
	AddLocal(msg model.Message) bool
	StartBackground(userID string) error
	StopBackground()
	MarkPostSeen(id string)
	Shutdown()
}

type Options struct {
	Posts         Posts
	Market        Market
	Groups        Groups
	Chats         Chats
	Friends       Friends
	Stories       Stories
	Search        Search
	Tools         Tools
	Notifications Notifications
	// Auth == nil — вход недоступен, вкладки не охраняются.
	Auth auth.Manager
	// Conversations строит слот беседы, которому контроллер служит Renderer.
	Conversations func(r session.Renderer) Conversations
	KV            storage.Store
	Sink          Sink
	// Demo — бэкенд не настроен: фиксированное демо-содержимое, без сетевых вызовов.
	Demo     bool
	Timeout  time.Duration
	PageSize int
}

type Controller struct {
	posts    Posts
	market   Market
	groups   Groups
	chats    Chats
	friends  Friends
	stories  Stories
	search   Search
	tools    Tools
	notifs   Notifications
	auth     auth.Manager
	conv     Conversations
	kv       storage.Store
	sink     Sink
	timeout  time.Duration
	pageSize int
	now      func() time.Time

	likes keyedMutex

	mu      sync.Mutex
	state   AppState
	gens    map[View]uint64
	notices map[string]model.Notification
	titles  map[string]string
}

var _ session.Renderer = (*Controller)(nil)

func New(opts Options) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = manager.DefaultLimit
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	c := &Controller{
		posts:    opts.Posts,
		market:   opts.Market,
		groups:   opts.Groups,
		chats:    opts.Chats,
		friends:  opts.Friends,
		stories:  opts.Stories,
		search:   opts.Search,
		tools:    opts.Tools,
		notifs:   opts.Notifications,
		auth:     opts.Auth,
		kv:       opts.KV,
		sink:     opts.Sink,
		timeout:  opts.Timeout,
		pageSize: opts.PageSize,
		now:      time.Now,
		state:    newAppState(),
		gens:     make(map[View]uint64),
		notices:  make(map[string]model.Notification),
		titles:   make(map[string]string),
	}
	if opts.Demo {
		c.state.Demo = true
		c.state.Banner = DemoBanner
	}
	if opts.Conversations != nil && !opts.Demo {
		c.conv = opts.Conversations(c)
	}
	return c
}

// Init поднимает сессию входа и открывает вкладку из адреса, иначе последнюю
// сохранённую, иначе DefaultView.
func (c *Controller) Init(ctx context.Context, rawURL string) error {
	defer logger.DeferLogDuration("controller.Init", time.Now())()
	if !c.isDemo() && c.auth != nil {
		if err := c.auth.Init(ctx); err != nil {
			logger.Warnf("controller: auth init: %v", err)
			if gateway.Classify(err) == gateway.KindConfig {
				c.mu.Lock()
				c.state.Banner = "Service not configured: " + gateway.Hint(err)
				c.mu.Unlock()
			}
		}
		c.auth.OnAuthChange(c.onAuthChange)
		if u := c.auth.User(); u != nil {
			c.startUser(u.ID)
		}
	}
	v, ok := ViewFromURL(rawURL)
	if !ok {
		v = c.lastView(ctx)
	}
	return c.SwitchView(ctx, string(v), false)
}

// Snapshot — копия текущего состояния.
func (c *Controller) Snapshot() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Shutdown освобождает беседу и фоновые каналы.
func (c *Controller) Shutdown() {
	if c.conv != nil {
		c.conv.Shutdown()
	}
}

// SwitchView делает v активной вкладкой. Охраняемая вкладка без входа
// запоминается в PostLoginRedirect, вместо неё открывается landing.
// push=false заменяет запись истории вместо добавления.
func (c *Controller) SwitchView(ctx context.Context, name string, push bool) error {
	v, ok := ParseView(name)
	if !ok {
		c.toast("error", "Page not found")
		return fmt.Errorf("controller.SwitchView %q: %w", name, ErrUnknownView)
	}
	c.mu.Lock()
	if v != ViewLanding && c.guardedLocked() {
		c.state.PostLoginRedirect = v
		v = ViewLanding
	}
	if prev := c.state.View; prev != v {
		// ответы для покидаемой вкладки больше не применяются
		c.gens[prev]++
		if cont, ok := c.state.Content[prev]; ok {
			cont.Loading = false
		}
	}
	c.state.View = v
	c.state.URL = URLForView(c.state.URL, v)
	c.publish(Event{Type: EventNavigate, View: v, Payload: Navigation{URL: c.state.URL, Replace: !push}})
	uid := c.state.UserID
	c.mu.Unlock()

	c.saveLastView(ctx, uid, v)
	err := c.LoadView(ctx, v)
	if errors.Is(err, gateway.ErrSuperseded) {
		return nil
	}
	return err
}

// Back — навигация браузера назад/вперёд: вкладка берётся из адреса.
func (c *Controller) Back(ctx context.Context, rawURL string) error {
	v, ok := ViewFromURL(rawURL)
	if !ok {
		v = DefaultView
	}
	return c.SwitchView(ctx, string(v), false)
}

// LoadView (пере)загружает содержимое вкладки. Устаревший ответ даёт gateway.ErrSuperseded.
func (c *Controller) LoadView(ctx context.Context, v View) error {
	if c.isDemo() {
		c.renderDemo(v)
		return nil
	}
	c.mu.Lock()
	guarded := v != ViewLanding && c.guardedLocked()
	c.mu.Unlock()
	if guarded {
		return ErrSignInRequired
	}
	switch v {
	case ViewFeed:
		return load(ctx, c, v, c.fetchFeed, nil)
	case ViewShowcase:
		return load(ctx, c, v, c.fetchShowcase, nil)
	case ViewMarket:
		return load(ctx, c, v, c.fetchMarket, nil)
	case ViewGroups:
		return load(ctx, c, v, c.fetchGroups, nil)
	case ViewMessages:
		return load(ctx, c, v, c.chats.GetChats, func(chats []model.ChatSummary) {
			c.state.Chats = chats
			c.publish(Event{Type: EventChatList, Payload: chats})
		})
	case ViewFriends:
		return load(ctx, c, v, c.fetchFriends, nil)
	case ViewStories:
		return load(ctx, c, v, c.stories.GetActiveStories, nil)
	case ViewSearch:
		c.mu.Lock()
		q := c.state.Search
		c.mu.Unlock()
		if q.Query == "" {
			return nil
		}
		return c.runSearch(ctx, q)
	case ViewTools:
		return load(ctx, c, v, c.fetchTools, nil)
	case ViewProfile:
		return load(ctx, c, v, c.fetchProfile, nil)
	case ViewNotifications:
		return load(ctx, c, v, c.fetchNotifications, c.applyNotifications)
	}
	return nil
}

// load — общий путь заполнения вкладки: захват поколения, вызов с таймаутом,
// проверка поколения перед записью в состояние. apply вызывается под мьютексом.
func load[T any](ctx context.Context, c *Controller, v View, fetch func(context.Context) (T, error), apply func(T)) error {
	gen := c.beginLoad(v)
	items, err := gateway.WithTimeout(ctx, c.timeout, fetch)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[v] != gen {
		logger.Debugf("controller: drop stale %s response", v)
		return gateway.ErrSuperseded
	}
	cont := c.state.content(v)
	cont.Loading = false
	if err != nil {
		cont.Error = Present(err)
		if gateway.Classify(err) == gateway.KindConfig {
			c.state.Banner = "Service not configured: " + gateway.Hint(err)
		}
		c.publishViewLocked(v)
		return fmt.Errorf("controller.load %s: %w", v, err)
	}
	cont.Error = nil
	cont.Items = items
	if apply != nil {
		apply(items)
	}
	c.publishViewLocked(v)
	return nil
}

func (c *Controller) beginLoad(v View) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[v]++
	cont := c.state.content(v)
	cont.Loading = true
	cont.Error = nil
	c.publishViewLocked(v)
	return c.gens[v]
}

func (c *Controller) renderDemo(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cont := c.state.content(v)
	cont.Loading = false
	cont.Error = nil
	cont.Demo = true
	cont.Items = demoContent(v, c.now())
	if v == ViewMessages {
		c.state.Chats = demoChats()
	}
	c.publishViewLocked(v)
}

func (c *Controller) isDemo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Demo
}

func (c *Controller) guardedLocked() bool {
	return !c.state.Demo && c.auth != nil && c.state.UserID == ""
}

func (c *Controller) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.UserID
}

func (c *Controller) publish(ev Event) { c.sink.Publish(ev) }

func (c *Controller) publishViewLocked(v View) {
	cont := *c.state.content(v)
	c.publish(Event{Type: EventView, View: v, Payload: cont})
}

func (c *Controller) publishChatLocked() {
	p := c.state.Chat
	p.Messages = append([]model.Message(nil), p.Messages...)
	c.publish(Event{Type: EventChat, Payload: p})
}

func (c *Controller) publishStateLocked() {
	c.publish(Event{Type: EventState, Payload: c.state.clone()})
}

func (c *Controller) toast(level, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toastLocked(level, text)
}

func (c *Controller) toastLocked(level, text string) {
	c.publish(Event{Type: EventToast, Payload: Toast{Level: level, Text: text}})
}

func (c *Controller) lastView(ctx context.Context) View {
	if c.kv == nil {
		return DefaultView
	}
	raw, err := c.kv.Get(ctx, storage.LastViewKey(c.userID()))
	if err != nil {
		logger.Warnf("controller: read last view: %v", err)
		return DefaultView
	}
	if v, ok := ParseView(raw); ok && v != ViewLanding {
		return v
	}
	return DefaultView
}

func (c *Controller) saveLastView(ctx context.Context, uid string, v View) {
	if c.kv == nil || v == ViewLanding {
		return
	}
	if err := c.kv.Set(ctx, storage.LastViewKey(uid), string(v), 0); err != nil {
		logger.Warnf("controller: save last view: %v", err)
	}
}

// startUser — пользователь вошёл: фоновые каналы открываются один раз.
func (c *Controller) startUser(uid string) {
	c.mu.Lock()
	c.state.UserID = uid
	c.state.closeModal(ModalAccount)
	c.publishStateLocked()
	c.mu.Unlock()
	if c.conv != nil {
		if err := c.conv.StartBackground(uid); err != nil {
			logger.Warnf("controller: background channels: %v", err)
		}
	}
}

func (c *Controller) onAuthChange(authed bool) {
	ctx := context.Background()
	if !authed {
		c.signedOut(ctx)
		return
	}
	u := c.auth.User()
	if u == nil {
		return
	}
	c.startUser(u.ID)
	c.mu.Lock()
	next := c.state.PostLoginRedirect
	c.state.PostLoginRedirect = ""
	cur := c.state.View
	c.mu.Unlock()
	if next == "" && cur == ViewLanding {
		next = c.lastView(ctx)
	}
	if next != "" {
		if err := c.SwitchView(ctx, string(next), true); err != nil {
			logger.Warnf("controller: redirect after sign in: %v", err)
		}
	}
}

// signedOut закрывает беседу и фоновые каналы ровно один раз и сбрасывает
// пользовательские данные.
func (c *Controller) signedOut(ctx context.Context) {
	if c.conv != nil {
		c.conv.Close()
		c.conv.StopBackground()
	}
	c.mu.Lock()
	if c.state.UserID == "" {
		c.mu.Unlock()
		return
	}
	for v := range c.state.Content {
		c.gens[v]++
	}
	demo, banner, url := c.state.Demo, c.state.Banner, c.state.URL
	c.state = newAppState()
	c.state.Demo, c.state.Banner, c.state.URL = demo, banner, url
	c.notices = make(map[string]model.Notification)
	c.publishStateLocked()
	c.mu.Unlock()
	if err := c.SwitchView(ctx, string(ViewLanding), true); err != nil {
		logger.Warnf("controller: switch to landing: %v", err)
	}
}
