package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
	"github.com/agrilovers/internal/session"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkRecorder) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) toasts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if t, ok := ev.Payload.(Toast); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

func (s *sinkRecorder) navigations() []Navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Navigation
	for _, ev := range s.events {
		if n, ok := ev.Payload.(Navigation); ok {
			out = append(out, n)
		}
	}
	return out
}

// fakeChats: история и отправка в памяти, подписки — настоящий менеджер.
type fakeChats struct {
	*manager.MessagingManager
	broker *realtime.Broker

	mu      sync.Mutex
	uid     string
	byID    map[string]model.Message
	sendErr error
	reads   []string
	seq     int
}

func (f *fakeChats) GetMessages(context.Context, string, int) ([]model.Message, error) {
	return []model.Message{}, nil
}

func (f *fakeChats) GetMessage(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &m, nil
}

func (f *fakeChats) GetChats(context.Context) ([]model.ChatSummary, error) {
	return []model.ChatSummary{
		{ID: "C123", OtherUser: model.ProfileRef{FirstName: "Agnes"}, UnreadCount: 2},
	}, nil
}

func (f *fakeChats) GetOrCreateChat(_ context.Context, other string) (*model.Chat, error) {
	return &model.Chat{ID: "C-" + other, User1ID: f.uid, User2ID: other}, nil
}

// SendMessage публикует эхо в брокер до возврата, как это делает сервер.
func (f *fakeChats) SendMessage(_ context.Context, chatID, content string, _ []model.Upload) (*model.Message, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	f.seq++
	m := model.Message{
		ID: fmt.Sprintf("m%d", f.seq), Kind: model.KindDirect, ChatID: chatID,
		SenderID: f.uid, Content: content, CreatedAt: time.Now(),
	}
	f.byID[m.ID] = m
	f.mu.Unlock()
	f.broker.Dispatch([]byte(fmt.Sprintf(
		`{"table":"messages","type":"INSERT","record":{"id":%q,"chat_id":%q,"sender_id":%q}}`, m.ID, chatID, f.uid)))
	return &m, nil
}

func (f *fakeChats) MarkAsRead(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, chatID)
	return nil
}

type fakePosts struct {
	*manager.PostsManager

	mu      sync.Mutex
	posts   []model.Post
	gate    chan struct{}
	entered chan struct{}
	calls   int
	likes   int
	unlikes int
}

func (f *fakePosts) GetPosts(ctx context.Context, _ manager.PostFilter) ([]model.Post, error) {
	f.mu.Lock()
	f.calls++
	gate, entered, posts := f.gate, f.entered, append([]model.Post(nil), f.posts...)
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return posts, nil
}

func (f *fakePosts) GetMarketPosts(context.Context, model.MarketType, manager.PostFilter) ([]model.Post, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return []model.Post{{ID: "mk1", IsMarketPost: true}}, nil
}

func (f *fakePosts) GetPost(_ context.Context, id string) (*model.Post, error) {
	return &model.Post{ID: id, Content: "fresh"}, nil
}

func (f *fakePosts) LikePost(context.Context, string) (model.LikeState, error) {
	f.mu.Lock()
	f.likes++
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return model.LikeState{PostID: "p1", Liked: true}, nil
}

func (f *fakePosts) UnlikePost(context.Context, string) error {
	f.mu.Lock()
	f.unlikes++
	f.mu.Unlock()
	return nil
}

type fakeMarket struct{ *manager.MarketManager }

func (fakeMarket) GetPriceReports(context.Context, manager.PriceFilter) ([]model.PriceReport, error) {
	return []model.PriceReport{{ID: "pr1", CropOrLivestock: "Maize"}}, nil
}

type fakeAuth struct {
	mu       sync.Mutex
	user     *auth.User
	onChange func(bool)
}

func (a *fakeAuth) Init(context.Context) error { return nil }
func (a *fakeAuth) LoadUserProfile(context.Context, string) (*model.Profile, error) {
	return nil, nil
}
func (a *fakeAuth) CreateProfile(_ context.Context, p model.Profile) (*model.Profile, error) {
	return &p, nil
}
func (a *fakeAuth) SignInWithPassword(context.Context, string, string) (*auth.Result, error) {
	return &auth.Result{}, nil
}
func (a *fakeAuth) SignUpWithPassword(context.Context, string, string) (*auth.Result, error) {
	return &auth.Result{}, nil
}
func (a *fakeAuth) SendOTP(context.Context, auth.Channel, string) error { return nil }
func (a *fakeAuth) VerifyOTP(context.Context, auth.Channel, string, string) (*auth.Result, error) {
	return &auth.Result{}, nil
}
func (a *fakeAuth) SignOut(context.Context) error {
	a.set(nil)
	return nil
}
func (a *fakeAuth) User() *auth.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}
func (a *fakeAuth) Profile() *model.Profile { return nil }
func (a *fakeAuth) IsAuthenticated() bool   { return a.User() != nil }
func (a *fakeAuth) OnAuthChange(fn func(bool)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

func (a *fakeAuth) set(u *auth.User) {
	a.mu.Lock()
	a.user = u
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn(u != nil)
	}
}

type harness struct {
	broker *realtime.Broker
	chats  *fakeChats
	posts  *fakePosts
	auth   *fakeAuth
	sink   *sinkRecorder
	c      *Controller
}

func newHarness(t *testing.T, uid string, demo bool) *harness {
	t.Helper()
	b := realtime.NewBroker(nil)
	gw := gateway.New(gateway.Options{Realtime: b})
	h := &harness{
		broker: b,
		chats: &fakeChats{
			MessagingManager: manager.NewMessagingManager(gw), broker: b,
			uid: uid, byID: map[string]model.Message{},
		},
		posts: &fakePosts{PostsManager: manager.NewPostsManager(gw)},
		auth:  &fakeAuth{},
		sink:  &sinkRecorder{},
	}
	if uid != "" {
		h.auth.user = &auth.User{ID: uid}
	}
	groups := manager.NewGroupsManager(gw)
	notifs := manager.NewNotificationsManager(gw)
	h.c = New(Options{
		Posts:         h.posts,
		Market:        fakeMarket{manager.NewMarketManager(gw)},
		Groups:        groups,
		Chats:         h.chats,
		Friends:       manager.NewFriendsManager(gw),
		Stories:       manager.NewStoriesManager(gw, nil),
		Search:        manager.NewSearchManager(gw),
		Tools:         manager.NewToolsManager("", nil),
		Notifications: notifs,
		Auth:          h.auth,
		Conversations: func(r session.Renderer) Conversations {
			return session.New(session.Options{
				Direct:        h.chats,
				Groups:        groups,
				Posts:         h.posts,
				Notifications: notifs,
				Channels:      gw,
				Renderer:      r,
				Timeout:       time.Second,
			})
		},
		Sink:    h.sink,
		Demo:    demo,
		Timeout: time.Second,
	})
	t.Cleanup(h.c.Shutdown)
	return h
}

func TestSendMessageRendersSingleBubble(t *testing.T) {
	h := newHarness(t, "u1", false)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=messages"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := h.c.OpenChat(ctx, "C123", "Agnes"); err != nil {
		t.Fatalf("open: %v", err)
	}
	msg, err := h.c.SendChatMessage(ctx, "Hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	st := h.c.Snapshot()
	if len(st.Chat.Messages) != 1 || st.Chat.Messages[0].ID != msg.ID {
		t.Fatalf("bubbles = %+v", st.Chat.Messages)
	}
	if st.Chat.Compose != "" || st.Chat.Sending {
		t.Errorf("compose = %q sending = %v", st.Chat.Compose, st.Chat.Sending)
	}
	if st.Chat.State != session.Open.String() || st.Chat.Title != "Agnes" {
		t.Errorf("panel = %+v", st.Chat)
	}
	if len(st.Chats) != 1 || st.Chats[0].Preview != "You: Hello" {
		t.Errorf("chat list = %+v", st.Chats)
	}
	if st.Chats[0].UnreadCount != 0 {
		t.Errorf("unread after open = %d", st.Chats[0].UnreadCount)
	}
	for _, text := range h.sink.toasts() {
		if text == "New message received! 💬" {
			t.Errorf("own message produced a toast")
		}
	}
}

func TestSendFailureKeepsCompose(t *testing.T) {
	h := newHarness(t, "u1", false)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=messages"); err != nil {
		t.Fatal(err)
	}
	if err := h.c.OpenChat(ctx, "C123", "Agnes"); err != nil {
		t.Fatal(err)
	}
	h.chats.sendErr = errors.New("connection reset by peer")

	if _, err := h.c.SendChatMessage(ctx, "Hello", nil); err == nil {
		t.Fatal("expected error")
	}
	st := h.c.Snapshot()
	if st.Chat.Compose != "Hello" {
		t.Errorf("compose = %q", st.Chat.Compose)
	}
	if len(st.Chat.Messages) != 0 || st.Chat.Error == nil {
		t.Errorf("panel = %+v", st.Chat)
	}
	toasts := h.sink.toasts()
	if len(toasts) == 0 || toasts[len(toasts)-1] != "Failed to send message" {
		t.Errorf("toasts = %v", toasts)
	}
}

func TestIncomingMessageElsewhereShowsToast(t *testing.T) {
	h := newHarness(t, "u1", false)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=feed"); err != nil {
		t.Fatal(err)
	}
	h.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"x1","chat_id":"C9","sender_id":"u2"}}`))
	h.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"x2","chat_id":"C9","sender_id":"u1"}}`))

	n := 0
	for _, text := range h.sink.toasts() {
		if text == "New message received! 💬" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("toasts = %v", h.sink.toasts())
	}
}

func TestDoubleLikeEndsUnliked(t *testing.T) {
	h := newHarness(t, "u1", false)
	h.posts.posts = []model.Post{{ID: "p1", LikesCount: 3}}
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=feed"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.LikePost(ctx, "p1"); err != nil {
				t.Errorf("like: %v", err)
			}
		}()
	}
	wg.Wait()

	posts := h.c.Snapshot().Content[ViewFeed].Items.([]model.Post)
	if posts[0].UserLiked || posts[0].LikesCount != 3 {
		t.Errorf("post = %+v", posts[0])
	}
	if h.posts.likes != 1 || h.posts.unlikes != 1 {
		t.Errorf("likes = %d unlikes = %d", h.posts.likes, h.posts.unlikes)
	}
}

func TestDemoModeServesFixedContent(t *testing.T) {
	h := newHarness(t, "", true)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/"); err != nil {
		t.Fatal(err)
	}
	st := h.c.Snapshot()
	if st.View != ViewFeed || st.Banner != DemoBanner {
		t.Fatalf("view = %s banner = %q", st.View, st.Banner)
	}
	feed := st.Content[ViewFeed]
	posts, ok := feed.Items.([]model.Post)
	if !ok || len(posts) != 2 || !feed.Demo || feed.Error != nil {
		t.Fatalf("feed = %+v", feed)
	}
	if err := h.c.SwitchView(ctx, "market", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.c.SendChatMessage(ctx, "hi", nil); !errors.Is(err, gateway.ErrNotConfigured) {
		t.Errorf("send in demo: %v", err)
	}
	if h.posts.calls != 0 {
		t.Errorf("backend calls in demo mode: %d", h.posts.calls)
	}
}

func TestStaleFeedResponseIsDropped(t *testing.T) {
	h := newHarness(t, "u1", false)
	h.posts.posts = []model.Post{{ID: "late"}}
	h.posts.gate = make(chan struct{})
	h.posts.entered = make(chan struct{}, 1)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=landing"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- h.c.SwitchView(ctx, "feed", true) }()
	<-h.posts.entered

	if err := h.c.SwitchView(ctx, "market", true); err != nil {
		t.Fatalf("market: %v", err)
	}
	close(h.posts.gate)
	if err := <-done; err != nil {
		t.Fatalf("feed switch: %v", err)
	}

	st := h.c.Snapshot()
	if st.View != ViewMarket {
		t.Fatalf("view = %s", st.View)
	}
	if feed := st.Content[ViewFeed]; feed.Items != nil || feed.Loading {
		t.Errorf("feed = %+v", feed)
	}
	mc, ok := st.Content[ViewMarket].Items.(MarketContent)
	if !ok || len(mc.Listings) != 1 || len(mc.Prices) != 1 {
		t.Errorf("market = %+v", st.Content[ViewMarket])
	}
}

func TestGuardedViewRedirectsAfterSignIn(t *testing.T) {
	h := newHarness(t, "", false)
	ctx := context.Background()
	if err := h.c.Init(ctx, "/?view=market"); err != nil {
		t.Fatal(err)
	}
	st := h.c.Snapshot()
	if st.View != ViewLanding || st.PostLoginRedirect != ViewMarket {
		t.Fatalf("view = %s redirect = %s", st.View, st.PostLoginRedirect)
	}
	if _, err := h.c.LikePost(ctx, "p1"); !errors.Is(err, ErrSignInRequired) {
		t.Fatalf("like without sign in: %v", err)
	}
	if st := h.c.Snapshot(); len(st.Modals) != 1 || st.Modals[0] != ModalAccount {
		t.Errorf("modals = %v", st.Modals)
	}

	h.chats.uid = "u1"
	h.auth.set(&auth.User{ID: "u1"})
	st = h.c.Snapshot()
	if st.View != ViewMarket || st.PostLoginRedirect != "" || st.UserID != "u1" {
		t.Errorf("after sign in: view = %s redirect = %q user = %q", st.View, st.PostLoginRedirect, st.UserID)
	}
	if len(st.Modals) != 0 {
		t.Errorf("modals after sign in = %v", st.Modals)
	}
	navs := h.sink.navigations()
	if last := navs[len(navs)-1]; last.Replace || last.URL != "/?view=market" {
		t.Errorf("last navigation = %+v", last)
	}

	if err := h.c.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if st := h.c.Snapshot(); st.View != ViewLanding || st.UserID != "" {
		t.Errorf("after sign out: view = %s user = %q", st.View, st.UserID)
	}
}

func TestUnknownViewShowsNotFound(t *testing.T) {
	h := newHarness(t, "u1", false)
	err := h.c.SwitchView(context.Background(), "weather", true)
	if !errors.Is(err, ErrUnknownView) {
		t.Fatalf("err = %v", err)
	}
	if toasts := h.sink.toasts(); len(toasts) != 1 || toasts[0] != "Page not found" {
		t.Errorf("toasts = %v", toasts)
	}
}

func TestNewNotificationDeduplicates(t *testing.T) {
	h := newHarness(t, "u1", false)
	n := model.Notification{ID: "n1"}
	h.c.NewNotification(n)
	h.c.NewNotification(n)
	if got := h.c.Snapshot().UnreadNotices; got != 1 {
		t.Errorf("unread = %d", got)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	unlock()
	unlock = k.lock("a")
	unlock()
	if len(k.m) != 0 {
		t.Errorf("entries = %d", len(k.m))
	}
}
