package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// fakeDirect подменяет чтение истории, а подписки оставляет настоящему менеджеру.
type fakeDirect struct {
	*manager.MessagingManager

	mu         sync.Mutex
	history    map[string][]model.Message
	byID       map[string]model.Message
	gates      map[string]chan struct{}
	fail       map[string]error
	subscribed []string
	released   []string
}

func newFakeDirect(gw *gateway.Gateway) *fakeDirect {
	return &fakeDirect{
		MessagingManager: manager.NewMessagingManager(gw),
		history:          map[string][]model.Message{},
		byID:             map[string]model.Message{},
		gates:            map[string]chan struct{}{},
		fail:             map[string]error{},
	}
}

func (f *fakeDirect) GetMessages(ctx context.Context, chatID string, _ int) ([]model.Message, error) {
	f.mu.Lock()
	gate, err, msgs := f.gates[chatID], f.fail[chatID], f.history[chatID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return msgs, err
}

func (f *fakeDirect) GetMessage(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &m, nil
}

func (f *fakeDirect) SubscribeToMessages(chatID string, on func(string)) (*manager.ChatSubscription, error) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, chatID)
	f.mu.Unlock()
	return f.MessagingManager.SubscribeToMessages(chatID, on)
}

func (f *fakeDirect) UnsubscribeFromMessages(sub *manager.ChatSubscription) {
	if sub != nil {
		f.mu.Lock()
		f.released = append(f.released, sub.ChatID())
		f.mu.Unlock()
	}
	f.MessagingManager.UnsubscribeFromMessages(sub)
}

type fakeGroups struct {
	*manager.GroupsManager

	mu       sync.Mutex
	history  map[string][]model.Message
	released []string
}

func (f *fakeGroups) GetGroupMessages(_ context.Context, groupID string, _ int) ([]model.Message, error) {
	return f.history[groupID], nil
}

func (f *fakeGroups) GetGroupMessage(context.Context, string) (*model.Message, error) {
	return nil, gateway.ErrNotFound
}

func (f *fakeGroups) UnsubscribeFromGroupMessages(sub *manager.GroupChatSubscription) {
	if sub != nil {
		f.mu.Lock()
		f.released = append(f.released, sub.GroupID())
		f.mu.Unlock()
	}
	f.GroupsManager.UnsubscribeFromGroupMessages(sub)
}

type fakePosts struct {
	*manager.PostsManager
	fetched int
	// subDelay замедляет открытие канала постов; entered получает сигнал о его начале
	subDelay time.Duration
	entered  chan struct{}
}

func (f *fakePosts) SubscribeToPosts(on func(postID, authorID string)) (*realtime.Channel, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	time.Sleep(f.subDelay)
	return f.PostsManager.SubscribeToPosts(on)
}

func (f *fakePosts) GetPost(_ context.Context, id string) (*model.Post, error) {
	f.fetched++
	return &model.Post{ID: id, Content: "fresh maize"}, nil
}

type fakeNotifications struct {
	*manager.NotificationsManager
}

func (fakeNotifications) Get(_ context.Context, id string) (*model.Notification, error) {
	return &model.Notification{ID: id, Type: "post_like"}, nil
}

type recorder struct {
	mu            sync.Mutex
	histories     []string
	messages      []string
	activity      []string
	posts         []string
	notifications []string
}

func (r *recorder) RenderHistory(conv Conversation, msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, fmt.Sprintf("%s/%d", conv, len(msgs)))
}

func (r *recorder) RenderMessage(_ Conversation, m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m.ID)
}

func (r *recorder) ChatActivity(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, chatID)
}

func (r *recorder) NewPost(p model.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, p.ID)
}

func (r *recorder) NewNotification(n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n.ID)
}

type fixture struct {
	broker *realtime.Broker
	direct *fakeDirect
	groups *fakeGroups
	posts  *fakePosts
	rec    *recorder
	s      *Session
}

func newFixture(timeout time.Duration) *fixture {
	b := realtime.NewBroker(nil)
	gw := gateway.New(gateway.Options{Realtime: b})
	f := &fixture{
		broker: b,
		direct: newFakeDirect(gw),
		groups: &fakeGroups{GroupsManager: manager.NewGroupsManager(gw), history: map[string][]model.Message{}},
		posts:  &fakePosts{PostsManager: manager.NewPostsManager(gw)},
		rec:    &recorder{},
	}
	f.s = New(Options{
		Direct:        f.direct,
		Groups:        f.groups,
		Posts:         f.posts,
		Notifications: fakeNotifications{manager.NewNotificationsManager(gw)},
		Channels:      gw,
		Renderer:      f.rec,
		Timeout:       timeout,
	})
	return f
}

func (f *fixture) active() []string {
	names := f.broker.ActiveNames()
	sort.Strings(names)
	return names
}

func msg(id, chat string) model.Message {
	return model.Message{ID: id, Kind: model.KindDirect, ChatID: chat, SenderID: "u2", Content: "hi " + id}
}

func TestOpenSwitchKeepsOneHandle(t *testing.T) {
	f := newFixture(time.Second)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "A"} {
		if err := f.s.Open(ctx, Direct(id)); err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		if got := f.active(); len(got) != 1 || got[0] != "chat:"+id {
			t.Fatalf("after open %s active = %v", id, got)
		}
	}
	if f.s.Subscribed() != Direct("A") || f.s.State() != Open {
		t.Errorf("subscribed = %s state = %s", f.s.Subscribed(), f.s.State())
	}
	if fmt.Sprint(f.direct.released) != "[A B]" {
		t.Errorf("released = %v", f.direct.released)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(time.Second)
	f.s.Close()
	if err := f.s.Open(context.Background(), Direct("A")); err != nil {
		t.Fatal(err)
	}
	f.s.Close()
	f.s.Close()
	if len(f.active()) != 0 || f.s.State() != Closed || !f.s.Current().IsNone() {
		t.Fatalf("active = %v state = %s", f.active(), f.s.State())
	}
	if len(f.direct.released) != 1 {
		t.Errorf("released = %v", f.direct.released)
	}
}

func TestGroupThenDirectReleasesGroupHandle(t *testing.T) {
	f := newFixture(time.Second)
	ctx := context.Background()
	if err := f.s.Open(ctx, Group("G1")); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Open(ctx, Direct("D1")); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(f.groups.released) != "[G1]" {
		t.Errorf("group releases = %v", f.groups.released)
	}
	if len(f.direct.released) != 0 {
		t.Errorf("direct releases = %v", f.direct.released)
	}
	if got := f.active(); len(got) != 1 || got[0] != "chat:D1" {
		t.Errorf("active = %v", got)
	}
	if f.groups.OpenSubscriptions() != 0 || f.direct.OpenSubscriptions() != 1 {
		t.Errorf("manager maps: groups=%d direct=%d", f.groups.OpenSubscriptions(), f.direct.OpenSubscriptions())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSupersededOpenReleasesCapturedHandle(t *testing.T) {
	f := newFixture(5 * time.Second)
	ctx := context.Background()
	if err := f.s.Open(ctx, Direct("D1")); err != nil {
		t.Fatal(err)
	}
	gate := make(chan struct{})
	f.direct.gates["D2"] = gate

	done := make(chan error, 1)
	go func() { done <- f.s.Open(ctx, Direct("D2")) }()
	waitFor(t, func() bool { return f.s.Current() == Direct("D2") && f.s.State() == Opening })

	if err := f.s.Open(ctx, Direct("D3")); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; !errors.Is(err, gateway.ErrSuperseded) {
		t.Fatalf("superseded open = %v", err)
	}

	if got := f.active(); len(got) != 1 || got[0] != "chat:D3" {
		t.Fatalf("active = %v", got)
	}
	if fmt.Sprint(f.direct.subscribed) != "[D1 D3]" {
		t.Errorf("subscribed = %v", f.direct.subscribed)
	}
	if fmt.Sprint(f.direct.released) != "[D1]" {
		t.Errorf("released = %v", f.direct.released)
	}
	for _, h := range f.rec.histories {
		if h == "direct:D2/0" {
			t.Error("stale history rendered")
		}
	}
}

func TestFailedOpenIsRetryable(t *testing.T) {
	f := newFixture(time.Second)
	ctx := context.Background()
	if err := f.s.Open(ctx, Direct("A")); err != nil {
		t.Fatal(err)
	}
	f.direct.fail["B"] = errors.New("fetch failed")
	if err := f.s.Open(ctx, Direct("B")); err == nil {
		t.Fatal("expected error")
	}
	if f.s.State() != Closed || f.s.Current() != Direct("B") || f.s.Err() == nil {
		t.Fatalf("state = %s current = %s err = %v", f.s.State(), f.s.Current(), f.s.Err())
	}
	if len(f.active()) != 0 {
		t.Fatalf("leaked %v", f.active())
	}

	delete(f.direct.fail, "B")
	if err := f.s.Open(ctx, Direct("B")); err != nil {
		t.Fatal(err)
	}
	if f.s.State() != Open || f.s.Err() != nil {
		t.Errorf("retry state = %s", f.s.State())
	}
}

func TestOpenTimesOut(t *testing.T) {
	f := newFixture(20 * time.Millisecond)
	f.direct.gates["slow"] = make(chan struct{})
	err := f.s.Open(context.Background(), Direct("slow"))
	if !errors.Is(err, gateway.ErrTimeout) || gateway.Classify(err) != gateway.KindTransient {
		t.Fatalf("err = %v", err)
	}
	if len(f.active()) != 0 {
		t.Errorf("subscribed after timeout: %v", f.active())
	}
}

func TestDeliveryDeduplicatesByID(t *testing.T) {
	f := newFixture(time.Second)
	f.direct.history["C1"] = []model.Message{msg("m1", "C1")}
	f.direct.byID["m2"] = msg("m2", "C1")
	f.direct.byID["m3"] = msg("m3", "C1")
	if err := f.s.Open(context.Background(), Direct("C1")); err != nil {
		t.Fatal(err)
	}

	if !f.s.AddLocal(msg("m2", "C1")) {
		t.Fatal("local message not added")
	}
	f.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m2","chat_id":"C1"}}`))
	f.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m3","chat_id":"C1"}}`))
	if f.s.AddLocal(msg("m3", "C1")) {
		t.Error("echoed message added twice")
	}
	if f.s.AddLocal(msg("m9", "other")) {
		t.Error("message of another chat added")
	}

	if fmt.Sprint(f.rec.messages) != "[m2 m3]" {
		t.Errorf("rendered = %v", f.rec.messages)
	}
	if n := len(f.s.Messages()); n != 3 {
		t.Errorf("list len = %d", n)
	}
}

func TestEventsForOldHandleDropped(t *testing.T) {
	f := newFixture(time.Second)
	f.direct.byID["m1"] = msg("m1", "A")
	if err := f.s.Open(context.Background(), Direct("A")); err != nil {
		t.Fatal(err)
	}
	f.s.mu.Lock()
	gen := f.s.gen
	f.s.mu.Unlock()
	f.s.Close()
	f.s.deliver(Direct("A"), gen, "m1")
	if len(f.rec.messages) != 0 {
		t.Errorf("rendered after close: %v", f.rec.messages)
	}
}

func TestBackgroundChannels(t *testing.T) {
	f := newFixture(time.Second)
	if err := f.s.StartBackground("u1"); err != nil {
		t.Fatal(err)
	}
	if err := f.s.StartBackground("u1"); err != nil {
		t.Fatal(err)
	}
	if len(f.active()) != 3 {
		t.Fatalf("active = %v", f.active())
	}

	// смена беседы фоновые каналы не трогает
	if err := f.s.Open(context.Background(), Direct("C1")); err != nil {
		t.Fatal(err)
	}
	f.s.Close()
	if len(f.active()) != 3 {
		t.Fatalf("active after conversation = %v", f.active())
	}

	f.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m1","chat_id":"C7","sender_id":"u2"}}`))
	f.broker.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m2","chat_id":"C7","sender_id":"u1"}}`))
	if fmt.Sprint(f.rec.activity) != "[C7]" {
		t.Errorf("activity = %v", f.rec.activity)
	}

	f.s.MarkPostSeen("p-own")
	for _, p := range []string{
		`{"table":"posts","type":"INSERT","record":{"id":"p1","author_id":"u2"}}`,
		`{"table":"posts","type":"INSERT","record":{"id":"p1","author_id":"u2"}}`,
		`{"table":"posts","type":"INSERT","record":{"id":"p2","author_id":"u1"}}`,
		`{"table":"posts","type":"INSERT","record":{"id":"p-own","author_id":"u3"}}`,
	} {
		f.broker.Dispatch([]byte(p))
	}
	if fmt.Sprint(f.rec.posts) != "[p1]" || f.posts.fetched != 1 {
		t.Errorf("posts = %v fetched = %d", f.rec.posts, f.posts.fetched)
	}

	f.broker.Dispatch([]byte(`{"table":"notifications","type":"INSERT","record":{"id":"n1","recipient_id":"u1","actor_id":"u2"}}`))
	f.broker.Dispatch([]byte(`{"table":"notifications","type":"INSERT","record":{"id":"n2","recipient_id":"u1","actor_id":"u1"}}`))
	if fmt.Sprint(f.rec.notifications) != "[n1]" {
		t.Errorf("notifications = %v", f.rec.notifications)
	}

	f.s.StopBackground()
	f.s.StopBackground()
	if len(f.active()) != 0 || f.s.BackgroundActive() {
		t.Fatalf("active after stop = %v", f.active())
	}
}

func TestConcurrentStartOpensChannelsOnce(t *testing.T) {
	f := newFixture(time.Second)
	f.posts.subDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.s.StartBackground("u1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if len(f.active()) != 3 {
		t.Fatalf("active = %v", f.active())
	}
	f.s.StopBackground()
	if len(f.active()) != 0 {
		t.Fatalf("channels left after sign-out: %v", f.active())
	}
}

func TestStopDuringStartLeavesNothingOpen(t *testing.T) {
	f := newFixture(time.Second)
	f.posts.subDelay = 50 * time.Millisecond
	f.posts.entered = make(chan struct{}, 1)

	started := make(chan error, 1)
	go func() { started <- f.s.StartBackground("u1") }()
	<-f.posts.entered
	f.s.StopBackground()
	if err := <-started; err != nil {
		t.Fatal(err)
	}
	if len(f.active()) != 0 || f.s.BackgroundActive() {
		t.Fatalf("active after sign-out = %v", f.active())
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	f := newFixture(time.Second)
	if err := f.s.StartBackground("u1"); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Open(context.Background(), Group("G1")); err != nil {
		t.Fatal(err)
	}
	f.s.Shutdown()
	if len(f.active()) != 0 {
		t.Fatalf("active = %v", f.active())
	}
}

func TestRecentSetExpires(t *testing.T) {
	r := newRecentSet(time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	if !r.add("p1") || r.add("p1") {
		t.Fatal("second add within ttl must report seen")
	}
	now = now.Add(2 * time.Minute)
	if !r.add("p1") {
		t.Error("expired id must be accepted again")
	}
}

func TestMessageListKeepsOrder(t *testing.T) {
	l := NewMessageList()
	l.Reset([]model.Message{msg("a", "c"), msg("b", "c"), msg("a", "c")})
	if l.Len() != 2 || l.Add(msg("b", "c")) || !l.Add(msg("c", "c")) || l.Add(model.Message{}) {
		t.Fatalf("list = %+v", l.Items())
	}
	items := l.Items()
	if items[0].ID != "a" || items[2].ID != "c" {
		t.Errorf("order = %v %v %v", items[0].ID, items[1].ID, items[2].ID)
	}
}
