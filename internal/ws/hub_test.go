package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/model"
)

type fakeCtrl struct {
	Controller // не вызываемые методы паникуют

	mu       sync.Mutex
	switched []string
	sent     []string
}

func (f *fakeCtrl) Snapshot() controller.AppState {
	return controller.AppState{View: controller.ViewFeed}
}

func (f *fakeCtrl) SwitchView(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, name)
	return nil
}

func (f *fakeCtrl) SendChatMessage(_ context.Context, text string, _ []model.Upload) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil, gateway.ErrTimeout
}

type fakePush struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (p *fakePush) Notify(_ context.Context, userID, title, _ string, _ map[string]string) {
	p.mu.Lock()
	p.calls = append(p.calls, userID+":"+title)
	p.mu.Unlock()
	close(p.done)
}

func startHub(t *testing.T, ctrl Controller) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(4, 16, nil)
	hub.Bind(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn)
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-hub.done
		srv.Close()
	})
	return hub, conn
}

func readMsg(t *testing.T, conn *websocket.Conn) OutgoingMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out struct {
		OutgoingMessage
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	out.OutgoingMessage.Payload = out.Payload
	return out.OutgoingMessage
}

func TestNewTabReceivesStateThenAck(t *testing.T) {
	ctrl := &fakeCtrl{}
	_, conn := startHub(t, ctrl)

	if first := readMsg(t, conn); first.Type != OutgoingType(controller.EventState) {
		t.Fatalf("first message = %+v", first)
	}
	if err := conn.WriteJSON(IncomingMessage{Type: IntentSwitchView, View: "market", Push: true, RequestID: "r1"}); err != nil {
		t.Fatal(err)
	}
	ack := readMsg(t, conn)
	if ack.Type != OutgoingAck || ack.RequestID != "r1" {
		t.Fatalf("ack = %+v", ack)
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.switched) != 1 || ctrl.switched[0] != "market" {
		t.Errorf("switched = %v", ctrl.switched)
	}
}

func TestFailedIntentRepliesWithErrorState(t *testing.T) {
	_, conn := startHub(t, &fakeCtrl{})
	readMsg(t, conn)
	if err := conn.WriteJSON(IncomingMessage{Type: IntentSendMessage, Text: "Hello", RequestID: "r2"}); err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, conn)
	if msg.Type != OutgoingError || msg.RequestID != "r2" {
		t.Fatalf("reply = %+v", msg)
	}
	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &p); err != nil {
		t.Fatal(err)
	}
	if p.State == nil || !p.State.Retryable {
		t.Errorf("payload = %+v", p)
	}
}

func TestPublishFansOutToTabs(t *testing.T) {
	hub, conn := startHub(t, &fakeCtrl{})
	readMsg(t, conn)
	deadline := time.Now().Add(time.Second)
	for hub.Connected() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(controller.Event{Type: controller.EventToast, Payload: controller.Toast{Level: "info", Text: "hi"}})
	if msg := readMsg(t, conn); msg.Type != OutgoingType(controller.EventToast) {
		t.Errorf("got %+v", msg)
	}
}

func TestPublishWithoutTabsFallsBackToPush(t *testing.T) {
	p := &fakePush{done: make(chan struct{})}
	hub := NewHub(1, 1, p)
	hub.Publish(controller.Event{Type: controller.EventToast, Payload: controller.Toast{Text: "ignored"}})
	hub.Publish(controller.Event{Type: controller.EventNotification, Payload: model.Notification{
		ID: "n1", RecipientID: "u1", Type: model.NotifyLike,
	}})
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("push not sent")
	}
	if len(p.calls) != 1 || p.calls[0] != "u1:New like" {
		t.Errorf("calls = %v", p.calls)
	}
}

func TestUnknownIntentIsValidationError(t *testing.T) {
	hub := NewHub(1, 1, nil)
	hub.Bind(&fakeCtrl{})
	err := hub.dispatch(context.Background(), IncomingMessage{Type: "dance"})
	if gateway.Classify(err) != gateway.KindValidation {
		t.Errorf("err = %v", err)
	}
}
