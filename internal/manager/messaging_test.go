package manager

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/model"
)

func messageRow(id, chat, sender, content string, at time.Time) []any {
	return []any{id, chat, sender, content, false, at, sender, "Mary", "Banda", "", "Lusaka", "", "smallholder"}
}

func chatRow(id, u1, u2 string) []any {
	return []any{id, u1, u2, nil, t0}
}

func TestGetMessagesAscending(t *testing.T) {
	db := newFakeDB().
		on("FROM messages m", result{rows: [][]any{
			messageRow("m3", "c1", "u2", "third", t0.Add(2*time.Minute)),
			messageRow("m2", "c1", "u1", "second", t0.Add(time.Minute)),
			messageRow("m1", "c1", "u2", "first", t0),
		}}).
		on("FROM message_attachments", result{rows: [][]any{{"m2", "https://cdn/x.png", "x.png", "image/png", int64(10)}}})
	gw, _ := newTestGateway(db, "u1")
	msgs, err := NewMessagingManager(gw).GetMessages(context.Background(), "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("order = %v, %v, %v", msgs[0].ID, msgs[1].ID, msgs[2].ID)
		}
	}
	if len(msgs[1].Attachments) != 1 || msgs[1].Attachments[0].Name != "x.png" {
		t.Errorf("attachments = %+v", msgs[1].Attachments)
	}
	if msgs[0].Sender == nil || msgs[0].Sender.FirstName != "Mary" {
		t.Errorf("sender = %+v", msgs[0].Sender)
	}
	if got := db.calls[0].args[1]; got != MessageHistoryLimit {
		t.Errorf("limit = %v", got)
	}
}

func TestSendMessageBlocked(t *testing.T) {
	db := newFakeDB().
		on("FROM chats WHERE id", result{rows: [][]any{chatRow("c1", "u1", "u2")}}).
		on("FROM blocked_users", result{rows: [][]any{{true}}})
	gw, _ := newTestGateway(db, "u1")
	_, err := NewMessagingManager(gw).SendMessage(context.Background(), "c1", "Hello", nil)
	if !errors.Is(err, gateway.ErrBlocked) {
		t.Fatalf("err = %v", err)
	}
	if db.called("INSERT INTO messages") != 0 {
		t.Error("blocked message must not be inserted")
	}
	if gateway.Classify(err) != gateway.KindAuthorization {
		t.Errorf("kind = %v", gateway.Classify(err))
	}
}

func TestSendMessageReloadsJoined(t *testing.T) {
	db := newFakeDB().
		on("FROM chats WHERE id", result{rows: [][]any{chatRow("C123", "u1", "u2")}}).
		on("FROM blocked_users", result{rows: [][]any{{false}}}).
		on("INSERT INTO messages", result{rows: [][]any{{"m1", t0}}}).
		on("FROM messages m", result{rows: [][]any{messageRow("m1", "C123", "u1", "Hello", t0)}}).
		on("FROM message_attachments", result{})
	gw, _ := newTestGateway(db, "u1")
	msg, err := NewMessagingManager(gw).SendMessage(context.Background(), "C123", "  Hello ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m1" || msg.Content != "Hello" || msg.Sender == nil {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestSendMessageInsertsAttachmentsWithMessage(t *testing.T) {
	db := newFakeDB().
		on("FROM chats WHERE id", result{rows: [][]any{chatRow("C123", "u1", "u2")}}).
		on("FROM blocked_users", result{rows: [][]any{{false}}}).
		on("INSERT INTO messages", result{rows: [][]any{{"m1", t0}}}).
		on("FROM messages m", result{rows: [][]any{messageRow("m1", "C123", "u1", "Harvest photo", t0)}}).
		on("FROM message_attachments", result{rows: [][]any{{"m1", "https://cdn/field.png", "field.png", "image/png", int64(2)}}})
	gw, _ := newTestGateway(db, "u1")
	gw.Storage = &uploadRecorder{}
	files := []model.Upload{{Name: "field.png", ContentType: "image/png", Data: []byte("ok")}}
	msg, err := NewMessagingManager(gw).SendMessage(context.Background(), "C123", "Harvest photo", files)
	if err != nil {
		t.Fatal(err)
	}
	if db.called("INSERT INTO messages") != 1 || db.called("INSERT INTO message_attachments") != 1 {
		t.Fatalf("inserts: messages=%d attachments=%d",
			db.called("INSERT INTO messages"), db.called("INSERT INTO message_attachments"))
	}
	for _, c := range db.calls {
		if strings.Contains(c.sql, "INSERT INTO message_attachments") && !strings.Contains(c.sql, "INSERT INTO messages") {
			t.Error("attachments inserted by a separate statement")
		}
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Name != "field.png" {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestSendMessageFailedAttachmentInsertLeavesNoMessage(t *testing.T) {
	db := newFakeDB().
		on("FROM chats WHERE id", result{rows: [][]any{chatRow("C123", "u1", "u2")}}).
		on("FROM blocked_users", result{rows: [][]any{{false}}}).
		on("INSERT INTO messages", result{err: pgErr("23502")})
	gw, _ := newTestGateway(db, "u1")
	gw.Storage = &uploadRecorder{}
	files := []model.Upload{{Name: "field.png", ContentType: "image/png", Data: []byte("ok")}}
	if _, err := NewMessagingManager(gw).SendMessage(context.Background(), "C123", "Harvest photo", files); err == nil {
		t.Fatal("expected error")
	}
	// один оператор: при ошибке откатывается и само сообщение, повторная отправка не даст дубля
	if n := db.called("INSERT INTO"); n != 1 {
		t.Errorf("insert statements = %d", n)
	}
	if db.called("FROM messages m") != 0 {
		t.Error("failed send must not reload a message")
	}
}

func TestSendMessageEmpty(t *testing.T) {
	gw, _ := newTestGateway(newFakeDB(), "u1")
	_, err := NewMessagingManager(gw).SendMessage(context.Background(), "c1", "   ", nil)
	if gateway.Classify(err) != gateway.KindValidation {
		t.Fatalf("err = %v", err)
	}
}

func TestGetChatsPreviewAndOtherUser(t *testing.T) {
	row := []any{"c1", "u1", "u2", &t0,
		"Me", "Self", "", "Lusaka", "",
		"John", "Phiri", "", "Eastern", "commercial",
		2, "Hello", "u1"}
	db := newFakeDB().on("FROM chats_with_meta", result{rows: [][]any{row}})
	gw, _ := newTestGateway(db, "u1")
	chats, err := NewMessagingManager(gw).GetChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c := chats[0]
	if c.OtherUser.ID != "u2" || c.OtherUser.FirstName != "John" {
		t.Errorf("other = %+v", c.OtherUser)
	}
	if c.Preview != "You: Hello" || c.UnreadCount != 2 {
		t.Errorf("summary = %+v", c)
	}
}

func TestGetChatsLegacyCountsUnread(t *testing.T) {
	db := newFakeDB().
		on("FROM chats_with_meta", result{err: pgErr("42P01")}).
		on("FROM chats c", result{rows: [][]any{{"c1", "u2", "u1", nil,
			"John", "Phiri", "", "Eastern", "", "Me", "Self", "", "Lusaka", ""}}}).
		on("COUNT(*)::int FROM messages", result{rows: [][]any{{"c1", 5}}}).
		on("DISTINCT ON (chat_id)", result{rows: [][]any{{"c1", "see you", "u2"}}})
	gw, _ := newTestGateway(db, "u1")
	chats, err := NewMessagingManager(gw).GetChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].UnreadCount != 5 || chats[0].Preview != "see you" || chats[0].OtherUser.ID != "u2" {
		t.Errorf("chat = %+v", chats[0])
	}
}

func TestGetOrCreateChatRace(t *testing.T) {
	db := newFakeDB().
		on("FROM chats\n", result{}, result{rows: [][]any{chatRow("c7", "u2", "u1")}}).
		on("INSERT INTO chats", result{err: pgErr("23505")})
	gw, _ := newTestGateway(db, "u1")
	c, err := NewMessagingManager(gw).GetOrCreateChat(context.Background(), "u2")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "c7" {
		t.Errorf("chat = %+v", c)
	}
}

func TestBlockUserDuplicateIsSuccess(t *testing.T) {
	db := newFakeDB().on("INSERT INTO blocked_users", result{err: pgErr("23505")})
	gw, _ := newTestGateway(db, "u1")
	if err := NewMessagingManager(gw).BlockUser(context.Background(), "u2"); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestMessageSubscriptionLifecycle(t *testing.T) {
	gw, b := newTestGateway(newFakeDB(), "u1")
	m := NewMessagingManager(gw)
	var got []string
	sub, err := m.SubscribeToMessages("c1", func(id string) { got = append(got, id) })
	if err != nil {
		t.Fatal(err)
	}
	b.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m1","chat_id":"c1"}}`))
	b.Dispatch([]byte(`{"table":"messages","type":"INSERT","record":{"id":"m2","chat_id":"c2"}}`))
	if len(got) != 1 || got[0] != "m1" {
		t.Fatalf("got %v", got)
	}

	// повторная подписка на ту же беседу снимает прежнюю
	sub2, err := m.SubscribeToMessages("c1", func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Active() || !sub2.Active() || b.ActiveCount() != 1 || m.OpenSubscriptions() != 1 {
		t.Fatalf("active: old=%v new=%v broker=%d", sub.Active(), sub2.Active(), b.ActiveCount())
	}

	m.UnsubscribeFromMessages(sub2)
	m.UnsubscribeFromMessages(sub2)
	m.UnsubscribeFromMessages(sub)
	m.UnsubscribeFromMessages(nil)
	if b.ActiveCount() != 0 || m.OpenSubscriptions() != 0 {
		t.Fatalf("leaked %d channels", b.ActiveCount())
	}
}

func TestPreviewText(t *testing.T) {
	if PreviewText("Hello", true) != "You: Hello" || PreviewText("Hi", false) != "Hi" || PreviewText(" ", true) != "" {
		t.Fatal("unexpected preview")
	}
}
