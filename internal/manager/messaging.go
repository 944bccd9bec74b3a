package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// MessageHistoryLimit — сколько последних сообщений читается при открытии беседы.
const MessageHistoryLimit = 50

// ChatSubscription — живая подписка на одну личную беседу.
// Освобождается только через MessagingManager.UnsubscribeFromMessages.
type ChatSubscription struct {
	chatID string
	ch     *realtime.Channel
}

func (s *ChatSubscription) ChatID() string { return s.chatID }
func (s *ChatSubscription) Active() bool   { return s != nil && s.ch.Active() }

// MessagingManager — личные беседы, сообщения, блокировки и жалобы.
// Держит карту открытых подписок: не больше одной на беседу.
type MessagingManager struct {
	gw *gateway.Gateway

	mu   sync.Mutex
	subs map[string]*ChatSubscription
}

func NewMessagingManager(gw *gateway.Gateway) *MessagingManager {
	return &MessagingManager{gw: gw, subs: make(map[string]*ChatSubscription)}
}

const chatCols = `id::text, user1_id::text, user2_id::text, last_message_at, created_at`

func scanChat(row pgx.Row) (*model.Chat, error) {
	c := &model.Chat{}
	if err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.LastMessageAt, &c.CreatedAt); err != nil {
		return nil, noRows(err)
	}
	return c, nil
}

// GetOrCreateChat возвращает беседу с другим пользователем, создавая её при первом контакте.
func (m *MessagingManager) GetOrCreateChat(ctx context.Context, otherUserID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("messaging.GetOrCreateChat", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if otherUserID == "" || otherUserID == uid {
		return nil, &gateway.ValidationError{Field: "user", Reason: "cannot start a chat with yourself"}
	}
	c, err := m.findChat(ctx, uid, otherUserID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		return nil, fmt.Errorf("messagingMgr.GetOrCreateChat find: %w", err)
	}
	c, err = scanChat(m.gw.DB.QueryRow(ctx,
		`INSERT INTO chats (user1_id, user2_id) VALUES ($1, $2) RETURNING `+chatCols, uid, otherUserID))
	if err != nil {
		// собеседник мог создать беседу одновременно
		if gateway.IsUniqueViolation(err) {
			return m.findChat(ctx, uid, otherUserID)
		}
		return nil, fmt.Errorf("messagingMgr.GetOrCreateChat create: %w", err)
	}
	return c, nil
}

func (m *MessagingManager) findChat(ctx context.Context, a, b string) (*model.Chat, error) {
	return scanChat(m.gw.DB.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats
		 WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
		 LIMIT 1`, a, b))
}

func (m *MessagingManager) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("messaging.GetChat", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	c, err := scanChat(m.gw.DB.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, chatID))
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.GetChat: %w", err)
	}
	return c, nil
}

// summaryFrom выбирает собеседника и строит превью "You: ..." для своих сообщений.
func summaryFrom(uid string, s *model.ChatSummary, u1, u2 model.ProfileRef, last, lastSender string) {
	u1.ID, u2.ID = s.User1ID, s.User2ID
	if s.User1ID == uid {
		s.OtherUser = u2
	} else {
		s.OtherUser = u1
	}
	s.Preview = PreviewText(last, lastSender == uid)
}

// PreviewText — строка превью в списке бесед.
func PreviewText(content string, own bool) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if own {
		return "You: " + content
	}
	return content
}

// GetChats читает chats_with_meta; без представления считает непрочитанные вручную.
func (m *MessagingManager) GetChats(ctx context.Context) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("messaging.GetChats", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT id::text, user1_id::text, user2_id::text, last_message_at,
		        COALESCE(user1_first_name,''), COALESCE(user1_last_name,''), COALESCE(user1_avatar_url,''),
		        COALESCE(user1_province,''), COALESCE(user1_farmer_type,''),
		        COALESCE(user2_first_name,''), COALESCE(user2_last_name,''), COALESCE(user2_avatar_url,''),
		        COALESCE(user2_province,''), COALESCE(user2_farmer_type,''),
		        unread_count, COALESCE(last_message,''), COALESCE(last_sender_id::text,'')
		 FROM chats_with_meta
		 WHERE user1_id = $1 OR user2_id = $1
		 ORDER BY last_message_at DESC NULLS LAST`, uid)
	if err != nil {
		if gateway.IsUndefinedTable(err) {
			logger.Warnf("messaging: chats_with_meta missing, using manual aggregation")
			return m.getChatsLegacy(ctx, uid)
		}
		return nil, fmt.Errorf("messagingMgr.GetChats: %w", err)
	}
	return collect(rows, "messagingMgr.GetChats", func(r pgx.Rows) (model.ChatSummary, error) {
		var s model.ChatSummary
		var u1, u2 model.ProfileRef
		var last, lastSender string
		err := r.Scan(&s.ID, &s.User1ID, &s.User2ID, &s.LastMessageAt,
			&u1.FirstName, &u1.LastName, &u1.AvatarURL, &u1.Province, &u1.FarmerType,
			&u2.FirstName, &u2.LastName, &u2.AvatarURL, &u2.Province, &u2.FarmerType,
			&s.UnreadCount, &last, &lastSender)
		summaryFrom(uid, &s, u1, u2, last, lastSender)
		return s, err
	})
}

type lastMessage struct {
	content  string
	senderID string
}

func (m *MessagingManager) getChatsLegacy(ctx context.Context, uid string) ([]model.ChatSummary, error) {
	rows, err := m.gw.DB.Query(ctx,
		`SELECT c.id::text, c.user1_id::text, c.user2_id::text, c.last_message_at,
		        COALESCE(u1.first_name,''), COALESCE(u1.last_name,''), COALESCE(u1.avatar_url,''),
		        COALESCE(u1.province,''), COALESCE(u1.farmer_type,''),
		        COALESCE(u2.first_name,''), COALESCE(u2.last_name,''), COALESCE(u2.avatar_url,''),
		        COALESCE(u2.province,''), COALESCE(u2.farmer_type,'')
		 FROM chats c
		 JOIN profiles u1 ON u1.id = c.user1_id
		 JOIN profiles u2 ON u2.id = c.user2_id
		 WHERE c.user1_id = $1 OR c.user2_id = $1
		 ORDER BY c.last_message_at DESC NULLS LAST`, uid)
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.getChatsLegacy: %w", err)
	}
	type pair struct{ u1, u2 model.ProfileRef }
	var refs []pair
	chats, err := collect(rows, "messagingMgr.getChatsLegacy", func(r pgx.Rows) (model.ChatSummary, error) {
		var s model.ChatSummary
		var p pair
		err := r.Scan(&s.ID, &s.User1ID, &s.User2ID, &s.LastMessageAt,
			&p.u1.FirstName, &p.u1.LastName, &p.u1.AvatarURL, &p.u1.Province, &p.u1.FarmerType,
			&p.u2.FirstName, &p.u2.LastName, &p.u2.AvatarURL, &p.u2.Province, &p.u2.FarmerType)
		refs = append(refs, p)
		return s, err
	})
	if err != nil || len(chats) == 0 {
		return chats, err
	}
	ids := make([]string, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
	}

	var unread map[string]int
	last := make(map[string]lastMessage)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		unread, err = countBy(gctx, m.gw.DB,
			`SELECT chat_id::text, COUNT(*)::int FROM messages
			 WHERE chat_id = ANY($1::uuid[]) AND is_read = FALSE AND sender_id <> $2::uuid
			 GROUP BY chat_id`, ids, uid)
		return err
	})
	g.Go(func() error {
		rows, err := m.gw.DB.Query(gctx,
			`SELECT DISTINCT ON (chat_id) chat_id::text, content, sender_id::text
			 FROM messages WHERE chat_id = ANY($1::uuid[])
			 ORDER BY chat_id, created_at DESC`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var lm lastMessage
			if err := rows.Scan(&id, &lm.content, &lm.senderID); err != nil {
				return err
			}
			last[id] = lm
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("messagingMgr.getChatsLegacy counts: %w", err)
	}
	for i := range chats {
		chats[i].UnreadCount = unread[chats[i].ID]
		lm := last[chats[i].ID]
		summaryFrom(uid, &chats[i], refs[i].u1, refs[i].u2, lm.content, lm.senderID)
	}
	return chats, nil
}

const messageCols = `m.id::text, m.chat_id::text, m.sender_id::text, m.content, m.is_read, m.created_at, `

func scanMessage(rows pgx.Rows) (model.Message, error) {
	msg := model.Message{Kind: model.KindDirect, Sender: &model.ProfileRef{}}
	err := rows.Scan(dest([]any{&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.IsRead, &msg.CreatedAt},
		refDest(msg.Sender))...)
	return msg, err
}

// GetMessages — последние сообщения беседы в порядке возрастания времени.
func (m *MessagingManager) GetMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("messaging.GetMessages", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = MessageHistoryLimit
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+messageCols+refCols("pr")+`
		 FROM messages m
		 JOIN profiles pr ON pr.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.GetMessages: %w", err)
	}
	msgs, err := collect(rows, "messagingMgr.GetMessages", scanMessage)
	if err != nil {
		return nil, err
	}
	// сервер отдаёт по убыванию, показываем по возрастанию
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := m.attachAll(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage перечитывает сообщение по id вместе с отправителем и вложениями.
func (m *MessagingManager) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("messaging.GetMessage", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+messageCols+refCols("pr")+`
		 FROM messages m
		 JOIN profiles pr ON pr.id = m.sender_id
		 WHERE m.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.GetMessage: %w", err)
	}
	msgs, err := collect(rows, "messagingMgr.GetMessage", scanMessage)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, gateway.ErrNotFound
	}
	if err := m.attachAll(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (m *MessagingManager) attachAll(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT message_id::text, file_url, file_name, content_type, file_size
		 FROM message_attachments WHERE message_id = ANY($1::uuid[])`, ids)
	if err != nil {
		return fmt.Errorf("messagingMgr.attachments: %w", err)
	}
	defer rows.Close()
	byMsg := make(map[string][]model.Attachment)
	for rows.Next() {
		var id string
		var a model.Attachment
		if err := rows.Scan(&id, &a.URL, &a.Name, &a.ContentType, &a.Size); err != nil {
			return fmt.Errorf("messagingMgr.attachments scan: %w", err)
		}
		byMsg[id] = append(byMsg[id], a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("messagingMgr.attachments rows: %w", err)
	}
	for i := range msgs {
		msgs[i].Attachments = byMsg[msgs[i].ID]
	}
	return nil
}

// SendMessage проверяет блокировку в обе стороны, загружает вложения и вставляет сообщение.
func (m *MessagingManager) SendMessage(ctx context.Context, chatID, content string, files []model.Upload) (*model.Message, error) {
	defer logger.DeferLogDuration("messaging.SendMessage", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" && len(files) == 0 {
		return nil, &gateway.ValidationError{Field: "content", Reason: "message is empty"}
	}
	if err := gateway.ValidateUploads(files, m.gw.Limits); err != nil {
		return nil, err
	}
	chat, err := m.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	blocked, err := m.IsBlocked(ctx, chat.OtherUserID(uid))
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, gateway.ErrBlocked
	}
	atts, err := m.uploadAttachments(ctx, uid, files)
	if err != nil {
		return nil, err
	}

	// сообщение и вложения вставляются одним оператором: NOTIFY уходит после
	// коммита, и перечитывание по id видит уже полную запись
	urls, names, types, sizes := attachmentColumns(atts)
	msg := &model.Message{Kind: model.KindDirect, ChatID: chatID, SenderID: uid, Content: content, Attachments: atts}
	err = m.gw.DB.QueryRow(ctx,
		`WITH m AS (
			INSERT INTO messages (chat_id, sender_id, content) VALUES ($1, $2, $3)
			RETURNING id, created_at
		), a AS (
			INSERT INTO message_attachments (message_id, file_url, file_name, content_type, file_size)
			SELECT m.id, f.url, f.name, f.ctype, f.size
			FROM m, unnest($4::text[], $5::text[], $6::text[], $7::bigint[]) AS f(url, name, ctype, size)
		)
		SELECT id::text, created_at FROM m`,
		chatID, uid, content, urls, names, types, sizes).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.SendMessage: %w", err)
	}
	full, err := m.GetMessage(ctx, msg.ID)
	if err != nil {
		logger.Warnf("messaging: reload sent message %s: %v", msg.ID, err)
		return msg, nil
	}
	return full, nil
}

func attachmentColumns(atts []model.Attachment) (urls, names, types []string, sizes []int64) {
	urls = make([]string, 0, len(atts))
	names = make([]string, 0, len(atts))
	types = make([]string, 0, len(atts))
	sizes = make([]int64, 0, len(atts))
	for _, a := range atts {
		urls = append(urls, a.URL)
		names = append(names, a.Name)
		types = append(types, a.ContentType)
		sizes = append(sizes, a.Size)
	}
	return urls, names, types, sizes
}

func (m *MessagingManager) uploadAttachments(ctx context.Context, uid string, files []model.Upload) ([]model.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if m.gw.Storage == nil {
		return nil, gateway.ErrNotConfigured
	}
	atts := make([]model.Attachment, 0, len(files))
	for _, f := range files {
		u, err := m.gw.Storage.Upload(ctx, gateway.BucketChatAttachments, gateway.ObjectPath(uid, f.Name), f.ContentType, f.Data)
		if err != nil {
			return nil, fmt.Errorf("messagingMgr.upload %s: %w", f.Name, err)
		}
		atts = append(atts, model.Attachment{URL: u, Name: f.Name, ContentType: f.ContentType, Size: f.Size()})
	}
	return atts, nil
}

// MarkAsRead отмечает прочитанными сообщения собеседника.
func (m *MessagingManager) MarkAsRead(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("messaging.MarkAsRead", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`UPDATE messages SET is_read = TRUE
		 WHERE chat_id = $1 AND sender_id <> $2 AND is_read = FALSE`, chatID, uid); err != nil {
		return fmt.Errorf("messagingMgr.MarkAsRead: %w", err)
	}
	return nil
}

// SubscribeToMessages подписывается на новые сообщения беседы. Обработчик получает только id:
// полную запись нужно перечитать через GetMessage. Прежняя подписка на ту же беседу снимается.
func (m *MessagingManager) SubscribeToMessages(chatID string, onMessage func(messageID string)) (*ChatSubscription, error) {
	f := realtime.Filter{Table: "messages", Event: realtime.EventInsert, Column: "chat_id", Value: chatID}
	ch, err := m.gw.Subscribe("chat:"+chatID, f, func(c realtime.Change) {
		if id := c.Field("id"); id != "" {
			onMessage(id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("messagingMgr.SubscribeToMessages: %w", err)
	}
	sub := &ChatSubscription{chatID: chatID, ch: ch}
	m.mu.Lock()
	prev := m.subs[chatID]
	m.subs[chatID] = sub
	m.mu.Unlock()
	if prev != nil {
		m.gw.RemoveChannel(prev.ch)
	}
	return sub, nil
}

// UnsubscribeFromMessages идемпотентен: nil или уже снятая подписка — no-op.
func (m *MessagingManager) UnsubscribeFromMessages(sub *ChatSubscription) {
	if sub == nil {
		return
	}
	m.mu.Lock()
	if m.subs[sub.chatID] == sub {
		delete(m.subs, sub.chatID)
	}
	m.mu.Unlock()
	m.gw.RemoveChannel(sub.ch)
}

// OpenSubscriptions — число живых подписок на личные беседы.
func (m *MessagingManager) OpenSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Active() {
			n++
		}
	}
	return n
}

// SubscribeToChatActivity — фоновый сигнал о новых сообщениях. Видимость бесед
// ограничивает RLS; обработчик сам отсеивает собственные сообщения по senderID.
func (m *MessagingManager) SubscribeToChatActivity(onActivity func(chatID, senderID string)) (*realtime.Channel, error) {
	return m.gw.Subscribe("chats:activity", realtime.Filter{Table: "messages", Event: realtime.EventInsert},
		func(c realtime.Change) {
			chatID := c.Field("chat_id")
			if chatID == "" {
				return
			}
			onActivity(chatID, c.Field("sender_id"))
		})
}

// BlockUser: повторная блокировка (23505) считается успехом.
func (m *MessagingManager) BlockUser(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("messaging.BlockUser", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	_, err = m.gw.DB.Exec(ctx, `INSERT INTO blocked_users (blocker_id, blocked_id) VALUES ($1, $2)`, uid, userID)
	if err != nil && !gateway.IsUniqueViolation(err) {
		return fmt.Errorf("messagingMgr.BlockUser: %w", err)
	}
	return nil
}

func (m *MessagingManager) UnblockUser(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("messaging.UnblockUser", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`DELETE FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2`, uid, userID); err != nil {
		return fmt.Errorf("messagingMgr.UnblockUser: %w", err)
	}
	return nil
}

// IsBlocked — есть ли блокировка в любую сторону.
func (m *MessagingManager) IsBlocked(ctx context.Context, otherUserID string) (bool, error) {
	uid, err := m.gw.RequireUser()
	if err != nil {
		return false, err
	}
	var blocked bool
	err = m.gw.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_users
		 WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1))`,
		uid, otherUserID).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("messagingMgr.IsBlocked: %w", err)
	}
	return blocked, nil
}

// Report — жалоба на пользователя, пост, комментарий или сообщение.
func (m *MessagingManager) Report(ctx context.Context, reportedType, reportedID, reason string) error {
	defer logger.DeferLogDuration("messaging.Report", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	switch reportedType {
	case "user", "post", "comment", "message":
	default:
		return &gateway.ValidationError{Field: "reported_type", Reason: "unknown type"}
	}
	if err := required("reason", reason); err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`INSERT INTO reports (reporter_id, reported_type, reported_id, reason) VALUES ($1, $2, $3, $4)`,
		uid, reportedType, reportedID, strings.TrimSpace(reason)); err != nil {
		return fmt.Errorf("messagingMgr.Report: %w", err)
	}
	return nil
}
