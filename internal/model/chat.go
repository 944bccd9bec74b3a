package model

import "time"

// ConversationKind различает личные и групповые беседы.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Chat — личная беседа двух пользователей. Создаётся при первом контакте и не удаляется.
type Chat struct {
	ID            string     `json:"id"`
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// OtherUserID возвращает собеседника относительно userID.
func (c *Chat) OtherUserID(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// ChatSummary — строка списка бесед (представление chats_with_meta или ручная сборка).
type ChatSummary struct {
	ID            string     `json:"id"`
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	OtherUser     ProfileRef `json:"other_user"`
	// Preview — текст последнего сообщения для списка ("You: Hello").
	Preview string `json:"preview,omitempty"`
}

// Attachment — файл, приложенный к сообщению.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message — сообщение личной или групповой беседы. После отправки не изменяется.
// Флаг IsRead имеет смысл только для личных бесед.
type Message struct {
	ID          string           `json:"id"`
	Kind        ConversationKind `json:"kind"`
	ChatID      string           `json:"chat_id,omitempty"`
	GroupID     string           `json:"group_id,omitempty"`
	SenderID    string           `json:"sender_id"`
	Content     string           `json:"content"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
	Sender      *ProfileRef      `json:"sender,omitempty"`
}

// ConversationID возвращает id беседы, которой принадлежит сообщение.
func (m *Message) ConversationID() string {
	if m.Kind == KindGroup {
		return m.GroupID
	}
	return m.ChatID
}

// Report — жалоба на пользователя, пост, комментарий или сообщение.
type Report struct {
	ID           string    `json:"id"`
	ReporterID   string    `json:"reporter_id"`
	ReportedType string    `json:"reported_type"`
	ReportedID   string    `json:"reported_id"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
