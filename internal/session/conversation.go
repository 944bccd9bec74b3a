package session

import (
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
)

// Conversation — открытая беседа: None, Direct(id) или Group(id).
// Нулевое значение — None.
type Conversation struct {
	kind model.ConversationKind
	id   string
}

func None() Conversation { return Conversation{} }

func Direct(chatID string) Conversation {
	return Conversation{kind: model.KindDirect, id: chatID}
}

func Group(groupID string) Conversation {
	return Conversation{kind: model.KindGroup, id: groupID}
}

func (c Conversation) IsNone() bool                 { return c.kind == "" || c.id == "" }
func (c Conversation) ID() string                   { return c.id }
func (c Conversation) Kind() model.ConversationKind { return c.kind }

func (c Conversation) String() string {
	if c.IsNone() {
		return "none"
	}
	return string(c.kind) + ":" + c.id
}

// State — состояние слота беседы.
type State int

const (
	Closed State = iota
	Opening
	Open
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// handle — живая подписка открытой беседы. Каждый вариант хранит свой тип
// дескриптора и освобождает его только своей точкой выхода.
type handle interface {
	conversation() Conversation
	release()
}

type directHandle struct {
	sub   *manager.ChatSubscription
	chats DirectChats
}

func (h directHandle) conversation() Conversation { return Direct(h.sub.ChatID()) }
func (h directHandle) release()                   { h.chats.UnsubscribeFromMessages(h.sub) }

type groupHandle struct {
	sub    *manager.GroupChatSubscription
	groups GroupChats
}

func (h groupHandle) conversation() Conversation { return Group(h.sub.GroupID()) }
func (h groupHandle) release()                   { h.groups.UnsubscribeFromGroupMessages(h.sub) }
