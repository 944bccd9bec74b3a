package session

import "github.com/agrilovers/internal/model"

// MessageList — отображаемая история беседы. Добавление по id:
// сообщение, уже присутствующее в списке, второй раз не добавляется.
type MessageList struct {
	items []model.Message
	seen  map[string]struct{}
}

func NewMessageList() *MessageList {
	return &MessageList{seen: make(map[string]struct{})}
}

// Reset заменяет содержимое историей, пропуская повторы.
func (l *MessageList) Reset(msgs []model.Message) {
	l.items = l.items[:0]
	l.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		l.Add(m)
	}
}

// Add возвращает false, если сообщение с таким id уже есть.
func (l *MessageList) Add(m model.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, ok := l.seen[m.ID]; ok {
		return false
	}
	l.seen[m.ID] = struct{}{}
	l.items = append(l.items, m)
	return true
}

func (l *MessageList) Has(id string) bool {
	_, ok := l.seen[id]
	return ok
}

func (l *MessageList) Len() int { return len(l.items) }

// Items возвращает копию списка.
func (l *MessageList) Items() []model.Message {
	out := make([]model.Message, len(l.items))
	copy(out, l.items)
	return out
}
