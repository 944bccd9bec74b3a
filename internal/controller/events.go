package controller

// EventType — тип UI-события для браузерной оболочки.
type EventType string

const (
	EventState        EventType = "state"
	EventNavigate     EventType = "navigate"
	EventView         EventType = "view"
	EventChat         EventType = "chat"
	EventChatMessage  EventType = "chat_message"
	EventChatList     EventType = "chat_list"
	EventPost         EventType = "post"
	EventNotification EventType = "notification"
	EventToast        EventType = "toast"
)

// Event — одно UI-событие. Payload сериализуется в JSON как есть.
type Event struct {
	Type    EventType `json:"type"`
	View    View      `json:"view,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// Sink принимает события. Publish вызывается под мьютексом контроллера,
// поэтому не должен блокироваться и не должен вызывать контроллер.
type Sink interface {
	Publish(ev Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

type Navigation struct {
	URL     string `json:"url"`
	Replace bool   `json:"replace"`
}

type Toast struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}
