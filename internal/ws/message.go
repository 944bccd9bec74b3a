package ws

import (
	"encoding/json"

	"github.com/agrilovers/internal/controller"
)

// IntentType — действие, которое вкладка браузера передаёт контроллеру.
type IntentType string

const (
	IntentSwitchView    IntentType = "switch_view"
	IntentBack          IntentType = "back"
	IntentReload        IntentType = "reload"
	IntentOpenChat      IntentType = "open_chat"
	IntentOpenGroupChat IntentType = "open_group_chat"
	IntentStartChat     IntentType = "start_chat"
	IntentCloseChat     IntentType = "close_chat"
	IntentSendMessage   IntentType = "send_message"
	IntentLike          IntentType = "like"
	IntentFeedFilters   IntentType = "feed_filters"
	IntentMarketFilters IntentType = "market_filters"
	IntentGroupFilters  IntentType = "group_filters"
	IntentSearch        IntentType = "search"
	IntentOpenModal     IntentType = "open_modal"
	IntentCloseModal    IntentType = "close_modal"
	IntentReadNotice    IntentType = "read_notification"
	IntentReadAll       IntentType = "read_all_notifications"
)

// IncomingMessage — то, что присылает вкладка.
type IncomingMessage struct {
	Type IntentType `json:"type"`
	// RequestID возвращается в ack/error, чтобы вкладка сопоставила ответ.
	RequestID string `json:"request_id,omitempty"`

	View  string `json:"view,omitempty"`
	URL   string `json:"url,omitempty"`
	Push  bool   `json:"push,omitempty"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Modal string `json:"modal,omitempty"`

	// Filters — фильтры вкладки или поисковый запрос, в зависимости от Type.
	Filters json.RawMessage `json:"filters,omitempty"`
}

// OutgoingType повторяет controller.EventType плюс служебные типы.
type OutgoingType string

const (
	OutgoingAck   OutgoingType = "ack"
	OutgoingError OutgoingType = "error"
)

// OutgoingMessage — то, что сервер отправляет вкладке.
type OutgoingMessage struct {
	Type      OutgoingType    `json:"type"`
	View      controller.View `json:"view,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   any             `json:"payload,omitempty"`
}

func fromEvent(ev controller.Event) OutgoingMessage {
	return OutgoingMessage{Type: OutgoingType(ev.Type), View: ev.View, Payload: ev.Payload}
}

// ErrorPayload — ошибка действия в виде, пригодном для показа.
type ErrorPayload struct {
	Message string                 `json:"message"`
	State   *controller.ErrorState `json:"state,omitempty"`
}
