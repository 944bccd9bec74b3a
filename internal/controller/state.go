package controller

import (
	"net/url"
	"strings"

	"github.com/agrilovers/internal/model"
)

// View — вкладка приложения; значение совпадает с параметром ?view= в адресе.
type View string

const (
	ViewLanding       View = "landing"
	ViewFeed          View = "feed"
	ViewShowcase      View = "showcase"
	ViewMarket        View = "market"
	ViewGroups        View = "groups"
	ViewMessages      View = "messages"
	ViewFriends       View = "friends"
	ViewStories       View = "stories"
	ViewSearch        View = "search"
	ViewTools         View = "tools"
	ViewProfile       View = "profile"
	ViewNotifications View = "notifications"
)

// DefaultView открывается, когда в адресе нет ?view= и последняя вкладка неизвестна.
const DefaultView = ViewFeed

var knownViews = map[View]struct{}{
	ViewLanding: {}, ViewFeed: {}, ViewShowcase: {}, ViewMarket: {}, ViewGroups: {},
	ViewMessages: {}, ViewFriends: {}, ViewStories: {}, ViewSearch: {}, ViewTools: {},
	ViewProfile: {}, ViewNotifications: {},
}

// ParseView нормализует имя вкладки (регистр, пробелы).
func ParseView(s string) (View, bool) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownViews[v]
	return v, ok
}

// ViewFromURL извлекает вкладку из параметра view. ok=false — параметра нет или
// вкладка неизвестна.
func ViewFromURL(raw string) (View, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	name := u.Query().Get("view")
	if name == "" {
		return "", false
	}
	return ParseView(name)
}

// URLForView выставляет ?view= в base, сохраняя остальные параметры.
func URLForView(base string, v View) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("view", string(v))
	u.RawQuery = q.Encode()
	return u.String()
}

type FeedFilters struct {
	Province   string `json:"province,omitempty"`
	CropTag    string `json:"crop_tag,omitempty"`
	PhotosOnly bool   `json:"photos_only,omitempty"`
}

type MarketFilters struct {
	Type     model.MarketType `json:"type,omitempty"`
	Crop     string           `json:"crop,omitempty"`
	Province string           `json:"province,omitempty"`
}

type GroupFilters struct {
	GroupType string `json:"group_type,omitempty"`
	CropTag   string `json:"crop_tag,omitempty"`
	Province  string `json:"province,omitempty"`
	Query     string `json:"query,omitempty"`
}

type SearchQuery struct {
	Query   string              `json:"query"`
	Type    model.SearchType    `json:"type"`
	Filters model.SearchFilters `json:"filters"`
}

// Modal — открытое модальное окно.
type Modal string

const (
	ModalAccount    Modal = "account"
	ModalChat       Modal = "chat"
	ModalCreatePost Modal = "create_post"
	ModalStory      Modal = "story"
)

// ViewContent — содержимое одной вкладки. Items типизирован по вкладке:
// []model.Post для feed/showcase, MarketContent, []model.Group и т.д.
type ViewContent struct {
	Items   any         `json:"items,omitempty"`
	Loading bool        `json:"loading"`
	Error   *ErrorState `json:"error,omitempty"`
	Demo    bool        `json:"demo,omitempty"`
}

type MarketContent struct {
	Listings []model.Post        `json:"listings"`
	Prices   []model.PriceReport `json:"prices"`
}

type FriendsContent struct {
	Friends []model.Friend        `json:"friends"`
	Pending []model.FriendRequest `json:"pending"`
}

type ToolsContent struct {
	Weather *model.Weather `json:"weather,omitempty"`
}

// ChatPanel — открытая беседа в модальном окне чата.
type ChatPanel struct {
	Conversation string                 `json:"conversation"`
	Kind         model.ConversationKind `json:"kind,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Title        string                 `json:"title,omitempty"`
	State        string                 `json:"state"`
	Messages     []model.Message        `json:"messages"`
	Error        *ErrorState            `json:"error,omitempty"`
	// Compose очищается только после подтверждённой отправки.
	Compose string `json:"compose"`
	Sending bool   `json:"sending"`
}

// AppState — всё состояние интерфейса. Меняется только контроллером под его мьютексом.
type AppState struct {
	View              View    `json:"view"`
	URL               string  `json:"url"`
	PostLoginRedirect View    `json:"post_login_redirect,omitempty"`
	UserID            string  `json:"user_id,omitempty"`
	Demo              bool    `json:"demo"`
	Banner            string  `json:"banner,omitempty"`
	Modals            []Modal `json:"modals"`
	UnreadNotices     int     `json:"unread_notifications"`

	Feed   FeedFilters   `json:"feed_filters"`
	Market MarketFilters `json:"market_filters"`
	Groups GroupFilters  `json:"group_filters"`
	Search SearchQuery   `json:"search"`

	Content map[View]*ViewContent `json:"content"`
	Chats   []model.ChatSummary   `json:"chats"`
	Chat    ChatPanel             `json:"chat"`
}

func newAppState() AppState {
	return AppState{
		View:    ViewLanding,
		URL:     URLForView("/", ViewLanding),
		Modals:  []Modal{},
		Content: make(map[View]*ViewContent),
		Chats:   []model.ChatSummary{},
		Chat:    ChatPanel{Conversation: "none", State: "closed", Messages: []model.Message{}},
	}
}

// clone — копия для отдачи наружу; срезы и карта копируются поверхностно.
func (s *AppState) clone() AppState {
	out := *s
	out.Modals = append([]Modal(nil), s.Modals...)
	out.Chats = append([]model.ChatSummary(nil), s.Chats...)
	out.Chat.Messages = append([]model.Message(nil), s.Chat.Messages...)
	out.Content = make(map[View]*ViewContent, len(s.Content))
	for v, c := range s.Content {
		cc := *c
		out.Content[v] = &cc
	}
	return out
}

func (s *AppState) content(v View) *ViewContent {
	c, ok := s.Content[v]
	if !ok {
		c = &ViewContent{}
		s.Content[v] = c
	}
	return c
}

func (s *AppState) openModal(m Modal) {
	for _, x := range s.Modals {
		if x == m {
			return
		}
	}
	s.Modals = append(s.Modals, m)
}

func (s *AppState) closeModal(m Modal) {
	out := s.Modals[:0]
	for _, x := range s.Modals {
		if x != m {
			out = append(out, x)
		}
	}
	s.Modals = out
}
