package model

import "time"

// FriendStatus — отношение текущего пользователя к другому.
type FriendStatus string

const (
	FriendNone        FriendStatus = "none"
	FriendSelf        FriendStatus = "self"
	FriendFriends     FriendStatus = "friends"
	FriendOutgoing    FriendStatus = "outgoing"
	FriendIncoming    FriendStatus = "incoming"
	FriendUnavailable FriendStatus = "unavailable"
)

type FriendStatusResult struct {
	Status    FriendStatus `json:"status"`
	RequestID string       `json:"request_id,omitempty"`
}

type FriendRequest struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	ReceiverID  string     `json:"receiver_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	Requester   ProfileRef `json:"requester,omitempty"`
	Receiver    ProfileRef `json:"receiver,omitempty"`
}

// Friend — профиль друга; дружба хранится двумя симметричными строками.
type Friend struct {
	Profile
	FriendshipID string `json:"friendship_id"`
}

// Story — фото-обновление на 24 часа.
type Story struct {
	ID               string     `json:"id"`
	AuthorID         string     `json:"author_id"`
	ImageURL         string     `json:"image_url"`
	Caption          string     `json:"caption,omitempty"`
	LocationProvince string     `json:"location_province,omitempty"`
	LocationDistrict string     `json:"location_district,omitempty"`
	CropTags         []string   `json:"crop_tags,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Author           ProfileRef `json:"author"`
}

// StoryGroup — истории одного автора; свои истории всегда идут первыми.
type StoryGroup struct {
	User      ProfileRef `json:"user"`
	Stories   []Story    `json:"stories"`
	HasUnseen bool       `json:"has_unseen"`
}

// StoryDraft — черновик истории в локальном хранилище (не система записи).
type StoryDraft struct {
	Caption   string    `json:"caption"`
	ImageData []byte    `json:"image_data,omitempty"`
	ImageName string    `json:"image_name,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}
