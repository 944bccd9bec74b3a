package model

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotifyLike             NotificationType = "like"
	NotifyComment          NotificationType = "comment"
	NotifyMessage          NotificationType = "message"
	NotifyFriendRequest    NotificationType = "friend_request"
	NotifyGroupJoinRequest NotificationType = "group_join_request"
	NotifyGroupJoinResult  NotificationType = "group_join_decision"
)

// Notification — событие для получателя. Строки создаются триггерами вне клиента.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	ActorID     string           `json:"actor_id,omitempty"`
	Type        NotificationType `json:"type"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	IsRead      bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
	Actor       *ProfileRef      `json:"actor,omitempty"`
}
