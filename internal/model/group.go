package model

import "time"

type GroupType string

const (
	GroupTypeCrop        GroupType = "crop"
	GroupTypeRegional    GroupType = "regional"
	GroupTypeCooperative GroupType = "cooperative"
	GroupTypeGeneral     GroupType = "general"
)

type Group struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	GroupType    GroupType  `json:"group_type"`
	CropTag      string     `json:"crop_tag,omitempty"`
	Province     string     `json:"province,omitempty"`
	District     string     `json:"district,omitempty"`
	IsPublic     bool       `json:"is_public"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	MembersCount int        `json:"members_count"`
	UserRole     string     `json:"user_role,omitempty"`
	IsMember     bool       `json:"is_member"`
	Creator      ProfileRef `json:"creator"`
}

type NewGroup struct {
	Name        string
	Description string
	GroupType   GroupType
	CropTag     string
	Province    string
	District    string
	IsPublic    bool
}

type GroupMember struct {
	GroupID  string     `json:"group_id"`
	UserID   string     `json:"user_id"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
	User     ProfileRef `json:"user"`
}

// GroupDetails — группа с участниками и ролью текущего пользователя.
type GroupDetails struct {
	Group
	Members []GroupMember `json:"members"`
}

// Membership — группа глазами участника (список "мои группы").
type Membership struct {
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	Group    Group     `json:"group"`
}

type JoinRequestStatus string

const (
	JoinPending  JoinRequestStatus = "pending"
	JoinApproved JoinRequestStatus = "approved"
	JoinDeclined JoinRequestStatus = "declined"
)

// JoinRequest — заявка на вступление в закрытую группу.
type JoinRequest struct {
	ID          string            `json:"id"`
	GroupID     string            `json:"group_id"`
	UserID      string            `json:"user_id"`
	Status      JoinRequestStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	RespondedAt *time.Time        `json:"responded_at,omitempty"`
}
