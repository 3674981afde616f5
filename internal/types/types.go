package types

import (
	"time"
)

type User struct {
	Id        int       `json:"id"`
	Username  string    `json:"username"`
	UserCode  string    `json:"user_code,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Group struct {
	Id              int        `json:"id"`
	Name            string     `json:"name"`
	GroupCode       string     `json:"group_code"`
	OwnerId         int        `json:"owner_id"`
	ApprovalRequire bool       `json:"approval_require"`
	MaximumMembers  *int       `json:"maximum_members,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
}

type JoinRequest struct {
	UserId    int       `json:"user_id"`
	GroupId   int       `json:"group_id"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Attachment struct {
	Id             int    `json:"id"`
	Url            string `json:"url"`
	AttachmentType string `json:"attachment_type"`
}

type Message struct {
	Id          int          `json:"id"`
	MessageUuid string       `json:"message_uuid"`
	UserId      int          `json:"user_id"`
	GroupId     int          `json:"group_id"`
	Content     string       `json:"content"`
	MessageType string       `json:"message_type"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
