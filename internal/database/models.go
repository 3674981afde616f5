package database

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id        int
	Username  string
	UserCode  string
	CreatedAt time.Time
}

type Group struct {
	Id              int
	Name            string
	GroupCode       string
	OwnerId         int
	ApprovalRequire bool
	MaximumMembers  *int
	CreatedAt       time.Time
	ExpiredAt       *time.Time
}

// Expired reports whether the group is past its expiry at the given instant.
func (g Group) Expired(now time.Time) bool {
	return g.ExpiredAt != nil && now.After(*g.ExpiredAt)
}

type WaitingListEntry struct {
	Id        int
	UserId    int
	GroupId   int
	Message   *string
	CreatedAt time.Time
}

type Participant struct {
	Id      int
	UserId  int
	GroupId int
}

type Message struct {
	Id          int
	MessageUuid uuid.UUID
	Content     *string
	MessageType MessageType
	CreatedAt   time.Time
	UserId      int
	GroupId     int
	Attachments []Attachment
}

type Attachment struct {
	Id             int
	Url            string
	AttachmentType AttachmentType
	MessageId      int
}

type CreateUserParams struct {
	Username string
	UserCode string
}

type CreateGroupParams struct {
	Name            string
	GroupCode       string
	OwnerId         int
	ApprovalRequire bool
	MaximumMembers  *int
	ExpiredAt       *time.Time
}

type InsertMessageParams struct {
	MessageUuid uuid.UUID
	UserId      int
	GroupId     int
	Content     *string
	MessageType MessageType
	Attachments []NewAttachment
}

type NewAttachment struct {
	Url            string
	AttachmentType AttachmentType
}

// JoinResult holds the outcome of a join request: a Participant for
// open-join groups, a WaitingListEntry for approval-gated ones.
type JoinResult struct {
	Participant *Participant
	WaitingList *WaitingListEntry
}
