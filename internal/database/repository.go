package database

import "github.com/google/uuid"

type GroupChatRepository interface {
	Ping() error
	CreateUser(params CreateUserParams) (User, error)
	GetUserById(id int) (User, error)
	GetUserByCode(userCode string) (User, error)
	CreateGroup(params CreateGroupParams) (Group, error)
	GetGroupById(id int) (Group, error)
	GetGroupByCode(groupCode string) (Group, error)
	RequestJoin(userId, groupId int, message *string) (JoinResult, error)
	ApproveJoinRequest(userId, groupId int) (Participant, error)
	RejectJoinRequest(userId, groupId int) error
	ListJoinRequests(groupId int) ([]WaitingListEntry, error)
	IsParticipant(userId, groupId int) bool
	ListParticipantGroups(userId int) ([]Group, error)
	InsertMessage(params InsertMessageParams) (Message, error)
	GetMessages(groupId, before, limit int) ([]Message, error)
	GetMessageByUuid(msgUuid uuid.UUID) (Message, error)
	GetMessagesByIds(ids []int) ([]Message, error)
	DeleteMessages(ids []int) error
	EditMessageContent(id int, content string) error
}
