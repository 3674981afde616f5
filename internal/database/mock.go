package database

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockGroupChatRepository struct {
	mock.Mock
}

func (m *MockGroupChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGroupChatRepository) CreateUser(params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGroupChatRepository) GetUserById(id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGroupChatRepository) GetUserByCode(userCode string) (User, error) {
	args := m.Called(userCode)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGroupChatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	args := m.Called(params)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockGroupChatRepository) GetGroupById(id int) (Group, error) {
	args := m.Called(id)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockGroupChatRepository) GetGroupByCode(groupCode string) (Group, error) {
	args := m.Called(groupCode)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockGroupChatRepository) RequestJoin(userId, groupId int, message *string) (JoinResult, error) {
	args := m.Called(userId, groupId, message)
	return args.Get(0).(JoinResult), args.Error(1)
}
func (m *MockGroupChatRepository) ApproveJoinRequest(userId, groupId int) (Participant, error) {
	args := m.Called(userId, groupId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockGroupChatRepository) RejectJoinRequest(userId, groupId int) error {
	args := m.Called(userId, groupId)
	return args.Error(0)
}
func (m *MockGroupChatRepository) ListJoinRequests(groupId int) ([]WaitingListEntry, error) {
	args := m.Called(groupId)
	return args.Get(0).([]WaitingListEntry), args.Error(1)
}
func (m *MockGroupChatRepository) IsParticipant(userId, groupId int) bool {
	args := m.Called(userId, groupId)
	return args.Bool(0)
}
func (m *MockGroupChatRepository) ListParticipantGroups(userId int) ([]Group, error) {
	args := m.Called(userId)
	return args.Get(0).([]Group), args.Error(1)
}
func (m *MockGroupChatRepository) InsertMessage(params InsertMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGroupChatRepository) GetMessages(groupId, before, limit int) ([]Message, error) {
	args := m.Called(groupId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGroupChatRepository) GetMessageByUuid(msgUuid uuid.UUID) (Message, error) {
	args := m.Called(msgUuid)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGroupChatRepository) GetMessagesByIds(ids []int) ([]Message, error) {
	args := m.Called(ids)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGroupChatRepository) DeleteMessages(ids []int) error {
	args := m.Called(ids)
	return args.Error(0)
}
func (m *MockGroupChatRepository) EditMessageContent(id int, content string) error {
	args := m.Called(id, content)
	return args.Error(0)
}
