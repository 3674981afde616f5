package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"groupchat/internal/database"
)

// Kind tags the variants of the socket protocol union.
type Kind string

const (
	KindAuthenticate           Kind = "Authenticate"
	KindAuthenticateResponse   Kind = "AuthenticateResponse"
	KindSubscribeGroup         Kind = "SubscribeGroup"
	KindSubscribeGroupResponse Kind = "SubscribeGroupResponse"
	KindSend                   Kind = "Send"
	KindReceive                Kind = "Receive"
	KindEdit                   Kind = "Edit"
	KindDelete                 Kind = "Delete"
	KindUnsupportMessage       Kind = "UnsupportMessage"
)

// Message is the closed tagged union exchanged on a connection. Exactly
// one payload field is meaningful, selected by Kind.
type Message struct {
	Kind        Kind
	Token       string
	Result      ResultMessage
	GroupId     int
	NewMessage  NewMessage
	Content     MessageContent
	MessageIds  []int
	Description string
}

// MessageStatus is the client-visible delivery state of a message, letting
// a client render optimistic-send state before acknowledgment.
type MessageStatus string

const (
	StatusSent       MessageStatus = "Sent"
	StatusInProgress MessageStatus = "InProgress"
	StatusError      MessageStatus = "Error"
)

type NewMessage struct {
	MessageUuid uuid.UUID `json:"message_uuid"`
	GroupId     int       `json:"group_id"`
	Content     string    `json:"content"`
}

// InsertParams builds the storage insert for a client-submitted text
// message, stamping the author resolved during authentication.
func (m NewMessage) InsertParams(userId int) database.InsertMessageParams {
	content := m.Content
	return database.InsertMessageParams{
		MessageUuid: m.MessageUuid,
		UserId:      userId,
		GroupId:     m.GroupId,
		Content:     &content,
		MessageType: database.DefaultMessageType(),
	}
}

type MessageContent struct {
	MessageUuid uuid.UUID     `json:"message_uuid"`
	UserId      int           `json:"user_id"`
	GroupId     int           `json:"group_id"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      MessageStatus `json:"status"`
}

// FromStoredMessage converts a persisted message to its wire form. A
// stored message is by definition delivered, so the status is always
// Sent, and absent content becomes the empty string. Stored timestamps
// are naive and interpreted as UTC.
func FromStoredMessage(msg database.Message) MessageContent {
	var content string
	if msg.Content != nil {
		content = *msg.Content
	}

	return MessageContent{
		MessageUuid: msg.MessageUuid,
		UserId:      msg.UserId,
		GroupId:     msg.GroupId,
		Content:     content,
		CreatedAt:   msg.CreatedAt.UTC(),
		Status:      StatusSent,
	}
}

func Authenticate(token string) Message {
	return Message{Kind: KindAuthenticate, Token: token}
}

func AuthenticateResponse(result ResultMessage) Message {
	return Message{Kind: KindAuthenticateResponse, Result: result}
}

func SubscribeGroup(groupId int) Message {
	return Message{Kind: KindSubscribeGroup, GroupId: groupId}
}

func SubscribeGroupResponse(result ResultMessage) Message {
	return Message{Kind: KindSubscribeGroupResponse, Result: result}
}

func Send(msg NewMessage) Message {
	return Message{Kind: KindSend, NewMessage: msg}
}

func Receive(content MessageContent) Message {
	return Message{Kind: KindReceive, Content: content}
}

func Edit(content MessageContent) Message {
	return Message{Kind: KindEdit, Content: content}
}

func Delete(messageIds []int) Message {
	return Message{Kind: KindDelete, MessageIds: messageIds}
}

func UnsupportMessage(description string) Message {
	return Message{Kind: KindUnsupportMessage, Description: description}
}

// envelope is the self-describing wire shape: a tag plus the variant
// payload.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var payload any
	switch m.Kind {
	case KindAuthenticate:
		payload = m.Token
	case KindAuthenticateResponse, KindSubscribeGroupResponse:
		payload = m.Result
	case KindSubscribeGroup:
		payload = m.GroupId
	case KindSend:
		payload = m.NewMessage
	case KindReceive, KindEdit:
		payload = m.Content
	case KindDelete:
		payload = m.MessageIds
	case KindUnsupportMessage:
		payload = m.Description
	default:
		return nil, fmt.Errorf("marshal: unknown message kind %q", m.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{Type: m.Kind, Payload: raw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	decoded := Message{Kind: env.Type}
	var err error
	switch env.Type {
	case KindAuthenticate:
		err = json.Unmarshal(env.Payload, &decoded.Token)
	case KindAuthenticateResponse, KindSubscribeGroupResponse:
		err = json.Unmarshal(env.Payload, &decoded.Result)
	case KindSubscribeGroup:
		err = json.Unmarshal(env.Payload, &decoded.GroupId)
	case KindSend:
		err = json.Unmarshal(env.Payload, &decoded.NewMessage)
	case KindReceive, KindEdit:
		err = json.Unmarshal(env.Payload, &decoded.Content)
	case KindDelete:
		err = json.Unmarshal(env.Payload, &decoded.MessageIds)
	case KindUnsupportMessage:
		err = json.Unmarshal(env.Payload, &decoded.Description)
	default:
		return fmt.Errorf("unmarshal: unknown message kind %q", env.Type)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}

	*m = decoded
	return nil
}
