package database

import (
	"database/sql/driver"
	"fmt"
)

// MessageType is the constrained message_type column. It round-trips
// through its exact uppercase tag string; decoding an unknown tag fails
// rather than falling back to a default.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeAttachment
)

// DefaultMessageType is the constructor default for new messages.
func DefaultMessageType() MessageType {
	return MessageTypeText
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeAttachment:
		return "ATTACHMENT"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

func (t MessageType) Value() (driver.Value, error) {
	switch t {
	case MessageTypeText, MessageTypeAttachment:
		return t.String(), nil
	default:
		return nil, fmt.Errorf("%w: message_type %d", ErrUnrecognizedEnumVariant, int(t))
	}
}

func (t *MessageType) Scan(src any) error {
	tag, err := enumTag(src)
	if err != nil {
		return fmt.Errorf("message_type: %w", err)
	}

	switch tag {
	case "TEXT":
		*t = MessageTypeText
	case "ATTACHMENT":
		*t = MessageTypeAttachment
	default:
		return fmt.Errorf("%w: message_type %q", ErrUnrecognizedEnumVariant, tag)
	}
	return nil
}

// AttachmentType is the constrained attachment_type column.
type AttachmentType int

const (
	AttachmentTypeText AttachmentType = iota
	AttachmentTypeImage
	AttachmentTypeVideo
	AttachmentTypeAudio
)

func DefaultAttachmentType() AttachmentType {
	return AttachmentTypeText
}

func (t AttachmentType) String() string {
	switch t {
	case AttachmentTypeText:
		return "TEXT"
	case AttachmentTypeImage:
		return "IMAGE"
	case AttachmentTypeVideo:
		return "VIDEO"
	case AttachmentTypeAudio:
		return "AUDIO"
	default:
		return fmt.Sprintf("AttachmentType(%d)", int(t))
	}
}

func (t AttachmentType) Value() (driver.Value, error) {
	switch t {
	case AttachmentTypeText, AttachmentTypeImage, AttachmentTypeVideo, AttachmentTypeAudio:
		return t.String(), nil
	default:
		return nil, fmt.Errorf("%w: attachment_type %d", ErrUnrecognizedEnumVariant, int(t))
	}
}

func (t *AttachmentType) Scan(src any) error {
	tag, err := enumTag(src)
	if err != nil {
		return fmt.Errorf("attachment_type: %w", err)
	}

	switch tag {
	case "TEXT":
		*t = AttachmentTypeText
	case "IMAGE":
		*t = AttachmentTypeImage
	case "VIDEO":
		*t = AttachmentTypeVideo
	case "AUDIO":
		*t = AttachmentTypeAudio
	default:
		return fmt.Errorf("%w: attachment_type %q", ErrUnrecognizedEnumVariant, tag)
	}
	return nil
}

// enumTag normalizes the raw column value lib/pq hands to Scan. Enum
// columns arrive as []byte or string depending on the query path.
func enumTag(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("%w: unexpected column type %T", ErrUnrecognizedEnumVariant, src)
	}
}
