package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeRoundTrip(t *testing.T) {
	tcases := []struct {
		name  string
		value MessageType
		tag   string
	}{
		{
			name:  "text",
			value: MessageTypeText,
			tag:   "TEXT",
		},
		{
			name:  "attachment",
			value: MessageTypeAttachment,
			tag:   "ATTACHMENT",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.value.Value()
			require.NoError(t, err, "expected no error encoding %v", tc.value)
			assert.Equal(t, tc.tag, encoded, "expected exact uppercase tag")

			var decoded MessageType
			err = decoded.Scan(encoded)
			require.NoError(t, err, "expected no error decoding %q", tc.tag)
			assert.Equal(t, tc.value, decoded, "expected round-trip to yield the original value")
		})
	}
}

func TestMessageTypeScanBytes(t *testing.T) {
	// lib/pq delivers enum columns as []byte on most query paths
	var decoded MessageType
	err := decoded.Scan([]byte("ATTACHMENT"))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeAttachment, decoded)
}

func TestMessageTypeScanUnknownTag(t *testing.T) {
	tcases := []string{"", "text", "VIDEO", "BOGUS"}

	for _, tag := range tcases {
		t.Run("tag_"+tag, func(t *testing.T) {
			var decoded MessageType
			err := decoded.Scan(tag)
			assert.ErrorIs(t, err, ErrUnrecognizedEnumVariant, "expected unknown tag %q to fail hard", tag)
		})
	}
}

func TestMessageTypeValueOutOfRange(t *testing.T) {
	_, err := MessageType(42).Value()
	assert.ErrorIs(t, err, ErrUnrecognizedEnumVariant, "expected encoding an invalid value to fail")
}

func TestAttachmentTypeRoundTrip(t *testing.T) {
	tcases := []struct {
		name  string
		value AttachmentType
		tag   string
	}{
		{
			name:  "text",
			value: AttachmentTypeText,
			tag:   "TEXT",
		},
		{
			name:  "image",
			value: AttachmentTypeImage,
			tag:   "IMAGE",
		},
		{
			name:  "video",
			value: AttachmentTypeVideo,
			tag:   "VIDEO",
		},
		{
			name:  "audio",
			value: AttachmentTypeAudio,
			tag:   "AUDIO",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.value.Value()
			require.NoError(t, err, "expected no error encoding %v", tc.value)
			assert.Equal(t, tc.tag, encoded, "expected exact uppercase tag")

			var decoded AttachmentType
			err = decoded.Scan(encoded)
			require.NoError(t, err, "expected no error decoding %q", tc.tag)
			assert.Equal(t, tc.value, decoded, "expected round-trip to yield the original value")
		})
	}
}

func TestAttachmentTypeScanUnknownTag(t *testing.T) {
	tcases := []string{"", "image", "ATTACHMENT", "GIF"}

	for _, tag := range tcases {
		t.Run("tag_"+tag, func(t *testing.T) {
			var decoded AttachmentType
			err := decoded.Scan(tag)
			assert.ErrorIs(t, err, ErrUnrecognizedEnumVariant, "expected unknown tag %q to fail hard", tag)
		})
	}
}

func TestEnumDefaults(t *testing.T) {
	assert.Equal(t, MessageTypeText, DefaultMessageType(), "expected TEXT default for new messages")
	assert.Equal(t, AttachmentTypeText, DefaultAttachmentType(), "expected TEXT default for new attachments")
}

func TestEnumScanUnexpectedType(t *testing.T) {
	var mt MessageType
	assert.ErrorIs(t, mt.Scan(42), ErrUnrecognizedEnumVariant)

	var at AttachmentType
	assert.ErrorIs(t, at.Scan(nil), ErrUnrecognizedEnumVariant)
}
