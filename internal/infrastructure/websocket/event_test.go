package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokapasar/pkg/errors"
)

func envelopeWith(t *testing.T, eventType string, data interface{}) *Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &Envelope{Type: eventType, Data: raw}
}

func TestDecodeClientEventSendMessage(t *testing.T) {
	env := envelopeWith(t, EventSendMessage, map[string]string{
		"conversation_id": "conv-1",
		"content":         "hello",
	})

	decoded, err := DecodeClientEvent(env)
	require.NoError(t, err)

	data, ok := decoded.(*SendMessageData)
	require.True(t, ok)
	assert.Equal(t, "conv-1", data.ConversationID)
	assert.Equal(t, "hello", data.Content)
	assert.Equal(t, "text", data.Type, "type defaults to text")
}

func TestDecodeClientEventUnknownType(t *testing.T) {
	env := envelopeWith(t, "drop_tables", map[string]string{"conversation_id": "conv-1"})

	_, err := DecodeClientEvent(env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "VALIDATION_FAILED"))
}

func TestDecodeClientEventMissingConversationID(t *testing.T) {
	for _, eventType := range []string{EventJoinChat, EventLeaveChat, EventTyping, EventMarkRead} {
		env := envelopeWith(t, eventType, map[string]string{})
		_, err := DecodeClientEvent(env)
		require.Error(t, err, eventType)
	}
}

func TestDecodeClientEventEmptyMessage(t *testing.T) {
	env := envelopeWith(t, EventSendMessage, map[string]string{"conversation_id": "conv-1"})

	_, err := DecodeClientEvent(env)
	require.Error(t, err, "a message needs content or an attachment")
}

func TestDecodeClientEventBadMessageType(t *testing.T) {
	env := envelopeWith(t, EventSendMessage, map[string]string{
		"conversation_id": "conv-1",
		"content":         "hi",
		"type":            "carrier_pigeon",
	})

	_, err := DecodeClientEvent(env)
	require.Error(t, err)
}

func TestDecodeClientEventMalformedData(t *testing.T) {
	env := &Envelope{Type: EventTyping, Data: json.RawMessage(`{"is_typing": "yes"`)}

	_, err := DecodeClientEvent(env)
	require.Error(t, err)
}

func TestDecodeClientEventPing(t *testing.T) {
	decoded, err := DecodeClientEvent(&Envelope{Type: EventPing})
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestMarshalEventFrames(t *testing.T) {
	payload, err := MarshalEvent(EventUserTyping, UserTypingData{
		ConversationID: "conv-1",
		UserID:         "user-1",
		IsTyping:       true,
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EventUserTyping, env.Type)
	assert.NotEmpty(t, env.Timestamp)

	var data UserTypingData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.IsTyping)
	assert.Equal(t, "user-1", data.UserID)
}
