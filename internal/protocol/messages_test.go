// ABOUTME: Tests for inbound frame validation and outbound action encoding
// ABOUTME: Covers missing fields, timestamp forms, and close code classification

package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_Valid(t *testing.T) {
	data := []byte(`{"messageId":"m-1","senderUsername":"alice","groupId":"g-1","messageText":"hi","timestamp":1700000000}`)

	msg, err := ParseMessage(data)
	require.NoError(t, err)

	assert.Equal(t, "m-1", msg.MessageID)
	assert.Equal(t, "alice", msg.SenderUsername)
	assert.Equal(t, "g-1", msg.GroupID)
	assert.Equal(t, "hi", msg.MessageText)
	assert.Equal(t, int64(1700000000), msg.Timestamp)
}

func TestParseMessage_WithoutMessageID(t *testing.T) {
	data := []byte(`{"senderUsername":"alice","groupId":"g-1","messageText":"echo","timestamp":5}`)

	msg, err := ParseMessage(data)
	require.NoError(t, err)
	assert.Empty(t, msg.MessageID)
}

func TestParseMessage_FractionalTimestampTruncated(t *testing.T) {
	data := []byte(`{"senderUsername":"alice","groupId":"g-1","messageText":"x","timestamp":12.9}`)

	msg, err := ParseMessage(data)
	require.NoError(t, err)
	assert.Equal(t, int64(12), msg.Timestamp)
}

func TestParseMessage_EmptyTextAllowed(t *testing.T) {
	data := []byte(`{"senderUsername":"alice","groupId":"g-1","messageText":"","timestamp":1}`)

	_, err := ParseMessage(data)
	assert.NoError(t, err)
}

func TestParseMessage_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		reason string
	}{
		{"not json", `not json`, "invalid json"},
		{"array", `[1,2]`, "invalid json"},
		{"missing group", `{"senderUsername":"a","messageText":"x","timestamp":1}`, "missing groupId"},
		{"empty group", `{"senderUsername":"a","groupId":"","messageText":"x","timestamp":1}`, "missing groupId"},
		{"missing sender", `{"groupId":"g","messageText":"x","timestamp":1}`, "missing senderUsername"},
		{"missing text", `{"senderUsername":"a","groupId":"g","timestamp":1}`, "missing messageText"},
		{"missing timestamp", `{"senderUsername":"a","groupId":"g","messageText":"x"}`, "missing timestamp"},
		{"string timestamp", `{"senderUsername":"a","groupId":"g","messageText":"x","timestamp":"soon"}`, "invalid json"},
		{"timestamp at int64 overflow", `{"senderUsername":"a","groupId":"g","messageText":"x","timestamp":9.223372036854775807e18}`, "invalid timestamp"},
		{"timestamp past int64", `{"senderUsername":"a","groupId":"g","messageText":"x","timestamp":1e19}`, "invalid timestamp"},
		{"timestamp below int64", `{"senderUsername":"a","groupId":"g","messageText":"x","timestamp":-1e19}`, "invalid timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame))

			var frameErr *FrameError
			require.True(t, errors.As(err, &frameErr))
			assert.Equal(t, tt.reason, frameErr.Reason)
		})
	}
}

func TestSendAction_Marshal(t *testing.T) {
	payload, err := NewSendAction("g-1", "hello").Marshal()
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, map[string]string{
		"action":      "sendmessage",
		"groupId":     "g-1",
		"messageText": "hello",
	}, decoded)
}

func TestIsExpectedClose(t *testing.T) {
	assert.True(t, IsExpectedClose(1000))
	assert.True(t, IsExpectedClose(1005))
	assert.False(t, IsExpectedClose(1001))
	assert.False(t, IsExpectedClose(1006))
	assert.False(t, IsExpectedClose(1011))
}
