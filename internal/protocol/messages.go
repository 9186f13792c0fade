// ABOUTME: Wire frames exchanged with the group chat WebSocket endpoint
// ABOUTME: Validates inbound message frames and builds outbound send actions

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ActionSendMessage is the action name the server routes outbound chat frames by.
const ActionSendMessage = "sendmessage"

// ErrMalformedFrame matches every *FrameError via errors.Is.
var ErrMalformedFrame = errors.New("malformed frame")

// Conversation is a group the local user belongs to.
type Conversation struct {
	ID   string `json:"groupID"`
	Name string `json:"groupName"`
}

// Message is a single chat message, either fetched from history or pushed
// over the socket. MessageID is empty for echoes the server has not
// assigned an identifier to yet.
type Message struct {
	MessageID      string `json:"messageId,omitempty"`
	SenderUsername string `json:"senderUsername"`
	GroupID        string `json:"groupId"`
	MessageText    string `json:"messageText"`
	Timestamp      int64  `json:"timestamp"`
}

// SendAction is the outbound frame that posts a message to a group.
type SendAction struct {
	Action      string `json:"action"`
	GroupID     string `json:"groupId"`
	MessageText string `json:"messageText"`
}

// FrameError describes why an inbound payload could not be used as a Message.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *FrameError) Unwrap() error { return e.Err }

// Is reports ErrMalformedFrame as a match so callers need not know the concrete type.
func (e *FrameError) Is(target error) bool { return target == ErrMalformedFrame }

// rawMessage mirrors Message with presence-aware fields for validation.
type rawMessage struct {
	MessageID      *string     `json:"messageId"`
	SenderUsername *string     `json:"senderUsername"`
	GroupID        *string     `json:"groupId"`
	MessageText    *string     `json:"messageText"`
	Timestamp      json.Number `json:"timestamp"`
}

// ParseMessage decodes and validates a JSON encoded Message.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw rawMessage
	if err := dec.Decode(&raw); err != nil {
		return Message{}, &FrameError{Reason: "invalid json", Err: err}
	}
	return raw.toMessage()
}

func (r rawMessage) toMessage() (Message, error) {
	if r.GroupID == nil || *r.GroupID == "" {
		return Message{}, &FrameError{Reason: "missing groupId"}
	}
	if r.SenderUsername == nil || *r.SenderUsername == "" {
		return Message{}, &FrameError{Reason: "missing senderUsername"}
	}
	if r.MessageText == nil {
		return Message{}, &FrameError{Reason: "missing messageText"}
	}
	if r.Timestamp == "" {
		return Message{}, &FrameError{Reason: "missing timestamp"}
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return Message{}, &FrameError{Reason: "invalid timestamp", Err: err}
	}

	msg := Message{
		SenderUsername: *r.SenderUsername,
		GroupID:        *r.GroupID,
		MessageText:    *r.MessageText,
		Timestamp:      ts,
	}
	if r.MessageID != nil {
		msg.MessageID = *r.MessageID
	}
	return msg, nil
}

// parseTimestamp accepts integral seconds; fractional values are truncated.
func parseTimestamp(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("timestamp %s out of range", n.String())
	}
	return int64(f), nil
}

// NewSendAction builds the outbound frame for posting text to a group.
func NewSendAction(groupID, text string) SendAction {
	return SendAction{
		Action:      ActionSendMessage,
		GroupID:     groupID,
		MessageText: text,
	}
}

// Marshal encodes the action as a text frame payload.
func (a SendAction) Marshal() ([]byte, error) {
	return json.Marshal(a)
}
