// ABOUTME: User-facing notices raised by the session controller
// ABOUTME: Notifier receives them outside the controller lock, like toasts in a chat UI

package session

import "log/slog"

// Level is the severity of a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// NoticeKind identifies what a notice is about so callers can react without
// matching on text.
type NoticeKind string

const (
	NoticeConnected       NoticeKind = "connected"
	NoticeConnectionError NoticeKind = "connection_error"
	NoticeDisconnected    NoticeKind = "disconnected"
	NoticeSessionExpired  NoticeKind = "session_expired"
	NoticeHistoryFailed   NoticeKind = "history_failed"
	NoticeGroupsFailed    NoticeKind = "groups_failed"
	NoticeNotConnected    NoticeKind = "not_connected"
	NoticeNoConversation  NoticeKind = "no_conversation"
	NoticeSendFailed      NoticeKind = "send_failed"
	NoticeInvited         NoticeKind = "invited"
	NoticeInviteFailed    NoticeKind = "invite_failed"
	NoticeGroupCreated    NoticeKind = "group_created"
	NoticeCreateFailed    NoticeKind = "create_failed"
)

// Notice is a message for the user.
type Notice struct {
	Level   Level
	Kind    NoticeKind
	Message string
	Err     error
	GroupID string
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// logNotifier is used when no Notifier is configured.
func logNotifier(logger *slog.Logger) Notifier {
	return NotifierFunc(func(n Notice) {
		attrs := []any{"kind", string(n.Kind), "level", n.Level.String()}
		if n.GroupID != "" {
			attrs = append(attrs, "group_id", n.GroupID)
		}
		if n.Err != nil {
			attrs = append(attrs, "error", n.Err)
		}
		logger.Info(n.Message, attrs...)
	})
}
