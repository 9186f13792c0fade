// ABOUTME: Session controller coordinating the chat connection, history, and unread state
// ABOUTME: Serializes all session state changes and discards stale connection events and fetches

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-groups/internal/api"
	"github.com/2389/coven-groups/internal/auth"
	"github.com/2389/coven-groups/internal/connection"
	"github.com/2389/coven-groups/internal/messages"
	"github.com/2389/coven-groups/internal/protocol"
	"github.com/2389/coven-groups/internal/unread"
)

var (
	// ErrUnauthenticated is returned when an operation needs a credential and
	// none is available, or the service rejected the one in use.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNotConnected is returned by SendMessage without an open connection.
	ErrNotConnected = connection.ErrNotConnected

	// ErrNoActiveConversation is returned when an operation needs a selected conversation.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrEmptyMessage is returned by SendMessage for text that is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Transport is the connection the controller drives. *connection.Manager
// implements it.
type Transport interface {
	SetListener(l connection.Listener)
	Connect(endpoint, token string) (uint64, error)
	Send(payload []byte) error
	Teardown()
	State() connection.State
}

// Collaborators are the REST calls the controller makes. *api.Client
// implements it.
type Collaborators interface {
	Verify(ctx context.Context, token string) (api.User, error)
	ListGroups(ctx context.Context, token, username string) ([]protocol.Conversation, error)
	FetchHistory(ctx context.Context, token, groupID string) ([]protocol.Message, error)
	Invite(ctx context.Context, token, groupID, username string) (string, error)
	CreateGroup(ctx context.Context, token, name, username string) (string, error)
}

// CredentialStore is the part of the local store the controller writes to.
type CredentialStore interface {
	ClearCredential(ctx context.Context) error
	SetLastConversation(ctx context.Context, groupID string) error
}

// Options configures a Controller.
type Options struct {
	// Endpoint is the WebSocket URL without the token parameter.
	Endpoint string

	Logger   *slog.Logger
	Notifier Notifier

	// Store, when set, is cleared on authentication failure and remembers
	// the selected conversation.
	Store CredentialStore

	// Now defaults to time.Now.
	Now func() time.Time

	// OnAppend is called, outside the lock, for every message added to the
	// store by a push.
	OnAppend func(protocol.Message)
}

// Status is a point-in-time view of the session.
type Status struct {
	Username           string
	Authenticated      bool
	Connected          bool
	Connection         connection.State
	ActiveConversation string
	Loading            bool
	Unread             []string
}

// Controller owns the session state for one user.
type Controller struct {
	endpoint  string
	transport Transport
	api       Collaborators
	messages  *messages.Store
	unread    *unread.Tracker
	store     CredentialStore
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	onAppend  func(protocol.Message)

	mu        sync.Mutex
	cred      *auth.Credential
	username  string
	connGen   uint64
	connected bool
	active    string
	selectSeq uint64
	loading   bool
	pending   []protocol.Message
	draft     string
	closed    bool
}

// outbox collects side effects that must run after the lock is released.
type outbox struct {
	notices         []Notice
	appended        []protocol.Message
	clearCredential bool
}

func (o *outbox) notify(n Notice) {
	o.notices = append(o.notices, n)
}

// NewController creates a controller and registers it as the transport's listener.
func NewController(transport Transport, collaborators Collaborators, store *messages.Store, tracker *unread.Tracker, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier(logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		endpoint:  opts.Endpoint,
		transport: transport,
		api:       collaborators,
		messages:  store,
		unread:    tracker,
		store:     opts.Store,
		notifier:  notifier,
		logger:    logger,
		now:       now,
		onAppend:  opts.OnAppend,
	}
	transport.SetListener(c)
	return c
}

// SetCredential starts or ends the session. A usable credential connects
// (reconnecting if the token changed); a nil, empty, or expired one tears the
// connection down. An expired credential is also cleared from the store.
func (c *Controller) SetCredential(cred *auth.Credential) error {
	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := cred.Validate(c.now()); err != nil {
		c.dropSessionLocked()
		if errors.Is(err, auth.ErrExpiredToken) {
			out.clearCredential = true
			out.notify(Notice{
				Level:   LevelError,
				Kind:    NoticeSessionExpired,
				Message: "Session expired. Please log in again.",
				Err:     err,
			})
			return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil
	}

	if c.cred != nil && c.cred.Token != cred.Token {
		c.logger.Info("credential changed, reconnecting")
		c.dropSessionLocked()
	}

	saved := *cred
	c.cred = &saved
	c.username = saved.ResolveUsername()

	return c.connectLocked(&out)
}

// Reconnect opens a new connection with the current credential if the
// previous one closed. It is a no-op while connecting or open.
func (c *Controller) Reconnect() error {
	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cred == nil {
		return ErrUnauthenticated
	}
	return c.connectLocked(&out)
}

func (c *Controller) connectLocked(out *outbox) error {
	gen, err := c.transport.Connect(c.endpoint, c.cred.Token)
	if err != nil {
		out.notify(Notice{
			Level:   LevelError,
			Kind:    NoticeConnectionError,
			Message: "Chat connection error.",
			Err:     err,
		})
		return fmt.Errorf("connecting: %w", err)
	}
	if gen != c.connGen {
		c.connected = false
	}
	c.connGen = gen
	return nil
}

// dropSessionLocked tears the connection down and forgets the credential, the
// active conversation, and the unread state. Any history fetch in flight
// becomes stale.
func (c *Controller) dropSessionLocked() {
	c.transport.Teardown()
	c.connGen = 0
	c.connected = false
	c.cred = nil
	c.username = ""
	c.active = ""
	c.selectSeq++
	c.loading = false
	c.pending = nil
	c.messages.Replace(nil)
	c.unread.Reset()
}

// HandleConnectionEvent implements connection.Listener.
func (c *Controller) HandleConnectionEvent(ev connection.Event) {
	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ev.Generation == 0 || ev.Generation != c.connGen {
		c.logger.Debug("ignoring event from stale connection",
			"kind", ev.Kind.String(), "generation", ev.Generation, "current", c.connGen)
		return
	}

	switch ev.Kind {
	case connection.EventOpened:
		c.connected = true
		c.logger.Info("chat connected", "conn_id", ev.ConnID)
		out.notify(Notice{Level: LevelSuccess, Kind: NoticeConnected, Message: "Chat connected"})

	case connection.EventError:
		c.connected = false
		c.logger.Warn("chat connection error", "conn_id", ev.ConnID, "error", ev.Err)
		out.notify(Notice{
			Level:   LevelError,
			Kind:    NoticeConnectionError,
			Message: "Chat connection error.",
			Err:     ev.Err,
		})

	case connection.EventClosed:
		c.connected = false
		c.logger.Info("chat disconnected", "conn_id", ev.ConnID, "code", ev.Code, "reason", ev.Reason)
		if !protocol.IsExpectedClose(ev.Code) {
			out.notify(Notice{
				Level:   LevelError,
				Kind:    NoticeDisconnected,
				Message: fmt.Sprintf("Chat disconnected (%d). Check connection or try reconnecting.", ev.Code),
			})
		}

	case connection.EventMessage:
		c.handleInboundLocked(ev.Data, &out)
	}
}

func (c *Controller) handleInboundLocked(data []byte, out *outbox) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
		return
	}

	if c.active != "" && msg.GroupID == c.active {
		if c.messages.Append(msg) {
			out.appended = append(out.appended, msg)
		}
		if c.loading {
			c.pending = append(c.pending, msg)
		}
		return
	}

	if msg.SenderUsername == c.username {
		return
	}
	if c.unread.Mark(msg.GroupID) {
		c.logger.Debug("conversation marked unread", "group_id", msg.GroupID)
	}
}

// SelectConversation makes groupID the active conversation and loads its
// history. Selecting the conversation that is already active does nothing.
func (c *Controller) SelectConversation(ctx context.Context, groupID string) error {
	if groupID == "" {
		return ErrNoActiveConversation
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if groupID == c.active {
		c.mu.Unlock()
		return nil
	}
	if c.cred == nil {
		c.mu.Unlock()
		return ErrUnauthenticated
	}

	c.active = groupID
	c.unread.Clear(groupID)
	seq, token := c.beginLoadLocked()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SetLastConversation(ctx, groupID); err != nil {
			c.logger.Warn("failed to remember conversation", "group_id", groupID, "error", err)
		}
	}

	return c.loadHistory(ctx, seq, groupID, token)
}

// Reload fetches the active conversation's history again.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active == "" {
		c.mu.Unlock()
		return ErrNoActiveConversation
	}
	if c.cred == nil {
		c.mu.Unlock()
		return ErrUnauthenticated
	}
	groupID := c.active
	seq, token := c.beginLoadLocked()
	c.mu.Unlock()

	return c.loadHistory(ctx, seq, groupID, token)
}

func (c *Controller) beginLoadLocked() (uint64, string) {
	c.messages.Replace(nil)
	c.selectSeq++
	c.loading = true
	c.pending = nil
	return c.selectSeq, c.cred.Token
}

func (c *Controller) loadHistory(ctx context.Context, seq uint64, groupID, token string) error {
	list, err := c.api.FetchHistory(ctx, token, groupID)

	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	// A rejection of the token still in use ends the session even when the
	// result is stale.
	if errors.Is(err, api.ErrUnauthorized) && c.cred != nil && c.cred.Token == token {
		return c.unauthorizedLocked(token, &out)
	}
	if seq != c.selectSeq || groupID != c.active {
		c.logger.Debug("discarding stale history", "group_id", groupID)
		return nil
	}

	c.loading = false
	pending := c.pending
	c.pending = nil

	if err != nil {
		c.logger.Error("failed to load history", "group_id", groupID, "error", err)
		out.notify(Notice{
			Level:   LevelError,
			Kind:    NoticeHistoryFailed,
			Message: "Failed to load messages for this group.",
			Err:     err,
			GroupID: groupID,
		})
		return fmt.Errorf("loading history for %s: %w", groupID, err)
	}

	c.messages.Replace(messages.SortByTimestamp(list))
	for _, m := range pending {
		c.messages.Append(m)
	}

	c.logger.Debug("history loaded", "group_id", groupID, "count", len(list), "pending", len(pending))
	return nil
}

// unauthorizedLocked invalidates the session if token is still the one in use.
func (c *Controller) unauthorizedLocked(token string, out *outbox) error {
	if c.cred == nil || c.cred.Token != token {
		return ErrUnauthenticated
	}

	c.logger.Warn("credential rejected by service, ending session")
	c.dropSessionLocked()
	out.clearCredential = true
	out.notify(Notice{
		Level:   LevelError,
		Kind:    NoticeSessionExpired,
		Message: "Session expired. Please log in again.",
		Err:     api.ErrUnauthorized,
	})
	return ErrUnauthenticated
}

// SendMessage posts text to the active conversation. Nothing is added
// locally; the message appears when the server echoes it.
func (c *Controller) SendMessage(text string) error {
	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.transport.State() != connection.StateOpen {
		out.notify(Notice{Level: LevelError, Kind: NoticeNotConnected, Message: "Chat not connected. Cannot send message."})
		return ErrNotConnected
	}
	if c.active == "" {
		out.notify(Notice{Level: LevelError, Kind: NoticeNoConversation, Message: "Please select a group to send a message."})
		return ErrNoActiveConversation
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	payload, err := protocol.NewSendAction(c.active, trimmed).Marshal()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := c.transport.Send(payload); err != nil {
		c.logger.Error("failed to send message", "group_id", c.active, "error", err)
		out.notify(Notice{
			Level:   LevelError,
			Kind:    NoticeSendFailed,
			Message: "Failed to send message.",
			Err:     err,
			GroupID: c.active,
		})
		return fmt.Errorf("sending message: %w", err)
	}

	c.draft = ""
	return nil
}

// SetDraft records the unsent input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Draft returns the unsent input text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// RefreshConversations lists the user's groups and registers them with the
// unread tracker. On failure the known list is cleared.
func (c *Controller) RefreshConversations(ctx context.Context) ([]protocol.Conversation, error) {
	token, username, err := c.credentials()
	if err != nil {
		return nil, err
	}

	list, err := c.api.ListGroups(ctx, token, username)
	if err != nil {
		var out outbox
		defer c.flush(&out)

		c.mu.Lock()
		defer c.mu.Unlock()

		if errors.Is(err, api.ErrUnauthorized) {
			return nil, c.unauthorizedLocked(token, &out)
		}
		c.unread.SetKnownConversations(nil)
		out.notify(Notice{Level: LevelError, Kind: NoticeGroupsFailed, Message: "Failed to load groups.", Err: err})
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	c.unread.SetKnownConversations(list)
	return list, nil
}

// Invite adds username to the active conversation.
func (c *Controller) Invite(ctx context.Context, username string) error {
	c.mu.Lock()
	groupID := c.active
	c.mu.Unlock()

	if groupID == "" {
		c.notifier.Notify(Notice{Level: LevelError, Kind: NoticeNoConversation, Message: "Please select a group first."})
		return ErrNoActiveConversation
	}

	token, _, err := c.credentials()
	if err != nil {
		return err
	}

	msg, err := c.api.Invite(ctx, token, groupID, username)

	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return c.unauthorizedLocked(token, &out)
		}
		out.notify(Notice{
			Level:   LevelError,
			Kind:    NoticeInviteFailed,
			Message: fmt.Sprintf("Invite failed: %v", err),
			Err:     err,
			GroupID: groupID,
		})
		return fmt.Errorf("inviting %s: %w", username, err)
	}

	if msg == "" {
		msg = fmt.Sprintf("%s invited successfully!", strings.TrimSpace(username))
	}
	out.notify(Notice{Level: LevelSuccess, Kind: NoticeInvited, Message: msg, GroupID: groupID})
	return nil
}

// CreateConversation creates a group and refreshes the conversation list.
func (c *Controller) CreateConversation(ctx context.Context, name string) error {
	token, username, err := c.credentials()
	if err != nil {
		return err
	}

	msg, err := c.api.CreateGroup(ctx, token, name, username)
	if err != nil {
		var out outbox
		c.mu.Lock()
		if errors.Is(err, api.ErrUnauthorized) {
			err = c.unauthorizedLocked(token, &out)
		} else {
			out.notify(Notice{Level: LevelError, Kind: NoticeCreateFailed, Message: "Could not create group.", Err: err})
			err = fmt.Errorf("creating group: %w", err)
		}
		c.mu.Unlock()
		c.flush(&out)
		return err
	}

	if msg == "" {
		msg = fmt.Sprintf("Group %q created", strings.TrimSpace(name))
	}
	c.notifier.Notify(Notice{Level: LevelSuccess, Kind: NoticeGroupCreated, Message: msg})

	_, err = c.RefreshConversations(ctx)
	return err
}

// Verify asks the service who the current credential belongs to.
func (c *Controller) Verify(ctx context.Context) (api.User, error) {
	token, _, err := c.credentials()
	if err != nil {
		return api.User{}, err
	}

	user, err := c.api.Verify(ctx, token)
	if err == nil {
		return user, nil
	}

	var out outbox
	defer c.flush(&out)

	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(err, api.ErrUnauthorized) {
		return api.User{}, c.unauthorizedLocked(token, &out)
	}
	return api.User{}, fmt.Errorf("verifying credential: %w", err)
}

func (c *Controller) credentials() (token, username string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", "", ErrClosed
	}
	if c.cred == nil {
		return "", "", ErrUnauthenticated
	}
	return c.cred.Token, c.username, nil
}

// Messages returns the active conversation's messages.
func (c *Controller) Messages() []protocol.Message {
	return c.messages.Current()
}

// ActiveConversation returns the selected group ID, or "" if none.
func (c *Controller) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Username returns the local user's name, or "" without a credential.
func (c *Controller) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Username:           c.username,
		Authenticated:      c.cred != nil,
		Connected:          c.connected,
		Connection:         c.transport.State(),
		ActiveConversation: c.active,
		Loading:            c.loading,
		Unread:             c.unread.Unread(),
	}
}

// Close ends the session and tears the connection down. It is idempotent.
// The message store and unread tracker belong to the caller, who closes the
// tracker after the controller.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.transport.Teardown()
	c.connGen = 0
	c.connected = false
	c.loading = false
	c.pending = nil
	c.logger.Info("session closed")
}

// flush runs the side effects collected while the lock was held. It must be
// called without holding c.mu.
func (c *Controller) flush(out *outbox) {
	if out.clearCredential && c.store != nil {
		if err := c.store.ClearCredential(context.Background()); err != nil {
			c.logger.Warn("failed to clear stored credential", "error", err)
		}
	}
	if c.onAppend != nil {
		for _, m := range out.appended {
			c.onAppend(m)
		}
	}
	for _, n := range out.notices {
		c.notifier.Notify(n)
	}
}
