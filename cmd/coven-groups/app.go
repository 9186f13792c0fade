// ABOUTME: Interactive command loop for the chat client
// ABOUTME: Parses slash commands and routes them to the session controller and API client

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-groups/internal/api"
	"github.com/2389/coven-groups/internal/auth"
	"github.com/2389/coven-groups/internal/protocol"
	"github.com/2389/coven-groups/internal/session"
	"github.com/2389/coven-groups/internal/store"
	"github.com/2389/coven-groups/internal/unread"
)

// errQuit ends the loop without an error.
var errQuit = errors.New("quit")

const helpText = `Commands:
  /register <user> <email> <password> <full name> [role=<role>] [department=<department>]
                            Create an account
  /login <user> <password>  Log in and connect
  /logout                   Forget the saved login
  /whoami                   Ask the service who the current login belongs to
  /groups [search]          List your groups, optionally filtered by name
  /create <name>            Create a group
  /join <group>             Switch to a group (ID or name)
  /invite <user>            Invite a user to the current group
  /history                  Reload the current group's history
  /unread                   List groups with unread messages
  /status                   Show connection and session state
  /reconnect                Reconnect after the chat connection closed
  /help                     Show this help
  /quit                     Exit
Anything else is sent to the current group.`

type app struct {
	term    *terminal
	ctrl    *session.Controller
	client  *api.Client
	store   store.Store
	tracker *unread.Tracker
	logger  *slog.Logger
}

// command is one parsed input line.
type command struct {
	name string
	args []string
	text string
}

// parseCommand splits a slash command into its name and arguments. Lines
// that do not start with "/" are chat text.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return command{text: line}
	}
	fields := strings.Fields(trimmed)
	return command{name: strings.ToLower(strings.TrimPrefix(fields[0], "/")), args: fields[1:]}
}

func (a *app) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		a.term.prompt(a.tracker.Name(a.ctrl.ActiveConversation()))

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-inputCh:
			if err := a.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

func (a *app) handle(ctx context.Context, line string) error {
	cmd := parseCommand(line)

	if cmd.name == "" {
		if strings.TrimSpace(cmd.text) == "" {
			return nil
		}
		a.ctrl.SetDraft(cmd.text)
		if err := a.ctrl.SendMessage(cmd.text); err != nil {
			a.logger.Debug("message not sent", "error", err)
		}
		return nil
	}

	switch cmd.name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h", "?":
		a.term.plain(helpText)
	case "login":
		if len(cmd.args) != 2 {
			a.term.warn("Usage: /login <user> <password>")
			return nil
		}
		a.login(ctx, cmd.args[0], cmd.args[1])
	case "register":
		reg, ok := parseRegistration(cmd.args)
		if !ok {
			a.term.warn("Usage: /register <user> <email> <password> <full name> [role=<role>] [department=<department>]")
			return nil
		}
		a.register(ctx, reg)
	case "logout":
		a.logout(ctx)
	case "whoami":
		a.whoami(ctx)
	case "groups":
		a.listGroups(ctx, strings.Join(cmd.args, " "))
	case "create":
		if len(cmd.args) == 0 {
			a.term.warn("Usage: /create <name>")
			return nil
		}
		if err := a.ctrl.CreateConversation(ctx, strings.Join(cmd.args, " ")); err != nil {
			a.logger.Debug("create failed", "error", err)
		}
	case "join":
		if len(cmd.args) == 0 {
			a.term.warn("Usage: /join <group>")
			return nil
		}
		a.join(ctx, a.resolveGroup(strings.Join(cmd.args, " ")))
	case "invite":
		if len(cmd.args) != 1 {
			a.term.warn("Usage: /invite <user>")
			return nil
		}
		if err := a.ctrl.Invite(ctx, cmd.args[0]); err != nil {
			a.logger.Debug("invite failed", "error", err)
		}
	case "history":
		if err := a.ctrl.Reload(ctx); err != nil {
			a.reportSessionError(err)
			return nil
		}
		a.showHistory()
	case "unread":
		a.showUnread()
	case "status":
		a.showStatus()
	case "reconnect":
		if err := a.ctrl.Reconnect(); err != nil {
			a.reportSessionError(err)
		}
	default:
		a.term.warn(fmt.Sprintf("Unknown command: /%s (try /help)", cmd.name))
	}
	return nil
}

func (a *app) login(ctx context.Context, username, password string) {
	token, err := a.client.Login(ctx, username, password)
	if err != nil {
		a.term.Notify(session.Notice{Level: session.LevelError, Message: fmt.Sprintf("Login failed: %v", err)})
		return
	}

	cred := &auth.Credential{Token: token, Username: username}
	if err := a.store.SaveCredential(ctx, cred); err != nil {
		a.logger.Warn("failed to save credential", "error", err)
	}
	if err := a.ctrl.SetCredential(cred); err != nil {
		return
	}
	a.term.Notify(session.Notice{Level: session.LevelSuccess, Message: fmt.Sprintf("Logged in as %s", a.ctrl.Username())})
	a.refreshGroups(ctx)
}

func (a *app) logout(ctx context.Context) {
	if err := a.store.ClearCredential(ctx); err != nil {
		a.logger.Warn("failed to clear credential", "error", err)
	}
	_ = a.ctrl.SetCredential(nil)
	a.term.info("Logged out.")
}

func (a *app) whoami(ctx context.Context) {
	user, err := a.ctrl.Verify(ctx)
	if errors.Is(err, session.ErrUnauthenticated) || errors.Is(err, session.ErrClosed) {
		a.reportSessionError(err)
		return
	}
	if err != nil {
		a.term.Notify(session.Notice{Level: session.LevelError, Message: fmt.Sprintf("Verify failed: %v", err)})
		return
	}
	a.term.info(fmt.Sprintf("%s <%s>", user.Name, user.Email))
}

// parseRegistration reads "<user> <email> <password> <full name...>" with
// optional role= and department= fields. A field's value runs until the
// next field, so values may contain spaces.
func parseRegistration(args []string) (api.Registration, bool) {
	if len(args) < 4 {
		return api.Registration{}, false
	}
	reg := api.Registration{Username: args[0], Email: args[1], Password: args[2]}

	parts := map[string][]string{}
	field := "name"
	for _, arg := range args[3:] {
		for _, key := range []string{"role", "department"} {
			if v, ok := strings.CutPrefix(arg, key+"="); ok {
				field, arg = key, v
				break
			}
		}
		if arg != "" {
			parts[field] = append(parts[field], arg)
		}
	}

	reg.Name = strings.Join(parts["name"], " ")
	reg.Role = strings.Join(parts["role"], " ")
	reg.Department = strings.Join(parts["department"], " ")
	return reg, reg.Name != ""
}

func (a *app) register(ctx context.Context, reg api.Registration) {
	msg, err := a.client.Register(ctx, reg)
	if err != nil {
		a.term.Notify(session.Notice{Level: session.LevelError, Message: fmt.Sprintf("Registration failed: %v", err)})
		return
	}
	if msg == "" {
		msg = "Registration successful! You can now login."
	}
	a.term.Notify(session.Notice{Level: session.LevelSuccess, Message: msg})
}

// refreshGroups loads the group list so notifications can show names.
func (a *app) refreshGroups(ctx context.Context) {
	if _, err := a.ctrl.RefreshConversations(ctx); err != nil {
		a.logger.Debug("group refresh failed", "error", err)
	}
}

func (a *app) listGroups(ctx context.Context, search string) {
	list, err := a.ctrl.RefreshConversations(ctx)
	if err != nil {
		a.reportSessionError(err)
		return
	}
	if len(list) == 0 {
		a.term.info("You are not in any groups. Use /create <name>.")
		return
	}

	list = filterGroups(list, search)
	if len(list) == 0 {
		a.term.info(fmt.Sprintf("No groups match %q.", search))
		return
	}

	active := a.ctrl.ActiveConversation()
	for _, conv := range list {
		marker := "  "
		if conv.ID == active {
			marker = color.GreenString("> ")
		} else if a.tracker.IsUnread(conv.ID) {
			marker = color.YellowString("● ")
		}
		a.term.plain(fmt.Sprintf("%s%s %s", marker, conv.Name, color.HiBlackString("(%s)", conv.ID)))
	}
}

// filterGroups keeps the groups whose name contains search, ignoring case.
func filterGroups(list []protocol.Conversation, search string) []protocol.Conversation {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return list
	}
	out := make([]protocol.Conversation, 0, len(list))
	for _, conv := range list {
		if strings.Contains(strings.ToLower(conv.Name), search) {
			out = append(out, conv)
		}
	}
	return out
}

// resolveGroup maps a group name to its ID using the known conversations.
// Unknown input is assumed to be an ID.
func (a *app) resolveGroup(arg string) string {
	for _, conv := range a.tracker.KnownConversations() {
		if conv.ID == arg {
			return conv.ID
		}
	}
	for _, conv := range a.tracker.KnownConversations() {
		if strings.EqualFold(conv.Name, arg) {
			return conv.ID
		}
	}
	return arg
}

func (a *app) join(ctx context.Context, groupID string) {
	if groupID == a.ctrl.ActiveConversation() && groupID != "" {
		a.showHistory()
		return
	}
	if err := a.ctrl.SelectConversation(ctx, groupID); err != nil {
		a.reportSessionError(err)
		return
	}
	a.showHistory()
}

func (a *app) showHistory() {
	active := a.ctrl.ActiveConversation()
	if active == "" {
		return
	}
	a.term.printHistory(a.tracker.Name(active), a.ctrl.Messages())
}

func (a *app) showUnread() {
	list := a.tracker.UnreadConversations()
	if len(list) == 0 {
		a.term.info("No unread messages.")
		return
	}
	for _, conv := range list {
		a.term.plain(color.YellowString("● %s", conv.Name))
	}
}

func (a *app) showStatus() {
	st := a.ctrl.Status()
	user := st.Username
	if !st.Authenticated {
		user = "(not logged in)"
	}
	group := "(none)"
	if st.ActiveConversation != "" {
		group = a.tracker.Name(st.ActiveConversation)
	}
	a.term.plain(fmt.Sprintf("User:       %s", user))
	a.term.plain(fmt.Sprintf("Connection: %s", st.Connection))
	a.term.plain(fmt.Sprintf("Group:      %s", group))
	a.term.plain(fmt.Sprintf("Unread:     %d", len(st.Unread)))
}

// reportSessionError prints errors the controller does not already raise a
// notice for.
func (a *app) reportSessionError(err error) {
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		a.term.warn("Not logged in. Use /login <user> <password>.")
	case errors.Is(err, session.ErrNoActiveConversation):
		a.term.warn("No group selected. Use /join <group>.")
	case errors.Is(err, session.ErrClosed):
		a.term.warn("Session closed.")
	default:
		a.logger.Debug("command failed", "error", err)
	}
}

// watchUnread prints a line whenever a conversation becomes unread.
func (a *app) watchUnread(ctx context.Context) {
	ch, _ := a.tracker.Subscribe(ctx)
	seen := make(map[string]bool)
	for snap := range ch {
		next := make(map[string]bool, len(snap.Unread))
		for _, id := range snap.Unread {
			next[id] = true
			if !seen[id] {
				a.term.println(color.YellowString("● New message in %s", a.tracker.Name(id)))
			}
		}
		seen = next
	}
}
