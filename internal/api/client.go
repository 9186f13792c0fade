// ABOUTME: HTTP client for the chat service REST collaborators
// ABOUTME: Handles registration, login, verify, group listing and creation, history fetch, and invites

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-groups/internal/config"
	"github.com/2389/coven-groups/internal/protocol"
)

const maxResponseBytes = 4 << 20

var (
	// ErrNotConfigured is returned when the endpoint for an operation is empty.
	ErrNotConfigured = config.ErrNotConfigured

	// ErrUnauthorized is returned when the service answers 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedResponse is returned when a response body has the wrong shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrMissingField is returned before any request when a required argument is empty.
	ErrMissingField = errors.New("missing required field")
)

// StatusError is a non-2xx answer other than 401.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: service returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: service error (%d): %s", e.Op, e.StatusCode, e.Message)
}

// Endpoints holds the full URL of each collaborator.
type Endpoints struct {
	Login       string
	Verify      string
	Register    string
	Groups      string
	CreateGroup string
	Messages    string
	Invite      string
}

// EndpointsFromConfig maps the service section of the configuration.
func EndpointsFromConfig(cfg config.ServiceConfig) Endpoints {
	return Endpoints{
		Login:       cfg.LoginURL,
		Verify:      cfg.VerifyURL,
		Register:    cfg.RegisterURL,
		Groups:      cfg.GroupsURL,
		CreateGroup: cfg.CreateGroupURL,
		Messages:    cfg.MessagesURL,
		Invite:      cfg.InviteURL,
	}
}

// User is the identity returned by Verify.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Client talks to the chat service over HTTP.
type Client struct {
	endpoints Endpoints
	apiKey    string
	client    *http.Client
	logger    *slog.Logger
}

// NewClient creates a new API client. A nil httpClient uses http.DefaultClient.
func NewClient(endpoints Endpoints, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints: endpoints,
		apiKey:    apiKey,
		client:    httpClient,
		logger:    logger.With("component", "api"),
	}
}

// Login exchanges a username and password for a token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", fmt.Errorf("login: %w: username and password", ErrMissingField)
	}

	req := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "login", c.endpoints.Login, "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: %w: no token received", ErrMalformedResponse)
	}
	return resp.Token, nil
}

// Registration is the account form sent to the register endpoint.
// Department and Role are free text and may be empty.
type Registration struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// Register creates an account and returns the service's confirmation text.
// The request carries only the API key.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Department = strings.TrimSpace(reg.Department)
	reg.Role = strings.TrimSpace(reg.Role)

	switch {
	case reg.Username == "":
		return "", fmt.Errorf("register: %w: username", ErrMissingField)
	case reg.Email == "":
		return "", fmt.Errorf("register: %w: email", ErrMissingField)
	case reg.Name == "":
		return "", fmt.Errorf("register: %w: name", ErrMissingField)
	case reg.Password == "":
		return "", fmt.Errorf("register: %w: password", ErrMissingField)
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "register", c.endpoints.Register, "", reg, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Verify checks a token with the service and returns the user it belongs to.
func (c *Client) Verify(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, fmt.Errorf("verify: %w: token", ErrMissingField)
	}

	req := struct {
		Token string `json:"token"`
	}{token}

	var resp struct {
		User User `json:"user"`
	}
	if err := c.post(ctx, "verify", c.endpoints.Verify, token, req, &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// ListGroups returns the conversations the user belongs to.
func (c *Client) ListGroups(ctx context.Context, token, username string) ([]protocol.Conversation, error) {
	if username == "" {
		return nil, fmt.Errorf("list groups: %w: username", ErrMissingField)
	}

	req := struct {
		Username string `json:"username"`
	}{username}

	var resp struct {
		Groups *[]protocol.Conversation `json:"groups"`
	}
	if err := c.post(ctx, "list groups", c.endpoints.Groups, token, req, &resp); err != nil {
		return nil, err
	}
	if resp.Groups == nil {
		return nil, fmt.Errorf("list groups: %w: groups is not an array", ErrMalformedResponse)
	}
	return *resp.Groups, nil
}

// CreateGroup creates a conversation and returns the service's confirmation text.
func (c *Client) CreateGroup(ctx context.Context, token, name, username string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("create group: %w: group name", ErrMissingField)
	}

	req := struct {
		GroupName string `json:"groupName"`
		Username  string `json:"username,omitempty"`
	}{name, username}

	var resp struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "create group", c.endpoints.CreateGroup, token, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// FetchHistory returns the stored messages for a conversation in the order the
// service sent them. Items that fail validation are dropped.
func (c *Client) FetchHistory(ctx context.Context, token, groupID string) ([]protocol.Message, error) {
	if groupID == "" {
		return nil, fmt.Errorf("fetch history: %w: group id", ErrMissingField)
	}

	req := struct {
		GroupID string `json:"groupId"`
	}{groupID}

	var resp struct {
		Messages *[]json.RawMessage `json:"messages"`
	}
	if err := c.post(ctx, "fetch history", c.endpoints.Messages, token, req, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return nil, fmt.Errorf("fetch history: %w: messages is not an array", ErrMalformedResponse)
	}

	out := make([]protocol.Message, 0, len(*resp.Messages))
	for i, raw := range *resp.Messages {
		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			c.logger.Warn("dropping malformed history item", "group_id", groupID, "index", i, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Invite adds a user to a conversation and returns the service's confirmation text.
func (c *Client) Invite(ctx context.Context, token, groupID, username string) (string, error) {
	username = strings.TrimSpace(username)
	if groupID == "" || username == "" {
		return "", fmt.Errorf("invite: %w: group id and username", ErrMissingField)
	}

	req := struct {
		GroupID          string `json:"groupId"`
		UsernameToInvite string `json:"usernameToInvite"`
	}{groupID, username}

	var resp struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "invite", c.endpoints.Invite, token, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) post(ctx context.Context, op, endpoint, token string, body, out any) error {
	if endpoint == "" {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: sending request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	c.logger.Debug("api response", "op", op, "status", resp.StatusCode, "bytes", len(data))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(op, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	return nil
}

// handleErrorResponse extracts the service's error text from a non-2xx body.
func handleErrorResponse(op string, status int, body []byte) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(body, &errResp) == nil {
		msg = errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
	} else {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return &StatusError{Op: op, StatusCode: status, Message: msg}
}
