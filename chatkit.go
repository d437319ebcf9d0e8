// Package chatkit is a Go client for the Acertax chat service.
//
// It covers the REST surface (directory, history, unread state, group
// management), the realtime session (presence, typing, live messages), and a
// conversation synchronization engine that keeps open conversations, unread
// badges, and typing indicators consistent across the two.
//
// Example:
//
//	client := chatkit.NewClient("https://chat.internal", token)
//
//	users, _ := client.ListUsers(ctx)
//	msgs, _ := client.HistoryDM(ctx, "u2")
//
//	sess := client.Realtime(&chatkit.RealtimeConfig{})
//	engine := chatkit.NewEngine(chatkit.EngineConfig{
//		SelfUID:   "u1",
//		API:       client,
//		Transport: sess,
//	})
package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds each REST call unless overridden via WithTimeout.
const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client talks to the chat service's REST API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	rtOnce sync.Once
	rt     *Session
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a chat service client. The token is the session
// credential obtained from the identity provider; issuing it is not this
// package's business.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the session credential, e.g. after a re-login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Message: envelopeError(data)}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 300 {
		return nil, &RequestError{Status: resp.StatusCode, Message: envelopeError(data)}
	}
	return data, nil
}

// envelopeError extracts the human-readable error from an {ok:false} body.
func envelopeError(data []byte) string {
	var res Result
	if json.Unmarshal(data, &res) == nil && res.Error != "" {
		return res.Error
	}
	return ""
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// checkOK maps an {ok:false} envelope on a 2xx response to a RequestError.
func checkOK(res Result) error {
	if res.OK {
		return nil
	}
	return &RequestError{Status: http.StatusOK, Message: res.Error}
}

// ============================================================================
// Directory Endpoints
// ============================================================================

// ListUsers returns the user directory, online users first.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	data, err := c.doRequest(ctx, "GET", "/api/users", nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Result
		Users []User `json:"users"`
	}](data)
	if err != nil {
		return nil, err
	}
	if err := checkOK(res.Result); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// ListGroups returns the groups the current user is a member of.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	data, err := c.doRequest(ctx, "GET", "/api/groups", nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Result
		Groups []Group `json:"groups"`
	}](data)
	if err != nil {
		return nil, err
	}
	if err := checkOK(res.Result); err != nil {
		return nil, err
	}
	return res.Groups, nil
}

// GroupDetail returns a group's record with member profiles resolved.
func (c *Client) GroupDetail(ctx context.Context, groupID string) (*GroupDetail, error) {
	data, err := c.doRequest(ctx, "GET", "/api/group/"+groupID, nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Result
		Group GroupDetail `json:"group"`
	}](data)
	if err != nil {
		return nil, err
	}
	if err := checkOK(res.Result); err != nil {
		return nil, err
	}
	return &res.Group, nil
}

// CreateGroup creates a group and returns its id.
func (c *Client) CreateGroup(ctx context.Context, opts *CreateGroupOptions) (string, error) {
	data, err := c.doRequest(ctx, "POST", "/api/create_group", opts, nil)
	if err != nil {
		return "", err
	}
	res, err := decodeJSON[struct {
		Result
		GroupID string `json:"group_id"`
	}](data)
	if err != nil {
		return "", err
	}
	if err := checkOK(res.Result); err != nil {
		return "", err
	}
	return res.GroupID, nil
}

// DeleteGroup deletes a group for everyone. Only the creator or an admin may
// do this; anyone else gets a RequestError.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	data, err := c.doRequest(ctx, "POST", "/api/delete_group", map[string]string{"group_id": groupID}, nil)
	if err != nil {
		return err
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		return err
	}
	return checkOK(*res)
}

// ============================================================================
// History Endpoints
// ============================================================================

// HistoryDM returns the cached history of a direct conversation in server
// order. Messages soft-deleted for the current user are already filtered out.
func (c *Client) HistoryDM(ctx context.Context, otherUID string) ([]Message, error) {
	return c.history(ctx, "/api/history/dm/"+otherUID)
}

// HistoryGroup returns the cached history of a group conversation.
func (c *Client) HistoryGroup(ctx context.Context, groupID string) ([]Message, error) {
	return c.history(ctx, "/api/history/group/"+groupID)
}

func (c *Client) history(ctx context.Context, path string) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", path, nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Result
		Messages []Message `json:"messages"`
	}](data)
	if err != nil {
		return nil, err
	}
	if err := checkOK(res.Result); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// ============================================================================
// Read-State Endpoints
// ============================================================================

// Unread returns the persisted per-thread unread summary.
func (c *Client) Unread(ctx context.Context) ([]UnreadItem, error) {
	data, err := c.doRequest(ctx, "GET", "/api/unread", nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Result
		Items []UnreadItem `json:"items"`
	}](data)
	if err != nil {
		return nil, err
	}
	if err := checkOK(res.Result); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// MarkRead clears the server-side unread counter for a thread.
func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	data, err := c.doRequest(ctx, "POST", "/api/mark_read", map[string]string{"thread_id": threadID}, nil)
	if err != nil {
		return err
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		return err
	}
	return checkOK(*res)
}

// ============================================================================
// Conversation Endpoints
// ============================================================================

// DeleteChat hides a conversation's history for the current user only.
// Shared history is untouched; other participants keep their copy.
func (c *Client) DeleteChat(ctx context.Context, key ConversationKey) error {
	payload := map[string]string{"type": key.Kind}
	switch key.Kind {
	case KindDM:
		payload["other_uid"] = key.ID
	case KindGroup:
		payload["group_id"] = key.ID
	default:
		return fmt.Errorf("cannot delete conversation %s", key)
	}

	data, err := c.doRequest(ctx, "POST", "/api/delete_chat", payload, nil)
	if err != nil {
		return err
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		return err
	}
	return checkOK(*res)
}

// Logout tears down the server session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doRequest(ctx, "POST", "/logout", nil, nil)
	return err
}
