package chatkit

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// Result is the generic response envelope. Every REST endpoint answers
// {"ok": true, ...} or {"ok": false, "error": "..."}.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ============================================================================
// Directory Types
// ============================================================================

// User is a directory entry for a person reachable via DM.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
	LastSeen    string `json:"last_seen,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Group is a directory entry for a group conversation.
type Group struct {
	GroupID string   `json:"group_id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// GroupMember is a resolved member profile from the group detail endpoint.
type GroupMember struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
}

// GroupDetail is the full group record including member profiles.
type GroupDetail struct {
	GroupID   string        `json:"group_id"`
	Name      string        `json:"name"`
	CreatedBy string        `json:"created_by,omitempty"`
	Members   []GroupMember `json:"members"`
}

// ============================================================================
// Message Types
// ============================================================================

// Scope discriminators shared by messages, typing updates, and unread items.
const (
	KindDM    = "dm"
	KindGroup = "group"
)

// Message is a chat message as delivered by both the history endpoints and
// the live new_message event. For DMs both FromUID and ToUID are set; for
// groups GroupID is set instead of ToUID.
type Message struct {
	ID         string   `json:"id,omitempty"`
	Type       string   `json:"type"`
	Room       string   `json:"room,omitempty"`
	FromUID    string   `json:"from_uid"`
	ToUID      string   `json:"to_uid,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	Text       string   `json:"text"`
	TS         int64    `json:"ts"`
	DeletedFor []string `json:"deleted_for,omitempty"`
}

// UnreadItem is one entry of the persisted unread summary.
type UnreadItem struct {
	ThreadID string `json:"thread_id"`
	Type     string `json:"type"`
	OtherUID string `json:"other_uid,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
	Count    int    `json:"count"`
}

// ============================================================================
// Realtime Event Payloads
// ============================================================================

// PresenceUpdate is broadcast when a user connects or disconnects.
type PresenceUpdate struct {
	UID    string `json:"uid"`
	Online bool   `json:"online"`
}

// TypingUpdate reports a remote peer starting or stopping typing.
// For DM scope GroupID is empty; for group scope it carries the group id.
type TypingUpdate struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
	FromUID  string `json:"from_uid"`
	IsTyping bool   `json:"is_typing"`
}

// RoomJoined acknowledges a join_dm / join_group command.
type RoomJoined struct {
	Room string `json:"room"`
}

// Envelope is the wire format for all realtime traffic.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Command is a client-to-server realtime command.
type Command struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ============================================================================
// Option Types
// ============================================================================

// CreateGroupOptions configures group creation. The creator is added to the
// member list server-side if absent.
type CreateGroupOptions struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}
