package chatkit

import "time"

// ============================================================================
// View Projection
// ============================================================================

// Snapshot is a self-contained projection of engine state. A view renders it
// idempotently: two identical snapshots produce the same output, and every
// snapshot carries everything needed to paint the whole surface.
type Snapshot struct {
	Active   ConversationKey
	Title    string
	Subtitle string

	Tabs       []TabView
	Messages   []MessageView
	TypingLine string

	Users  []UserView
	Groups []GroupView
}

// TabView is one open conversation in the tab strip.
type TabView struct {
	Key    ConversationKey
	Label  string
	Unread int
	Active bool
}

// MessageView is one rendered message row of the active conversation.
type MessageView struct {
	Sender string
	Text   string
	Time   time.Time
	Mine   bool
}

// UserView is one row of the user list.
type UserView struct {
	UID    string
	Label  string
	Email  string
	Online bool
	Unread int
}

// GroupView is one row of the group list.
type GroupView struct {
	GroupID string
	Name    string
	Members int
	Unread  int
}

// TotalUnread sums unread counts across all tabs, for badges and titles.
func (s Snapshot) TotalUnread() int {
	n := 0
	for _, t := range s.Tabs {
		n += t.Unread
	}
	return n
}
