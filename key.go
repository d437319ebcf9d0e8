package chatkit

import "sort"

// ============================================================================
// Conversation Keys
// ============================================================================

// ConversationKey uniquely identifies a conversation: either a DM with a
// single counterpart or a group. The zero value means "no conversation".
type ConversationKey struct {
	Kind string // KindDM or KindGroup
	ID   string // counterpart uid for DMs, group id for groups
}

// DMKey returns the key for a direct conversation with otherUID.
func DMKey(otherUID string) ConversationKey {
	return ConversationKey{Kind: KindDM, ID: otherUID}
}

// GroupKey returns the key for a group conversation.
func GroupKey(groupID string) ConversationKey {
	return ConversationKey{Kind: KindGroup, ID: groupID}
}

// IsZero reports whether k identifies no conversation.
func (k ConversationKey) IsZero() bool {
	return k.Kind == "" && k.ID == ""
}

// String renders the key in the canonical "dm:<uid>" / "group:<id>" form.
func (k ConversationKey) String() string {
	if k.IsZero() {
		return "none"
	}
	return k.Kind + ":" + k.ID
}

// KeyForMessage derives the owning conversation key of a message as seen by
// selfUID. For DMs the counterpart is whichever endpoint is not self, so two
// messages with swapped sender/receiver always land on the same key.
// Returns false for messages that cannot be keyed.
func KeyForMessage(msg Message, selfUID string) (ConversationKey, bool) {
	switch msg.Type {
	case KindDM:
		other := msg.FromUID
		if other == selfUID {
			other = msg.ToUID
		}
		if other == "" {
			return ConversationKey{}, false
		}
		return DMKey(other), true
	case KindGroup:
		if msg.GroupID == "" {
			return ConversationKey{}, false
		}
		return GroupKey(msg.GroupID), true
	}
	return ConversationKey{}, false
}

// KeyForUnread derives the conversation key of an unread-summary item.
func KeyForUnread(it UnreadItem) (ConversationKey, bool) {
	switch {
	case it.Type == KindDM && it.OtherUID != "":
		return DMKey(it.OtherUID), true
	case it.Type == KindGroup && it.GroupID != "":
		return GroupKey(it.GroupID), true
	}
	return ConversationKey{}, false
}

// ThreadID maps a key to the server-canonical thread identifier used by the
// read-state endpoints: DM participant ids sorted lexicographically and
// joined, group ids taken directly.
func ThreadID(key ConversationKey, selfUID string) string {
	switch key.Kind {
	case KindDM:
		ids := []string{selfUID, key.ID}
		sort.Strings(ids)
		return "dm_" + ids[0] + "_" + ids[1]
	case KindGroup:
		return "group_" + key.ID
	}
	return ""
}

// RoomID maps a key to the realtime room name, which happens to share the
// thread identifier's shape.
func RoomID(key ConversationKey, selfUID string) string {
	return ThreadID(key, selfUID)
}
