package chatkit

import "strings"

// ============================================================================
// Conversation Directory
// ============================================================================

// Placeholder labels used while directory data lags behind live events.
// A missing label is a display defect only; it never drops a message.
const (
	placeholderDM    = "DM"
	placeholderGroup = "Group"
	placeholderPeer  = "Someone"
)

// Directory maps every known conversation counterpart to display metadata.
// It is owned by the engine and refreshed from the user/group list endpoints;
// the registry only reads it to resolve labels and presence.
type Directory struct {
	users  []User
	groups []Group
}

// SetUsers replaces the user snapshot.
func (d *Directory) SetUsers(users []User) {
	d.users = users
}

// SetGroups replaces the group snapshot.
func (d *Directory) SetGroups(groups []Group) {
	d.groups = groups
}

// Users returns the current user snapshot.
func (d *Directory) Users() []User { return d.users }

// Groups returns the current group snapshot.
func (d *Directory) Groups() []Group { return d.groups }

// UserByID looks up a user by uid.
func (d *Directory) UserByID(uid string) (User, bool) {
	for _, u := range d.users {
		if u.UID == uid {
			return u, true
		}
	}
	return User{}, false
}

// GroupByID looks up a group by id.
func (d *Directory) GroupByID(id string) (Group, bool) {
	for _, g := range d.groups {
		if g.GroupID == id {
			return g, true
		}
	}
	return Group{}, false
}

// SetPresence updates a user's online flag in place. Unknown uids are
// ignored; a later directory refresh will pick them up.
func (d *Directory) SetPresence(uid string, online bool) {
	for i := range d.users {
		if d.users[i].UID == uid {
			d.users[i].Online = online
			return
		}
	}
}

// LabelFor resolves the display label of a conversation. The second return
// is false when the directory has no entry yet and a placeholder was used.
func (d *Directory) LabelFor(key ConversationKey) (string, bool) {
	switch key.Kind {
	case KindDM:
		if u, ok := d.UserByID(key.ID); ok {
			return UserLabel(u), true
		}
		return placeholderDM, false
	case KindGroup:
		if g, ok := d.GroupByID(key.ID); ok {
			return g.Name, true
		}
		return placeholderGroup, false
	}
	return "", false
}

// PeerLabel resolves a uid for the typing line, degrading to a generic name.
func (d *Directory) PeerLabel(uid string) string {
	if u, ok := d.UserByID(uid); ok {
		return UserLabel(u)
	}
	return placeholderPeer
}

// UserLabel picks the best display string for a user: explicit display name,
// then the email local part, then the raw uid.
func UserLabel(u User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		if at := strings.IndexByte(u.Email, '@'); at > 0 {
			return u.Email[:at]
		}
		return u.Email
	}
	return u.UID
}

// NameFromEmail derives a friendly name from an email address: the local
// part is split on separators and each word capitalized, "jane.doe@x.com"
// becoming "Jane Doe".
func NameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	if local == "" {
		return ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
	if len(parts) == 0 {
		return local
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
