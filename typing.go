package chatkit

import "time"

// ============================================================================
// Typing Presence Tracker
// ============================================================================

// TypingIntervals tunes the typing state machine. Zero values take the
// defaults; tests shrink them.
type TypingIntervals struct {
	// Quiet is the minimum gap between two typing=true emissions for the
	// local user. Input inside the window is suppressed, not queued.
	Quiet time.Duration
	// Idle is the silence after the last keystroke before typing=false.
	Idle time.Duration
	// RemoteTTL bounds how long a remote peer may appear as typing without
	// a fresh update, covering a lost explicit typing=false.
	RemoteTTL time.Duration
}

func (iv *TypingIntervals) defaults() {
	if iv.Quiet == 0 {
		iv.Quiet = 400 * time.Millisecond
	}
	if iv.Idle == 0 {
		iv.Idle = 900 * time.Millisecond
	}
	if iv.RemoteTTL == 0 {
		iv.RemoteTTL = 3500 * time.Millisecond
	}
}

type peerRef struct {
	key ConversationKey
	uid string
}

// typingTracker keeps per-conversation sets of remotely typing peers and
// debounces the local user's own typing signal. All methods run on the
// engine's command loop; timer callbacks re-enter through post.
type typingTracker struct {
	iv    TypingIntervals
	peers map[ConversationKey][]string

	// Remote safety expiry, one cancellable timer per (conversation, peer).
	// The generation counter makes cancel-and-restart atomic: a fired timer
	// whose generation no longer matches is a no-op.
	expiry    map[peerRef]*time.Timer
	expiryGen map[peerRef]int

	// Local debounce state. A single idle-fallback timer is live at a time;
	// each keystroke restarts it.
	lastSent time.Time
	idle     *time.Timer
	idleGen  int

	emit func(key ConversationKey, isTyping bool)
	post func(fn func())
}

func newTypingTracker(iv TypingIntervals, emit func(ConversationKey, bool), post func(func())) *typingTracker {
	iv.defaults()
	return &typingTracker{
		iv:        iv,
		peers:     make(map[ConversationKey][]string),
		expiry:    make(map[peerRef]*time.Timer),
		expiryGen: make(map[peerRef]int),
		emit:      emit,
		post:      post,
	}
}

// ----------------------------------------------------------------------------
// Local user
// ----------------------------------------------------------------------------

// keystroke handles one local input event while key is the active
// conversation: rate-limited typing=true now, typing=false after silence.
func (t *typingTracker) keystroke(key ConversationKey) {
	now := time.Now()
	if now.Sub(t.lastSent) > t.iv.Quiet {
		t.lastSent = now
		t.emit(key, true)
	}

	if t.idle != nil {
		t.idle.Stop()
	}
	t.idleGen++
	gen := t.idleGen
	t.idle = time.AfterFunc(t.iv.Idle, func() {
		t.post(func() {
			if gen != t.idleGen {
				return
			}
			t.idle = nil
			t.emit(key, false)
		})
	})
}

// stopLocal immediately emits typing=false for key, bypassing the quiet
// interval. Used on message send and on switching away from a conversation;
// a no-op when no typing signal is outstanding.
func (t *typingTracker) stopLocal(key ConversationKey) {
	if t.idle == nil {
		return
	}
	t.idle.Stop()
	t.idle = nil
	t.idleGen++
	t.lastSent = time.Time{}
	t.emit(key, false)
}

// ----------------------------------------------------------------------------
// Remote peers
// ----------------------------------------------------------------------------

// setPeer applies a remote typing update and, for typing=true, (re)arms the
// safety expiry for that peer.
func (t *typingTracker) setPeer(key ConversationKey, uid string, isTyping bool) {
	ref := peerRef{key: key, uid: uid}

	if !isTyping {
		t.removePeer(key, uid)
		if timer, ok := t.expiry[ref]; ok {
			timer.Stop()
			delete(t.expiry, ref)
		}
		t.expiryGen[ref]++
		return
	}

	t.addPeer(key, uid)

	if timer, ok := t.expiry[ref]; ok {
		timer.Stop()
	}
	t.expiryGen[ref]++
	gen := t.expiryGen[ref]
	t.expiry[ref] = time.AfterFunc(t.iv.RemoteTTL, func() {
		t.post(func() {
			if gen != t.expiryGen[ref] {
				return
			}
			delete(t.expiry, ref)
			t.removePeer(key, uid)
		})
	})
}

func (t *typingTracker) addPeer(key ConversationKey, uid string) {
	for _, p := range t.peers[key] {
		if p == uid {
			return
		}
	}
	t.peers[key] = append(t.peers[key], uid)
}

func (t *typingTracker) removePeer(key ConversationKey, uid string) {
	set := t.peers[key]
	for i, p := range set {
		if p == uid {
			t.peers[key] = append(set[:i], set[i+1:]...)
			return
		}
	}
}

// peersOf returns the peers currently typing in key, in arrival order.
func (t *typingTracker) peersOf(key ConversationKey) []string {
	return t.peers[key]
}

// clearConversation drops all typing state for a closed conversation.
func (t *typingTracker) clearConversation(key ConversationKey) {
	delete(t.peers, key)
	for ref, timer := range t.expiry {
		if ref.key == key {
			timer.Stop()
			delete(t.expiry, ref)
			t.expiryGen[ref]++
		}
	}
}

// stopAll cancels every outstanding timer. Called on engine shutdown.
func (t *typingTracker) stopAll() {
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.idleGen++
	for ref, timer := range t.expiry {
		timer.Stop()
		delete(t.expiry, ref)
		t.expiryGen[ref]++
	}
}

// ----------------------------------------------------------------------------
// Rendering
// ----------------------------------------------------------------------------

// TypingLine renders the typing indicator for a list of display names.
func TypingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return names[0] + " and others are typing…"
	}
}
