package chatkit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeAPI struct {
	mu      sync.Mutex
	users   []User
	groups  []Group
	history map[ConversationKey][]Message
	unread  []UnreadItem

	historyErr error

	historyCalls  []ConversationKey
	markReadCalls []string
	deleteCalls   []ConversationKey
}

func (f *fakeAPI) ListUsers(ctx context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, nil
}

func (f *fakeAPI) ListGroups(ctx context.Context) ([]Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, nil
}

func (f *fakeAPI) HistoryDM(ctx context.Context, otherUID string) ([]Message, error) {
	return f.historyFor(DMKey(otherUID))
}

func (f *fakeAPI) HistoryGroup(ctx context.Context, groupID string) ([]Message, error) {
	return f.historyFor(GroupKey(groupID))
}

func (f *fakeAPI) historyFor(key ConversationKey) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls = append(f.historyCalls, key)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[key], nil
}

func (f *fakeAPI) Unread(ctx context.Context) ([]UnreadItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, threadID)
	return nil
}

func (f *fakeAPI) DeleteChat(ctx context.Context, key ConversationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, key)
	return nil
}

func (f *fakeAPI) historyCallsFor(key ConversationKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.historyCalls {
		if k == key {
			n++
		}
	}
	return n
}

func (f *fakeAPI) markedRead() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markReadCalls...)
}

type sentMessage struct {
	key  ConversationKey
	text string
}

type fakeTransport struct {
	mu    sync.Mutex
	joins []ConversationKey
	sends []sentMessage
}

func (f *fakeTransport) JoinDM(ctx context.Context, otherUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, DMKey(otherUID))
	return nil
}

func (f *fakeTransport) JoinGroup(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, GroupKey(groupID))
	return nil
}

func (f *fakeTransport) SendDM(ctx context.Context, toUID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{key: DMKey(toUID), text: text})
	return nil
}

func (f *fakeTransport) SendGroup(ctx context.Context, groupID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{key: GroupKey(groupID), text: text})
	return nil
}

func (f *fakeTransport) TypingDM(ctx context.Context, otherUID string, isTyping bool) error {
	return nil
}

func (f *fakeTransport) TypingGroup(ctx context.Context, groupID string, isTyping bool) error {
	return nil
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sends...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []string
}

func (n *fakeNotifier) Toast(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, title+": "+body)
}

func (n *fakeNotifier) Desktop(title, body string) {}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toasts)
}

func newTestEngine(t *testing.T, api *fakeAPI, tr *fakeTransport, notifier *fakeNotifier) *Engine {
	t.Helper()
	if api.history == nil {
		api.history = make(map[ConversationKey][]Message)
	}
	cfg := EngineConfig{
		SelfUID:   "u1",
		API:       api,
		Transport: tr,
	}
	if notifier != nil {
		cfg.Notifications = &NotificationPolicy{Notifier: notifier}
	}
	e := NewEngine(cfg)
	t.Cleanup(e.Stop)
	return e
}

func tabFor(s Snapshot, key ConversationKey) (TabView, bool) {
	for _, tab := range s.Tabs {
		if tab.Key == key {
			return tab, true
		}
	}
	return TabView{}, false
}

// ============================================================================
// Boot
// ============================================================================

func TestLoadUnreadOpensConversations(t *testing.T) {
	api := &fakeAPI{unread: []UnreadItem{
		{Type: KindDM, OtherUID: "u2", ThreadID: "dm_u1_u2", Count: 3},
		{Type: KindGroup, GroupID: "g7", ThreadID: "group_g7", Count: 1},
		{Type: KindDM, OtherUID: "u3", ThreadID: "dm_u1_u3", Count: 0},
	}}
	e := newTestEngine(t, api, &fakeTransport{}, nil)

	if err := e.LoadUnread(context.Background()); err != nil {
		t.Fatalf("LoadUnread failed: %v", err)
	}

	s := e.Snapshot()
	if len(s.Tabs) != 2 {
		t.Fatalf("expected 2 auto-opened conversations, got %d", len(s.Tabs))
	}
	if tab, _ := tabFor(s, DMKey("u2")); tab.Unread != 3 {
		t.Errorf("expected dm:u2 unread 3, got %d", tab.Unread)
	}
	if tab, _ := tabFor(s, GroupKey("g7")); tab.Unread != 1 {
		t.Errorf("expected group:g7 unread 1, got %d", tab.Unread)
	}
	if s.TotalUnread() != 4 {
		t.Errorf("expected total unread 4, got %d", s.TotalUnread())
	}
	if !s.Active.IsZero() {
		t.Errorf("auto-open must not steal focus, active = %s", s.Active)
	}

	// Pure summary application: nothing fetched, nothing marked read.
	if n := api.historyCallsFor(DMKey("u2")); n != 0 {
		t.Errorf("unread summary should not trigger history loads, got %d", n)
	}
	if got := api.markedRead(); len(got) != 0 {
		t.Errorf("unread summary should not mark anything read, got %v", got)
	}
}

func TestLoadDirectoryHealsLabels(t *testing.T) {
	api := &fakeAPI{
		users:  []User{{UID: "u2", Email: "ann@x.io", DisplayName: "Ann"}},
		unread: []UnreadItem{{Type: KindDM, OtherUID: "u2", Count: 1}},
	}
	e := newTestEngine(t, api, &fakeTransport{}, nil)

	e.LoadUnread(context.Background())
	if tab, _ := tabFor(e.Snapshot(), DMKey("u2")); tab.Label != "DM" {
		t.Errorf("expected placeholder label before directory load, got %q", tab.Label)
	}

	e.LoadDirectory(context.Background())
	if tab, _ := tabFor(e.Snapshot(), DMKey("u2")); tab.Label != "Ann" {
		t.Errorf("expected healed label Ann, got %q", tab.Label)
	}
}

// ============================================================================
// Activation
// ============================================================================

func TestActivateResetsUnreadAndMarksRead(t *testing.T) {
	key := DMKey("u2")
	api := &fakeAPI{
		unread: []UnreadItem{{Type: KindDM, OtherUID: "u2", Count: 3}},
		history: map[ConversationKey][]Message{
			key: {
				{Type: KindDM, FromUID: "u2", ToUID: "u1", Text: "hey", TS: 100},
				{Type: KindDM, FromUID: "u1", ToUID: "u2", Text: "hi", TS: 200},
			},
		},
	}
	e := newTestEngine(t, api, &fakeTransport{}, nil)

	e.LoadUnread(context.Background())
	e.Activate(key)

	s := e.Snapshot()
	if s.Active != key {
		t.Fatalf("expected active %s, got %s", key, s.Active)
	}
	if tab, _ := tabFor(s, key); tab.Unread != 0 {
		t.Errorf("activation must reset unread, got %d", tab.Unread)
	}

	waitFor(t, "mark-read call", func() bool {
		for _, id := range api.markedRead() {
			if id == "dm_u1_u2" {
				return true
			}
		}
		return false
	})

	waitFor(t, "history load", func() bool {
		return len(e.Snapshot().Messages) == 2
	})
	s = e.Snapshot()
	if s.Messages[0].Text != "hey" || s.Messages[1].Text != "hi" {
		t.Errorf("history order lost: %+v", s.Messages)
	}
	if !s.Messages[1].Mine {
		t.Error("own history message should render as mine")
	}

	// Re-activation must not refetch.
	e.Activate(DMKey("u3"))
	e.Activate(key)
	time.Sleep(50 * time.Millisecond)
	if n := api.historyCallsFor(key); n != 1 {
		t.Errorf("history should load exactly once, got %d calls", n)
	}
}

func TestHistoryFailureRetriesOnNextActivation(t *testing.T) {
	key := DMKey("u2")
	api := &fakeAPI{
		historyErr: context.DeadlineExceeded,
		history: map[ConversationKey][]Message{
			key: {{Type: KindDM, FromUID: "u2", ToUID: "u1", Text: "late", TS: 1}},
		},
	}
	e := newTestEngine(t, api, &fakeTransport{}, nil)

	e.Activate(key)
	waitFor(t, "failed history attempt", func() bool {
		return api.historyCallsFor(key) == 1
	})
	if len(e.Snapshot().Messages) != 0 {
		t.Fatal("failed load must not populate the log")
	}

	api.mu.Lock()
	api.historyErr = nil
	api.mu.Unlock()

	e.Activate(DMKey("u3"))
	e.Activate(key)
	waitFor(t, "retried history load", func() bool {
		return len(e.Snapshot().Messages) == 1
	})
}

func TestActivateJoinsRoom(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestEngine(t, &fakeAPI{}, tr, nil)

	e.Activate(GroupKey("g7"))
	waitFor(t, "room join", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.joins) == 1 && tr.joins[0] == GroupKey("g7")
	})
}

// ============================================================================
// Live messages
// ============================================================================

func TestHandleMessageActiveConversation(t *testing.T) {
	notifier := &fakeNotifier{}
	e := newTestEngine(t, &fakeAPI{}, &fakeTransport{}, notifier)

	key := DMKey("u2")
	e.Activate(key)
	e.HandleMessage(Message{Type: KindDM, FromUID: "u2", ToUID: "u1", Text: "hello", TS: 100})

	s := e.Snapshot()
	if len(s.Messages) != 1 || s.Messages[0].Text != "hello" {
		t.Fatalf("expected message in active log, got %+v", s.Messages)
	}
	if tab, _ := tabFor(s, key); tab.Unread != 0 {
		t.Errorf("active conversation must not count unread, got %d", tab.Unread)
	}
	if notifier.count() != 0 {
		t.Error("active conversation must not notify")
	}
}

func TestHandleMessageInactiveAutoOpens(t *testing.T) {
	notifier := &fakeNotifier{}
	api := &fakeAPI{}
	e := newTestEngine(t, api, &fakeTransport{}, notifier)

	e.Activate(DMKey("u2"))
	e.HandleMessage(Message{Type: KindGroup, FromUID: "u3", GroupID: "g7", Text: "ping", TS: 100})

	key := GroupKey("g7")
	s := e.Snapshot()
	tab, ok := tabFor(s, key)
	if !ok {
		t.Fatal("live message should auto-open its conversation")
	}
	if tab.Unread != 1 {
		t.Errorf("expected unread 1, got %d", tab.Unread)
	}
	if s.Active != DMKey("u2") {
		t.Errorf("auto-open must not steal focus, active = %s", s.Active)
	}
	waitFor(t, "notification", func() bool { return notifier.count() == 1 })

	// A second inbound message keeps counting up.
	e.HandleMessage(Message{Type: KindGroup, FromUID: "u4", GroupID: "g7", Text: "pong", TS: 200})
	if tab, _ := tabFor(e.Snapshot(), key); tab.Unread != 2 {
		t.Errorf("expected unread 2, got %d", tab.Unread)
	}

	// The live log is already current; activation must not bulk-load over it.
	e.Activate(key)
	time.Sleep(50 * time.Millisecond)
	if n := api.historyCallsFor(key); n != 0 {
		t.Errorf("live-seeded conversation should not fetch history, got %d calls", n)
	}
	s = e.Snapshot()
	if len(s.Messages) != 2 {
		t.Errorf("expected both live messages in log, got %d", len(s.Messages))
	}
	if tab, _ := tabFor(s, key); tab.Unread != 0 {
		t.Errorf("activation must reset unread, got %d", tab.Unread)
	}
}

func TestHandleMessageOwnEcho(t *testing.T) {
	notifier := &fakeNotifier{}
	e := newTestEngine(t, &fakeAPI{}, &fakeTransport{}, notifier)

	e.Activate(DMKey("u2"))
	// Echo of a message sent from another device to a third user.
	e.HandleMessage(Message{Type: KindDM, FromUID: "u1", ToUID: "u3", Text: "fyi", TS: 100})

	s := e.Snapshot()
	tab, ok := tabFor(s, DMKey("u3"))
	if !ok {
		t.Fatal("own echo should still open the conversation")
	}
	if tab.Unread != 0 {
		t.Errorf("own messages never count as unread, got %d", tab.Unread)
	}
	if notifier.count() != 0 {
		t.Error("own messages must not notify")
	}
}

func TestHandleMessageUnkeyableDropped(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, &fakeTransport{}, nil)
	e.HandleMessage(Message{Type: "broadcast", FromUID: "u2", Text: "noise"})
	if n := len(e.Snapshot().Tabs); n != 0 {
		t.Errorf("unkeyable message must be dropped, got %d tabs", n)
	}
}

// ============================================================================
// Registry
// ============================================================================

func TestCloseConversation(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, &fakeTransport{}, nil)

	e.Open(DMKey("u2"), "")
	e.Activate(GroupKey("g7"))

	e.Close(GroupKey("g7"))
	s := e.Snapshot()
	if !s.Active.IsZero() {
		t.Errorf("closing the active conversation must clear focus, active = %s", s.Active)
	}
	if _, ok := tabFor(s, GroupKey("g7")); ok {
		t.Error("closed conversation still present")
	}
	if _, ok := tabFor(s, DMKey("u2")); !ok {
		t.Error("unrelated conversation was dropped")
	}

	// Closing twice is a no-op.
	e.Close(GroupKey("g7"))
}

func TestOpenIsIdempotent(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, &fakeTransport{}, nil)

	e.Open(DMKey("u2"), "Ann")
	e.HandleMessage(Message{Type: KindDM, FromUID: "u2", ToUID: "u1", Text: "hi", TS: 1})
	e.Open(DMKey("u2"), "Ann")

	s := e.Snapshot()
	if len(s.Tabs) != 1 {
		t.Fatalf("expected a single tab, got %d", len(s.Tabs))
	}
	if tab, _ := tabFor(s, DMKey("u2")); tab.Unread != 1 {
		t.Errorf("re-open must not disturb state, unread = %d", tab.Unread)
	}
}

func TestSoftDeleteClearsLog(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, &fakeTransport{}, nil)

	key := DMKey("u2")
	e.Activate(key)
	e.HandleMessage(Message{Type: KindDM, FromUID: "u2", ToUID: "u1", Text: "old", TS: 1})

	if err := e.SoftDelete(context.Background(), key); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	s := e.Snapshot()
	if len(s.Messages) != 0 {
		t.Errorf("soft delete must clear the cached log, got %d messages", len(s.Messages))
	}
	if _, ok := tabFor(s, key); !ok {
		t.Error("soft delete must keep the conversation open")
	}
	api.mu.Lock()
	calls := len(api.deleteCalls)
	api.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected one delete call, got %d", calls)
	}
}

// ============================================================================
// Sending
// ============================================================================

func TestSend(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestEngine(t, &fakeAPI{}, tr, nil)

	if err := e.Send(context.Background(), "orphan"); err == nil {
		t.Error("send with no active conversation should fail")
	}

	e.Activate(DMKey("u2"))

	if err := e.Send(context.Background(), "   "); err != nil {
		t.Errorf("blank send should be a silent no-op, got %v", err)
	}
	if err := e.Send(context.Background(), "  hi there  "); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sent := tr.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sent))
	}
	if sent[0].key != DMKey("u2") || sent[0].text != "hi there" {
		t.Errorf("unexpected delivery: %+v", sent[0])
	}

	// No optimistic append; the echo on the room is the source of truth.
	if n := len(e.Snapshot().Messages); n != 0 {
		t.Errorf("send must not append locally, got %d messages", n)
	}
}

// ============================================================================
// Typing and presence
// ============================================================================

func TestHandleTypingRendersLine(t *testing.T) {
	api := &fakeAPI{users: []User{
		{UID: "u2", DisplayName: "Ann"},
		{UID: "u3", DisplayName: "Bob"},
	}}
	e := newTestEngine(t, api, &fakeTransport{}, nil)
	e.LoadDirectory(context.Background())

	e.Activate(GroupKey("g7"))
	e.HandleTyping(TypingUpdate{Type: KindGroup, GroupID: "g7", FromUID: "u2", IsTyping: true})

	if got := e.Snapshot().TypingLine; got != "Ann is typing…" {
		t.Errorf("expected single-peer line, got %q", got)
	}

	e.HandleTyping(TypingUpdate{Type: KindGroup, GroupID: "g7", FromUID: "u3", IsTyping: true})
	if got := e.Snapshot().TypingLine; got != "Ann and Bob are typing…" {
		t.Errorf("expected two-peer line, got %q", got)
	}

	e.HandleTyping(TypingUpdate{Type: KindGroup, GroupID: "g7", FromUID: "u2", IsTyping: false})
	if got := e.Snapshot().TypingLine; got != "Bob is typing…" {
		t.Errorf("expected Bob alone, got %q", got)
	}

	// The local user's own echo is ignored.
	e.HandleTyping(TypingUpdate{Type: KindGroup, GroupID: "g7", FromUID: "u1", IsTyping: true})
	if got := e.Snapshot().TypingLine; got != "Bob is typing…" {
		t.Errorf("own typing echo must be dropped, got %q", got)
	}
}

func TestHandlePresenceUpdatesSubtitle(t *testing.T) {
	api := &fakeAPI{users: []User{{UID: "u2", DisplayName: "Ann"}}}
	e := newTestEngine(t, api, &fakeTransport{}, nil)
	e.LoadDirectory(context.Background())

	e.Activate(DMKey("u2"))
	if s := e.Snapshot(); s.Subtitle != "Not available" {
		t.Errorf("expected Not available, got %q", s.Subtitle)
	}

	e.HandlePresence(PresenceUpdate{UID: "u2", Online: true})
	s := e.Snapshot()
	if s.Subtitle != "Available" {
		t.Errorf("expected Available, got %q", s.Subtitle)
	}
	for _, u := range s.Users {
		if u.UID == "u2" && !u.Online {
			t.Error("user list should reflect presence")
		}
	}
}
