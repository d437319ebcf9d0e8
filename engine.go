package chatkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Collaborator interfaces
// ============================================================================

// API is the request/response surface the engine pulls from: directory,
// history, and read-state. *Client satisfies it.
type API interface {
	ListUsers(ctx context.Context) ([]User, error)
	ListGroups(ctx context.Context) ([]Group, error)
	HistoryDM(ctx context.Context, otherUID string) ([]Message, error)
	HistoryGroup(ctx context.Context, groupID string) ([]Message, error)
	Unread(ctx context.Context) ([]UnreadItem, error)
	MarkRead(ctx context.Context, threadID string) error
	DeleteChat(ctx context.Context, key ConversationKey) error
}

// Transport is the outbound half of the live session. *Session satisfies it.
type Transport interface {
	JoinDM(ctx context.Context, otherUID string) error
	JoinGroup(ctx context.Context, groupID string) error
	SendDM(ctx context.Context, toUID, text string) error
	SendGroup(ctx context.Context, groupID, text string) error
	TypingDM(ctx context.Context, otherUID string, isTyping bool) error
	TypingGroup(ctx context.Context, groupID string, isTyping bool) error
}

var (
	_ API       = (*Client)(nil)
	_ Transport = (*Session)(nil)
)

// ============================================================================
// Engine
// ============================================================================

// EngineConfig configures a conversation engine.
type EngineConfig struct {
	// SelfUID identifies the local user; DM keying depends on it.
	SelfUID string

	API       API
	Transport Transport

	// Notifications is consulted for inbound messages addressed to inactive
	// conversations. Nil disables alerts; unread counting is unaffected.
	Notifications *NotificationPolicy

	Typing TypingIntervals

	// OnUpdate receives a fresh Snapshot after every state change. It runs
	// on the engine's command loop and must not call back into the engine;
	// hand the snapshot off (e.g. into a UI event queue) and return.
	OnUpdate func(Snapshot)

	// CallTimeout bounds background REST calls (history, mark-read).
	// Defaults to 15s.
	CallTimeout time.Duration
}

// conversation is one open entry of the registry.
type conversation struct {
	Key           ConversationKey
	Label         string
	Unread        int
	HistoryLoaded bool
	Log           []Message
}

// Engine owns the set of open conversations, routes live events to them,
// reconciles unread counts with the server's read cursor, and tracks typing
// presence. Every state transition executes on a single command loop, so
// interleaved inputs (user actions, resolved fetches, pushed events, timer
// fires) are applied in a total order.
type Engine struct {
	cfg  EngineConfig
	cmds chan func()
	quit chan struct{}
	stop sync.Once

	// Owned by the command loop.
	reg    map[ConversationKey]*conversation
	order  []ConversationKey
	active ConversationKey
	typing *typingTracker
	dir    Directory
}

// NewEngine creates and starts an engine. Call Stop to shut it down.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	e := &Engine{
		cfg:  cfg,
		cmds: make(chan func()),
		quit: make(chan struct{}),
		reg:  make(map[ConversationKey]*conversation),
	}
	e.typing = newTypingTracker(cfg.Typing, e.emitTyping, e.do)
	go e.loop()
	return e
}

func (e *Engine) loop() {
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			return
		}
	}
}

// do executes fn on the command loop and waits for it. After Stop it is a
// no-op, which lets late timer and socket callbacks drain harmlessly.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.quit:
		return
	}
	select {
	case <-done:
	case <-e.quit:
	}
}

// Stop cancels all timers and halts the command loop.
func (e *Engine) Stop() {
	e.stop.Do(func() {
		e.do(func() { e.typing.stopAll() })
		close(e.quit)
	})
}

// Bind subscribes the engine to a session's inbound events.
func (e *Engine) Bind(s *Session) {
	s.OnNewMessage(e.HandleMessage)
	s.OnTyping(e.HandleTyping)
	s.OnPresence(e.HandlePresence)
}

func (e *Engine) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.CallTimeout)
}

// ============================================================================
// Boot-time pulls
// ============================================================================

// LoadDirectory refreshes the user and group directory. Registry labels that
// were placeholders are healed from the fresh data.
func (e *Engine) LoadDirectory(ctx context.Context) error {
	users, err := e.cfg.API.ListUsers(ctx)
	if err != nil {
		return err
	}
	groups, err := e.cfg.API.ListGroups(ctx)
	if err != nil {
		return err
	}
	e.do(func() {
		e.dir.SetUsers(users)
		e.dir.SetGroups(groups)
		e.refreshLabels()
		e.render()
	})
	return nil
}

// LoadUnread pulls the persisted unread summary and applies it, auto-opening
// conversations the server reports unread for. History is not loaded and
// nothing is marked read; both wait for an explicit activation.
func (e *Engine) LoadUnread(ctx context.Context) error {
	items, err := e.cfg.API.Unread(ctx)
	if err != nil {
		return err
	}
	e.do(func() {
		for _, it := range items {
			if it.Count <= 0 {
				continue
			}
			key, ok := KeyForUnread(it)
			if !ok {
				continue
			}
			c := e.open(key, "")
			c.Unread = it.Count
		}
		e.render()
	})
	return nil
}

// ============================================================================
// Registry operations
// ============================================================================

// Open inserts a conversation into the registry if absent. The label hint is
// used when the directory cannot resolve one yet; opening an already open
// conversation is a no-op.
func (e *Engine) Open(key ConversationKey, labelHint string) {
	e.do(func() {
		e.open(key, labelHint)
		e.render()
	})
}

func (e *Engine) open(key ConversationKey, labelHint string) *conversation {
	if c, ok := e.reg[key]; ok {
		return c
	}
	label := labelHint
	if label == "" {
		label, _ = e.dir.LabelFor(key)
	}
	c := &conversation{Key: key, Label: label}
	e.reg[key] = c
	e.order = append(e.order, key)
	return c
}

// Close removes a conversation, its message log, and its typing state. If it
// was active, the foreground view is reset to "no conversation".
func (e *Engine) Close(key ConversationKey) {
	e.do(func() {
		if _, ok := e.reg[key]; !ok {
			return
		}
		delete(e.reg, key)
		for i, k := range e.order {
			if k == key {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
		e.typing.clearConversation(key)
		if e.active == key {
			e.active = ConversationKey{}
		}
		e.render()
	})
}

// Activate brings a conversation to the foreground, opening it if needed.
// The unread count resets immediately; read-state persistence, the room
// join, and the one-time history load all run in the background so the
// caller never blocks on the network.
func (e *Engine) Activate(key ConversationKey) {
	e.do(func() { e.activate(key) })
}

func (e *Engine) activate(key ConversationKey) {
	if !e.active.IsZero() && e.active != key {
		e.typing.stopLocal(e.active)
	}

	c := e.open(key, "")
	e.active = key
	c.Unread = 0

	// The view is rebuilt for the new key before any async work starts, so
	// a slow fetch for the previous key can never paint into this one.
	e.render()

	go e.markRead(key)
	go e.join(key)
	if !c.HistoryLoaded {
		go e.loadHistory(key)
	}
}

// markRead persists the read cursor. Best-effort: a failure must not undo
// the local unread reset.
func (e *Engine) markRead(key ConversationKey) {
	ctx, cancel := e.callCtx()
	defer cancel()
	_ = e.cfg.API.MarkRead(ctx, ThreadID(key, e.cfg.SelfUID))
}

func (e *Engine) join(key ConversationKey) {
	tr := e.cfg.Transport
	if tr == nil {
		return
	}
	ctx, cancel := e.callCtx()
	defer cancel()
	switch key.Kind {
	case KindDM:
		_ = tr.JoinDM(ctx, key.ID)
	case KindGroup:
		_ = tr.JoinGroup(ctx, key.ID)
	}
}

// loadHistory performs the one-time bulk load for a key. The result replaces
// the cached log only if no load has completed yet, so it cannot stomp live
// appends in an already loaded conversation; on failure HistoryLoaded stays
// false and the next activation retries.
func (e *Engine) loadHistory(key ConversationKey) {
	ctx, cancel := e.callCtx()
	defer cancel()

	var msgs []Message
	var err error
	switch key.Kind {
	case KindDM:
		msgs, err = e.cfg.API.HistoryDM(ctx, key.ID)
	case KindGroup:
		msgs, err = e.cfg.API.HistoryGroup(ctx, key.ID)
	default:
		return
	}
	if err != nil {
		return
	}

	e.do(func() {
		c, ok := e.reg[key]
		if !ok || c.HistoryLoaded {
			return
		}
		c.Log = append([]Message(nil), msgs...)
		c.HistoryLoaded = true
		e.render()
	})
}

// SoftDelete hides a conversation's history for the local user. On server
// confirmation the cached log is cleared; the conversation stays open.
func (e *Engine) SoftDelete(ctx context.Context, key ConversationKey) error {
	if err := e.cfg.API.DeleteChat(ctx, key); err != nil {
		return err
	}
	e.do(func() {
		if c, ok := e.reg[key]; ok {
			c.Log = nil
			e.render()
		}
	})
	return nil
}

// ============================================================================
// Inbound events
// ============================================================================

// HandleMessage routes a live message to its conversation, auto-opening it
// when unknown, and applies the unread/notification policy.
func (e *Engine) HandleMessage(msg Message) {
	key, ok := KeyForMessage(msg, e.cfg.SelfUID)
	if !ok {
		return
	}
	e.do(func() {
		c, open := e.reg[key]
		if !open {
			c = e.open(key, "")
			// A conversation seeded by a live message keeps accumulating
			// live traffic; there is nothing older worth bulk-loading this
			// session, so activation will not fetch.
			c.HistoryLoaded = true
		}

		c.Log = append(c.Log, msg)

		mine := msg.FromUID == e.cfg.SelfUID
		if key == e.active {
			e.render()
			return
		}
		if !mine {
			c.Unread++
			if e.cfg.Notifications != nil {
				e.cfg.Notifications.Deliver(c.Label, msg.Text)
			}
		}
		e.render()
	})
}

// HandleTyping applies a remote typing update. Updates echoing the local
// user are dropped.
func (e *Engine) HandleTyping(ev TypingUpdate) {
	if ev.FromUID == e.cfg.SelfUID {
		return
	}
	var key ConversationKey
	switch ev.Type {
	case KindDM:
		key = DMKey(ev.FromUID)
	case KindGroup:
		if ev.GroupID == "" {
			return
		}
		key = GroupKey(ev.GroupID)
	default:
		return
	}
	e.do(func() {
		e.typing.setPeer(key, ev.FromUID, ev.IsTyping)
		e.render()
	})
}

// HandlePresence updates a user's online flag in the directory.
func (e *Engine) HandlePresence(ev PresenceUpdate) {
	e.do(func() {
		e.dir.SetPresence(ev.UID, ev.Online)
		e.render()
	})
}

// ============================================================================
// Local user actions
// ============================================================================

// Keystroke reports one local input event in the composer. Emission of the
// typing signal is rate-limited; silence emits typing=false.
func (e *Engine) Keystroke() {
	e.do(func() {
		if e.active.IsZero() {
			return
		}
		e.typing.keystroke(e.active)
	})
}

// Send delivers text to the active conversation. There is no optimistic
// append: the message shows up when the server echoes it back on the room.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var key ConversationKey
	e.do(func() { key = e.active })
	if key.IsZero() {
		return fmt.Errorf("no active conversation")
	}
	tr := e.cfg.Transport
	if tr == nil {
		return fmt.Errorf("no live session")
	}

	var err error
	switch key.Kind {
	case KindDM:
		err = tr.SendDM(ctx, key.ID, text)
	case KindGroup:
		err = tr.SendGroup(ctx, key.ID, text)
	}
	if err != nil {
		return err
	}

	e.do(func() { e.typing.stopLocal(key) })
	return nil
}

// ============================================================================
// Projection
// ============================================================================

// Snapshot returns a consistent projection of the current state.
func (e *Engine) Snapshot() Snapshot {
	var s Snapshot
	e.do(func() { s = e.snapshot() })
	return s
}

func (e *Engine) render() {
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate(e.snapshot())
	}
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{Active: e.active}

	for _, key := range e.order {
		c := e.reg[key]
		s.Tabs = append(s.Tabs, TabView{
			Key:    key,
			Label:  c.Label,
			Unread: c.Unread,
			Active: key == e.active,
		})
	}

	for _, u := range e.dir.Users() {
		if u.UID == e.cfg.SelfUID {
			continue
		}
		unread := 0
		if c, ok := e.reg[DMKey(u.UID)]; ok {
			unread = c.Unread
		}
		s.Users = append(s.Users, UserView{
			UID:    u.UID,
			Label:  UserLabel(u),
			Email:  u.Email,
			Online: u.Online,
			Unread: unread,
		})
	}
	for _, g := range e.dir.Groups() {
		unread := 0
		if c, ok := e.reg[GroupKey(g.GroupID)]; ok {
			unread = c.Unread
		}
		s.Groups = append(s.Groups, GroupView{
			GroupID: g.GroupID,
			Name:    g.Name,
			Members: len(g.Members),
			Unread:  unread,
		})
	}

	if c, ok := e.reg[e.active]; ok {
		switch e.active.Kind {
		case KindDM:
			s.Title = c.Label
			if u, found := e.dir.UserByID(e.active.ID); found && u.Online {
				s.Subtitle = "Available"
			} else {
				s.Subtitle = "Not available"
			}
		case KindGroup:
			s.Title = "# " + c.Label
			if g, found := e.dir.GroupByID(e.active.ID); found {
				s.Subtitle = fmt.Sprintf("%d members", len(g.Members))
			}
		}

		for _, m := range c.Log {
			s.Messages = append(s.Messages, MessageView{
				Sender: e.dir.PeerLabel(m.FromUID),
				Text:   m.Text,
				Time:   time.UnixMilli(m.TS),
				Mine:   m.FromUID == e.cfg.SelfUID,
			})
		}

		peers := e.typing.peersOf(e.active)
		names := make([]string, 0, len(peers))
		for _, uid := range peers {
			names = append(names, e.dir.PeerLabel(uid))
		}
		s.TypingLine = TypingLine(names)
	}

	return s
}

func (e *Engine) refreshLabels() {
	for _, key := range e.order {
		if label, ok := e.dir.LabelFor(key); ok {
			e.reg[key].Label = label
		}
	}
}

// emitTyping pushes the local user's typing state over the live session,
// best-effort and off the command loop.
func (e *Engine) emitTyping(key ConversationKey, isTyping bool) {
	tr := e.cfg.Transport
	if tr == nil {
		return
	}
	go func() {
		ctx, cancel := e.callCtx()
		defer cancel()
		switch key.Kind {
		case KindDM:
			_ = tr.TypingDM(ctx, key.ID, isTyping)
		case KindGroup:
			_ = tr.TypingGroup(ctx, key.ID, isTyping)
		}
	}()
}
