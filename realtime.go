package chatkit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// TokenSource supplies the auth token presented when the live session is
// established (and re-established). It may block on a token refresh.
type TokenSource func(ctx context.Context) (string, error)

// RealtimeConfig configures the live session.
type RealtimeConfig struct {
	// Token is used verbatim when TokenSource is nil.
	Token                string
	TokenSource          TokenSource
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.TokenSource == nil {
		token := c.Token
		c.TokenSource = func(context.Context) (string, error) { return token, nil }
	}
}

// SessionState represents the connection state.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateReconnecting SessionState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onPresence     []func(PresenceUpdate)
	onTyping       []func(TypingUpdate)
	onNewMessage   []func(Message)
	onJoined       []func(RoomJoined)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case "presence_update":
		var p PresenceUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onPresence {
				h(p)
			}
		}
	case "typing_update":
		var p TypingUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case "new_message":
		var m Message
		if json.Unmarshal(env.Data, &m) == nil {
			for _, h := range d.onNewMessage {
				h(m)
			}
		}
	case "joined_room":
		var r RoomJoined
		if json.Unmarshal(env.Data, &r) == nil {
			for _, h := range d.onJoined {
				h(r)
			}
		}
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Session
// ============================================================================

// Session is the single live connection to the chat service. All open
// conversations multiplex over it; it is created lazily, once, per client
// lifetime via Client.Realtime.
type Session struct {
	baseURL          string
	config           *RealtimeConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            SessionState
	intentionalClose bool
	dispatcher       *eventDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
}

// Realtime returns the client's live session, creating it on first use.
// Later calls return the same session regardless of config.
func (c *Client) Realtime(config *RealtimeConfig) *Session {
	c.rtOnce.Do(func() {
		cfg := RealtimeConfig{}
		if config != nil {
			cfg = *config
		}
		if cfg.Token == "" && cfg.TokenSource == nil {
			cfg.Token = c.token
		}
		cfg.defaults()
		c.rt = &Session{
			baseURL:    c.baseURL,
			config:     &cfg,
			state:      StateDisconnected,
			dispatcher: &eventDispatcher{},
			recon:      newReconnector(&cfg),
		}
	})
	return c.rt
}

// OnPresence registers a handler for presence updates.
func (s *Session) OnPresence(h func(PresenceUpdate)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onPresence = append(s.dispatcher.onPresence, h)
	s.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for remote typing updates.
func (s *Session) OnTyping(h func(TypingUpdate)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onTyping = append(s.dispatcher.onTyping, h)
	s.dispatcher.mu.Unlock()
}

// OnNewMessage registers a handler for live messages.
func (s *Session) OnNewMessage(h func(Message)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onNewMessage = append(s.dispatcher.onNewMessage, h)
	s.dispatcher.mu.Unlock()
}

// OnJoined registers a handler for room-join acknowledgements.
func (s *Session) OnJoined(h func(RoomJoined)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onJoined = append(s.dispatcher.onJoined, h)
	s.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (s *Session) OnConnected(h func()) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onConnected = append(s.dispatcher.onConnected, h)
	s.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (s *Session) OnDisconnected(h func(reason string)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onDisconnected = append(s.dispatcher.onDisconnected, h)
	s.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (s *Session) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onReconnecting = append(s.dispatcher.onReconnecting, h)
	s.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the websocket connection, authenticating it with the
// token from the configured source.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	token, err := s.config.TokenSource(ctx)
	if err != nil {
		s.setDisconnected()
		return &TransportError{Op: "auth token", Err: err}
	}

	wsURL := strings.Replace(s.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		s.setDisconnected()
		return &TransportError{Op: "websocket dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()
	s.recon.markConnected()
	s.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	go s.readLoop(connCtx)
	return nil
}

func (s *Session) setDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Disconnect gracefully closes the connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	s.dispatcher.emitDisconnected("client disconnect")
	return nil
}

// ============================================================================
// Outbound commands
// ============================================================================

// JoinDM subscribes the session to a direct conversation's room.
func (s *Session) JoinDM(ctx context.Context, otherUID string) error {
	return s.send(ctx, "join_dm", map[string]string{"other_uid": otherUID})
}

// JoinGroup subscribes the session to a group's room.
func (s *Session) JoinGroup(ctx context.Context, groupID string) error {
	return s.send(ctx, "join_group", map[string]string{"group_id": groupID})
}

// SendDM sends a direct message. The delivered copy comes back as a
// new_message event on the room, including to the sender.
func (s *Session) SendDM(ctx context.Context, toUID, text string) error {
	return s.send(ctx, "send_dm", map[string]string{"to_uid": toUID, "text": text})
}

// SendGroup sends a group message.
func (s *Session) SendGroup(ctx context.Context, groupID, text string) error {
	return s.send(ctx, "send_group", map[string]string{"group_id": groupID, "text": text})
}

// TypingDM reports the local user's typing state for a DM.
func (s *Session) TypingDM(ctx context.Context, otherUID string, isTyping bool) error {
	return s.send(ctx, "typing_dm", map[string]interface{}{
		"other_uid": otherUID,
		"is_typing": isTyping,
	})
}

// TypingGroup reports the local user's typing state for a group.
func (s *Session) TypingGroup(ctx context.Context, groupID string, isTyping bool) error {
	return s.send(ctx, "typing_group", map[string]interface{}{
		"group_id":  groupID,
		"is_typing": isTyping,
	})
}

func (s *Session) send(ctx context.Context, event string, data interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return &TransportError{Op: event, Err: fmt.Errorf("not connected")}
	}

	payload, err := json.Marshal(&Command{
		Event:     event,
		Data:      data,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return &TransportError{Op: event, Err: err}
	}
	return nil
}

// ============================================================================
// Read loop
// ============================================================================

func (s *Session) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			s.mu.Unlock()
			if intentional {
				return
			}

			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()

			s.dispatcher.emitDisconnected(err.Error())

			if s.config.AutoReconnect && s.recon.shouldReconnect() {
				s.scheduleReconnect(ctx)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		s.dispatcher.dispatch(env)
	}
}

func (s *Session) scheduleReconnect(ctx context.Context) {
	delay := s.recon.nextDelay()
	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()

	s.dispatcher.emitReconnecting(s.recon.attempt, delay)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		s.setDisconnected()
		return
	}

	if err := s.Connect(context.Background()); err != nil {
		if s.config.AutoReconnect && s.recon.shouldReconnect() {
			s.scheduleReconnect(ctx)
		} else {
			s.setDisconnected()
		}
	}
}
