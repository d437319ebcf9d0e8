package chatkit

import (
	"sync"
	"testing"
	"time"
)

type typingEmission struct {
	key    ConversationKey
	typing bool
}

// trackerHarness serializes tracker access the way the engine's command loop
// does, and records every emitted typing signal.
type trackerHarness struct {
	mu sync.Mutex
	tr *typingTracker

	recMu sync.Mutex
	rec   []typingEmission
}

func newTrackerHarness(iv TypingIntervals) *trackerHarness {
	h := &trackerHarness{}
	emit := func(key ConversationKey, typing bool) {
		h.recMu.Lock()
		h.rec = append(h.rec, typingEmission{key: key, typing: typing})
		h.recMu.Unlock()
	}
	post := func(fn func()) {
		h.mu.Lock()
		fn()
		h.mu.Unlock()
	}
	h.tr = newTypingTracker(iv, emit, post)
	return h
}

func (h *trackerHarness) run(fn func(*typingTracker)) {
	h.mu.Lock()
	fn(h.tr)
	h.mu.Unlock()
}

func (h *trackerHarness) emissions() []typingEmission {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	return append([]typingEmission(nil), h.rec...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// Local debounce
// ============================================================================

func TestKeystrokeBurstEmitsOnePair(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     60 * time.Millisecond,
		Idle:      80 * time.Millisecond,
		RemoteTTL: time.Hour,
	})
	key := DMKey("u2")

	for i := 0; i < 5; i++ {
		h.run(func(tr *typingTracker) { tr.keystroke(key) })
	}

	got := h.emissions()
	if len(got) != 1 || !got[0].typing {
		t.Fatalf("burst should emit exactly one typing=true, got %+v", got)
	}

	waitFor(t, "idle typing=false", func() bool {
		return len(h.emissions()) == 2
	})
	got = h.emissions()
	if got[1].typing || got[1].key != key {
		t.Errorf("expected trailing typing=false for %s, got %+v", key, got[1])
	}

	// Quiet after the fallback: nothing further.
	time.Sleep(150 * time.Millisecond)
	if got := h.emissions(); len(got) != 2 {
		t.Errorf("expected no further emissions, got %+v", got)
	}
}

func TestKeystrokeAcrossQuietWindow(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     40 * time.Millisecond,
		Idle:      200 * time.Millisecond,
		RemoteTTL: time.Hour,
	})
	key := DMKey("u2")

	h.run(func(tr *typingTracker) { tr.keystroke(key) })
	time.Sleep(80 * time.Millisecond)
	h.run(func(tr *typingTracker) { tr.keystroke(key) })

	got := h.emissions()
	if len(got) != 2 || !got[0].typing || !got[1].typing {
		t.Fatalf("expected two typing=true emissions across quiet windows, got %+v", got)
	}
}

func TestStopLocal(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     10 * time.Millisecond,
		Idle:      time.Hour,
		RemoteTTL: time.Hour,
	})
	key := GroupKey("g1")

	h.run(func(tr *typingTracker) { tr.keystroke(key) })
	h.run(func(tr *typingTracker) { tr.stopLocal(key) })

	got := h.emissions()
	if len(got) != 2 || !got[0].typing || got[1].typing {
		t.Fatalf("expected [true,false], got %+v", got)
	}

	// With nothing outstanding, stopLocal is silent.
	h.run(func(tr *typingTracker) { tr.stopLocal(key) })
	if got := h.emissions(); len(got) != 2 {
		t.Errorf("stopLocal with no outstanding signal should not emit, got %+v", got)
	}
}

// ============================================================================
// Remote peers
// ============================================================================

func TestRemotePeerLifecycle(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     time.Hour,
		Idle:      time.Hour,
		RemoteTTL: time.Hour,
	})
	key := GroupKey("g1")

	h.run(func(tr *typingTracker) {
		tr.setPeer(key, "u2", true)
		tr.setPeer(key, "u3", true)
		tr.setPeer(key, "u2", true) // duplicate, keeps arrival order
	})

	h.run(func(tr *typingTracker) {
		if got := tr.peersOf(key); len(got) != 2 || got[0] != "u2" || got[1] != "u3" {
			t.Errorf("expected [u2 u3], got %v", got)
		}
	})

	h.run(func(tr *typingTracker) { tr.setPeer(key, "u2", false) })
	h.run(func(tr *typingTracker) {
		if got := tr.peersOf(key); len(got) != 1 || got[0] != "u3" {
			t.Errorf("expected [u3], got %v", got)
		}
	})
}

func TestRemotePeerExpires(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     time.Hour,
		Idle:      time.Hour,
		RemoteTTL: 60 * time.Millisecond,
	})
	key := DMKey("u2")

	h.run(func(tr *typingTracker) { tr.setPeer(key, "u2", true) })

	waitFor(t, "peer expiry", func() bool {
		var empty bool
		h.run(func(tr *typingTracker) { empty = len(tr.peersOf(key)) == 0 })
		return empty
	})
}

func TestRemotePeerRefreshExtendsTTL(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     time.Hour,
		Idle:      time.Hour,
		RemoteTTL: 200 * time.Millisecond,
	})
	key := DMKey("u2")

	h.run(func(tr *typingTracker) { tr.setPeer(key, "u2", true) })
	time.Sleep(120 * time.Millisecond)
	h.run(func(tr *typingTracker) { tr.setPeer(key, "u2", true) })
	time.Sleep(120 * time.Millisecond)

	// The original deadline has passed, the refreshed one has not.
	h.run(func(tr *typingTracker) {
		if got := tr.peersOf(key); len(got) != 1 {
			t.Errorf("refreshed peer should still be typing, got %v", got)
		}
	})

	waitFor(t, "refreshed peer expiry", func() bool {
		var empty bool
		h.run(func(tr *typingTracker) { empty = len(tr.peersOf(key)) == 0 })
		return empty
	})
}

func TestClearConversation(t *testing.T) {
	h := newTrackerHarness(TypingIntervals{
		Quiet:     time.Hour,
		Idle:      time.Hour,
		RemoteTTL: time.Hour,
	})
	key := GroupKey("g1")

	h.run(func(tr *typingTracker) {
		tr.setPeer(key, "u2", true)
		tr.clearConversation(key)
		if got := tr.peersOf(key); len(got) != 0 {
			t.Errorf("expected no peers after clear, got %v", got)
		}
	})
}

// ============================================================================
// Rendering
// ============================================================================

func TestTypingLine(t *testing.T) {
	cases := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"Ann"}, "Ann is typing…"},
		{[]string{"Ann", "Bob"}, "Ann and Bob are typing…"},
		{[]string{"Ann", "Bob", "Cid"}, "Ann and others are typing…"},
		{[]string{"Ann", "Bob", "Cid", "Dee"}, "Ann and others are typing…"},
	}
	for _, tc := range cases {
		if got := TypingLine(tc.names); got != tc.want {
			t.Errorf("TypingLine(%v) = %q, want %q", tc.names, got, tc.want)
		}
	}
}
