package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/pegaoupassa/swipe-core/api"
)

type testchannel struct {
	mu        sync.Mutex
	tracked   []api.PresenceState
	untracked bool
	closed    bool
	syncs     chan api.PresenceSnapshot
	once      sync.Once
}

func (c *testchannel) Track(_ context.Context, st api.PresenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, st)
	return nil
}

func (c *testchannel) Untrack(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untracked = true
	return nil
}

func (c *testchannel) Syncs() <-chan api.PresenceSnapshot { return c.syncs }

func (c *testchannel) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.syncs)
	})
	return nil
}

func (c *testchannel) typingHistory() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.tracked))
	for i, st := range c.tracked {
		out[i] = st.Typing
	}
	return out
}

type testhub struct {
	topic, key string
	ch         *testchannel
}

func (h *testhub) Join(_ context.Context, topic, key string) (api.PresenceChannel, error) {
	h.topic, h.key = topic, key
	h.ch = &testchannel{syncs: make(chan api.PresenceSnapshot, 4)}
	return h.ch, nil
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name string
		snap api.PresenceSnapshot
		want Status
	}{
		{
			name: "Empty",
			snap: api.PresenceSnapshot{},
			want: Status{},
		},
		{
			name: "OnlySelf",
			snap: api.PresenceSnapshot{"k1": {{UserID: "me", Typing: true}}},
			want: Status{},
		},
		{
			name: "PeerOnline",
			snap: api.PresenceSnapshot{
				"k1": {{UserID: "me"}},
				"k2": {{UserID: "peer"}},
			},
			want: Status{Online: true},
		},
		{
			name: "PeerTypingOnOneDevice",
			snap: api.PresenceSnapshot{
				"k2": {{UserID: "peer"}},
				"k3": {{UserID: "peer", Typing: true}},
			},
			want: Status{Online: true, Typing: true},
		},
		{
			name: "StrangerIgnored",
			snap: api.PresenceSnapshot{"k4": {{UserID: "someone", Typing: true}}},
			want: Status{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.snap, "me", "peer")
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Derive() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTracker_PeerTyping(t *testing.T) {
	changes := make(chan Status, 8)
	hub := &testhub{}
	tr := NewTracker(Config{
		ConversationID: "c1",
		UserID:         "me",
		PeerID:         "peer",
		Hub:            hub,
		OnChange:       func(st Status) { changes <- st },
		Logger:         slogt.New(t),
	})

	if err := tr.Join(context.Background()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if hub.topic != "chat:c1" || hub.key == "" {
		t.Errorf("Joined topic %q with key %q", hub.topic, hub.key)
	}

	next := func() Status {
		t.Helper()
		select {
		case st := <-changes:
			return st
		case <-time.After(time.Second):
			t.Fatal("No status change")
		}
		return Status{}
	}

	hub.ch.syncs <- api.PresenceSnapshot{
		"me":   {{UserID: "me"}},
		"peer": {{UserID: "peer", Typing: true}},
	}
	if got := next(); got != (Status{Online: true, Typing: true}) {
		t.Errorf("Got %+v, want online and typing", got)
	}

	hub.ch.syncs <- api.PresenceSnapshot{"me": {{UserID: "me"}}}
	if got := next(); got != (Status{}) {
		t.Errorf("Got %+v after peer left, want offline", got)
	}

	if err := tr.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !hub.ch.untracked || !hub.ch.closed {
		t.Error("Leave did not untrack and close the channel")
	}
}

func TestTracker_Keystroke(t *testing.T) {
	hub := &testhub{}
	tr := NewTracker(Config{
		ConversationID: "c1",
		UserID:         "me",
		Hub:            hub,
		IdleTimeout:    30 * time.Millisecond,
		RefreshEvery:   time.Hour,
		Logger:         slogt.New(t),
	})
	t.Cleanup(func() { _ = tr.Leave(context.Background()) })

	if err := tr.Keystroke(context.Background()); err != ErrNotJoined {
		t.Errorf("Got error %v before Join, want ErrNotJoined", err)
	}
	if err := tr.Join(context.Background()); err != nil {
		t.Fatalf("Join: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := tr.Keystroke(context.Background()); err != nil {
			t.Fatalf("Keystroke: %v", err)
		}
	}
	if !tr.Typing() {
		t.Error("Typing() = false after keystrokes")
	}
	if diff := cmp.Diff([]bool{false, true}, hub.ch.typingHistory()); diff != "" {
		t.Errorf("Tracked states mismatch (-want +got):\n%s", diff)
	}

	deadline := time.Now().Add(time.Second)
	for tr.Typing() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.Typing() {
		t.Fatal("Typing did not reset after the idle timeout")
	}
	// The reset is tracked right after the flag flips.
	time.Sleep(10 * time.Millisecond)
	if diff := cmp.Diff([]bool{false, true, false}, hub.ch.typingHistory()); diff != "" {
		t.Errorf("Tracked states mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_StopTyping(t *testing.T) {
	hub := &testhub{}
	tr := NewTracker(Config{ConversationID: "c1", UserID: "me", Hub: hub, Logger: slogt.New(t)})
	if err := tr.Join(context.Background()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer tr.Leave(context.Background())

	if err := tr.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke: %v", err)
	}
	if err := tr.StopTyping(context.Background()); err != nil {
		t.Fatalf("StopTyping: %v", err)
	}
	if err := tr.StopTyping(context.Background()); err != nil {
		t.Fatalf("StopTyping: %v", err)
	}
	if diff := cmp.Diff([]bool{false, true, false}, hub.ch.typingHistory()); diff != "" {
		t.Errorf("Tracked states mismatch (-want +got):\n%s", diff)
	}
}
