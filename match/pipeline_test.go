package match

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/internal/workqueue"
)

type testswipes struct {
	createSwipe      func(ctx context.Context, actorID, targetID string, decision api.Decision) (api.SwipeResult, error)
	getReceivedLikes func(ctx context.Context, userID string) ([]api.Profile, error)
}

func (s *testswipes) CreateSwipe(ctx context.Context, actorID, targetID string, decision api.Decision) (api.SwipeResult, error) {
	return s.createSwipe(ctx, actorID, targetID, decision)
}

func (s *testswipes) GetReceivedLikes(ctx context.Context, userID string) ([]api.Profile, error) {
	return s.getReceivedLikes(ctx, userID)
}

type testmatches func(ctx context.Context, userID string) ([]api.Match, error)

func (f testmatches) GetAllMatches(ctx context.Context, userID string) ([]api.Match, error) {
	return f(ctx, userID)
}

type testmessages struct {
	insertMessage func(ctx context.Context, msg api.Message) (api.Message, error)
}

func (m *testmessages) GetByConversation(context.Context, string) ([]api.Message, error) {
	return nil, nil
}

func (m *testmessages) GetMessage(context.Context, string) (api.Message, error) {
	return api.Message{}, api.ErrNotFound
}

func (m *testmessages) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	return m.insertMessage(ctx, msg)
}

func (m *testmessages) MarkAsRead(context.Context, string) error { return nil }

func (m *testmessages) MarkBatchAsRead(context.Context, []string) error { return nil }

func (m *testmessages) DeleteMessage(context.Context, string, string) error { return nil }

var (
	alice = api.Profile{ID: "alice", Name: "Alice", ImageURL: "https://cdn.test/alice.jpg", Bio: "Coffee first, then hiking?"}
	bob   = api.Profile{ID: "bob", Name: "Bob", ImageURL: "https://cdn.test/bob.jpg"}
)

func newQueue(t *testing.T) *workqueue.Queue {
	t.Helper()
	q := workqueue.New(workqueue.Config{Name: "test", Shards: 2, BaseBackoff: time.Millisecond, Logger: slogt.New(t)})
	t.Cleanup(q.Stop)
	return q
}

func TestPipeline_MutualLike(t *testing.T) {
	swipes := &testswipes{
		createSwipe: func(_ context.Context, actorID, targetID string, d api.Decision) (api.SwipeResult, error) {
			if actorID != "alice" || targetID != "bob" || d != api.DecisionLike {
				t.Errorf("Got swipe %s -> %s (%s)", actorID, targetID, d)
			}
			return api.SwipeResult{Match: &api.Match{ID: "m1", UserA: "alice", UserB: "bob", ConversationID: "c1"}}, nil
		},
	}
	var refreshed atomic.Int32
	list := NewList("alice", testmatches(func(context.Context, string) ([]api.Match, error) {
		refreshed.Add(1)
		return []api.Match{{ID: "m1", ConversationID: "c1", Other: bob}}, nil
	}), slogt.New(t))

	sent := make(chan api.Message, 1)
	messages := &testmessages{
		insertMessage: func(_ context.Context, msg api.Message) (api.Message, error) {
			sent <- msg
			msg.ID = "msg-1"
			return msg, nil
		},
	}

	var found []MatchFound
	queue := newQueue(t)
	p := NewPipeline(Config{
		Swipes:          swipes,
		Messages:        messages,
		List:            list,
		Queue:           queue,
		OnMatch:         func(f MatchFound) { found = append(found, f) },
		IcebreakerDelay: 10 * time.Millisecond,
		Logger:          slogt.New(t),
	})

	out, err := p.Submit(context.Background(), alice, bob, api.DecisionLike)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.Matched || out.Match == nil || out.Match.ID != "m1" {
		t.Fatalf("Got outcome %+v, want match m1", out)
	}

	if len(found) != 1 {
		t.Fatalf("Got %d match events, want 1", len(found))
	}
	if found[0].Self.ImageURL != alice.ImageURL || found[0].Other.ImageURL != bob.ImageURL {
		t.Errorf("Match event photos = %q, %q", found[0].Self.ImageURL, found[0].Other.ImageURL)
	}

	select {
	case msg := <-sent:
		want := api.Message{ConversationID: "c1", SenderID: "alice", Content: alice.Bio}
		if diff := cmp.Diff(want, msg); diff != "" {
			t.Errorf("Icebreaker mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("Icebreaker was not sent")
	}

	if err := queue.Barrier(context.Background(), "matches:alice"); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
	if refreshed.Load() != 1 {
		t.Errorf("Got %d match list refreshes, want 1", refreshed.Load())
	}
	if _, ok := list.FindByConversation("c1"); !ok {
		t.Error("Refreshed list does not contain the new match")
	}
}

func TestPipeline_NoMatch(t *testing.T) {
	swipes := &testswipes{
		createSwipe: func(context.Context, string, string, api.Decision) (api.SwipeResult, error) {
			return api.SwipeResult{Swipe: api.Swipe{ID: "s1"}}, nil
		},
	}
	p := NewPipeline(Config{
		Swipes:  swipes,
		Queue:   newQueue(t),
		OnMatch: func(MatchFound) { t.Error("OnMatch called without a match") },
		Logger:  slogt.New(t),
	})

	out, err := p.Submit(context.Background(), alice, bob, api.DecisionPass)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Matched {
		t.Errorf("Got outcome %+v, want no match", out)
	}
}

func TestPipeline_SubmitError(t *testing.T) {
	boom := errors.New("network down")
	var calls int
	swipes := &testswipes{
		createSwipe: func(context.Context, string, string, api.Decision) (api.SwipeResult, error) {
			calls++
			return api.SwipeResult{}, boom
		},
	}
	p := NewPipeline(Config{Swipes: swipes, Queue: newQueue(t), Logger: slogt.New(t)})

	if _, err := p.Submit(context.Background(), alice, bob, api.DecisionLike); !errors.Is(err, boom) {
		t.Errorf("Got error %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("Got %d submissions, want 1", calls)
	}
}

func TestPipeline_Icebreaker(t *testing.T) {
	tests := []struct {
		name      string
		actor     api.Profile
		lookups   [][]api.Match
		wantSends int
	}{
		{
			name:      "FoundOnRetry",
			actor:     alice,
			lookups:   [][]api.Match{nil, {{ID: "m1", UserA: "alice", UserB: "bob", ConversationID: "c9"}}},
			wantSends: 1,
		},
		{
			name:      "NeverFound",
			actor:     alice,
			lookups:   [][]api.Match{nil, nil, nil},
			wantSends: 0,
		},
		{
			name:      "EmptyBio",
			actor:     api.Profile{ID: "alice", Bio: "   "},
			lookups:   [][]api.Match{{{ID: "m1", ConversationID: "c9"}}},
			wantSends: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swipes := &testswipes{
				createSwipe: func(context.Context, string, string, api.Decision) (api.SwipeResult, error) {
					return api.SwipeResult{Match: &api.Match{ID: "m1", UserA: "alice", UserB: "bob"}}, nil
				},
			}
			var (
				mu      sync.Mutex
				lookups int
				sends   []api.Message
			)
			matches := testmatches(func(context.Context, string) ([]api.Match, error) {
				mu.Lock()
				defer mu.Unlock()
				lookups++
				if lookups > len(tt.lookups) {
					return nil, nil
				}
				return tt.lookups[lookups-1], nil
			})
			messages := &testmessages{
				insertMessage: func(_ context.Context, msg api.Message) (api.Message, error) {
					mu.Lock()
					defer mu.Unlock()
					sends = append(sends, msg)
					return msg, nil
				},
			}
			p := NewPipeline(Config{
				Swipes:          swipes,
				Matches:         matches,
				Messages:        messages,
				Queue:           newQueue(t),
				IcebreakerDelay: 5 * time.Millisecond,
				Logger:          slogt.New(t),
			})

			if _, err := p.Submit(context.Background(), tt.actor, bob, api.DecisionLike); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			time.Sleep(100 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if len(sends) != tt.wantSends {
				t.Fatalf("Got %d icebreakers, want %d", len(sends), tt.wantSends)
			}
			if tt.wantSends > 0 && sends[0].ConversationID != "c9" {
				t.Errorf("Icebreaker sent to %q, want c9", sends[0].ConversationID)
			}
			if tt.name == "NeverFound" && lookups != 2 {
				t.Errorf("Got %d lookups, want 2", lookups)
			}
		})
	}
}

func TestReceivedLikes(t *testing.T) {
	store := &testswipes{
		getReceivedLikes: func(_ context.Context, userID string) ([]api.Profile, error) {
			return []api.Profile{bob}, nil
		},
	}

	if _, err := ReceivedLikes(context.Background(), store, "alice", false); !errors.Is(err, api.ErrVIPRequired) {
		t.Errorf("Got error %v for non-VIP, want ErrVIPRequired", err)
	}

	got, err := ReceivedLikes(context.Background(), store, "alice", true)
	if err != nil {
		t.Fatalf("ReceivedLikes: %v", err)
	}
	if diff := cmp.Diff([]api.Profile{bob}, got); diff != "" {
		t.Errorf("ReceivedLikes() mismatch (-want +got):\n%s", diff)
	}
}
