package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pegaoupassa/swipe-core/api"
)

func TestSession_Reactions(t *testing.T) {
	var failNext bool
	reactions := &testreactions{
		getByMessage: func(_ context.Context, id string) ([]api.Reaction, error) {
			return []api.Reaction{{MessageID: id, UserID: "peer", Emoji: "😮"}}, nil
		},
		addReaction: func(_ context.Context, id, user, emoji string) error {
			if failNext {
				return errors.New("conflict")
			}
			return nil
		},
		removeReaction: func(context.Context, string, string) error {
			if failNext {
				return errors.New("gone")
			}
			return nil
		},
	}
	messages := &testmessages{
		getByConversation: func(context.Context, string) ([]api.Message, error) {
			return []api.Message{msg("m1", "peer", 1)}, nil
		},
	}
	s := openSession(t, Config{Messages: messages, Reactions: reactions})

	peer := api.Reaction{MessageID: "m1", UserID: "peer", Emoji: "😮"}
	mine := func(emoji string) api.Reaction {
		return api.Reaction{MessageID: "m1", UserID: "me", Emoji: emoji}
	}

	// Steps run in order against the same session.
	steps := []struct {
		name    string
		do      func() error
		fail    bool
		wantErr bool
		want    []api.Reaction
	}{
		{
			name: "Add",
			do:   func() error { return s.React(context.Background(), "m1", "❤️") },
			want: []api.Reaction{peer, mine("❤️")},
		},
		{
			name: "ReplaceKeepsOne",
			do:   func() error { return s.React(context.Background(), "m1", "😂") },
			want: []api.Reaction{peer, mine("😂")},
		},
		{
			name:    "FailedReplaceRollsBack",
			do:      func() error { return s.React(context.Background(), "m1", "👍") },
			fail:    true,
			wantErr: true,
			want:    []api.Reaction{peer, mine("😂")},
		},
		{
			name: "SameEmojiRemoves",
			do:   func() error { return s.React(context.Background(), "m1", "😂") },
			want: []api.Reaction{peer},
		},
		{
			name: "AddAgain",
			do:   func() error { return s.React(context.Background(), "m1", "👍") },
			want: []api.Reaction{peer, mine("👍")},
		},
		{
			name:    "FailedRemoveRollsBack",
			do:      func() error { return s.Unreact(context.Background(), "m1") },
			fail:    true,
			wantErr: true,
			want:    []api.Reaction{peer, mine("👍")},
		},
		{
			name: "Remove",
			do:   func() error { return s.Unreact(context.Background(), "m1") },
			want: []api.Reaction{peer},
		},
	}

	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			failNext = st.fail
			err := st.do()
			if (err != nil) != st.wantErr {
				t.Fatalf("Got error %v, want error %v", err, st.wantErr)
			}
			got := s.Messages()[0].Reactions
			if diff := cmp.Diff(st.want, got); diff != "" {
				t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
			}
			if st.fail {
				if n := s.DrainNotices(); len(n) != 1 {
					t.Errorf("Got notices %v, want one", n)
				}
			}
		})
	}
}

func TestSession_ReactUnknownOrPending(t *testing.T) {
	s := openSession(t, Config{})
	if err := s.React(context.Background(), "nope", "❤️"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Got error %v, want ErrUnknownMessage", err)
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, api.Message{ID: api.TempIDPrefix + "1", SenderID: "me"})
	s.mu.Unlock()
	if err := s.React(context.Background(), api.TempIDPrefix+"1", "❤️"); !errors.Is(err, ErrPending) {
		t.Errorf("Got error %v, want ErrPending", err)
	}
}

func TestWithReaction(t *testing.T) {
	rs := []api.Reaction{
		{UserID: "a", Emoji: "❤️"},
		{UserID: "b", Emoji: "😂"},
		{UserID: "a", Emoji: "👍"},
	}
	got := withReaction(rs, "a", &api.Reaction{UserID: "a", Emoji: "😮"})
	want := []api.Reaction{{UserID: "b", Emoji: "😂"}, {UserID: "a", Emoji: "😮"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("withReaction() mismatch (-want +got):\n%s", diff)
	}
	if len(rs) != 3 {
		t.Error("withReaction modified its input")
	}
}
