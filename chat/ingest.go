package chat

import (
	"github.com/pegaoupassa/swipe-core/api"
)

// Ingest applies a realtime change event to the list. Events for other
// conversations are ignored and a repeated insert is a no-op. Events that
// arrive while the history is loading are applied once it is merged.
func (s *Session) Ingest(ev api.ChangeEvent) {
	s.mu.Lock()
	gen := s.subGen
	s.mu.Unlock()
	s.ingest(ev, gen)
}

func (s *Session) ingest(ev api.ChangeEvent, gen int) {
	if ev.Message.ConversationID != "" && ev.Message.ConversationID != s.cfg.ConversationID {
		return
	}

	s.mu.Lock()
	if gen != s.subGen {
		s.mu.Unlock()
		return
	}
	if s.state == StateLoading {
		s.early = append(s.early, ev)
		s.mu.Unlock()
		return
	}
	if s.state != StateSynced {
		s.mu.Unlock()
		return
	}
	before := len(s.msgs)
	readID := s.applyLocked(ev)
	changed := ev.Type != api.EventInsert || len(s.msgs) != before
	s.mu.Unlock()

	realtimeEvents.WithLabelValues(ev.Type).Inc()
	if readID != "" {
		s.markRead(readID)
	}
	if changed {
		s.changed()
	}
}

// applyLocked merges ev into the list. It returns the id of a peer message
// that must be marked read on the backend.
func (s *Session) applyLocked(ev api.ChangeEvent) string {
	msg := ev.Message
	switch ev.Type {
	case api.EventInsert:
		if msg.ID == "" || s.indexLocked(msg.ID) >= 0 {
			return ""
		}
		if msg.Reactions == nil {
			msg.Reactions = []api.Reaction{}
		}
		if msg.ReplyTo == nil {
			msg.ReplyTo = s.previewLocked(msg.ReplyToID)
		}
		var readID string
		if msg.SenderID != s.cfg.UserID && !msg.IsRead {
			now := s.cfg.Now()
			msg.IsRead = true
			msg.ReadAt = &now
			readID = msg.ID
		}
		s.insertSortedLocked(msg)
		return readID

	case api.EventUpdate:
		i := s.indexLocked(msg.ID)
		if i < 0 {
			return ""
		}
		prev := s.msgs[i].CreatedAt
		s.msgs[i] = mergeUpdate(s.msgs[i], msg)
		if !s.msgs[i].CreatedAt.Equal(prev) {
			sortMessages(s.msgs)
		}

	case api.EventDelete:
		if i := s.indexLocked(msg.ID); i >= 0 {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		}
	}
	return ""
}

// mergeUpdate folds an update payload into the local message. The backend
// may omit reactions and never echoes the reply snapshot, so those are kept
// when missing. Read state only moves forward.
func mergeUpdate(local, in api.Message) api.Message {
	out := in
	if out.ConversationID == "" {
		out.ConversationID = local.ConversationID
	}
	if out.SenderID == "" {
		out.SenderID = local.SenderID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.Reactions == nil {
		out.Reactions = local.Reactions
	}
	if out.ReplyTo == nil {
		out.ReplyTo = local.ReplyTo
	}
	if local.IsRead && !out.IsRead {
		out.IsRead = true
	}
	if out.ReadAt == nil {
		out.ReadAt = local.ReadAt
	}
	return out
}
