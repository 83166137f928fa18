package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/optimistic"
)

// Media limits.
const (
	MediaBucket  = "chat-media"
	MaxMediaSize = 10 << 20
)

// ErrMediaTooLarge is returned for uploads over MaxMediaSize.
var ErrMediaTooLarge = errors.New("chat: media larger than 10MB")

// A SendRequest is a message to send. Content may be empty when MediaURL is
// set.
type SendRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty" validate:"omitempty,oneof=image audio"`
}

// Send appends a pending message, persists it and swaps in the committed
// record. On failure the pending message is removed and a notice is raised.
func (s *Session) Send(ctx context.Context, req SendRequest) (api.Message, error) {
	if strings.TrimSpace(req.Content) == "" && req.MediaURL == "" {
		return api.Message{}, ErrEmptyMessage
	}

	now := s.cfg.Now()
	seq := s.seq.Add(1)
	tempID := fmt.Sprintf("%s%d-%d", api.TempIDPrefix, now.UnixMilli(), seq)

	var (
		epoch   int
		pending = api.Message{
			ID:             tempID,
			ConversationID: s.cfg.ConversationID,
			SenderID:       s.cfg.UserID,
			Content:        req.Content,
			MediaURL:       req.MediaURL,
			MediaType:      req.MediaType,
			ReplyToID:      req.ReplyToID,
			Reactions:      []api.Reaction{},
			CreatedAt:      now,
		}
	)

	op := optimistic.Operation[api.Message]{
		Apply: func() {
			s.mu.Lock()
			epoch = s.epoch
			pending.ReplyTo = s.previewLocked(req.ReplyToID)
			s.msgs = append(s.msgs, pending)
			s.mu.Unlock()
			s.changed()
		},
		Do: func(ctx context.Context) (api.Message, error) {
			return s.cfg.Messages.InsertMessage(ctx, api.Message{
				ConversationID: s.cfg.ConversationID,
				SenderID:       s.cfg.UserID,
				Content:        req.Content,
				MediaURL:       req.MediaURL,
				MediaType:      req.MediaType,
				ReplyToID:      req.ReplyToID,
			})
		},
		Commit: func(committed api.Message) {
			s.mu.Lock()
			if epoch != s.epoch {
				s.mu.Unlock()
				return
			}
			s.commitLocked(tempID, pending.ReplyTo, committed)
			s.mu.Unlock()
			messagesSent.WithLabelValues("ok").Inc()
			s.changed()
		},
		Rollback: func(err error) {
			messagesSent.WithLabelValues("error").Inc()
			s.cfg.Logger.Warn("Could not send message", "error", err.Error())

			s.mu.Lock()
			if epoch != s.epoch {
				s.mu.Unlock()
				return
			}
			if i := s.indexLocked(tempID); i >= 0 {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			}
			s.mu.Unlock()
			s.changed()
			s.notice(api.NoticeError, "Message could not be sent")
		},
	}

	msg, err := op.Run(ctx)
	if err != nil {
		return api.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// commitLocked replaces the pending entry tempID with its committed record.
// If the realtime echo already delivered the record, the pending entry is
// dropped instead.
func (s *Session) commitLocked(tempID string, reply *api.MessagePreview, committed api.Message) {
	if committed.ReplyTo == nil {
		committed.ReplyTo = reply
	}
	if committed.Reactions == nil {
		committed.Reactions = []api.Reaction{}
	}

	tmp := s.indexLocked(tempID)
	if existing := s.indexLocked(committed.ID); existing >= 0 {
		if s.msgs[existing].ReplyTo == nil {
			s.msgs[existing].ReplyTo = committed.ReplyTo
		}
		if tmp >= 0 {
			s.msgs = append(s.msgs[:tmp], s.msgs[tmp+1:]...)
		}
		return
	}
	if tmp < 0 {
		s.insertSortedLocked(committed)
		return
	}
	s.msgs[tmp] = committed
	sortMessages(s.msgs)
}

// A MediaUpload is a photo or voice note to attach to a new message.
type MediaUpload struct {
	File        io.Reader
	Size        int64
	ContentType string
	// Ext is the file extension without the dot.
	Ext       string
	MediaType string
	Caption   string
	ReplyToID string
}

// SendMedia uploads the file and sends it as a message. Media messages are
// reserved to VIP users.
func (s *Session) SendMedia(ctx context.Context, up MediaUpload) (api.Message, error) {
	s.mu.Lock()
	vip := s.vip
	s.mu.Unlock()
	if !vip {
		return api.Message{}, api.ErrVIPRequired
	}
	if up.Size > MaxMediaSize {
		return api.Message{}, ErrMediaTooLarge
	}
	if s.cfg.Media == nil {
		return api.Message{}, errors.New("chat: media storage not configured")
	}

	caption := up.Caption
	switch up.MediaType {
	case api.MediaImage:
		if caption == "" {
			caption = api.PhotoCaption
		}
	case api.MediaAudio:
		if caption == "" {
			caption = api.AudioCaption
		}
	default:
		return api.Message{}, fmt.Errorf("chat: unsupported media type %q", up.MediaType)
	}

	ext := strings.TrimPrefix(up.Ext, ".")
	path := fmt.Sprintf("%s/%d.%s", s.cfg.UserID, s.cfg.Now().UnixMilli(), ext)
	url, err := s.cfg.Media.UploadFile(ctx, MediaBucket, path, io.LimitReader(up.File, MaxMediaSize+1), up.ContentType)
	if err != nil {
		s.cfg.Logger.Warn("Could not upload media", "path", path, "error", err.Error())
		s.notice(api.NoticeError, "File could not be uploaded")
		return api.Message{}, fmt.Errorf("upload file: %w", err)
	}

	return s.Send(ctx, SendRequest{
		Content:   caption,
		ReplyToID: up.ReplyToID,
		MediaURL:  url,
		MediaType: up.MediaType,
	})
}

// Delete removes one of the user's own messages.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	i := s.indexLocked(messageID)
	if i < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	m := s.msgs[i]
	epoch := s.epoch
	s.mu.Unlock()

	if m.Pending() {
		return ErrPending
	}
	if m.SenderID != s.cfg.UserID {
		return ErrNotOwner
	}

	if err := s.cfg.Messages.DeleteMessage(ctx, messageID, s.cfg.UserID); err != nil {
		s.cfg.Logger.Warn("Could not delete message", "message_id", messageID, "error", err.Error())
		s.notice(api.NoticeError, "Message could not be deleted")
		return fmt.Errorf("delete message: %w", err)
	}

	s.mu.Lock()
	if epoch == s.epoch {
		if i := s.indexLocked(messageID); i >= 0 {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		}
	}
	s.mu.Unlock()
	s.changed()
	return nil
}
