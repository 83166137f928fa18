package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pegaoupassa/swipe-core/api/validator"
)

// A Core is the client core of the signed-in user.
type Core interface {
	Feed() FeedView
	Swipe(ctx context.Context, req SwipeRequest) (SwipeResponse, error)
	LikeBack(ctx context.Context, profileID string) (SwipeResponse, error)
	SetPreferences(ctx context.Context, p Preferences) (FeedView, error)
	Matches(ctx context.Context) ([]Match, error)
	ReceivedLikes(ctx context.Context) ([]Profile, error)
	DrainEvents() []Event

	OpenChat(ctx context.Context, conversationID string) (ChatView, error)
	CloseChat(ctx context.Context, conversationID string) error
	Chat(conversationID string) (ChatView, error)
	Send(ctx context.Context, conversationID string, req SendMessageRequest) (Message, error)
	SendMedia(ctx context.Context, conversationID string, up MediaUpload) (Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	React(ctx context.Context, conversationID, messageID, emoji string) error
	Unreact(ctx context.Context, conversationID, messageID string) error
	Typing(ctx context.Context, conversationID string) error

	Notification(ctx context.Context, event string, data []byte) (bool, error)
}

// maxUploadSize bounds multipart bodies; the core enforces the media limit.
const maxUploadSize = 11 << 20

// API provides the local REST endpoints the app shell drives.
type API struct {
	Logger *slog.Logger
	Core   Core
	Val    *validator.Validator

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /feed", a.getFeed)
	mux.HandleFunc("POST /feed/swipe", a.swipe)
	mux.HandleFunc("PUT /feed/preferences", a.setPreferences)
	mux.HandleFunc("GET /matches", a.listMatches)
	mux.HandleFunc("GET /likes", a.listLikes)
	mux.HandleFunc("POST /likes/{profileID}", a.likeBack)
	mux.HandleFunc("GET /events", a.listEvents)

	mux.HandleFunc("POST /chats/{conversationID}", a.openChat)
	mux.HandleFunc("GET /chats/{conversationID}", a.getChat)
	mux.HandleFunc("DELETE /chats/{conversationID}", a.closeChat)
	mux.HandleFunc("POST /chats/{conversationID}/messages", a.sendMessage)
	mux.HandleFunc("POST /chats/{conversationID}/media", a.sendMedia)
	mux.HandleFunc("DELETE /chats/{conversationID}/messages/{messageID}", a.deleteMessage)
	mux.HandleFunc("PUT /chats/{conversationID}/messages/{messageID}/reaction", a.react)
	mux.HandleFunc("DELETE /chats/{conversationID}/messages/{messageID}/reaction", a.unreact)
	mux.HandleFunc("POST /chats/{conversationID}/typing", a.typing)

	mux.HandleFunc("POST /notifications/{event}", a.notification)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request rejected", "status", status, "error", err.Error())
	}
	a.respond(w, status, response{Error: msg})
}

// respondCoreError maps core errors onto status codes. Gate rejections are
// not failures.
func (a *API) respondCoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ErrVIPRequired):
		a.respondError(w, http.StatusPaymentRequired, err, "VIP required")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCandidate):
		a.respondError(w, http.StatusNotFound, err, msg)
	case errors.Is(err, ErrInvalid):
		a.respondError(w, http.StatusBadRequest, err, msg)
	default:
		a.respondError(w, http.StatusInternalServerError, err, msg)
	}
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decodeBody decodes and validates a JSON request body.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, dst)
}

func (a *API) getFeed(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, a.Core.Feed())
}

func (a *API) swipe(w http.ResponseWriter, r *http.Request) {
	var body SwipeRequest
	if !a.decodeBody(w, r, &body) {
		return
	}
	res, err := a.Core.Swipe(r.Context(), body)
	if err != nil {
		a.respondCoreError(w, err, "Could not submit swipe")
		return
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) likeBack(w http.ResponseWriter, r *http.Request) {
	res, err := a.Core.LikeBack(r.Context(), r.PathValue("profileID"))
	if err != nil {
		a.respondCoreError(w, err, "Could not like back")
		return
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) setPreferences(w http.ResponseWriter, r *http.Request) {
	var body Preferences
	if !a.decodeBody(w, r, &body) {
		return
	}
	feed, err := a.Core.SetPreferences(r.Context(), body)
	if err != nil {
		a.respondCoreError(w, err, "Could not reload feed")
		return
	}
	a.respond(w, http.StatusOK, feed)
}

func (a *API) listMatches(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Matches []Match `json:"matches"`
	}
	ms, err := a.Core.Matches(r.Context())
	if err != nil {
		a.respondCoreError(w, err, "Could not list matches")
		return
	}
	a.respond(w, http.StatusOK, response{Matches: ms})
}

func (a *API) listLikes(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Profiles []Profile `json:"profiles"`
	}
	ps, err := a.Core.ReceivedLikes(r.Context())
	if err != nil {
		a.respondCoreError(w, err, "Could not list likes")
		return
	}
	a.respond(w, http.StatusOK, response{Profiles: ps})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Events []Event `json:"events"`
	}
	evs := a.Core.DrainEvents()
	if evs == nil {
		evs = []Event{}
	}
	a.respond(w, http.StatusOK, response{Events: evs})
}

func (a *API) openChat(w http.ResponseWriter, r *http.Request) {
	v, err := a.Core.OpenChat(r.Context(), r.PathValue("conversationID"))
	if err != nil {
		a.respondCoreError(w, err, "Could not open chat")
		return
	}
	a.respond(w, http.StatusOK, v)
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request) {
	v, err := a.Core.Chat(r.PathValue("conversationID"))
	if err != nil {
		a.respondCoreError(w, err, "Could not get chat")
		return
	}
	a.respond(w, http.StatusOK, v)
}

func (a *API) closeChat(w http.ResponseWriter, r *http.Request) {
	if err := a.Core.CloseChat(r.Context(), r.PathValue("conversationID")); err != nil {
		a.respondCoreError(w, err, "Could not close chat")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body SendMessageRequest
	if !a.decodeBody(w, r, &body) {
		return
	}
	msg, err := a.Core.Send(r.Context(), r.PathValue("conversationID"), body)
	if err != nil {
		a.respondCoreError(w, err, "Could not send message")
		return
	}
	a.respond(w, http.StatusCreated, msg)
}

func (a *API) sendMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not parse upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Missing file")
		return
	}
	defer file.Close()

	up := MediaUpload{
		File:        file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Ext:         strings.TrimPrefix(filepath.Ext(header.Filename), "."),
		MediaType:   r.FormValue("media_type"),
		Caption:     r.FormValue("caption"),
		ReplyToID:   r.FormValue("reply_to_id"),
	}
	if up.MediaType == "" {
		up.MediaType = mediaTypeOf(up.ContentType)
	}
	if errs := a.Val.Validate(up.MediaType, "oneof=image audio"); len(errs) > 0 {
		a.respondError(w, http.StatusBadRequest, errs[0], "Unsupported media type")
		return
	}

	msg, err := a.Core.SendMedia(r.Context(), r.PathValue("conversationID"), up)
	if err != nil {
		a.respondCoreError(w, err, "Could not send media")
		return
	}
	a.respond(w, http.StatusCreated, msg)
}

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return MediaImage
	case strings.HasPrefix(mt, "audio/"):
		return MediaAudio
	}
	return ""
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := a.Core.DeleteMessage(r.Context(), r.PathValue("conversationID"), r.PathValue("messageID"))
	if err != nil {
		a.respondCoreError(w, err, "Could not delete message")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) react(w http.ResponseWriter, r *http.Request) {
	var body ReactionRequest
	if !a.decodeBody(w, r, &body) {
		return
	}
	err := a.Core.React(r.Context(), r.PathValue("conversationID"), r.PathValue("messageID"), body.Emoji)
	if err != nil {
		a.respondCoreError(w, err, "Could not save reaction")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) unreact(w http.ResponseWriter, r *http.Request) {
	err := a.Core.Unreact(r.Context(), r.PathValue("conversationID"), r.PathValue("messageID"))
	if err != nil {
		a.respondCoreError(w, err, "Could not remove reaction")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) typing(w http.ResponseWriter, r *http.Request) {
	if err := a.Core.Typing(r.Context(), r.PathValue("conversationID")); err != nil {
		a.respondCoreError(w, err, "Could not update typing state")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) notification(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Show bool `json:"show"`
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read request body")
		return
	}
	show, err := a.Core.Notification(r.Context(), r.PathValue("event"), data)
	if err != nil {
		a.respondCoreError(w, err, "Could not handle notification")
		return
	}
	a.respond(w, http.StatusOK, response{Show: show})
}
