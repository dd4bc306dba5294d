package api

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gwi.com/neura-chat/internal/config"
	"gwi.com/neura-chat/internal/core"
	"gwi.com/neura-chat/internal/store"
)

const heartbeatInterval = 15 * time.Second

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshalling %s event: %v", event, err)
		fmt.Fprintf(s.w, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
		s.flusher.Flush()
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b)
	s.flusher.Flush()
}

type SendMessageRequest struct {
	Text        string             `json:"text"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	ModelID     *string            `json:"modelId,omitempty"`
	UseSearch   *bool              `json:"useSearch,omitempty"`
}

type doneEvent struct {
	Message *store.Message `json:"message"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// SendMessageHandler streams the turn as SSE: a "message" event carrying the
// newest message of the session on every change, then "done" with the
// completed reply.
func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	req, err := h.parseSendRequest(r)
	if err != nil {
		writeError(w, err, "Failed to read message")
		return
	}
	req.SessionID = sessionID

	sess, err := h.chatService.Session(sessionID)
	if err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	if err := validateSend(req); err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	if h.dictation.Listening() {
		_ = h.dictation.Stop()
	}

	changes, unsubscribe := h.chatService.Subscribe()
	defer unsubscribe()

	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	type result struct {
		msg *store.Message
		err error
	}
	ctx := r.Context()
	results := make(chan result, 1)
	go func() {
		msg, err := h.chatService.SendMessage(ctx, req)
		results <- result{msg: msg, err: err}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	prior := len(sess.Messages)
	forward := func(c store.Change) {
		if c.Kind != store.ChangeUpdated || c.SessionID != sessionID || c.Session == nil {
			return
		}
		if n := len(c.Session.Messages); n > prior {
			sse.send("message", c.Session.Messages[n-1])
		}
	}

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			forward(c)
		case <-ticker.C:
			sse.send("ping", map[string]int64{"ts": time.Now().Unix()})
		case res := <-results:
			for drained := false; !drained; {
				select {
				case c := <-changes:
					forward(c)
				default:
					drained = true
				}
			}
			if res.err != nil {
				log.Printf("Error sending message to session %s: %v", sessionID, res.err)
				sse.send("error", errorEvent{Message: res.err.Error()})
				return
			}
			sse.send("done", doneEvent{Message: res.msg})
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *APIHandler) parseSendRequest(r *http.Request) (core.SendRequest, error) {
	maxBytes := config.AppConfig.MaxAttachmentBytes
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var body SendMessageRequest
	var req core.SendRequest
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return req, badRequest(err)
		}
		body.Text = r.FormValue("text")
		if v := r.FormValue("modelId"); v != "" {
			body.ModelID = &v
		}
		if v := r.FormValue("useSearch"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return req, badRequest(err)
			}
			body.UseSearch = &b
		}
		atts, err := core.EncodeFileHeaders(r.MultipartForm.File["files"], maxBytes)
		if err != nil {
			return req, err
		}
		body.Attachments = atts
	} else {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, badRequest(err)
		}
		for _, a := range body.Attachments {
			data, err := core.DecodeAttachment(a)
			if err != nil {
				return req, badRequest(err)
			}
			if int64(len(data)) > maxBytes {
				return req, fmt.Errorf("%q: %w", a.Name, core.ErrAttachmentTooLarge)
			}
		}
	}

	req.Text = body.Text
	req.Attachments = body.Attachments
	if body.ModelID != nil || body.UseSearch != nil {
		cfg := h.chatService.Config()
		if body.ModelID != nil {
			cfg.ModelID = *body.ModelID
		}
		if body.UseSearch != nil {
			cfg.UseSearch = *body.UseSearch
		}
		req.Config = &cfg
	}
	return req, nil
}

// validateSend repeats the cheap checks of SendMessage so failures can still
// be reported with a status code before the event stream starts.
func validateSend(req core.SendRequest) error {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return core.ErrEmptyMessage
	}
	if req.Config != nil {
		if _, ok := core.LookupModel(req.Config.ModelID); !ok {
			return fmt.Errorf("%w: %s", core.ErrUnknownModel, req.Config.ModelID)
		}
	}
	return nil
}

// EventsHandler streams every session change until the client goes away.
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	changes, unsubscribe := h.chatService.Subscribe()
	defer unsubscribe()

	sse, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			sse.send(string(c.Kind), c)
		case <-ticker.C:
			sse.send("ping", map[string]int64{"ts": time.Now().Unix()})
		case <-r.Context().Done():
			return
		}
	}
}
