package store

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSessionTitle = "New Chat"
	titleMaxRunes       = 30

	// StreamErrorText replaces the content of a failed model message that received no output.
	StreamErrorText = "Sorry, I encountered an error."

	subscriberBuffer = 64
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeSelected ChangeKind = "selected"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeReset    ChangeKind = "reset"
)

// Change describes one state transition. Session is nil for deletions and resets.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	SessionID string     `json:"sessionId"`
	Session   *Session   `json:"session,omitempty"`
}

type DeleteResult struct {
	Removed     bool
	Replacement *Session // set when the deleted session was the last one
}

// SessionStore owns the ordered session list. Every mutation replaces the
// affected Session with a fresh value whose slices are newly allocated, so
// snapshots handed to readers are never modified afterwards.
type SessionStore struct {
	mu           sync.RWMutex
	sessions     []Session // newest first
	activeID     string
	defaultModel string

	newID func() string
	now   func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// NewSessionStore returns a store seeded with one empty session.
func NewSessionStore(defaultModel string) *SessionStore {
	s := &SessionStore{
		defaultModel: defaultModel,
		newID:        uuid.NewString,
		now:          time.Now,
		subs:         make(map[int]chan Change),
	}
	s.CreateSession("")
	return s
}

func (s *SessionStore) SetDefaultModel(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultModel = modelID
}

// CreateSession inserts a new session at the front and makes it active.
// An empty modelID selects the store default.
func (s *SessionStore) CreateSession(modelID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(modelID)
}

func (s *SessionStore) createLocked(modelID string) Session {
	if modelID == "" {
		modelID = s.defaultModel
	}
	sess := Session{
		ID:        s.newID(),
		Title:     DefaultSessionTitle,
		Messages:  []Message{},
		ModelID:   modelID,
		UpdatedAt: s.now(),
	}
	s.sessions = append([]Session{sess}, s.sessions...)
	s.activeID = sess.ID
	s.publish(Change{Kind: ChangeCreated, SessionID: sess.ID, Session: &sess})
	return sess
}

// SelectSession activates id. Unknown ids leave the active pointer untouched.
func (s *SessionStore) SelectSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.activeID = id
	sess := s.sessions[i]
	s.publish(Change{Kind: ChangeSelected, SessionID: id, Session: &sess})
	return true
}

// DeleteSession removes id. The list is never empty when it returns.
func (s *SessionStore) DeleteSession(id string) DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return DeleteResult{}
	}
	modelID := s.sessions[i].ModelID
	s.sessions = slices.Delete(slices.Clone(s.sessions), i, i+1)
	s.publish(Change{Kind: ChangeDeleted, SessionID: id})

	res := DeleteResult{Removed: true}
	if len(s.sessions) == 0 {
		if s.defaultModel != "" {
			modelID = s.defaultModel
		}
		replacement := s.createLocked(modelID)
		res.Replacement = &replacement
		return res
	}
	if s.activeID == id {
		first := s.sessions[0]
		s.activeID = first.ID
		s.publish(Change{Kind: ChangeSelected, SessionID: first.ID, Session: &first})
	}
	return res
}

// Reset drops every session and seeds a fresh one.
func (s *SessionStore) Reset() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	s.activeID = ""
	s.publish(Change{Kind: ChangeReset})
	return s.createLocked("")
}

func (s *SessionStore) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions)
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) Session(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Session{}, false
	}
	return s.sessions[i], true
}

// Active returns the active session, falling back to the first one.
func (s *SessionStore) Active() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(s.activeID); i >= 0 {
		return s.sessions[i]
	}
	return s.sessions[0]
}

func (s *SessionStore) Message(sessionID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return Message{}, false
	}
	for _, m := range s.sessions[i].Messages {
		if m.ID == messageID {
			return m, true
		}
	}
	return Message{}, false
}

func (s *SessionStore) SetSessionModel(sessionID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return ErrSessionNotFound
	}
	sess := s.sessions[i]
	if sess.ModelID == modelID {
		return nil
	}
	sess.ModelID = modelID
	s.replaceLocked(i, sess)
	return nil
}

// AppendUserMessage appends a user message. The first message of a session
// also names it.
func (s *SessionStore) AppendUserMessage(sessionID, text string, attachments []Attachment) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return Message{}, ErrSessionNotFound
	}
	now := s.now()
	msg := Message{
		ID:          s.newID(),
		Role:        RoleUser,
		Content:     text,
		Attachments: slices.Clone(attachments),
		Timestamp:   now,
	}
	sess := s.sessions[i]
	if len(sess.Messages) == 0 {
		if title := deriveTitle(text); title != "" {
			sess.Title = title
		}
	}
	sess.Messages = appendMessage(sess.Messages, msg)
	sess.UpdatedAt = now
	s.replaceLocked(i, sess)
	return msg, nil
}

// BeginModelMessage appends an empty streaming placeholder.
func (s *SessionStore) BeginModelMessage(sessionID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return Message{}, ErrSessionNotFound
	}
	msg := Message{
		ID:          s.newID(),
		Role:        RoleModel,
		Timestamp:   s.now(),
		IsStreaming: true,
	}
	sess := s.sessions[i]
	sess.Messages = appendMessage(sess.Messages, msg)
	s.replaceLocked(i, sess)
	return msg, nil
}

// ApplyStreamDelta appends delta, sources and images to a streaming message.
// It reports false, changing nothing, when the session or message is gone or
// the message has already completed.
func (s *SessionStore) ApplyStreamDelta(sessionID, messageID, delta string, sources []GroundingSource, images []Attachment) bool {
	_, ok := s.updateMessage(sessionID, messageID, func(m *Message) bool {
		if !m.IsStreaming {
			return false
		}
		m.Content += delta
		if len(sources) > 0 {
			m.GroundingSources = slices.Concat(m.GroundingSources, sources)
		}
		if len(images) > 0 {
			m.GeneratedImages = slices.Concat(m.GeneratedImages, images)
		}
		return true
	})
	return ok
}

// CompleteModelMessage clears the streaming flag. A failed message is flagged
// and, only when it received no text, given StreamErrorText.
func (s *SessionStore) CompleteModelMessage(sessionID, messageID string, failed bool) (Message, bool) {
	return s.updateMessage(sessionID, messageID, func(m *Message) bool {
		if !m.IsStreaming {
			return false
		}
		m.IsStreaming = false
		if failed {
			m.Error = true
			if m.Content == "" {
				m.Content = StreamErrorText
			}
		}
		return true
	})
}

// Subscribe registers a change listener. Delivery never blocks the store:
// a full buffer drops the change. The returned func unsubscribes.
func (s *SessionStore) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}

func (s *SessionStore) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *SessionStore) updateMessage(sessionID, messageID string, fn func(*Message) bool) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return Message{}, false
	}
	sess := s.sessions[i]
	for j, m := range sess.Messages {
		if m.ID != messageID {
			continue
		}
		if !fn(&m) {
			return Message{}, false
		}
		msgs := slices.Clone(sess.Messages)
		msgs[j] = m
		sess.Messages = msgs
		if !m.IsStreaming {
			sess.UpdatedAt = s.now()
		}
		s.replaceLocked(i, sess)
		return m, true
	}
	return Message{}, false
}

func (s *SessionStore) replaceLocked(i int, sess Session) {
	sessions := slices.Clone(s.sessions)
	sessions[i] = sess
	s.sessions = sessions
	s.publish(Change{Kind: ChangeUpdated, SessionID: sess.ID, Session: &sess})
}

func (s *SessionStore) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.sessions, func(sess Session) bool { return sess.ID == id })
}

func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

// deriveTitle keeps the first 30 runes of text, marking truncation with "...".
func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "..."
}
