package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"gwi.com/neura-chat/internal/store"
)

var (
	ErrEmptyMessage = errors.New("message has neither text nor attachments")
	ErrUnknownModel = errors.New("unknown model")
)

type ChatService struct {
	sessions  *store.SessionStore
	transport Transport
	search    *HistorySearch

	mu     sync.RWMutex
	config store.AIConfig

	now func() time.Time
}

func NewChatService(sessions *store.SessionStore, transport Transport, search *HistorySearch, cfg store.AIConfig) *ChatService {
	if _, ok := LookupModel(cfg.ModelID); !ok {
		log.Printf("Unknown default model %q, falling back to %s", cfg.ModelID, DefaultConfig.ModelID)
		cfg.ModelID = DefaultConfig.ModelID
	}
	sessions.SetDefaultModel(cfg.ModelID)
	return &ChatService{
		sessions:  sessions,
		transport: transport,
		search:    search,
		config:    cfg,
		now:       time.Now,
	}
}

// CreateSession starts a new active session on the current model.
func (s *ChatService) CreateSession() store.Session {
	sess := s.sessions.CreateSession(s.Config().ModelID)
	s.transport.ResetSession()
	return sess
}

func (s *ChatService) SelectSession(id string) error {
	if !s.sessions.SelectSession(id) {
		return store.ErrSessionNotFound
	}
	s.transport.ResetSession()
	return nil
}

func (s *ChatService) DeleteSession(id string) error {
	res := s.sessions.DeleteSession(id)
	if !res.Removed {
		return store.ErrSessionNotFound
	}
	if res.Replacement != nil {
		s.transport.ResetSession()
	}
	return nil
}

func (s *ChatService) Sessions() []store.Session {
	return s.sessions.Sessions()
}

func (s *ChatService) ActiveSession() store.Session {
	return s.sessions.Active()
}

func (s *ChatService) Session(id string) (store.Session, error) {
	sess, ok := s.sessions.Session(id)
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	return sess, nil
}

func (s *ChatService) Message(sessionID, messageID string) (store.Message, error) {
	if _, ok := s.sessions.Session(sessionID); !ok {
		return store.Message{}, store.ErrSessionNotFound
	}
	msg, ok := s.sessions.Message(sessionID, messageID)
	if !ok {
		return store.Message{}, store.ErrMessageNotFound
	}
	return msg, nil
}

func (s *ChatService) Config() store.AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// ConfigUpdate carries a partial config change. Nil fields are left alone.
type ConfigUpdate struct {
	ModelID   *string `json:"modelId,omitempty"`
	UseSearch *bool   `json:"useSearch,omitempty"`
}

func (s *ChatService) UpdateConfig(u ConfigUpdate) (store.AIConfig, error) {
	s.mu.Lock()
	cfg := s.config
	if u.ModelID != nil {
		if _, ok := LookupModel(*u.ModelID); !ok {
			s.mu.Unlock()
			return cfg, fmt.Errorf("%w: %s", ErrUnknownModel, *u.ModelID)
		}
		cfg.ModelID = *u.ModelID
	}
	if u.UseSearch != nil {
		cfg.UseSearch = *u.UseSearch
	}
	changed := cfg != s.config
	s.config = cfg
	s.mu.Unlock()

	if changed {
		s.sessions.SetDefaultModel(cfg.ModelID)
		s.transport.ResetSession()
	}
	return cfg, nil
}

type SendRequest struct {
	SessionID   string // empty targets the active session
	Text        string
	Attachments []store.Attachment
	Config      *store.AIConfig // overrides the current config for this turn
}

// SendMessage runs one turn: it appends the user message and a streaming
// placeholder, folds every increment into the placeholder in arrival order
// and completes it. Transport failures are logged and recorded on the
// message rather than returned. A nil message with a nil error means the
// session was deleted while the reply streamed.
func (s *ChatService) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	cfg := s.Config()
	if req.Config != nil {
		if _, ok := LookupModel(req.Config.ModelID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.Config.ModelID)
		}
		cfg = *req.Config
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.sessions.Active().ID
	}
	sess, ok := s.sessions.Session(sessionID)
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	if err := s.sessions.SetSessionModel(sessionID, cfg.ModelID); err != nil {
		return nil, err
	}

	if _, err := s.sessions.AppendUserMessage(sessionID, req.Text, req.Attachments); err != nil {
		return nil, err
	}
	placeholder, err := s.sessions.BeginModelMessage(sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.transport.StreamTurn(ctx, TurnRequest{
		ModelID:     cfg.ModelID,
		Prompt:      req.Text,
		Attachments: req.Attachments,
		History:     sess.Messages,
		UseSearch:   cfg.UseSearch,
	})
	if err != nil {
		log.Printf("Failed to open %s stream for session %s: %v", cfg.ModelID, sessionID, err)
		return s.complete(sessionID, placeholder.ID, true)
	}
	defer stream.Close()

	failed := false
	for {
		inc, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			log.Printf("Stream for session %s failed: %v", sessionID, err)
			failed = true
			break
		}
		if !s.sessions.ApplyStreamDelta(sessionID, placeholder.ID, inc.Text, inc.GroundingSources, inc.GeneratedImages) {
			log.Printf("Session %s is gone, dropping the rest of its stream", sessionID)
			return nil, nil
		}
	}
	return s.complete(sessionID, placeholder.ID, failed)
}

func (s *ChatService) complete(sessionID, messageID string, failed bool) (*store.Message, error) {
	msg, ok := s.sessions.CompleteModelMessage(sessionID, messageID, failed)
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// ExportSession renders a session as indented JSON along with the download
// file name.
func (s *ChatService) ExportSession(id string) ([]byte, string, error) {
	sess, ok := s.sessions.Session(id)
	if !ok {
		return nil, "", store.ErrSessionNotFound
	}
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal session %s: %w", id, err)
	}
	return b, fmt.Sprintf("chat-export-%s.json", s.now().Format("2006-01-02")), nil
}

func (s *ChatService) SearchSessions(ctx context.Context, query string) ([]SearchHit, error) {
	return s.search.Search(ctx, query, s.sessions.Sessions())
}

// Reset drops every session, used when the user signs out.
func (s *ChatService) Reset() store.Session {
	sess := s.sessions.Reset()
	s.transport.ResetSession()
	return sess
}

// Subscribe exposes the session change feed.
func (s *ChatService) Subscribe() (<-chan store.Change, func()) {
	return s.sessions.Subscribe()
}
