package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"gwi.com/neura-chat/internal/store"
)

type scriptedStream struct {
	increments []*Increment
	err        error // returned after the increments instead of iterator.Done
	onNext     func(i int)
	pos        int
	closed     bool
}

func (s *scriptedStream) Next() (*Increment, error) {
	if s.onNext != nil {
		s.onNext(s.pos)
	}
	if s.pos < len(s.increments) {
		inc := s.increments[s.pos]
		s.pos++
		return inc, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, iterator.Done
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	stream   *scriptedStream
	openErr  error
	requests []TurnRequest
	resets   int
}

func (f *fakeTransport) ResetSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTransport) StreamTurn(_ context.Context, req TurnRequest) (TurnStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.stream == nil {
		return &scriptedStream{}, nil
	}
	return f.stream, nil
}

func newTestService(t *testing.T, tr *fakeTransport) (*ChatService, *store.SessionStore) {
	t.Helper()
	sessions := store.NewSessionStore(DefaultConfig.ModelID)
	return NewChatService(sessions, tr, NewHistorySearch(nil), DefaultConfig), sessions
}

func TestSendMessage_Hi(t *testing.T) {
	tr := &fakeTransport{stream: &scriptedStream{increments: []*Increment{{Text: "Hello!"}}}}
	svc, _ := newTestService(t, tr)

	msg, err := svc.SendMessage(context.Background(), SendRequest{Text: "Hi"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	sess := svc.ActiveSession()
	assert.Equal(t, "Hi", sess.Title)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, store.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "Hi", sess.Messages[0].Content)
	assert.Equal(t, store.RoleModel, sess.Messages[1].Role)
	assert.Equal(t, "Hello!", sess.Messages[1].Content)
	assert.False(t, sess.Messages[1].IsStreaming)
	assert.False(t, sess.Messages[1].Error)
	assert.Equal(t, *msg, sess.Messages[1])
	assert.True(t, tr.stream.closed)
}

func TestSendMessage_ConcatenatesDeltas(t *testing.T) {
	tr := &fakeTransport{stream: &scriptedStream{increments: []*Increment{
		{Text: "Hel"},
		{Text: "lo", GroundingSources: []store.GroundingSource{{URI: "https://a.example"}}},
	}}}
	svc, _ := newTestService(t, tr)

	msg, err := svc.SendMessage(context.Background(), SendRequest{Text: "greet me"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, []store.GroundingSource{{URI: "https://a.example"}}, msg.GroundingSources)
}

func TestSendMessage_FailureKeepsPartialContent(t *testing.T) {
	tr := &fakeTransport{stream: &scriptedStream{
		increments: []*Increment{{Text: "Sor"}},
		err:        errors.New("connection reset"),
	}}
	svc, _ := newTestService(t, tr)

	msg, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Sor", msg.Content)
	assert.True(t, msg.Error)
	assert.False(t, msg.IsStreaming)
}

func TestSendMessage_OpenFailureUsesFallbackText(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("bad key")}
	svc, _ := newTestService(t, tr)

	msg, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, store.StreamErrorText, msg.Content)
	assert.True(t, msg.Error)
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.SendMessage(context.Background(), SendRequest{SessionID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = svc.SendMessage(context.Background(), SendRequest{Text: "hi", Config: &store.AIConfig{ModelID: "gpt-9"}})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSendMessage_AttachmentOnly(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)
	att := store.Attachment{MIMEType: "image/png", Data: "AAAA"}

	_, err := svc.SendMessage(context.Background(), SendRequest{Attachments: []store.Attachment{att}})
	require.NoError(t, err)

	sess := svc.ActiveSession()
	assert.Equal(t, store.DefaultSessionTitle, sess.Title)
	require.Len(t, tr.requests, 1)
	assert.Equal(t, []store.Attachment{att}, tr.requests[0].Attachments)
}

func TestSendMessage_PassesPriorHistoryAndConfig(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "first"})
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), SendRequest{
		Text:   "second",
		Config: &store.AIConfig{ModelID: "gemini-3-pro-preview", UseSearch: true},
	})
	require.NoError(t, err)

	require.Len(t, tr.requests, 2)
	assert.Empty(t, tr.requests[0].History)
	req := tr.requests[1]
	assert.Equal(t, "second", req.Prompt)
	assert.Equal(t, "gemini-3-pro-preview", req.ModelID)
	assert.True(t, req.UseSearch)
	require.Len(t, req.History, 2)
	assert.Equal(t, "first", req.History[0].Content)
	assert.Equal(t, "gemini-3-pro-preview", svc.ActiveSession().ModelID)
}

func TestSendMessage_SessionDeletedMidStream(t *testing.T) {
	tr := &fakeTransport{}
	svc, sessions := newTestService(t, tr)
	target := svc.ActiveSession().ID
	svc.CreateSession()

	tr.stream = &scriptedStream{
		increments: []*Increment{{Text: "a"}, {Text: "b"}},
		onNext: func(i int) {
			if i == 1 {
				require.NoError(t, svc.DeleteSession(target))
			}
		},
	}

	msg, err := svc.SendMessage(context.Background(), SendRequest{SessionID: target, Text: "hi"})
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.True(t, tr.stream.closed)

	_, ok := sessions.Session(target)
	assert.False(t, ok)
	assert.Equal(t, 1, sessions.Len())
}

func TestSendMessage_TargetsOriginatingSession(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)
	origin := svc.ActiveSession().ID

	tr.stream = &scriptedStream{
		increments: []*Increment{{Text: "x"}, {Text: "y"}},
		onNext: func(i int) {
			if i == 1 {
				svc.CreateSession()
			}
		},
	}
	msg, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "xy", msg.Content)

	sess, err := svc.Session(origin)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
	assert.Empty(t, svc.ActiveSession().Messages)
}

func TestDeleteSession_ResetsTransportOnReplacement(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)
	only := svc.ActiveSession().ID

	require.NoError(t, svc.DeleteSession(only))
	assert.Equal(t, 1, tr.resets)
	assert.Len(t, svc.Sessions(), 1)
	assert.NotEqual(t, only, svc.ActiveSession().ID)

	assert.ErrorIs(t, svc.DeleteSession("missing"), store.ErrSessionNotFound)
}

func TestSelectSession(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)
	first := svc.ActiveSession().ID
	svc.CreateSession()

	require.NoError(t, svc.SelectSession(first))
	assert.Equal(t, first, svc.ActiveSession().ID)
	assert.ErrorIs(t, svc.SelectSession("nope"), store.ErrSessionNotFound)
}

func TestUpdateConfig(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)

	model := "gemini-2.5-flash-image"
	search := true
	cfg, err := svc.UpdateConfig(ConfigUpdate{ModelID: &model, UseSearch: &search})
	require.NoError(t, err)
	assert.Equal(t, store.AIConfig{ModelID: model, UseSearch: true}, cfg)
	assert.Equal(t, cfg, svc.Config())
	assert.Equal(t, 1, tr.resets)
	assert.Equal(t, model, svc.CreateSession().ModelID)

	bad := "unknown"
	_, err = svc.UpdateConfig(ConfigUpdate{ModelID: &bad})
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, model, svc.Config().ModelID)
}

func TestExportSession(t *testing.T) {
	tr := &fakeTransport{stream: &scriptedStream{increments: []*Increment{{Text: "pong"}}}}
	svc, _ := newTestService(t, tr)
	svc.now = func() time.Time { return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC) }

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "ping"})
	require.NoError(t, err)
	id := svc.ActiveSession().ID

	data, name, err := svc.ExportSession(id)
	require.NoError(t, err)
	assert.Equal(t, "chat-export-2025-03-07.json", name)

	var exported store.Session
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Equal(t, id, exported.ID)
	assert.Equal(t, "ping", exported.Title)
	require.Len(t, exported.Messages, 2)
	assert.Contains(t, string(data), "\n  \"id\"")

	_, _, err = svc.ExportSession("missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSearchSessions_Keyword(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})
	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "Kubernetes ingress"})
	require.NoError(t, err)

	hits, err := svc.SearchSessions(context.Background(), "ingress")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, svc.ActiveSession().ID, hits[0].SessionID)
}

func TestReset(t *testing.T) {
	tr := &fakeTransport{}
	svc, _ := newTestService(t, tr)
	svc.CreateSession()
	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)

	fresh := svc.Reset()
	sessions := svc.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, fresh.ID, sessions[0].ID)
	assert.Empty(t, fresh.Messages)
}
