package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/neura-chat/internal/store"
)

// topicEmbedder maps text onto fixed axes by keyword so similarities are predictable.
type topicEmbedder struct {
	calls int
	err   error
}

func (e *topicEmbedder) embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	text = strings.ToLower(text)
	vec := []float32{0, 0, 0.01}
	if strings.Contains(text, "golang") {
		vec[0] = 1
	}
	if strings.Contains(text, "pasta") {
		vec[1] = 1
	}
	return vec, nil
}

func searchSession(id, title string, updated time.Time, contents ...string) store.Session {
	sess := store.Session{ID: id, Title: title, UpdatedAt: updated}
	for i, c := range contents {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleModel
		}
		sess.Messages = append(sess.Messages, store.Message{ID: id + "-m", Role: role, Content: c})
	}
	return sess
}

func TestHistorySearch_RanksBySimilarity(t *testing.T) {
	now := time.Now()
	sessions := []store.Session{
		searchSession("s1", "Dinner", now, "best pasta recipe", "Boil the **pasta**."),
		searchSession("s2", "Code", now, "golang generics", "Use type parameters."),
		searchSession("s3", "New Chat", now),
	}
	e := &topicEmbedder{}
	h := NewHistorySearch(e.embed)

	hits, err := h.Search(context.Background(), "golang question", sessions)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s2", hits[0].SessionID)
	assert.Equal(t, "Code", hits[0].Title)
	assert.Greater(t, hits[0].Score, float32(SimilarityThreshold))
	assert.Equal(t, "golang generics", hits[0].Snippet)
}

func TestHistorySearch_CachesUntilSessionChanges(t *testing.T) {
	now := time.Now()
	sessions := []store.Session{searchSession("s1", "Dinner", now, "pasta")}
	e := &topicEmbedder{}
	h := NewHistorySearch(e.embed)

	_, err := h.Search(context.Background(), "pasta", sessions)
	require.NoError(t, err)
	_, err = h.Search(context.Background(), "pasta", sessions)
	require.NoError(t, err)
	assert.Equal(t, 3, e.calls) // two queries, one session embedding

	sessions[0].UpdatedAt = now.Add(time.Second)
	_, err = h.Search(context.Background(), "pasta", sessions)
	require.NoError(t, err)
	assert.Equal(t, 5, e.calls)
}

func TestHistorySearch_FallsBackToKeywords(t *testing.T) {
	sessions := []store.Session{
		searchSession("s1", "Trip planning", time.Now(), "Where to go in Lisbon?"),
		searchSession("s2", "Other", time.Now(), "nothing relevant"),
	}
	e := &topicEmbedder{err: errors.New("quota exceeded")}
	h := NewHistorySearch(e.embed)

	hits, err := h.Search(context.Background(), "lisbon", sessions)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s1", hits[0].SessionID)
	assert.Contains(t, hits[0].Snippet, "Lisbon")
}

func TestHistorySearch_KeywordWithoutEmbedder(t *testing.T) {
	var h *HistorySearch
	sessions := []store.Session{searchSession("s1", "Trip planning", time.Now())}

	hits, err := h.Search(context.Background(), "TRIP", sessions)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s1", hits[0].SessionID)
}

func TestHistorySearch_EmptyQuery(t *testing.T) {
	h := NewHistorySearch((&topicEmbedder{}).embed)
	hits, err := h.Search(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHistorySearch_KeywordLimit(t *testing.T) {
	var sessions []store.Session
	for i := 0; i < NumSearchResults+3; i++ {
		sessions = append(sessions, searchSession(string(rune('a'+i)), "match", time.Now()))
	}
	hits := keywordSearch("match", sessions)
	assert.Len(t, hits, NumSearchResults)
}
