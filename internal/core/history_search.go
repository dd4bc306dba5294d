package core

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gwi.com/neura-chat/internal/markdown"
	"gwi.com/neura-chat/internal/store"
	"gwi.com/neura-chat/internal/utils"
)

const (
	NumSearchResults    = 5   // Maximum number of sessions returned by a search
	SimilarityThreshold = 0.6 // Minimum similarity score for a semantic hit

	maxIndexedRunes = 8000
	snippetRunes    = 120
)

// Embedder turns text into a vector. LLMService.GetEmbedding satisfies it.
type Embedder func(ctx context.Context, text string) ([]float32, error)

type SearchHit struct {
	SessionID string  `json:"sessionId"`
	Title     string  `json:"title"`
	Score     float32 `json:"score"`
	Snippet   string  `json:"snippet,omitempty"`
}

type cachedEmbedding struct {
	updatedAt time.Time
	vector    []float32
}

// HistorySearch ranks sessions against a query by embedding similarity and
// falls back to substring matching when embeddings are unavailable.
type HistorySearch struct {
	embed Embedder

	mu    sync.Mutex
	cache map[string]cachedEmbedding // by session id
}

func NewHistorySearch(embed Embedder) *HistorySearch {
	return &HistorySearch{
		embed: embed,
		cache: make(map[string]cachedEmbedding),
	}
}

func (h *HistorySearch) Search(ctx context.Context, query string, sessions []store.Session) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchHit{}, nil
	}
	if h == nil || h.embed == nil {
		return keywordSearch(query, sessions), nil
	}

	queryEmbedding, err := h.embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("Query embedding failed, falling back to keyword search: %v", err)
		return keywordSearch(query, sessions), nil
	}

	h.prune(sessions)

	hits := make([]SearchHit, 0, len(sessions))
	for _, sess := range sessions {
		if len(sess.Messages) == 0 {
			continue
		}
		vec, err := h.sessionEmbedding(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("Skipping session %s in history search: %v", sess.ID, err)
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, vec)
		if err != nil {
			log.Printf("Error calculating similarity for session %s: %v. Skipping.", sess.ID, err)
			continue
		}
		if similarity >= SimilarityThreshold {
			hits = append(hits, SearchHit{
				SessionID: sess.ID,
				Title:     sess.Title,
				Score:     similarity,
				Snippet:   truncateRunes(firstMessageText(sess), snippetRunes),
			})
		}
	}

	if len(hits) == 0 {
		log.Printf("No semantic matches above %.2f for %q, trying keyword search", SimilarityThreshold, query)
		return keywordSearch(query, sessions), nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > NumSearchResults {
		hits = hits[:NumSearchResults]
	}
	return hits, nil
}

// sessionEmbedding reuses the cached vector while the session is unchanged.
func (h *HistorySearch) sessionEmbedding(ctx context.Context, sess store.Session) ([]float32, error) {
	h.mu.Lock()
	c, ok := h.cache[sess.ID]
	h.mu.Unlock()
	if ok && c.updatedAt.Equal(sess.UpdatedAt) {
		return c.vector, nil
	}

	vec, err := h.embed(ctx, truncateRunes(sessionText(sess), maxIndexedRunes))
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.cache[sess.ID] = cachedEmbedding{updatedAt: sess.UpdatedAt, vector: vec}
	h.mu.Unlock()
	return vec, nil
}

func (h *HistorySearch) prune(sessions []store.Session) {
	live := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		live[sess.ID] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.cache {
		if _, ok := live[id]; !ok {
			delete(h.cache, id)
		}
	}
}

func keywordSearch(query string, sessions []store.Session) []SearchHit {
	needle := strings.ToLower(query)
	hits := []SearchHit{}
	for _, sess := range sessions {
		if len(hits) == NumSearchResults {
			break
		}
		if strings.Contains(strings.ToLower(sess.Title), needle) {
			hits = append(hits, SearchHit{SessionID: sess.ID, Title: sess.Title, Score: 1, Snippet: truncateRunes(firstMessageText(sess), snippetRunes)})
			continue
		}
		for _, m := range sess.Messages {
			text := plainMessageText(m)
			if i := strings.Index(strings.ToLower(text), needle); i >= 0 {
				hits = append(hits, SearchHit{SessionID: sess.ID, Title: sess.Title, Score: 1, Snippet: snippetAt(text, i)})
				break
			}
		}
	}
	return hits
}

func sessionText(sess store.Session) string {
	var b strings.Builder
	b.WriteString(sess.Title)
	for _, m := range sess.Messages {
		if m.Error || m.IsStreaming {
			continue
		}
		b.WriteString("\n")
		b.WriteString(plainMessageText(m))
	}
	return b.String()
}

func plainMessageText(m store.Message) string {
	return markdown.PlainText(markdown.Render(m.Content))
}

func firstMessageText(sess store.Session) string {
	if len(sess.Messages) == 0 {
		return ""
	}
	return plainMessageText(sess.Messages[0])
}

// snippetAt returns a window of text starting a little before byte offset i.
func snippetAt(text string, i int) string {
	start := min(max(i-snippetRunes/4, 0), len(text))
	for start > 0 && start < len(text) && !utf8.RuneStart(text[start]) {
		start--
	}
	return truncateRunes(text[start:], snippetRunes)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
