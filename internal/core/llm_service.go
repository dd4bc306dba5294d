package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"gwi.com/neura-chat/internal/config"
	"gwi.com/neura-chat/internal/store"
)

const (
	defaultEmbeddingModelName = "text-embedding-004"

	chatSystemInstruction = "You are Neura, a helpful and capable AI assistant. " +
		"Be concise, accurate, and friendly. Use natural language. " +
		"Format your responses nicely with Markdown."
)

var errEmptyTurn = errors.New("turn has neither text nor attachments")

// LLMService is the Gemini transport. Plain turns go through the SDK chat
// session; search-grounded turns go through the REST stream, since the SDK
// has no Google Search tool.
type LLMService struct {
	client *genai.Client
	search *searchStreamer

	mu        sync.Mutex
	chat      *genai.ChatSession
	chatModel string
}

func NewLLMService(ctx context.Context, apiKey, baseURL string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &LLMService{
		client: client,
		search: newSearchStreamer(baseURL, apiKey, &http.Client{}),
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// ResetSession drops the cached chat handle so the next turn starts from the
// full history.
func (s *LLMService) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat != nil && config.AppConfig.LogLevel == "DEBUG" {
		log.Printf("Discarding cached %s chat (%d history turns)", s.chatModel, len(s.chat.History))
	}
	s.chat = nil
	s.chatModel = ""
}

func (s *LLMService) StreamTurn(ctx context.Context, req TurnRequest) (TurnStream, error) {
	if req.UseSearch {
		return s.search.stream(ctx, req)
	}

	history, err := toGenaiHistory(req.History)
	if err != nil {
		return nil, err
	}
	parts, err := turnParts(req.Prompt, req.Attachments)
	if err != nil {
		return nil, err
	}

	model := s.client.GenerativeModel(req.ModelID)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	// A fresh chat per turn so the model and config always match the request.
	cs := model.StartChat()
	cs.History = history

	s.mu.Lock()
	s.chat = cs
	s.chatModel = req.ModelID
	s.mu.Unlock()

	return &sdkTurnStream{iter: cs.SendMessageStream(ctx, parts...)}, nil
}

func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

type sdkTurnStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (st *sdkTurnStream) Next() (*Increment, error) {
	resp, err := st.iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, iterator.Done
	}
	if err != nil {
		return nil, fmt.Errorf("gemini stream failed: %w", err)
	}
	return incrementFromResponse(resp), nil
}

// Close is a no-op; the gRPC stream ends with its context.
func (st *sdkTurnStream) Close() error { return nil }

func incrementFromResponse(resp *genai.GenerateContentResponse) *Increment {
	inc := &Increment{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return inc
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			inc.Text += string(p)
		case genai.Blob:
			inc.GeneratedImages = append(inc.GeneratedImages, store.Attachment{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			})
		default:
			log.Printf("Ignoring Gemini response part of type %T", part)
		}
	}
	return inc
}

func toGenaiHistory(history []store.Message) ([]*genai.Content, error) {
	msgs := turnHistory(history)
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		parts, err := messageParts(m.Content, m.Attachments)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		contents = append(contents, &genai.Content{Role: m.Role, Parts: parts})
	}
	return contents, nil
}

func turnParts(prompt string, attachments []store.Attachment) ([]genai.Part, error) {
	parts, err := messageParts(prompt, attachments)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errEmptyTurn
	}
	return parts, nil
}

// messageParts puts inline attachments before the text, matching how the
// compose box sends them.
func messageParts(text string, attachments []store.Attachment) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(attachments)+1)
	for _, a := range attachments {
		data, err := DecodeAttachment(a)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: data})
	}
	if text != "" {
		parts = append(parts, genai.Text(text))
	}
	return parts, nil
}
