package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/iterator"
	"gwi.com/neura-chat/internal/store"
)

type restBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type restPart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *restBlob `json:"inlineData,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type restGenerateReq struct {
	Contents          []restContent `json:"contents"`
	SystemInstruction *restContent  `json:"systemInstruction,omitempty"`
	Tools             []restTool    `json:"tools,omitempty"`
}

type restGroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web"`
}

type restStreamResp struct {
	Candidates []struct {
		Content           *restContent `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []restGroundingChunk `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *restError `json:"error,omitempty"`
}

type restError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// searchStreamer calls streamGenerateContent over SSE with the Google Search
// tool attached.
type searchStreamer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newSearchStreamer(baseURL, apiKey string, client *http.Client) *searchStreamer {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &searchStreamer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (s *searchStreamer) stream(ctx context.Context, req TurnRequest) (TurnStream, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	turn := restParts(req.Prompt, req.Attachments)
	if len(turn) == 0 {
		return nil, errEmptyTurn
	}

	body := restGenerateReq{
		SystemInstruction: &restContent{Parts: []restPart{{Text: chatSystemInstruction}}},
		Tools:             []restTool{{GoogleSearch: &struct{}{}}},
	}
	for _, m := range turnHistory(req.History) {
		body.Contents = append(body.Contents, restContent{Role: m.Role, Parts: restParts(m.Content, m.Attachments)})
	}
	body.Contents = append(body.Contents, restContent{Role: store.RoleUser, Parts: turn})

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", s.baseURL, url.PathEscape(req.ModelID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	// Inline image data arrives on a single line.
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 16*1024*1024)
	return &sseTurnStream{body: resp.Body, sc: sc}, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	var decoded struct {
		Error *restError `json:"error"`
	}
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != nil && decoded.Error.Message != "" {
		return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, decoded.Error.Message)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return fmt.Errorf("gemini: status %d", resp.StatusCode)
	}
	return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, msg)
}

type sseTurnStream struct {
	body   io.ReadCloser
	sc     *bufio.Scanner
	closed bool
}

func (st *sseTurnStream) Next() (*Increment, error) {
	if st.closed {
		return nil, iterator.Done
	}
	for st.sc.Scan() {
		line := strings.TrimSpace(st.sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			st.Close()
			return nil, iterator.Done
		}

		var decoded restStreamResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			st.Close()
			return nil, fmt.Errorf("gemini: malformed stream chunk: %w", err)
		}
		if decoded.Error != nil {
			st.Close()
			return nil, fmt.Errorf("gemini: %s", decoded.Error.Message)
		}
		return incrementFromREST(&decoded), nil
	}

	err := st.sc.Err()
	st.Close()
	if err != nil {
		return nil, fmt.Errorf("gemini: stream read failed: %w", err)
	}
	return nil, iterator.Done
}

func (st *sseTurnStream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.body.Close()
}

func incrementFromREST(resp *restStreamResp) *Increment {
	inc := &Increment{}
	if len(resp.Candidates) == 0 {
		return inc
	}
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			inc.Text += p.Text
			if p.InlineData != nil {
				inc.GeneratedImages = append(inc.GeneratedImages, store.Attachment{
					MIMEType: p.InlineData.MIMEType,
					Data:     p.InlineData.Data,
				})
			}
		}
	}
	if cand.GroundingMetadata != nil {
		for _, c := range cand.GroundingMetadata.GroundingChunks {
			if c.Web == nil || (c.Web.URI == "" && c.Web.Title == "") {
				continue
			}
			inc.GroundingSources = append(inc.GroundingSources, store.GroundingSource{URI: c.Web.URI, Title: c.Web.Title})
		}
	}
	return inc
}

func restParts(text string, attachments []store.Attachment) []restPart {
	parts := make([]restPart, 0, len(attachments)+1)
	for _, a := range attachments {
		parts = append(parts, restPart{InlineData: &restBlob{MIMEType: a.MIMEType, Data: a.Data}})
	}
	if text != "" {
		parts = append(parts, restPart{Text: text})
	}
	return parts
}
