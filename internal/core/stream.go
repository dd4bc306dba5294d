package core

import (
	"context"

	"gwi.com/neura-chat/internal/store"
)

// Increment is one piece of streamed model output. Text is a delta to append.
type Increment struct {
	Text             string
	GroundingSources []store.GroundingSource
	GeneratedImages  []store.Attachment
}

type TurnRequest struct {
	ModelID     string
	Prompt      string
	Attachments []store.Attachment
	History     []store.Message // prior turns, without the new prompt
	UseSearch   bool
}

// TurnStream yields the increments of one model turn in generation order.
// Next returns iterator.Done (google.golang.org/api/iterator) after the last one.
type TurnStream interface {
	Next() (*Increment, error)
	Close() error
}

// Transport opens streamed model turns. Cancelling ctx aborts the request.
type Transport interface {
	ResetSession()
	StreamTurn(ctx context.Context, req TurnRequest) (TurnStream, error)
}

// turnHistory drops messages that must not be replayed to the model:
// failed replies, unfinished placeholders and empty entries.
func turnHistory(history []store.Message) []store.Message {
	out := make([]store.Message, 0, len(history))
	for _, m := range history {
		if m.Error || m.IsStreaming {
			continue
		}
		if m.Content == "" && len(m.Attachments) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}
