package core

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
)

// DictationLocale is the recognition language requested from the recognizer.
const DictationLocale = "en-US"

var ErrSpeechUnsupported = errors.New("speech recognition is not supported")

type TranscriptSegment struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Recognizer is a continuous speech recognizer with interim results. The
// segment channel is closed when recognition ends for any reason.
type Recognizer interface {
	Start(ctx context.Context, locale string) (<-chan TranscriptSegment, error)
	Stop() error
}

// Dictation feeds recognized speech into the compose text.
type Dictation struct {
	rec Recognizer

	mu        sync.Mutex
	listening bool
	compose   string
	cancel    context.CancelFunc
	run       int // bumped per Start so a stale consumer cannot clear a newer run
}

// NewDictation accepts a nil recognizer; Start then reports ErrSpeechUnsupported.
func NewDictation(rec Recognizer) *Dictation {
	return &Dictation{rec: rec}
}

func (d *Dictation) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

func (d *Dictation) Compose() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compose
}

func (d *Dictation) SetCompose(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compose = text
}

// Start begins listening. Final segments are appended to the compose text
// until Stop is called or the recognizer ends.
func (d *Dictation) Start(ctx context.Context) error {
	if d.rec == nil {
		return ErrSpeechUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listening {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	segments, err := d.rec.Start(ctx, DictationLocale)
	if err != nil {
		cancel()
		return err
	}
	d.run++
	d.listening = true
	d.cancel = cancel
	go d.consume(d.run, segments)
	return nil
}

func (d *Dictation) consume(run int, segments <-chan TranscriptSegment) {
	for seg := range segments {
		d.mu.Lock()
		d.compose = AppendTranscript(d.compose, []TranscriptSegment{seg})
		d.mu.Unlock()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != run {
		return
	}
	d.listening = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Dictation) Stop() error {
	if d.rec == nil {
		return ErrSpeechUnsupported
	}
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return nil
	}
	d.listening = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := d.rec.Stop(); err != nil {
		log.Printf("Error stopping speech recognizer: %v", err)
		return err
	}
	return nil
}

// Toggle starts listening when idle and stops when listening.
func (d *Dictation) Toggle(ctx context.Context) (bool, error) {
	if d.Listening() {
		return false, d.Stop()
	}
	if err := d.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// AppendTranscript joins the final segments of one recognition result and
// appends them to compose, separated by a space unless compose is empty or
// already ends in one. Interim segments are ignored.
func AppendTranscript(compose string, segments []TranscriptSegment) string {
	var final strings.Builder
	for _, s := range segments {
		if s.IsFinal {
			final.WriteString(s.Text)
		}
	}
	if final.Len() == 0 {
		return compose
	}
	if compose != "" && !strings.HasSuffix(compose, " ") {
		compose += " "
	}
	return compose + final.String()
}
