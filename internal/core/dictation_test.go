package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	ch      chan TranscriptSegment
	locale  string
	stopped int
}

func (r *fakeRecognizer) Start(_ context.Context, locale string) (<-chan TranscriptSegment, error) {
	r.locale = locale
	r.ch = make(chan TranscriptSegment)
	return r.ch, nil
}

func (r *fakeRecognizer) Stop() error {
	r.stopped++
	return nil
}

func TestAppendTranscript(t *testing.T) {
	tests := []struct {
		name     string
		compose  string
		segments []TranscriptSegment
		want     string
	}{
		{"empty compose", "", []TranscriptSegment{{Text: "hello", IsFinal: true}}, "hello"},
		{"adds separator", "hi", []TranscriptSegment{{Text: "there", IsFinal: true}}, "hi there"},
		{"keeps trailing space", "hi ", []TranscriptSegment{{Text: "there", IsFinal: true}}, "hi there"},
		{"ignores interim", "hi", []TranscriptSegment{{Text: "ther", IsFinal: false}}, "hi"},
		{"joins finals", "a", []TranscriptSegment{{Text: "b", IsFinal: true}, {Text: "x"}, {Text: "c", IsFinal: true}}, "a bc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppendTranscript(tt.compose, tt.segments))
		})
	}
}

func TestDictation_Unsupported(t *testing.T) {
	d := NewDictation(nil)
	assert.ErrorIs(t, d.Start(context.Background()), ErrSpeechUnsupported)
	assert.ErrorIs(t, d.Stop(), ErrSpeechUnsupported)
	assert.False(t, d.Listening())
}

func TestDictation_AppendsFinalSegments(t *testing.T) {
	rec := &fakeRecognizer{}
	d := NewDictation(rec)
	d.SetCompose("note:")

	listening, err := d.Toggle(context.Background())
	require.NoError(t, err)
	assert.True(t, listening)
	assert.Equal(t, DictationLocale, rec.locale)

	rec.ch <- TranscriptSegment{Text: "buy", IsFinal: false}
	rec.ch <- TranscriptSegment{Text: "buy milk", IsFinal: true}
	close(rec.ch)

	require.Eventually(t, func() bool { return !d.Listening() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "note: buy milk", d.Compose())
}

func TestDictation_ToggleStops(t *testing.T) {
	rec := &fakeRecognizer{}
	d := NewDictation(rec)

	require.NoError(t, d.Start(context.Background()))
	listening, err := d.Toggle(context.Background())
	require.NoError(t, err)
	assert.False(t, listening)
	assert.Equal(t, 1, rec.stopped)
	assert.False(t, d.Listening())
}
