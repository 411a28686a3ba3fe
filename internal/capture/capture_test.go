package capture

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu    sync.Mutex
	calls []string
	text  string
	err   error
}

func (l *recordingListener) OnTranscription(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "transcription")
	l.text = text
}

func (l *recordingListener) OnTranscriptionComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "complete")
}

func (l *recordingListener) OnCaptureError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "error")
	l.err = err
}

type stubRecognizer struct {
	text string
	err  error
}

func (s stubRecognizer) Transcribe(context.Context, []byte) (string, error) {
	return s.text, s.err
}

func TestTranscriber_UploadsMultipartRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultTranscribePath, r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "recording.wav", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("RIFF...."), data)

		_, _ = w.Write([]byte(`{"text":"hello avatar"}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{ServerURL: srv.URL}, zerolog.Nop())
	text, err := tr.Transcribe(context.Background(), []byte("RIFF...."))
	require.NoError(t, err)
	assert.Equal(t, "hello avatar", text)
}

func TestTranscriber_ErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"Transcription failed: unsupported format"}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(TranscriberConfig{ServerURL: srv.URL + "/"}, zerolog.Nop())
	_, err := tr.Transcribe(context.Background(), []byte("x"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Transcription failed: unsupported format", apiErr.Detail)
}

func TestPipeline_TranscriptionBeforeComplete(t *testing.T) {
	l := &recordingListener{}
	p := NewPipeline(stubRecognizer{text: "what is the book about"}, l, nil, zerolog.Nop())

	text, err := p.Process(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "what is the book about", text)
	assert.Equal(t, []string{"transcription", "complete"}, l.calls)
	assert.Equal(t, "what is the book about", l.text)
}

func TestPipeline_BlankTranscriptDoesNotComplete(t *testing.T) {
	l := &recordingListener{}
	p := NewPipeline(stubRecognizer{text: "   "}, l, nil, zerolog.Nop())

	_, err := p.Process(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, []string{"transcription"}, l.calls)
}

func TestPipeline_ErrorReportedOnly(t *testing.T) {
	l := &recordingListener{}
	boom := errors.New("microphone unplugged")
	p := NewPipeline(stubRecognizer{err: boom}, l, nil, zerolog.Nop())

	_, err := p.Process(context.Background(), []byte("audio"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"error"}, l.calls)
	assert.ErrorIs(t, l.err, boom)
}
