package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

type fakeAssembly struct {
	statuses []string
	polls    atomic.Int32
	uploaded atomic.Int64
}

func (f *fakeAssembly) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("Authorization"))
		n, _ := io.Copy(io.Discard, r.Body)
		f.uploaded.Store(n)
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn/audio"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AudioURL    string `json:"audio_url"`
			SpeechModel string `json:"speech_model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://cdn/audio", req.AudioURL)
		require.Equal(t, "universal", req.SpeechModel)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/job1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		status := f.statuses[len(f.statuses)-1]
		if n < len(f.statuses) {
			status = f.statuses[n]
		}
		resp := map[string]string{"id": "job1", "status": status}
		if status == "completed" {
			resp["text"] = "hello from audio"
		}
		if status == "error" {
			resp["error"] = "bad audio"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v2/transcript/job1/sentences", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sentences":[{"text":"hello","start":0,"end":1500},{"text":"from audio","start":1500,"end":4000},{"text":"no timing"}]}`))
	})
	return mux
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake-audio-bytes"), 0o644))
	return path
}

func newTestClient(url string, attempts int, timestamps bool) *Client {
	return New(Config{
		APIKey:       "key",
		BaseURL:      url,
		PollAttempts: attempts,
		PollInterval: time.Millisecond,
		Timestamps:   timestamps,
	})
}

func TestTranscribeCompleted(t *testing.T) {
	fake := &fakeAssembly{statuses: []string{"queued", "processing", "completed"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 5, false).Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	require.Equal(t, "hello from audio", out.Text)
	require.Empty(t, out.Fragments)
	require.EqualValues(t, 3, fake.polls.Load())
	require.EqualValues(t, len("fake-audio-bytes"), fake.uploaded.Load())
}

func TestTranscribeWithSentenceTimings(t *testing.T) {
	fake := &fakeAssembly{statuses: []string{"completed"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 5, true).Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	require.Len(t, out.Fragments, 2)
	require.Equal(t, "from audio", out.Fragments[1].Text)
	require.Equal(t, 1.5, out.Fragments[1].Start)
	require.Equal(t, 4.0, out.Fragments[1].End())
}

func TestTranscribeTimeout(t *testing.T) {
	fake := &fakeAssembly{statuses: []string{"processing"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 4, false).Transcribe(context.Background(), writeAudio(t))
	require.True(t, errors.Is(err, appErr.ErrTimeout))
	require.EqualValues(t, 4, fake.polls.Load())
}

func TestTranscribeRemoteError(t *testing.T) {
	fake := &fakeAssembly{statuses: []string{"processing", "error"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5, false).Transcribe(context.Background(), writeAudio(t))
	require.True(t, errors.Is(err, appErr.ErrTranscriptionFailed))
}

func TestTranscribeNoAPIKey(t *testing.T) {
	_, err := New(Config{}).Transcribe(context.Background(), "missing.mp3")
	require.True(t, errors.Is(err, appErr.ErrTranscriptionFailed))
}

func TestTranscribeHonoursCancel(t *testing.T) {
	fake := &fakeAssembly{statuses: []string{"processing"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(Config{APIKey: "key", BaseURL: srv.URL, PollAttempts: 100, PollInterval: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Transcribe(ctx, writeAudio(t))
	require.Error(t, err)
	require.EqualValues(t, 1, fake.polls.Load())
}

func TestTranscribeSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5, false).Transcribe(context.Background(), writeAudio(t))
	require.True(t, errors.Is(err, appErr.ErrTranscriptionFailed))
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1", 1, false).Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.mp3"))
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}
