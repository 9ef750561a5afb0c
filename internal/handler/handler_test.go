package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/studyrag/internal/ai"
	"github.com/xxxsen/studyrag/internal/embedding"
	"github.com/xxxsen/studyrag/internal/index"
	"github.com/xxxsen/studyrag/internal/middleware"
	"github.com/xxxsen/studyrag/internal/pkg/errcode"
	"github.com/xxxsen/studyrag/internal/retrieval"
	"github.com/xxxsen/studyrag/internal/service"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/vectorstore"
)

type letterEmbedder struct{}

func (letterEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float32{float32(strings.Count(t, "virus")), float32(strings.Count(t, "cell")), 1}
	}
	return out, nil
}

func (letterEmbedder) ModelName() string { return "letters" }

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "answer from context", nil
}

func newRouter(t *testing.T, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	sessions, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	store := vectorstore.NewMemory()
	client := embedding.NewClient(letterEmbedder{}, embedding.Config{Dimension: 3})
	builder := index.NewBuilder(sessions, store, client, 0)
	sessionSvc := service.NewSessionService(service.SessionServiceDeps{Sessions: sessions, Builder: builder})
	learning := service.NewLearningService(sessions,
		retrieval.NewRetriever(sessions, store, client, retrieval.Config{}),
		ai.NewManager(echoGenerator{}, ai.ManagerConfig{}),
		service.LearningServiceConfig{})

	r := gin.New()
	r.Use(middleware.RequestID())
	RegisterRoutes(r.Group("/api/v1"), RouterDeps{
		Sessions: NewSessionHandler(sessionSvc, maxUpload),
		Learning: NewLearningHandler(learning),
	})
	return r
}

func postForm(r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	return w
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

var sessionIDPattern = regexp.MustCompile(`"session_id":"([0-9a-f-]{36})"`)

func createSession(t *testing.T, r *gin.Engine) string {
	w := postForm(r, "/api/v1/create_session", url.Values{})
	require.Equal(t, http.StatusOK, w.Code)
	m := sessionIDPattern.FindStringSubmatch(w.Body.String())
	require.Len(t, m, 2, w.Body.String())
	return m[1]
}

func codeOf(code int) string {
	return strconv.Itoa(code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	r := newRouter(t, 1<<20)
	id := createSession(t, r)

	w := postForm(r, "/api/v1/add_text", url.Values{"session_id": {id}, "text": {"A virus needs a host cell to replicate."}})
	require.Contains(t, w.Body.String(), `"added":1`)

	w = postJSON(r, "/api/v1/ask", map[string]interface{}{"session_id": id, "question": "what is a virus?"})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrIndexNotReady))

	w = postForm(r, "/api/v1/build_index", url.Values{"session_id": {id}})
	require.Contains(t, w.Body.String(), `"segments":1`)

	w = postJSON(r, "/api/v1/ask", map[string]interface{}{"session_id": id, "question": "what is a virus?"})
	body := w.Body.String()
	require.Contains(t, body, "answer from context")
	require.Contains(t, body, `Retrieved Segments:`)
	require.Contains(t, body, `[text | text_input]`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Contains(t, w.Body.String(), `"segment_count":1`)
	require.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = postForm(r, "/api/v1/reset", url.Values{"session_id": {id}})
	require.Contains(t, w.Body.String(), `"deleted":true`)

	w = postForm(r, "/api/v1/build_index", url.Values{"session_id": {id}})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrSessionNotFound))
}

func TestMissingSessionID(t *testing.T) {
	r := newRouter(t, 1<<20)
	w := postForm(r, "/api/v1/add_text", url.Values{"text": {"hello"}})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrInvalid))
	require.Contains(t, w.Body.String(), "session_id is required")
}

func TestAddYouTubeWithoutCaptionSource(t *testing.T) {
	r := newRouter(t, 1<<20)
	id := createSession(t, r)
	w := postForm(r, "/api/v1/add_youtube", url.Values{"session_id": {id}, "youtube_url": {"https://youtu.be/dQw4w9WgXcQ"}})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrSourceUnavailable))

	w = postForm(r, "/api/v1/add_youtube", url.Values{"session_id": {id}, "youtube_url": {"not a url"}})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrInvalid))
}

func multipartUpload(t *testing.T, r *gin.Engine, path, sessionID, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", sessionID))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	return w
}

func TestUploadPDFRejectsBadFile(t *testing.T) {
	r := newRouter(t, 1<<20)
	id := createSession(t, r)
	w := multipartUpload(t, r, "/api/v1/upload_pdf", id, "notes.pdf", []byte("plain text, not a pdf"))
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrSourceUnavailable))
}

func TestUploadTooLarge(t *testing.T) {
	r := newRouter(t, 16)
	id := createSession(t, r)
	w := multipartUpload(t, r, "/api/v1/upload_pdf", id, "big.pdf", bytes.Repeat([]byte("x"), 64))
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrFileTooLarge))
}

func TestUploadAudioWithoutTranscriber(t *testing.T) {
	r := newRouter(t, 1<<20)
	id := createSession(t, r)
	w := multipartUpload(t, r, "/api/v1/upload_audio", id, "talk.mp3", []byte("ID3"))
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrTranscriptionFailed))
}

func TestQuizRequiresTopics(t *testing.T) {
	r := newRouter(t, 1<<20)
	id := createSession(t, r)
	postForm(r, "/api/v1/add_text", url.Values{"session_id": {id}, "text": {"Cells divide by mitosis."}})
	w := postJSON(r, "/api/v1/quiz", map[string]interface{}{"session_id": id, "num_questions": 3})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrPrecondition))

	w = postJSON(r, "/api/v1/quiz/answers", map[string]interface{}{"session_id": id, "answers": map[string]string{"1": "mitosis"}})
	require.Contains(t, w.Body.String(), codeOf(errcode.ErrPrecondition))
}

func TestFormatUploadLimit(t *testing.T) {
	require.Equal(t, "0MB", formatUploadLimit(0))
	require.Equal(t, "1MB", formatUploadLimit(10))
	require.Equal(t, "100MB", formatUploadLimit(100<<20))
}
