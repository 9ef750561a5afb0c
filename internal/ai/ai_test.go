package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/studyrag/internal/config"
	"github.com/xxxsen/studyrag/internal/model"
)

type fakeGenerator struct {
	out     string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

func TestGroupGeneratorFallsBack(t *testing.T) {
	bad := &fakeGenerator{err: errors.New("quota")}
	good := &fakeGenerator{out: "ok"}
	g := NewGroupGenerator([]GeneratorEntry{{Name: "bad", Generator: bad}, {Name: "good", Generator: good}})
	out, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Len(t, bad.prompts, 1)
	require.Nil(t, NewGroupGenerator(nil))
}

func TestGroupEmbedderFallsBack(t *testing.T) {
	bad := &fakeEmbedder{err: errors.New("down")}
	good := &fakeEmbedder{}
	e := NewGroupEmbedder([]EmbedderEntry{{Name: "a", Embedder: bad}, {Name: "b", Embedder: good}})
	vecs, err := e.EmbedBatch(context.Background(), []string{"x", "y"}, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, "a|b", e.ModelName())

	all := NewGroupEmbedder([]EmbedderEntry{{Name: "a", Embedder: bad}})
	_, err = all.EmbedBatch(context.Background(), []string{"x"}, TaskRetrievalDocument)
	require.Error(t, err)
}

func TestDecodeJSONOutputStripsFences(t *testing.T) {
	var tree model.TopicTree
	out := "```json\n{\"central_topic\": \"OS\", \"subtopics\": [{\"title\": \"Scheduling\", \"children\": [{\"title\": \"Round robin\"}]}]}\n```"
	require.NoError(t, decodeJSONOutput(out, &tree))
	require.Equal(t, "OS", tree.CentralTopic)
	require.Equal(t, "Round robin", tree.Subtopics[0].Children[0].Title)

	var list []model.QuizQuestion
	require.NoError(t, decodeJSONOutput("Here you go:\n[{\"question_num\": 1, \"question\": \"q\"}]\nthanks", &list))
	require.Len(t, list, 1)
}

func TestManagerQuizNumbersQuestions(t *testing.T) {
	gen := &fakeGenerator{out: `[{"question": "What is a process?", "answer": "A running program"}, {"question": "What is a thread?", "answer": "A unit of scheduling"}]`}
	m := NewManager(gen, ManagerConfig{MaxInputChars: 10})
	quiz, err := m.Quiz(context.Background(), strings.Repeat("z", 50), &model.TopicTree{CentralTopic: "OS"}, QuizOptions{NumQuestions: 2, Difficulty: "easy", Type: "short"})
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 2)
	require.Equal(t, 2, quiz.Questions[1].Num)
	require.Equal(t, "easy", quiz.Difficulty)
	require.Contains(t, gen.prompts[0], "Generate 2 quiz questions at a easy difficulty level")
	require.NotContains(t, gen.prompts[0], strings.Repeat("z", 11))
}

func TestManagerEvaluateScoresFromCoverage(t *testing.T) {
	gen := &fakeGenerator{out: `{"score": 1, "coverage_percent": 60, "missing_points": ["context switch"], "evaluation_feedback": "Partly right."}`}
	m := NewManager(gen, ManagerConfig{})
	ev, err := m.Evaluate(context.Background(), model.QuizQuestion{Num: 3, Question: "q", Answer: "a"}, "my answer")
	require.NoError(t, err)
	require.Equal(t, 3, ev.QuestionNum)
	require.Equal(t, 0.5, ev.Score)
	require.Equal(t, []string{"context switch"}, ev.MissingPoints)
}

func TestScoreForCoverage(t *testing.T) {
	require.Equal(t, 0.0, ScoreForCoverage(49))
	require.Equal(t, 0.5, ScoreForCoverage(50))
	require.Equal(t, 0.5, ScoreForCoverage(80))
	require.Equal(t, 1.0, ScoreForCoverage(81))
}

func TestManagerUnavailable(t *testing.T) {
	m := NewManager(nil, ManagerConfig{})
	_, err := m.Notes(context.Background(), "x")
	require.True(t, errors.Is(err, ErrUnavailable))
}

func TestManagerTopicsRejectsEmpty(t *testing.T) {
	m := NewManager(&fakeGenerator{out: `{"subtopics": []}`}, ManagerConfig{})
	_, err := m.Topics(context.Background(), "x")
	require.Error(t, err)
}

func TestRenderNotes(t *testing.T) {
	notes, err := RenderNotes("# Operating Systems\n\nIntro text.\n\n## Processes\n\n- a\n- b\n")
	require.NoError(t, err)
	require.Contains(t, notes.HTML, "<h1>Operating Systems</h1>")
	require.Equal(t, []OutlineEntry{{Level: 1, Title: "Operating Systems"}, {Level: 2, Title: "Processes"}}, notes.Outline)
}

func TestOpenAIEmbedBatchKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"a", "b"}, req.Input)
		require.Equal(t, 4, req.Dimensions)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2,2,2]},{"index":0,"embedding":[1,1,1,1]}]}`))
	}))
	defer srv.Close()

	gen, emb, err := BuildFromConfig(config.AIConfig{
		Providers: []config.ProviderConfig{{Name: "oa", Type: "openai", Data: map[string]interface{}{"api_key": "k", "base_url": srv.URL}}},
		Embedders: []config.ModelRef{{Provider: "oa", Model: "text-embedding-3-small"}},
	}, 4)
	require.NoError(t, err)
	require.Nil(t, gen)
	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b"}, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 1, 1, 1}, {2, 2, 2, 2}}, vecs)
	require.Equal(t, "oa:text-embedding-3-small", emb.ModelName())
}

func TestOllamaEmbedSendsOneBatch(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "nomic-embed-text", req.Model)
		require.Equal(t, []string{"a", "b", "c"}, req.Input)
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[1,0],[0,1],[1,1]]}`))
	}))
	defer srv.Close()

	p, err := newOllamaProvider(map[string]interface{}{"host": srv.URL})
	require.NoError(t, err)
	vecs, err := p.Embed(context.Background(), "nomic-embed-text", []string{"a", "b", "c"}, TaskRetrievalDocument, 2)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}, {1, 1}}, vecs)
	require.Equal(t, 1, calls)
}

func TestOllamaEmbedRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer srv.Close()

	p, err := newOllamaProvider(map[string]interface{}{"host": srv.URL})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "nomic-embed-text", []string{"a", "b"}, TaskRetrievalDocument, 2)
	require.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	out, err := NewGenerator(p, "gpt").Generate(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestProviderWithoutKeyIsUnavailable(t *testing.T) {
	p, err := NewProvider("gemini", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "gemini-2.0-flash", "hi")
	require.True(t, errors.Is(err, ErrUnavailable))

	_, err = NewProvider("nope", nil)
	require.Error(t, err)
}

func TestGroupGeneratorReportsEveryFailure(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "a", Generator: &fakeGenerator{err: errors.New("quota")}},
		{Name: "skipped"},
		{Name: "b", Generator: &fakeGenerator{err: errors.New("overloaded")}},
	})
	_, err := g.Generate(context.Background(), "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "all 2 generators failed")
	require.Contains(t, err.Error(), "overloaded")

	empty := NewGroupGenerator([]GeneratorEntry{{Name: "nil"}})
	_, err = empty.Generate(context.Background(), "hi")
	require.True(t, errors.Is(err, ErrUnavailable))
}
