package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/studyrag/internal/ai"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/retrieval"
	"github.com/xxxsen/studyrag/internal/session"
)

const (
	defaultQuizQuestions = 5
	maxQuizQuestions     = 20
	evaluateWorkers      = 4
)

type AskResult struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Context  string      `json:"context"`
	Sources  []model.Hit `json:"sources"`
}

type NotesResult struct {
	Markdown string            `json:"markdown"`
	HTML     string            `json:"html"`
	Outline  []ai.OutlineEntry `json:"outline"`
}

type QuizRequest struct {
	NumQuestions int
	Difficulty   string
	Type         string
}

type LearningServiceConfig struct {
	AnswerCacheSize int
	AnswerCacheTTL  time.Duration
}

type LearningService struct {
	sessions  *session.Store
	retriever *retrieval.Retriever
	manager   *ai.Manager
	answers   *expirable.LRU[string, *AskResult]
}

func NewLearningService(sessions *session.Store, retriever *retrieval.Retriever, manager *ai.Manager, cfg LearningServiceConfig) *LearningService {
	size := cfg.AnswerCacheSize
	if size <= 0 {
		size = 1000
	}
	ttl := cfg.AnswerCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LearningService{
		sessions:  sessions,
		retriever: retriever,
		manager:   manager,
		answers:   expirable.NewLRU[string, *AskResult](size, nil, ttl),
	}
}

// Ask answers question from the session's index. Answers are cached per
// index build, so a rebuild never serves a stale answer.
func (s *LearningService) Ask(ctx context.Context, sessionID, question string, k int) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	handle := sess.Index()
	if handle == nil {
		return nil, fmt.Errorf("%w: build the index before asking", appErr.ErrIndexNotReady)
	}
	key := askCacheKey(sessionID, handle.BuiltAt, k, question)
	if cached, ok := s.answers.Get(key); ok {
		return cached, nil
	}
	res, err := s.retriever.Query(ctx, sessionID, question, k)
	if err != nil {
		return nil, err
	}
	answer, err := s.manager.Answer(ctx, question, res.Context)
	if err != nil {
		return nil, err
	}
	out := &AskResult{Question: question, Answer: answer, Context: res.Context, Sources: res.Hits}
	s.answers.Add(key, out)
	return out, nil
}

func askCacheKey(sessionID string, builtAt time.Time, k int, question string) string {
	sum := sha256.Sum256([]byte(question))
	return sessionID + ":" + strconv.FormatInt(builtAt.UnixNano(), 10) + ":" + strconv.Itoa(k) + ":" + hex.EncodeToString(sum[:])
}

func (s *LearningService) Notes(ctx context.Context, sessionID string) (*NotesResult, error) {
	sess, material, err := s.material(sessionID)
	if err != nil {
		return nil, err
	}
	md, err := s.manager.Notes(ctx, material)
	if err != nil {
		return nil, err
	}
	rendered, err := ai.RenderNotes(md)
	if err != nil {
		return nil, fmt.Errorf("render notes: %w", err)
	}
	sess.SetNotes(rendered.Markdown)
	return &NotesResult{Markdown: rendered.Markdown, HTML: rendered.HTML, Outline: rendered.Outline}, nil
}

func (s *LearningService) Topics(ctx context.Context, sessionID string) (*model.TopicTree, error) {
	sess, material, err := s.material(sessionID)
	if err != nil {
		return nil, err
	}
	tree, err := s.manager.Topics(ctx, material)
	if err != nil {
		return nil, err
	}
	sess.SetTopics(tree)
	return tree, nil
}

func (s *LearningService) Quiz(ctx context.Context, sessionID string, req QuizRequest) (*model.Quiz, error) {
	opts, err := normalizeQuizRequest(req)
	if err != nil {
		return nil, err
	}
	sess, material, err := s.material(sessionID)
	if err != nil {
		return nil, err
	}
	topics := sess.Topics()
	if topics == nil {
		return nil, fmt.Errorf("%w: extract topics before generating a quiz", appErr.ErrPrecondition)
	}
	quiz, err := s.manager.Quiz(ctx, material, topics, opts)
	if err != nil {
		return nil, err
	}
	sess.SetQuiz(quiz)
	return quiz, nil
}

func normalizeQuizRequest(req QuizRequest) (ai.QuizOptions, error) {
	opts := ai.QuizOptions{
		NumQuestions: req.NumQuestions,
		Difficulty:   strings.ToLower(strings.TrimSpace(req.Difficulty)),
		Type:         strings.ToLower(strings.TrimSpace(req.Type)),
	}
	if opts.NumQuestions == 0 {
		opts.NumQuestions = defaultQuizQuestions
	}
	if opts.NumQuestions < 0 || opts.NumQuestions > maxQuizQuestions {
		return opts, fmt.Errorf("%w: num_questions must be between 1 and %d", appErr.ErrInvalid, maxQuizQuestions)
	}
	switch opts.Difficulty {
	case "":
		opts.Difficulty = "medium"
	case "easy", "medium", "hard":
	default:
		return opts, fmt.Errorf("%w: unknown difficulty %q", appErr.ErrInvalid, req.Difficulty)
	}
	if opts.Type == "" {
		opts.Type = "short"
	}
	return opts, nil
}

// SubmitAnswers stores the learner's answers for the current quiz. Numbers
// that do not belong to a question are rejected.
func (s *LearningService) SubmitAnswers(ctx context.Context, sessionID string, answers model.QuizAnswers) (int, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return 0, err
	}
	quiz := sess.Quiz()
	if quiz == nil {
		return 0, fmt.Errorf("%w: generate a quiz before submitting answers", appErr.ErrPrecondition)
	}
	if len(answers) == 0 {
		return 0, fmt.Errorf("%w: answers are required", appErr.ErrInvalid)
	}
	known := make(map[int]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		known[q.Num] = struct{}{}
	}
	for num := range answers {
		if _, ok := known[num]; !ok {
			return 0, fmt.Errorf("%w: no question %d in quiz", appErr.ErrInvalid, num)
		}
	}
	sess.SetAnswers(answers)
	logutil.GetLogger(ctx).Info("quiz answers saved", zap.String("session_id", sessionID), zap.Int("answers", len(answers)))
	return len(answers), nil
}

// Evaluate grades every quiz question against the submitted answers.
// Unanswered questions score 0 without a model call.
func (s *LearningService) Evaluate(ctx context.Context, sessionID string) (*model.QuizResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	quiz := sess.Quiz()
	answers := sess.Answers()
	if quiz == nil || len(answers) == 0 {
		return nil, fmt.Errorf("%w: submit quiz answers before evaluating", appErr.ErrPrecondition)
	}
	items := make([]model.AnswerEvaluation, len(quiz.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(evaluateWorkers)
	for i, q := range quiz.Questions {
		answer := strings.TrimSpace(answers[q.Num])
		if answer == "" {
			items[i] = model.AnswerEvaluation{
				QuestionNum:   q.Num,
				MissingPoints: []string{},
				Feedback:      "No answer submitted.",
			}
			continue
		}
		g.Go(func() error {
			ev, err := s.manager.Evaluate(gctx, q, answer)
			if err != nil {
				return fmt.Errorf("evaluate question %d: %w", q.Num, err)
			}
			items[i] = *ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result := &model.QuizResult{Items: items, MaxScore: float64(len(items))}
	for _, it := range items {
		result.Score += it.Score
	}
	sess.SetResult(result)
	return result, nil
}

func (s *LearningService) material(sessionID string) (*session.Session, string, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, "", err
	}
	segs := sess.Segments()
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg.Eligible() {
			parts = append(parts, strings.TrimSpace(seg.Text))
		}
	}
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("%w: session has no content yet", appErr.ErrPrecondition)
	}
	return sess, strings.Join(parts, "\n"), nil
}
