package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/studyrag/internal/model"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager owns the prompts for every generated study artifact.
type Manager struct {
	generator IGenerator
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, cfg ManagerConfig) *Manager {
	return &Manager{generator: generator, cfg: cfg}
}

func (m *Manager) Available() bool {
	return m != nil && m.generator != nil
}

func (m *Manager) Answer(ctx context.Context, question, contextBlock string) (string, error) {
	prompt := fmt.Sprintf(`You are an AI educational assistant that answers student questions based strictly on the provided context.
Your goals:
- Help the student learn clearly and accurately.
- Use examples, step-by-step reasoning, and simple language when helpful.
- If the answer is not fully in the context, say that you are unsure rather than inventing information.

Guidelines:
1. Only use information in the context below.
2. Provide concise but clear explanations.
3. If asked for definitions, give short, intuitive explanations with examples.
4. Refer to page numbers or timestamps if helpful.
5. If context is insufficient, say:
   "The provided material does not include enough information to answer that question."

Format:
**Answer:** main explanation
**Key Points:** bullet summary
**Suggested Follow-up Questions:** optional prompts for deeper learning, answerable from the material.

Context:
%s

Student question:
%s

Answer:`, contextBlock, question)
	return m.generateText(ctx, prompt)
}

func (m *Manager) Notes(ctx context.Context, material string) (string, error) {
	prompt := fmt.Sprintf(`You are an AI learning companion.
Write clear, structured study notes based ONLY on the context below.
Use a conversational tone, but keep the flow organized and helpful.
Include short real-life analogies when useful, but do not add factual
information that is not already in the context.
Return the notes in markdown format.

Context:
%s

Notes:`, m.clip(material))
	return m.generateText(ctx, prompt)
}

func (m *Manager) Topics(ctx context.Context, material string) (*model.TopicTree, error) {
	prompt := fmt.Sprintf(`You extract the structure of a lecture.
Return VALID JSON ONLY with this shape:
{"central_topic": "the central concept",
 "subtopics": [{"title": "string", "description": "a brief phrase", "children": [ ...same shape... ]}]}
- If more explanation is needed, nest subtopics under "children" instead of writing a long description.
- Nest only as deep as is relevant.
- Use only what the transcript covers.

Transcript:
%s

JSON Output:`, m.clip(material))
	out, err := m.generateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var tree model.TopicTree
	if err := decodeJSONOutput(out, &tree); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if strings.TrimSpace(tree.CentralTopic) == "" {
		return nil, fmt.Errorf("parse topics: central_topic missing")
	}
	return &tree, nil
}

type QuizOptions struct {
	NumQuestions int
	Difficulty   string
	Type         string
}

func (m *Manager) Quiz(ctx context.Context, material string, topics *model.TopicTree, opts QuizOptions) (*model.Quiz, error) {
	topicJSON, err := json.MarshalIndent(topics, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`Generate %d quiz questions at a %s difficulty level, with %s type of answers, suitable for university/school exams.

Rules:
- Base questions ONLY on the context below.
- Use both the structured topic/subtopic list AND the raw text.
- Make questions conceptual and answerable directly from the context.
- Do NOT add new facts.
- Return VALID JSON ONLY.

JSON Format:
[
  {
    "question_num": 1,
    "question": "the question text",
    "topic": "main topic",
    "subtopic": "subtopic (or empty)",
    "answer": "answer strictly from context"
  }
]

Structured Topics (JSON):
%s

Raw Context:
%s

JSON Output:`, opts.NumQuestions, opts.Difficulty, opts.Type, string(topicJSON), m.clip(material))
	out, err := m.generateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var questions []model.QuizQuestion
	if err := decodeJSONOutput(out, &questions); err != nil {
		return nil, fmt.Errorf("parse quiz: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("parse quiz: no questions")
	}
	for i := range questions {
		if questions[i].Num <= 0 {
			questions[i].Num = i + 1
		}
	}
	return &model.Quiz{Difficulty: opts.Difficulty, Type: opts.Type, Questions: questions}, nil
}

// Evaluate grades one answer against the reference. The score is derived
// from coverage: below 50% is 0, up to 80% is 0.5, above is 1.
func (m *Manager) Evaluate(ctx context.Context, q model.QuizQuestion, userAnswer string) (*model.AnswerEvaluation, error) {
	prompt := fmt.Sprintf(`Evaluate how well a student's answer matches the key points of the reference answer.
Scoring rule (based only on key point coverage):
- <50%% of key points covered: score = 0
- 50-80%% covered: score = 0.5
- >80%% covered: score = 1

Return VALID JSON ONLY:
{"score": 0, "coverage_percent": 0, "missing_points": ["..."], "evaluation_feedback": "one sentence"}

Question:
%s

Reference answer (key points):
%s

Student answer:
%s

JSON Output:`, q.Question, q.Answer, userAnswer)
	out, err := m.generateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var ev model.AnswerEvaluation
	if err := decodeJSONOutput(out, &ev); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}
	ev.QuestionNum = q.Num
	ev.Score = ScoreForCoverage(ev.CoveragePercent)
	if ev.MissingPoints == nil {
		ev.MissingPoints = []string{}
	}
	return &ev, nil
}

func ScoreForCoverage(pct float64) float64 {
	switch {
	case pct > 80:
		return 1
	case pct >= 50:
		return 0.5
	}
	return 0
}

func (m *Manager) generateText(ctx context.Context, prompt string) (string, error) {
	if !m.Available() {
		return "", fmt.Errorf("%w: generator not configured", ErrUnavailable)
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := m.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (m *Manager) clip(text string) string {
	if m.cfg.MaxInputChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= m.cfg.MaxInputChars {
		return text
	}
	return string(runes[:m.cfg.MaxInputChars])
}

func (m *Manager) MaxInputChars() int {
	return m.cfg.MaxInputChars
}

// decodeJSONOutput strips markdown fences and surrounding chatter before
// decoding the first JSON object or array in output.
func decodeJSONOutput(output string, dst interface{}) error {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	open, closing := "{", "}"
	if i := strings.IndexAny(clean, "[{"); i >= 0 && clean[i] == '[' {
		open, closing = "[", "]"
	}
	start := strings.Index(clean, open)
	end := strings.LastIndex(clean, closing)
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	return json.Unmarshal([]byte(clean), dst)
}
