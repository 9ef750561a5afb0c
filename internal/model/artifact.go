package model

type Topic struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Children    []Topic `json:"children,omitempty"`
}

type TopicTree struct {
	CentralTopic string  `json:"central_topic"`
	Subtopics    []Topic `json:"subtopics"`
}

type QuizQuestion struct {
	Num      int    `json:"question_num"`
	Question string `json:"question"`
	Topic    string `json:"topic"`
	Subtopic string `json:"subtopic"`
	Answer   string `json:"answer"`
}

type Quiz struct {
	Difficulty string         `json:"difficulty"`
	Type       string         `json:"type"`
	Questions  []QuizQuestion `json:"questions"`
}

// QuizAnswers maps question_num to the learner's answer.
type QuizAnswers map[int]string

type AnswerEvaluation struct {
	QuestionNum     int      `json:"question_num"`
	Score           float64  `json:"score"`
	CoveragePercent float64  `json:"coverage_percent"`
	MissingPoints   []string `json:"missing_points"`
	Feedback        string   `json:"evaluation_feedback"`
}

type QuizResult struct {
	Items    []AnswerEvaluation `json:"items"`
	Score    float64            `json:"score"`
	MaxScore float64            `json:"max_score"`
}

// SourceInfo records one ingested source for session status.
type SourceInfo struct {
	SourceType SourceType        `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Segments   int               `json:"segments"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
