package session

import (
	"sync"
	"time"

	"github.com/xxxsen/studyrag/internal/model"
)

// Session holds the ingested segments, the current index handle and the
// derived study artifacts of one learner session.
type Session struct {
	id        string
	dir       string
	createdAt time.Time
	now       func() time.Time

	// buildMu serialises index builds so two rebuilds never interleave
	// writes into the same collection.
	buildMu sync.Mutex

	mu         sync.Mutex
	lastActive time.Time
	segments   []model.Segment
	sources    []model.SourceInfo
	index      *model.IndexHandle
	notes      string
	topics     *model.TopicTree
	quiz       *model.Quiz
	answers    model.QuizAnswers
	result     *model.QuizResult
}

type Status struct {
	SessionID    string             `json:"session_id"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActive   time.Time          `json:"last_active"`
	SegmentCount int                `json:"segment_count"`
	Sources      []model.SourceInfo `json:"sources"`
	Index        *model.IndexHandle `json:"index,omitempty"`
	HasNotes     bool               `json:"has_notes"`
	HasTopics    bool               `json:"has_topics"`
	HasQuiz      bool               `json:"has_quiz"`
	HasAnswers   bool               `json:"has_answers"`
	HasResult    bool               `json:"has_result"`
	// NextExpirySweep is when idle sessions are next reaped, if expiry runs.
	NextExpirySweep *time.Time `json:"next_expiry_sweep,omitempty"`
}

func newSession(id, dir string, now func() time.Time) *Session {
	ts := now()
	return &Session{id: id, dir: dir, createdAt: ts, lastActive: ts, now: now}
}

func (s *Session) ID() string {
	return s.id
}

// ScratchDir is where per-request upload files live until ingested.
func (s *Session) ScratchDir() string {
	return s.dir
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// AppendSegments adds segments from one source and returns the new total.
func (s *Session) AppendSegments(src model.SourceInfo, segs []model.Segment) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, segs...)
	src.Segments = len(segs)
	s.sources = append(s.sources, src)
	return len(s.segments)
}

// Segments returns a copy of the current segment list.
func (s *Session) Segments() []model.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Session) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

func (s *Session) LockBuild() {
	s.buildMu.Lock()
}

func (s *Session) UnlockBuild() {
	s.buildMu.Unlock()
}

// Index returns the current index handle, or nil when none is built.
func (s *Session) Index() *model.IndexHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	h := *s.index
	return &h
}

func (s *Session) SetIndex(h *model.IndexHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		s.index = nil
		return
	}
	cp := *h
	s.index = &cp
}

func (s *Session) Notes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes
}

func (s *Session) SetNotes(notes string) {
	s.mu.Lock()
	s.notes = notes
	s.mu.Unlock()
}

func (s *Session) Topics() *model.TopicTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics
}

func (s *Session) SetTopics(t *model.TopicTree) {
	s.mu.Lock()
	s.topics = t
	s.mu.Unlock()
}

func (s *Session) Quiz() *model.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiz
}

// SetQuiz replaces the quiz and drops answers and results for the old one.
func (s *Session) SetQuiz(q *model.Quiz) {
	s.mu.Lock()
	s.quiz = q
	s.answers = nil
	s.result = nil
	s.mu.Unlock()
}

func (s *Session) Answers() model.QuizAnswers {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers == nil {
		return nil
	}
	out := make(model.QuizAnswers, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

func (s *Session) SetAnswers(a model.QuizAnswers) {
	s.mu.Lock()
	s.answers = a
	s.result = nil
	s.mu.Unlock()
}

func (s *Session) Result() *model.QuizResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) SetResult(r *model.QuizResult) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		SessionID:    s.id,
		CreatedAt:    s.createdAt,
		LastActive:   s.lastActive,
		SegmentCount: len(s.segments),
		Sources:      append([]model.SourceInfo(nil), s.sources...),
		HasNotes:     s.notes != "",
		HasTopics:    s.topics != nil,
		HasQuiz:      s.quiz != nil,
		HasAnswers:   len(s.answers) > 0,
		HasResult:    s.result != nil,
	}
	if s.index != nil {
		h := *s.index
		st.Index = &h
	}
	return st
}
