package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/studyrag/internal/model"
	"github.com/xxxsen/studyrag/internal/pkg/errcode"
	"github.com/xxxsen/studyrag/internal/pkg/response"
	"github.com/xxxsen/studyrag/internal/service"
)

type LearningHandler struct {
	learning *service.LearningService
}

func NewLearningHandler(learning *service.LearningService) *LearningHandler {
	return &LearningHandler{learning: learning}
}

type askRequest struct {
	sessionRequest
	Question string `form:"question" json:"question"`
	K        int    `form:"k" json:"k"`
}

type quizRequest struct {
	sessionRequest
	NumQuestions int    `form:"num_questions" json:"num_questions"`
	Difficulty   string `form:"difficulty" json:"difficulty"`
	Type         string `form:"type" json:"type"`
}

type answersRequest struct {
	sessionRequest
	Answers model.QuizAnswers `json:"answers"`
}

func (h *LearningHandler) Ask(c *gin.Context) {
	var req askRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.learning.Ask(c.Request.Context(), req.SessionID, req.Question, req.K)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LearningHandler) Notes(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.learning.Notes(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LearningHandler) Topics(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.learning.Topics(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LearningHandler) Quiz(c *gin.Context) {
	var req quizRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.learning.Quiz(c.Request.Context(), req.SessionID, service.QuizRequest{
		NumQuestions: req.NumQuestions,
		Difficulty:   req.Difficulty,
		Type:         req.Type,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LearningHandler) SubmitAnswers(c *gin.Context) {
	var req answersRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	n, err := h.learning.SubmitAnswers(c.Request.Context(), req.SessionID, req.Answers)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok", "answers": n})
}

func (h *LearningHandler) Evaluate(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.learning.Evaluate(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
