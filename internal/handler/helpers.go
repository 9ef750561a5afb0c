package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/middleware"
	"github.com/xxxsen/studyrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/pkg/response"
)

func requestLogger(c *gin.Context) *zap.Logger {
	return logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
}

// handleError maps a service error to a client code. Order matters: an
// ingestion timeout is also SourceUnavailable.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestLogger(c).Error("request failed", zap.Error(err))
	switch {
	case errors.Is(err, appErr.ErrSessionNotFound):
		response.Error(c, errcode.ErrSessionNotFound, "session not found")
	case errors.Is(err, appErr.ErrIndexNotReady):
		response.Error(c, errcode.ErrIndexNotReady, "index not built for session")
	case errors.Is(err, appErr.ErrTimeout):
		response.Error(c, errcode.ErrTimeout, "upstream timed out")
	case errors.Is(err, appErr.ErrTranscriptionFailed):
		response.Error(c, errcode.ErrTranscriptionFailed, err.Error())
	case errors.Is(err, appErr.ErrSourceUnavailable):
		response.Error(c, errcode.ErrSourceUnavailable, err.Error())
	case errors.Is(err, appErr.ErrFileTooLarge):
		response.Error(c, errcode.ErrFileTooLarge, err.Error())
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrPrecondition):
		response.Error(c, errcode.ErrPrecondition, err.Error())
	case errors.Is(err, appErr.ErrAIUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "ai not configured")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

type sessionRequest struct {
	SessionID string `form:"session_id" json:"session_id"`
}

// bind accepts form and JSON bodies alike and requires a session id.
func bind(c *gin.Context, req interface{ sessionID() string }) bool {
	if err := c.ShouldBind(req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return false
	}
	if strings.TrimSpace(req.sessionID()) == "" {
		response.Error(c, errcode.ErrInvalid, "session_id is required")
		return false
	}
	return true
}

func (r *sessionRequest) sessionID() string { return r.SessionID }
