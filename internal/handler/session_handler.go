package handler

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/studyrag/internal/pkg/errcode"
	"github.com/xxxsen/studyrag/internal/pkg/response"
	"github.com/xxxsen/studyrag/internal/service"
)

type SessionHandler struct {
	sessions       *service.SessionService
	maxUploadBytes int64
}

func NewSessionHandler(sessions *service.SessionService, maxUploadBytes int64) *SessionHandler {
	return &SessionHandler{sessions: sessions, maxUploadBytes: maxUploadBytes}
}

type addYouTubeRequest struct {
	sessionRequest
	YouTubeURL string `form:"youtube_url" json:"youtube_url"`
}

type addTextRequest struct {
	sessionRequest
	SourceName string `form:"source_name" json:"source_name"`
	Text       string `form:"text" json:"text"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	id, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": id})
}

func (h *SessionHandler) AddYouTube(c *gin.Context) {
	var req addYouTubeRequest
	if !bind(c, &req) {
		return
	}
	if req.YouTubeURL == "" {
		response.Error(c, errcode.ErrInvalid, "youtube_url is required")
		return
	}
	res, err := h.sessions.AddYouTube(c.Request.Context(), req.SessionID, req.YouTubeURL)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *SessionHandler) AddText(c *gin.Context) {
	var req addTextRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.sessions.AddText(c.Request.Context(), req.SessionID, req.SourceName, req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *SessionHandler) UploadPDF(c *gin.Context) {
	h.upload(c, h.sessions.IngestPDF)
}

func (h *SessionHandler) UploadAudio(c *gin.Context) {
	h.upload(c, h.sessions.IngestAudio)
}

type ingestFunc func(ctx context.Context, sessionID, filename string, r io.Reader) (*service.IngestResult, error)

func (h *SessionHandler) upload(c *gin.Context, ingest ingestFunc) {
	file, err := formFile(c, h.maxUploadBytes)
	if err != nil {
		handleError(c, err)
		return
	}
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	res, err := ingest(c.Request.Context(), req.SessionID, file.Filename, opened)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *SessionHandler) BuildIndex(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	handle, err := h.sessions.BuildIndex(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"status":   "ok",
		"segments": handle.SegmentCount,
		"index":    handle,
	})
}

func (h *SessionHandler) Reset(c *gin.Context) {
	var req sessionRequest
	if !bind(c, &req) {
		return
	}
	ok, err := h.sessions.Reset(c.Request.Context(), req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": ok})
}

func (h *SessionHandler) Status(c *gin.Context) {
	st, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, st)
}
