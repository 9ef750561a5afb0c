package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Sessions *SessionHandler
	Learning *LearningHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/create_session", deps.Sessions.Create)
	api.POST("/add_youtube", deps.Sessions.AddYouTube)
	api.POST("/upload_pdf", deps.Sessions.UploadPDF)
	api.POST("/upload_audio", deps.Sessions.UploadAudio)
	api.POST("/add_text", deps.Sessions.AddText)
	api.POST("/build_index", deps.Sessions.BuildIndex)
	api.POST("/reset", deps.Sessions.Reset)
	api.GET("/sessions/:id", deps.Sessions.Status)

	api.POST("/ask", deps.Learning.Ask)
	api.POST("/notes", deps.Learning.Notes)
	api.POST("/topics", deps.Learning.Topics)
	api.POST("/quiz", deps.Learning.Quiz)
	api.POST("/quiz/answers", deps.Learning.SubmitAnswers)
	api.POST("/quiz/evaluate", deps.Learning.Evaluate)
}
