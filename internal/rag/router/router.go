// Package router provides RAG service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
)

// Register registers the RAG service routes on r.
func Register(r gin.IRouter, ragHandler *handler.RAGHandler) {
	logger.Info("Registering RAG routes...")

	r.GET("/healthz", ragHandler.Healthz)

	v1 := r.Group("/v1")
	{
		rag := v1.Group("/rag")
		{
			// Ingestion
			rag.POST("/upload-docs", ragHandler.UploadDocs)
			rag.POST("/upload-urls", ragHandler.UploadURLs)

			// Conversation
			rag.POST("/chat", ragHandler.Chat)
			rag.POST("/chat-stream", ragHandler.ChatStream)
			rag.POST("/suggested-questions", ragHandler.SuggestedQuestions)

			// Sessions
			rag.GET("/sessions/:session_id", ragHandler.GetSession)
			rag.DELETE("/sessions/:session_id", ragHandler.DeleteSession)

			rag.GET("/stats", ragHandler.Stats)
			rag.GET("/healthz", ragHandler.Healthz)
		}
	}

	logger.Info("HTTP routes registered")
}
