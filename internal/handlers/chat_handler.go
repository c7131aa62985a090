// Package handlers exposes the query-serving core over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/processor"
)

// ChatHandler serves the chat query endpoint.
type ChatHandler struct {
	proc   *processor.Processor
	logger *logrus.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(proc *processor.Processor, logger *logrus.Logger) *ChatHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatHandler{proc: proc, logger: logger}
}

// QueryRequest is the chat query payload.
type QueryRequest struct {
	Message  string                 `json:"message" binding:"required"`
	Channel  string                 `json:"channel"`
	Metadata map[string]interface{} `json:"metadata"`
}

// QueryResponse is the chat query result.
type QueryResponse struct {
	Answer   string             `json:"answer"`
	Sources  []processor.Source `json:"sources"`
	Provider string             `json:"provider"`
	Degraded bool               `json:"degraded"`
}

// Query handles POST /v1/chat/query.
func (h *ChatHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	requestID := uuid.NewString()
	log := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"channel":    req.Channel,
	})

	answer, err := h.proc.Process(c.Request.Context(), req.Message)
	if err != nil {
		if errors.Is(err, processor.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}
		log.WithError(err).Error("query processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	log.WithFields(logrus.Fields{
		"provider":   answer.Provider,
		"degraded":   answer.Degraded,
		"iterations": answer.Iterations,
	}).Info("query answered")

	sources := answer.Sources
	if sources == nil {
		sources = []processor.Source{}
	}
	c.JSON(http.StatusOK, QueryResponse{
		Answer:   answer.Text,
		Sources:  sources,
		Provider: answer.Provider,
		Degraded: answer.Degraded,
	})
}
