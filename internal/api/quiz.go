package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"snapaid/internal/service/classifier"
)

// QuizProxy forwards quiz answers to the scoring service.
type QuizProxy interface {
	SubmitQuiz(ctx context.Context, q classifier.QuizSubmission) (int, json.RawMessage, error)
}

type quizRequest struct {
	QuizType  string          `json:"quizType"`
	Responses json.RawMessage `json:"responses"`
	UserID    string          `json:"userId"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (h *Handler) submitQuiz(c *gin.Context) {
	var req quizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.QuizType) == "" || !isJSONArray(req.Responses) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Must include quizType and responses array."})
		return
	}
	if h.quiz == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quiz scoring is not configured"})
		return
	}
	metadata := req.Metadata
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = json.RawMessage(`{}`)
	}
	status, body, err := h.quiz.SubmitQuiz(c.Request.Context(), classifier.QuizSubmission{
		QuizType:  req.QuizType,
		Responses: req.Responses,
		UserID:    req.UserID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		h.logger.Error("quiz proxy failed", "quiz_type", req.QuizType, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to process quiz results"})
		return
	}
	if status < 200 || status >= 300 {
		h.logger.Warn("quiz scoring rejected submission", "quiz_type", req.QuizType, "status", status)
		c.JSON(status, gin.H{"error": "Failed to process quiz results", "details": body})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
