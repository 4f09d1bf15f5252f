package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"edurag/internal/service/qa"
)

type queryRequest struct {
	Question            string  `json:"question"`
	SessionID           string  `json:"session_id"`
	UseUploadedDocsOnly bool    `json:"use_uploaded_docs_only"`
	DocumentIDs         []int64 `json:"document_ids"`
	Strategy            string  `json:"strategy"`
	Stream              bool    `json:"stream"`
}

func (h *Handler) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	strategy, err := qa.ParseStrategy(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UseUploadedDocsOnly && strategy == qa.StrategyAuto {
		strategy = qa.StrategyDocsOnly
	}
	for _, id := range req.DocumentIDs {
		if id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
	}
	ask := qa.Request{
		Question:    req.Question,
		SessionID:   req.SessionID,
		DocumentIDs: req.DocumentIDs,
		Strategy:    strategy,
	}

	if !req.Stream {
		answer, err := h.qa.Ask(c.Request.Context(), ask)
		if err != nil {
			status, msg := h.queryError(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, answer)
		return
	}

	w, ok := startSSE(c)
	if !ok {
		return
	}
	ask.OnDelta = func(chunk string) error {
		return w.send("delta", gin.H{"content": chunk})
	}
	answer, err := h.qa.Ask(c.Request.Context(), ask)
	if err != nil {
		_, msg := h.queryError(err)
		_ = w.send("error", gin.H{"message": msg})
		return
	}
	_ = w.send("done", answer)
}

// queryError maps answer failures to a status and a message safe to show.
func (h *Handler) queryError(err error) (int, string) {
	switch {
	case errors.Is(err, qa.ErrEmptyQuestion):
		return http.StatusBadRequest, "Question cannot be empty"
	case errors.Is(err, qa.ErrNoDocuments):
		return http.StatusBadRequest, "No processed documents available. Please upload and wait for processing to complete."
	case errors.Is(err, qa.ErrInvalidStrategy):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, qa.ErrAnswerUnavailable):
		return http.StatusBadGateway, qa.ErrAnswerUnavailable.Error()
	default:
		h.log.Error("query failed", "error", err)
		return http.StatusInternalServerError, "failed to process query"
	}
}
