package handlers

import (
	"errors"
	"net/http"

	"IBT-ASSESS/internal/services"

	"github.com/gin-gonic/gin"
)

type SubmissionsHandler struct {
	ledger *services.SubmissionLedger
}

func NewSubmissionsHandler(ledger *services.SubmissionLedger) *SubmissionsHandler {
	return &SubmissionsHandler{ledger: ledger}
}

// List returns ledger entries, newest first. ?status=record_failed lists the
// projects whose opportunity still has to be created by hand.
func (h *SubmissionsHandler) List(c *gin.Context) {
	p := parsePage(c)
	records, total, err := h.ledger.List(c.Request.Context(), c.Query("status"), p.Limit, p.Offset())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch submissions"})
		return
	}
	c.JSON(http.StatusOK, newPageResponse(records, total, p))
}

func (h *SubmissionsHandler) Get(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSubmissionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch submission"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
