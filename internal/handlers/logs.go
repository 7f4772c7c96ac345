package handlers

import (
	"net/http"
	"strconv"

	"IBT-ASSESS/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

type LogsHandler struct {
	activityLogService *services.ActivityLogService
}

func NewLogsHandler(activityLogService *services.ActivityLogService) *LogsHandler {
	return &LogsHandler{
		activityLogService: activityLogService,
	}
}

type PageResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

type page struct {
	Page  int
	Limit int
}

func (p page) Offset() int {
	return (p.Page - 1) * p.Limit
}

func parsePage(c *gin.Context) page {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	p, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || p <= 0 {
		p = 1
	}
	return page{Page: p, Limit: limit}
}

func newPageResponse(items interface{}, total int64, p page) PageResponse {
	return PageResponse{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: int((total + int64(p.Limit) - 1) / int64(p.Limit)),
	}
}

// GetAllLogs returns activity logs with pagination, optionally filtered by
// method or path substring.
func (h *LogsHandler) GetAllLogs(c *gin.Context) {
	p := parsePage(c)
	logs, total, err := h.activityLogService.GetLogs(c.Request.Context(), services.LogFilter{
		Method: c.Query("method"),
		Path:   c.Query("path"),
		Limit:  p.Limit,
		Offset: p.Offset(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch logs"})
		return
	}

	c.JSON(http.StatusOK, newPageResponse(logs, total, p))
}

func (h *LogsHandler) GetLogStats(c *gin.Context) {
	stats, err := h.activityLogService.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch log stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
