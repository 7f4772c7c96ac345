package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"IBT-ASSESS/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActorKey is the gin context key the auth middleware stores the caller
// identity under.
const ActorKey = "actor"

type ActivityLogService struct {
	db     *gorm.DB
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewActivityLogService(db *gorm.DB, logger *zap.Logger) *ActivityLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityLogService{db: db, logger: logger}
}

type LogFilter struct {
	Method string
	Path   string
	Limit  int
	Offset int
}

func (s *ActivityLogService) LogRequest(c *gin.Context, statusCode int, responseTime time.Duration) {
	clientIP := c.ClientIP()
	if clientIP == "" {
		clientIP = c.Request.RemoteAddr
	}

	queryParams := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}
	queryParamsJSON, _ := json.Marshal(queryParams)

	now := time.Now()
	activityLog := &models.ActivityLog{
		ID:           uuid.New().String(),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		Actor:        c.GetString(ActorKey),
		UserAgent:    c.Request.UserAgent(),
		IPAddress:    clientIP,
		QueryParams:  string(queryParamsJSON),
		StatusCode:   statusCode,
		ResponseTime: responseTime.Milliseconds(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Saved in the background so the request is not held up by the database.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.Create(activityLog).Error; err != nil {
			s.logger.Warn("Failed to save activity log", zap.Error(err))
		}
	}()
}

// Wait blocks until pending log writes finish.
func (s *ActivityLogService) Wait() {
	s.wg.Wait()
}

func (s *ActivityLogService) GetLogs(ctx context.Context, f LogFilter) ([]models.ActivityLog, int64, error) {
	var logs []models.ActivityLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	if f.Method != "" {
		query = query.Where("method = ?", strings.ToUpper(f.Method))
	}
	if f.Path != "" {
		query = query.Where("path LIKE ?", "%"+f.Path+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	if err := query.Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}

	return logs, total, nil
}

func (s *ActivityLogService) GetStats(ctx context.Context) (*models.ActivityStats, error) {
	stats := &models.ActivityStats{
		ByMethod: map[string]int64{},
		ByStatus: map[string]int64{},
	}
	db := s.db.WithContext(ctx).Model(&models.ActivityLog{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count logs: %w", err)
	}

	var byMethod []struct {
		Method string
		Count  int64
	}
	if err := db.Session(&gorm.Session{}).Select("method, COUNT(*) AS count").Group("method").Scan(&byMethod).Error; err != nil {
		return nil, fmt.Errorf("failed to group logs by method: %w", err)
	}
	for _, row := range byMethod {
		stats.ByMethod[row.Method] = row.Count
	}

	var byStatus []struct {
		StatusCode int
		Count      int64
	}
	if err := db.Session(&gorm.Session{}).Select("status_code, COUNT(*) AS count").Group("status_code").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to group logs by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[fmt.Sprintf("%d", row.StatusCode)] = row.Count
		if row.StatusCode >= 400 {
			stats.FailedRequests += row.Count
		}
	}

	var avg struct{ AvgMs float64 }
	if err := db.Session(&gorm.Session{}).Select("COALESCE(AVG(response_time), 0) AS avg_ms").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average response time: %w", err)
	}
	stats.AvgResponseMs = avg.AvgMs

	if err := db.Session(&gorm.Session{}).Where("method = ? AND path LIKE ?", "POST", "%/assessments/%").Count(&stats.Submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}

	return stats, nil
}

// LoggingMiddleware records every request once the handler has run. Bodies
// are not captured.
func (s *ActivityLogService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.LogRequest(c, c.Writer.Status(), time.Since(start))
	}
}
