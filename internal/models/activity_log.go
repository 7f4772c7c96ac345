package models

import (
	"time"

	"gorm.io/gorm"
)

type ActivityLog struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Method       string         `gorm:"type:varchar(10);not null;index" json:"method"`
	Path         string         `gorm:"type:varchar(255);not null;index" json:"path"`
	Actor        string         `gorm:"type:varchar(255)" json:"actor,omitempty"`
	UserAgent    string         `gorm:"type:text" json:"user_agent"`
	IPAddress    string         `gorm:"type:varchar(45)" json:"ip_address"`
	QueryParams  string         `gorm:"type:text" json:"query_params"`
	StatusCode   int            `gorm:"not null" json:"status_code"`
	ResponseTime int64          `gorm:"not null" json:"response_time"` // in milliseconds
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ActivityStats summarises the request log.
type ActivityStats struct {
	Total          int64            `json:"total"`
	ByMethod       map[string]int64 `json:"by_method"`
	ByStatus       map[string]int64 `json:"by_status"`
	AvgResponseMs  float64          `json:"avg_response_ms"`
	Submissions    int64            `json:"submissions"`
	FailedRequests int64            `json:"failed_requests"`
}
