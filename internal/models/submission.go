package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// SubmissionSchemaVersion is bumped whenever a field is added to or removed
// from Submission.
const SubmissionSchemaVersion = 1

// OtherCustomer is the account list entry meaning "not listed".
const OtherCustomer = "Other"

// Submission is one completed assessment form.
type Submission struct {
	SchemaVersion int            `json:"schema_version"`
	Type          AssessmentType `json:"type"`

	ProjectName  string `json:"project_name"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone,omitempty"`

	// CustomerName is picked from the CRM account list. When it is empty or
	// OtherCustomer, CustomerNameOther holds the free-text name.
	CustomerName      string `json:"customer_name"`
	CustomerNameOther string `json:"customer_name_other,omitempty"`
	Country           string `json:"country"`

	Date                  string `json:"date"`
	QuotationRequiredDate string `json:"quotation_required_date,omitempty"`
	IsDuplicated          bool   `json:"is_duplicated"`

	FileTypes []string  `json:"file_types,omitempty"`
	Sections  []Section `json:"sections,omitempty"`
}

// Section is an ordered group of answers rendered together in the report.
type Section struct {
	Title   string   `json:"title"`
	Answers []Answer `json:"answers"`
}

type Answer struct {
	Question string `json:"question"`
	Value    string `json:"value"`
}

// Customer returns the name used for the project folder and whether it came
// from the CRM account list.
func (s Submission) Customer() (name string, listed bool) {
	name = strings.TrimSpace(s.CustomerName)
	if name == "" || strings.EqualFold(name, OtherCustomer) {
		return strings.TrimSpace(s.CustomerNameOther), false
	}
	return name, true
}

const (
	SubmissionStatusProvisioned  = "provisioned"
	SubmissionStatusCompleted    = "completed"
	SubmissionStatusRecordFailed = "record_failed"
)

// SubmissionRecord is the ledger row kept for every provisioned project so a
// storage-succeeded, CRM-failed submission can be reconciled by hand.
type SubmissionRecord struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type          string         `gorm:"type:varchar(8);not null;index" json:"type"`
	ProjectName   string         `gorm:"type:varchar(255);not null" json:"project_name"`
	CustomerName  string         `gorm:"type:varchar(255)" json:"customer_name"`
	Country       string         `gorm:"type:varchar(16)" json:"country"`
	ContactEmail  string         `gorm:"type:varchar(255)" json:"contact_email"`
	ProjectPath   string         `gorm:"type:text;not null" json:"project_path"`
	URL           string         `gorm:"type:text" json:"url"`
	OpportunityID string         `gorm:"type:varchar(32)" json:"opportunity_id"`
	Status        string         `gorm:"type:varchar(32);not null;index" json:"status"`
	Error         string         `gorm:"type:text" json:"error,omitempty"`
	Payload       string         `gorm:"type:json" json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (SubmissionRecord) TableName() string {
	return "submissions"
}
