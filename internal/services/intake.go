package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/report"
	"IBT-ASSESS/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportConverter turns the HTML report into a PDF. PDFService implements it.
type ReportConverter interface {
	ConvertHTML(ctx context.Context, html string) ([]byte, error)
}

type SubmissionResult struct {
	ID            string   `json:"id"`
	ProjectPath   string   `json:"project_path"`
	URL           string   `json:"url"`
	OpportunityID string   `json:"opportunity_id,omitempty"`
	Files         []string `json:"files"`
	ReportPath    string   `json:"report_path"`
}

type IntakeOptions struct {
	Projects      *ProjectService
	Records       *RecordService
	Ledger        Ledger
	PDF           ReportConverter
	BrowseBaseURL string
	Logger        *zap.Logger
}

// IntakeService runs one submission end to end: validate, provision,
// upload, save the report, then create the CRM opportunity.
type IntakeService struct {
	projects      *ProjectService
	records       *RecordService
	ledger        Ledger
	pdf           ReportConverter
	browseBaseURL string
	logger        *zap.Logger
	now           func() time.Time
}

func NewIntakeService(opts IntakeOptions) *IntakeService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		projects:      opts.Projects,
		records:       opts.Records,
		ledger:        opts.Ledger,
		pdf:           opts.PDF,
		browseBaseURL: opts.BrowseBaseURL,
		logger:        logger,
		now:           time.Now,
	}
}

// Submit returns a ValidationError before any side effect, a storage error
// when provisioning fails, or a RecordError when the project exists but the
// opportunity could not be created. In the last case the result still
// carries the project path and URL.
func (s *IntakeService) Submit(ctx context.Context, sub models.Submission, files []storage.File) (*SubmissionResult, error) {
	if sub.SchemaVersion == 0 {
		sub.SchemaVersion = models.SubmissionSchemaVersion
	}
	if err := ValidateSubmission(sub); err != nil {
		s.logger.Warn("Validation error", zap.String("type", string(sub.Type)), zap.Error(err))
		return nil, err
	}
	if _, err := s.projects.TemplatePath(sub.Type); err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("type", string(sub.Type)), zap.String("project", sub.ProjectName))
	logger.Info("Processing assessment submission")

	customer, listed := sub.Customer()
	projectPath, err := s.projects.CreateProjectFolder(ctx, sub.Type, sub.Type.DefaultProjectsFolder(), customer, sub.ProjectName, sub.Country)
	if err != nil {
		logger.Error("Storage error", zap.Error(err))
		return nil, err
	}

	result := &SubmissionResult{
		ID:          uuid.New().String(),
		ProjectPath: projectPath,
		URL:         s.projects.ProjectURL(s.browseBaseURL, projectPath),
	}
	s.recordLedger(ctx, result, sub, customer)

	uploaded, err := s.projects.UploadAssessmentFiles(ctx, projectPath, sub.Type, files)
	result.Files = uploaded
	if err != nil {
		logger.Error("Storage error", zap.Error(err))
		return result, err
	}

	html, err := report.Render(sub)
	if err != nil {
		return result, err
	}
	if result.ReportPath, err = s.projects.SaveReport(ctx, projectPath, sub.Type, html); err != nil {
		logger.Error("Storage error", zap.Error(err))
		return result, err
	}
	s.savePDF(ctx, logger, projectPath, sub.Type, html)

	accountID := ""
	if listed {
		if accountID, err = s.records.AccountID(ctx, customer); err != nil {
			logger.Warn("Account lookup failed, creating opportunity without account", zap.Error(err))
			accountID = ""
		}
	}

	now := s.now()
	oppID, err := s.records.CreateOpportunity(ctx, Opportunity{
		Name:           sub.ProjectName,
		StageName:      StageNewRequest,
		CloseDate:      LastWeekdayOfNextMonth(now),
		AssessmentDate: now,
		Path:           result.URL,
		BU:             sub.Type,
		AccountID:      accountID,
	})
	if err != nil {
		logger.Error("CRM error after provisioning", zap.String("path", projectPath), zap.Error(err))
		var re *RecordError
		if errors.As(err, &re) {
			re.ProjectPath = projectPath
		}
		if s.ledger != nil {
			if lerr := s.ledger.MarkRecordFailed(ctx, result.ID, err); lerr != nil {
				logger.Warn("Failed to update submission ledger", zap.Error(lerr))
			}
		}
		return result, err
	}

	result.OpportunityID = oppID
	if s.ledger != nil {
		if lerr := s.ledger.MarkCompleted(ctx, result.ID, oppID); lerr != nil {
			logger.Warn("Failed to update submission ledger", zap.Error(lerr))
		}
	}

	logger.Info("Submission completed", zap.String("path", projectPath), zap.String("opportunity_id", oppID))
	return result, nil
}

func (s *IntakeService) recordLedger(ctx context.Context, result *SubmissionResult, sub models.Submission, customer string) {
	if s.ledger == nil {
		return
	}
	payload, _ := json.Marshal(sub)
	rec := &models.SubmissionRecord{
		ID:           result.ID,
		Type:         string(sub.Type),
		ProjectName:  sub.ProjectName,
		CustomerName: customer,
		Country:      ResolveCountry(sub.Country),
		ContactEmail: sub.ContactEmail,
		ProjectPath:  result.ProjectPath,
		URL:          result.URL,
		Status:       models.SubmissionStatusProvisioned,
		Payload:      string(payload),
	}
	if err := s.ledger.Record(ctx, rec); err != nil {
		s.logger.Warn("Failed to record submission", zap.Error(err))
	}
}

// savePDF stores a PDF copy of the report next to the HTML one. Failures are
// logged only; the HTML report is the record of the submission.
func (s *IntakeService) savePDF(ctx context.Context, logger *zap.Logger, projectPath string, t models.AssessmentType, html string) {
	if s.pdf == nil {
		return
	}
	pdf, err := s.pdf.ConvertHTML(ctx, html)
	if err != nil {
		logger.Warn("PDF report skipped", zap.Error(err))
		return
	}
	if _, err := s.projects.Provider().UploadFiles(ctx, []storage.File{{Name: ReportPDFFilename(t), Content: pdf}}, projectPath); err != nil {
		logger.Warn("Failed to save PDF report", zap.Error(err))
	}
}
