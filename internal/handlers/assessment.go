package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/services"
	"IBT-ASSESS/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AssessmentHandler struct {
	intake      *services.IntakeService
	records     *services.RecordService
	maxUploadMB int64
	logger      *zap.Logger
}

func NewAssessmentHandler(intake *services.IntakeService, records *services.RecordService, maxUploadMB int64, logger *zap.Logger) *AssessmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentHandler{
		intake:      intake,
		records:     records,
		maxUploadMB: maxUploadMB,
		logger:      logger,
	}
}

// Submit accepts a multipart form with the JSON answers in the "submission"
// field and any number of "files" parts.
func (h *AssessmentHandler) Submit(c *gin.Context) {
	t, err := models.ParseAssessmentType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.maxUploadMB > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadMB<<20)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d MB", h.maxUploadMB)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a multipart form"})
		return
	}

	raw := form.Value["submission"]
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing submission field"})
		return
	}
	var sub models.Submission
	if err := json.Unmarshal([]byte(raw[0]), &sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submission JSON: " + err.Error()})
		return
	}
	if sub.Type != "" && sub.Type != t {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("submission type %s does not match %s", sub.Type, t)})
		return
	}
	sub.Type = t

	files, err := readUploads(form.File["files"])
	if err != nil {
		h.logger.Warn("Failed to read uploaded files", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded files"})
		return
	}

	result, err := h.intake.Submit(c.Request.Context(), sub, files)
	if err != nil {
		writeError(c, result, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *AssessmentHandler) GetAccounts(c *gin.Context) {
	accounts, err := h.records.Accounts(c.Request.Context())
	if err != nil {
		// The list still carries "Other" so the form stays usable.
		c.JSON(http.StatusOK, gin.H{"accounts": accounts, "warning": "Customer list is unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func GetCountries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"countries": services.Countries()})
}

func GetAssessmentTypes(c *gin.Context) {
	types := make([]gin.H, 0, len(models.AssessmentTypes))
	for _, t := range models.AssessmentTypes {
		types = append(types, gin.H{
			"type":            t,
			"title":           t.Title(),
			"projects_folder": t.DefaultProjectsFolder(),
			"shared_folder":   services.SharedInfoFolder(t),
		})
	}
	c.JSON(http.StatusOK, gin.H{"types": types})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func readUploads(headers []*multipart.FileHeader) ([]storage.File, error) {
	files := make([]storage.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		files = append(files, storage.File{Name: fh.Filename, Content: content})
	}
	return files, nil
}

// writeError maps the intake error classes to HTTP statuses. A CRM failure
// after provisioning still reports where the project was created.
func writeError(c *gin.Context, result *services.SubmissionResult, err error) {
	var (
		ve  *services.ValidationError
		re  *services.RecordError
		se  *storage.Error
		ves services.ValidationErrors
	)
	switch {
	case errors.As(err, &ves):
		fields := make([]gin.H, 0, len(ves))
		for _, v := range ves {
			fields = append(fields, gin.H{"field": v.Field, "message": v.Message})
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": fields})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": []gin.H{{"field": ve.Field, "message": ve.Message}}})
	case errors.Is(err, services.ErrUnknownAssessmentType), errors.Is(err, services.ErrTemplateNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrProjectExists):
		c.JSON(http.StatusConflict, gin.H{"error": "A project with this name already exists", "detail": err.Error()})
	case errors.As(err, &re):
		body := gin.H{"error": "The project was created but the CRM opportunity could not be saved", "detail": err.Error(), "project_path": re.ProjectPath}
		if result != nil {
			body["id"] = result.ID
			body["url"] = result.URL
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.As(err, &se):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage error", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
