package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrUnknownAssessmentType = models.ErrUnknownAssessmentType
	ErrTemplateNotConfigured = errors.New("no template configured for assessment type")
)

// CountryOther is the code unmapped countries resolve to.
const CountryOther = "OTHER"

type Country struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var countries = []Country{
	{"Mexico", "MX"},
	{"USA", "USA"},
	{"Canada", "CAD"},
	{"Europe", "EUR"},
	{"Asia", "ASIA"},
	{"Other", CountryOther},
}

var countryAliases = map[string]string{
	"us":            "USA",
	"united states": "USA",
	"méxico":        "MX",
}

// Countries returns the fixed country table in display order.
func Countries() []Country {
	out := make([]Country, len(countries))
	copy(out, countries)
	return out
}

// ResolveCountry maps a country name or code to its folder code. Unknown names map
// to CountryOther.
func ResolveCountry(country string) string {
	key := strings.ToLower(strings.TrimSpace(country))
	for _, c := range countries {
		if strings.ToLower(c.Name) == key || strings.ToLower(c.Code) == key {
			return c.Code
		}
	}
	if code, ok := countryAliases[key]; ok {
		return code
	}
	return CountryOther
}

// SharedInfoFolder is the subfolder of a project that receives uploaded files.
func SharedInfoFolder(t models.AssessmentType) string {
	if t == models.AssessmentICT {
		return "1_Customer_Info/7_ALL_Info_Shared"
	}
	return "1_Customer_Info/3_ALL_Info_Shared"
}

func ReportFilename(t models.AssessmentType) string {
	return fmt.Sprintf("%s_Assessment.html", t)
}

// BrowseURL joins a storage-root-relative path onto the document library
// base URL.
func BrowseURL(baseURL, relPath string) string {
	rel := strings.TrimLeft(filepath.ToSlash(relPath), "/")
	if strings.HasSuffix(baseURL, "/") {
		return baseURL + rel
	}
	return baseURL + "/" + rel
}

// ProjectService provisions project folders on a storage provider.
type ProjectService struct {
	provider  storage.Provider
	templates map[models.AssessmentType]string
	logger    *zap.Logger
	locks     pathLocks
}

// NewProjectService takes template folders keyed by assessment type name
// (ICT, FCT, IAT, FIX).
func NewProjectService(provider storage.Provider, templates map[string]string, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	byType := make(map[models.AssessmentType]string, len(templates))
	for name, dir := range templates {
		if t, err := models.ParseAssessmentType(name); err == nil && dir != "" {
			byType[t] = dir
		}
	}
	return &ProjectService{
		provider:  provider,
		templates: byType,
		logger:    logger,
		locks:     pathLocks{held: make(map[string]chan struct{})},
	}
}

func (s *ProjectService) Provider() storage.Provider {
	return s.provider
}

// ProjectURL is the link stored on the CRM record for a path returned by
// CreateProjectFolder. The storage root never appears in it.
func (s *ProjectService) ProjectURL(baseURL, fullPath string) string {
	return BrowseURL(baseURL, s.provider.RelPath(fullPath))
}

func (s *ProjectService) TemplatePath(t models.AssessmentType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssessmentType, t)
	}
	dir, ok := s.templates[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotConfigured, t)
	}
	return dir, nil
}

// CreateProjectFolder creates projectsFolder/<country code>/customer/project
// and copies the type's template into it. It fails with
// storage.ErrProjectExists when the folder is already there and never
// touches an existing project.
func (s *ProjectService) CreateProjectFolder(ctx context.Context, t models.AssessmentType, projectsFolder, customer, project, country string) (string, error) {
	template, err := s.TemplatePath(t)
	if err != nil {
		return "", err
	}
	for field, segment := range map[string]string{
		"projects_folder": projectsFolder,
		"customer_name":   customer,
		"project_name":    project,
	} {
		if err := checkSegment(field, segment, field == "projects_folder"); err != nil {
			return "", err
		}
	}

	code := ResolveCountry(country)
	fullPath := s.provider.FullPath(projectsFolder, code, customer, project)

	unlock, err := s.locks.acquire(ctx, fullPath)
	if err != nil {
		return "", &storage.Error{Op: "create_project_folder", Path: fullPath, Err: err}
	}
	defer unlock()

	exists, err := s.folderExists(ctx, fullPath)
	if err != nil {
		return "", err
	}
	if exists {
		s.logger.Warn("Project already exists", zap.String("path", fullPath))
		return "", &storage.Error{Op: "create_project_folder", Path: fullPath, Err: storage.ErrProjectExists}
	}

	if err := s.createFolder(ctx, fullPath); err != nil {
		if errors.Is(err, storage.ErrFolderExists) {
			s.logger.Warn("Project created concurrently", zap.String("path", fullPath))
			return "", &storage.Error{Op: "create_project_folder", Path: fullPath, Err: storage.ErrProjectExists}
		}
		return "", err
	}

	if err := s.provider.CopyTemplate(ctx, template, fullPath); err != nil {
		s.logger.Error("Failed to copy template", zap.String("template", template), zap.String("path", fullPath), zap.Error(err))
		return "", err
	}

	s.logger.Info("Project folder created",
		zap.String("type", string(t)),
		zap.String("country", code),
		zap.String("path", fullPath))
	return fullPath, nil
}

// UploadAssessmentFiles places files in the type's shared-info subfolder of
// a project path returned by CreateProjectFolder.
func (s *ProjectService) UploadAssessmentFiles(ctx context.Context, projectPath string, t models.AssessmentType, files []storage.File) ([]string, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAssessmentType, t)
	}
	if len(files) == 0 {
		return nil, nil
	}
	dest := joinProjectPath(projectPath, SharedInfoFolder(t))
	uploaded, err := s.provider.UploadFiles(ctx, files, dest)
	if err != nil {
		return uploaded, err
	}
	s.logger.Info("Uploaded assessment files", zap.Int("count", len(uploaded)), zap.String("dest", dest))
	return uploaded, nil
}

// SaveReport writes the HTML report at the project root and returns its path.
func (s *ProjectService) SaveReport(ctx context.Context, projectPath string, t models.AssessmentType, html string) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssessmentType, t)
	}
	name := ReportFilename(t)
	if err := s.provider.WriteFile(ctx, html, projectPath, name); err != nil {
		return "", err
	}
	return joinProjectPath(projectPath, name), nil
}

func (s *ProjectService) folderExists(ctx context.Context, fullPath string) (bool, error) {
	if raw, ok := s.provider.(storage.RawProvider); ok {
		return raw.FolderExistsRaw(ctx, fullPath)
	}
	return s.provider.FolderExists(ctx, fullPath)
}

func (s *ProjectService) createFolder(ctx context.Context, fullPath string) error {
	if raw, ok := s.provider.(storage.RawProvider); ok {
		return raw.CreateFolderRaw(ctx, fullPath)
	}
	return s.provider.CreateFolder(ctx, fullPath)
}

func checkSegment(field, segment string, nested bool) error {
	trimmed := strings.TrimSpace(segment)
	if trimmed == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	if trimmed == "." || trimmed == ".." {
		return &ValidationError{Field: field, Message: "is not a valid folder name"}
	}
	if !nested && strings.ContainsAny(segment, `/\`) {
		return &ValidationError{Field: field, Message: "must not contain path separators"}
	}
	return nil
}

func joinProjectPath(base string, rel ...string) string {
	return path.Join(append([]string{filepath.ToSlash(base)}, rel...)...)
}

// pathLocks serialises provisioning of the same project path within this
// process. Other processes still rely on conflict-fail folder creation.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func (l *pathLocks) acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
