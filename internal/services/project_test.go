package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// spyProvider counts calls on top of a real provider.
type spyProvider struct {
	storage.Provider

	mu    sync.Mutex
	calls map[string]int
}

func newSpy(p storage.Provider) *spyProvider {
	return &spyProvider{Provider: p, calls: map[string]int{}}
}

func (s *spyProvider) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *spyProvider) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *spyProvider) FolderExists(ctx context.Context, path string) (bool, error) {
	s.count("folder_exists")
	return s.Provider.FolderExists(ctx, path)
}

func (s *spyProvider) CreateFolder(ctx context.Context, path string) error {
	s.count("create_folder")
	return s.Provider.CreateFolder(ctx, path)
}

func (s *spyProvider) CopyTemplate(ctx context.Context, templatePath, dest string) error {
	s.count("copy_template")
	return s.Provider.CopyTemplate(ctx, templatePath, dest)
}

// rawSpy adds the raw tier with a scripted answer.
type rawSpy struct {
	*spyProvider
	existsRaw bool
	createErr error
	rawPaths  []string
}

func (r *rawSpy) FolderExistsRaw(ctx context.Context, path string) (bool, error) {
	r.count("folder_exists_raw")
	r.rawPaths = append(r.rawPaths, path)
	return r.existsRaw, nil
}

func (r *rawSpy) CreateFolderRaw(ctx context.Context, path string) error {
	r.count("create_folder_raw")
	r.rawPaths = append(r.rawPaths, path)
	return r.createErr
}

func newLocalProjects(t *testing.T) (*ProjectService, *spyProvider, string) {
	t.Helper()
	root := t.TempDir()
	spy := newSpy(storage.NewLocalProvider(root, zap.NewNop()))
	svc := NewProjectService(spy, map[string]string{
		"ICT": writeTemplate(t, ictTemplateFiles),
		"FCT": writeTemplate(t, fctTemplateFiles),
	}, zap.NewNop())
	return svc, spy, root
}

func TestProjectService_EndToEnd(t *testing.T) {
	svc, spy, root := newLocalProjects(t)
	ctx := context.Background()

	path, err := svc.CreateProjectFolder(ctx, models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "1_ICT", "MX", "Acme", "P1"), path)
	assert.Equal(t, ictTemplateFiles, readFiles(t, path))

	_, err = svc.CreateProjectFolder(ctx, models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, storage.ErrProjectExists)
	assert.Equal(t, 1, spy.Calls("create_folder"))
	assert.Equal(t, 1, spy.Calls("copy_template"))

	uploaded, err := svc.UploadAssessmentFiles(ctx, path, models.AssessmentICT, []storage.File{{Name: "a.txt", Content: []byte("hi")}})
	require.NoError(t, err)
	want := filepath.Join(path, "1_Customer_Info", "7_ALL_Info_Shared", "a.txt")
	assert.Equal(t, []string{want}, uploaded)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestProjectService_CollisionDoesNotTouchStorage(t *testing.T) {
	svc, spy, root := newLocalProjects(t)
	existing := filepath.Join(root, "1_ICT", "MX", "Acme", "P1")
	require.NoError(t, os.MkdirAll(existing, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "keep.txt"), []byte("mine"), 0644))

	_, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")

	var se *storage.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, existing, se.Path)
	assert.ErrorIs(t, err, storage.ErrProjectExists)
	assert.Equal(t, 1, spy.Calls("folder_exists"))
	assert.Zero(t, spy.Calls("create_folder"))
	assert.Zero(t, spy.Calls("copy_template"))
	assert.Equal(t, map[string]string{"keep.txt": "mine"}, readFiles(t, existing))
}

func TestProjectService_UsesRawTierWhenAvailable(t *testing.T) {
	base := newSpy(storage.NewLocalProvider(t.TempDir(), zap.NewNop()))
	raw := &rawSpy{spyProvider: base}
	svc := NewProjectService(raw, map[string]string{"ICT": writeTemplate(t, ictTemplateFiles)}, zap.NewNop())

	path, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	require.NoError(t, err)
	assert.Equal(t, []string{path, path}, raw.rawPaths)
	assert.Zero(t, base.Calls("folder_exists"))
	assert.Zero(t, base.Calls("create_folder"))
	assert.Equal(t, 1, base.Calls("copy_template"))
}

func TestProjectService_LostCreateRaceIsACollision(t *testing.T) {
	base := newSpy(storage.NewLocalProvider(t.TempDir(), zap.NewNop()))
	raw := &rawSpy{
		spyProvider: base,
		createErr:   &storage.Error{Op: "create_folder", Err: storage.ErrFolderExists},
	}
	svc := NewProjectService(raw, map[string]string{"ICT": writeTemplate(t, ictTemplateFiles)}, zap.NewNop())

	_, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, storage.ErrProjectExists)
	assert.Zero(t, base.Calls("copy_template"))
}

func TestProjectService_ConcurrentSameKey(t *testing.T) {
	svc, spy, _ := newLocalProjects(t)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateProjectFolder(context.Background(), models.AssessmentFCT, "2_FCT", "Acme", "P9", "USA")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrProjectExists)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, spy.Calls("copy_template"))
}

func TestProjectService_ConfigurationErrors(t *testing.T) {
	svc, spy, _ := newLocalProjects(t)
	ctx := context.Background()

	_, err := svc.CreateProjectFolder(ctx, models.AssessmentIAT, "4_IAT", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, ErrTemplateNotConfigured)

	_, err = svc.CreateProjectFolder(ctx, models.AssessmentType("XYZ"), "x", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, ErrUnknownAssessmentType)

	_, err = svc.CreateProjectFolder(ctx, models.AssessmentICT, "1_ICT", "Acme/..", "P1", "Mexico")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "customer_name", ve.Field)

	_, err = svc.CreateProjectFolder(ctx, models.AssessmentICT, "1_ICT", "Acme", "  ", "Mexico")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "project_name", ve.Field)

	assert.Zero(t, spy.Calls("folder_exists"))
}

func TestProjectService_MissingTemplateFolder(t *testing.T) {
	root := t.TempDir()
	svc := NewProjectService(storage.NewLocalProvider(root, zap.NewNop()), map[string]string{
		"ICT": filepath.Join(root, "no-such-template"),
	}, zap.NewNop())

	_, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, storage.ErrTemplateNotFound)
}

func TestProjectService_SaveReport(t *testing.T) {
	svc, _, root := newLocalProjects(t)
	path := filepath.Join(root, "P")

	saved, err := svc.SaveReport(context.Background(), path, models.AssessmentFCT, "<h1>report</h1>")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(path, "FCT_Assessment.html"), saved)

	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "<h1>report</h1>", string(data))
}

func TestResolveCountry(t *testing.T) {
	tests := map[string]string{
		"Mexico":   "MX",
		" mexico ": "MX",
		"USA":      "USA",
		"US":       "USA",
		"Canada":   "CAD",
		"Europe":   "EUR",
		"Asia":     "ASIA",
		"Other":    "OTHER",
		"mx":       "MX",
		"CAD":      "CAD",
		"Atlantis": "OTHER",
		"":         "OTHER",
	}
	for in, want := range tests {
		assert.Equal(t, want, ResolveCountry(in), in)
	}
}

func TestSharedInfoFolderByType(t *testing.T) {
	ict := SharedInfoFolder(models.AssessmentICT)
	assert.Equal(t, "1_Customer_Info/7_ALL_Info_Shared", ict)
	for _, at := range []models.AssessmentType{models.AssessmentFCT, models.AssessmentIAT, models.AssessmentFIX} {
		assert.Equal(t, "1_Customer_Info/3_ALL_Info_Shared", SharedInfoFolder(at))
		assert.NotEqual(t, ict, SharedInfoFolder(at))
	}
}

func TestUploadPlacementFollowsType(t *testing.T) {
	svc, _, root := newLocalProjects(t)
	ctx := context.Background()
	files := []storage.File{{Name: "a.txt", Content: []byte("hi")}}

	ict, err := svc.UploadAssessmentFiles(ctx, filepath.Join(root, "ict"), models.AssessmentICT, files)
	require.NoError(t, err)
	fct, err := svc.UploadAssessmentFiles(ctx, filepath.Join(root, "fct"), models.AssessmentFCT, files)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(ict[0], filepath.Join("7_ALL_Info_Shared", "a.txt")))
	assert.True(t, strings.HasSuffix(fct[0], filepath.Join("3_ALL_Info_Shared", "a.txt")))

	none, err := svc.UploadAssessmentFiles(ctx, filepath.Join(root, "x"), models.AssessmentICT, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBrowseURL(t *testing.T) {
	assert.Equal(t, "https://t.sharepoint.com/sites/x/Docs/01_2025/1_ICT/MX/Acme/P1",
		BrowseURL("https://t.sharepoint.com/sites/x/Docs", "01_2025/1_ICT/MX/Acme/P1"))
	assert.Equal(t, "https://t.sharepoint.com/Docs/01_2025/P1",
		BrowseURL("https://t.sharepoint.com/Docs/", "/01_2025/P1"))

	full := "01_2025/1_ICT/MX/Acme/P1"
	assert.Equal(t, 1, strings.Count(BrowseURL("https://t.sharepoint.com/Docs", full), "01_2025"))
}

func TestProjectService_ProjectURLIsRootRelative(t *testing.T) {
	svc, _, root := newLocalProjects(t)

	path, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	require.NoError(t, err)

	url := svc.ProjectURL("https://t.sharepoint.com/sites/x/Docs", path)
	assert.Equal(t, "https://t.sharepoint.com/sites/x/Docs/1_ICT/MX/Acme/P1", url)
	assert.NotContains(t, url, filepath.ToSlash(root))
}

func TestProjectService_FileAtProjectPath(t *testing.T) {
	svc, spy, root := newLocalProjects(t)
	blocker := filepath.Join(root, "1_ICT", "MX", "Acme", "P1")
	require.NoError(t, os.MkdirAll(filepath.Dir(blocker), 0755))
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := svc.CreateProjectFolder(context.Background(), models.AssessmentICT, "1_ICT", "Acme", "P1", "Mexico")
	assert.ErrorIs(t, err, storage.ErrNotFolder)
	assert.NotErrorIs(t, err, storage.ErrProjectExists)
	assert.Zero(t, spy.Calls("create_folder"))
	assert.Zero(t, spy.Calls("copy_template"))
}

func TestPathLocks_AcquireHonoursContext(t *testing.T) {
	locks := pathLocks{held: map[string]chan struct{}{}}
	unlock, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.acquire(ctx, "a")
	assert.True(t, errors.Is(err, context.Canceled))

	other, err := locks.acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	again, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
}
