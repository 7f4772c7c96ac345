package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"IBT-ASSESS/internal/retry"
	"IBT-ASSESS/internal/salesforce"
	"IBT-ASSESS/internal/services"
	"IBT-ASSESS/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCRM struct {
	mu        sync.Mutex
	queryErr  error
	createRes *salesforce.CreateResult
	creates   int
}

func (s *stubCRM) Query(ctx context.Context, soql string) ([]map[string]any, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return []map[string]any{{"Id": "001A", "Name": "Acme"}}, nil
}

func (s *stubCRM) Create(ctx context.Context, sobject string, fields map[string]any) (*salesforce.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createRes != nil {
		return s.createRes, nil
	}
	return &salesforce.CreateResult{ID: "006X", Success: true}, nil
}

type testServer struct {
	router *gin.Engine
	root   string
	crm    *stubCRM
}

func newTestServer(t *testing.T, maxUploadMB int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpl := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpl, "1_Customer_Info", "7_ALL_Info_Shared"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "README.txt"), []byte("template"), 0o644))

	root := t.TempDir()
	crm := &stubCRM{}
	projects := services.NewProjectService(storage.NewLocalProvider(root, zap.NewNop()), map[string]string{"ICT": tmpl}, zap.NewNop())
	records := services.NewRecordService(crm, retry.Policy{}, zap.NewNop())
	intake := services.NewIntakeService(services.IntakeOptions{
		Projects:      projects,
		Records:       records,
		BrowseBaseURL: "https://t.sharepoint.com/Docs",
		Logger:        zap.NewNop(),
	})
	h := NewAssessmentHandler(intake, records, maxUploadMB, zap.NewNop())

	r := gin.New()
	r.POST("/assessments/:type", h.Submit)
	r.GET("/accounts", h.GetAccounts)
	r.GET("/countries", GetCountries)
	r.GET("/types", GetAssessmentTypes)
	return &testServer{router: r, root: root, crm: crm}
}

func submissionJSON(overrides map[string]any) string {
	sub := map[string]any{
		"project_name":  "P1",
		"contact_name":  "Ana",
		"contact_email": "ana@acme.com",
		"customer_name": "Acme",
		"country":       "MX",
		"date":          "2025-01-15",
	}
	for k, v := range overrides {
		sub[k] = v
	}
	b, _ := json.Marshal(sub)
	return string(b)
}

func multipartRequest(t *testing.T, path, submission string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if submission != "" {
		require.NoError(t, w.WriteField("submission", submission))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestSubmit_Created(t *testing.T) {
	s := newTestServer(t, 8)
	w, body := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(nil), map[string]string{"notes.txt": "hello"}))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := filepath.Join(s.root, "1_In_Circuit Test (ICT)", "MX", "Acme", "P1")
	assert.Equal(t, project, body["project_path"])
	assert.Equal(t, "006X", body["opportunity_id"])

	got, err := os.ReadFile(filepath.Join(project, "1_Customer_Info", "7_ALL_Info_Shared", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSubmit_ErrorMapping(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, _ := s.do(multipartRequest(t, "/assessments/xyz", submissionJSON(nil), nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("template not configured", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, _ := s.do(multipartRequest(t, "/assessments/fct", submissionJSON(nil), nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing submission field", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, _ := s.do(multipartRequest(t, "/assessments/ict", "", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("type mismatch", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, _ := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(map[string]any{"type": "FCT"}), nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation lists fields", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, body := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(map[string]any{"contact_email": "x@gmail.com", "project_name": ""}), nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, body["fields"], 2)
		assert.Zero(t, s.crm.creates)
	})

	t.Run("collision", func(t *testing.T) {
		s := newTestServer(t, 8)
		w, _ := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(nil), nil))
		require.Equal(t, http.StatusCreated, w.Code)
		w, _ = s.do(multipartRequest(t, "/assessments/ict", submissionJSON(nil), nil))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, 1, s.crm.creates)
	})

	t.Run("crm rejection after provisioning", func(t *testing.T) {
		s := newTestServer(t, 8)
		s.crm.createRes = &salesforce.CreateResult{Errors: []salesforce.APIError{{ErrorCode: "REQUIRED_FIELD_MISSING", Message: "BU"}}}
		w, body := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(nil), nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, filepath.Join(s.root, "1_In_Circuit Test (ICT)", "MX", "Acme", "P1"), body["project_path"])
		assert.NotEmpty(t, body["url"])
	})

	t.Run("upload too large", func(t *testing.T) {
		s := newTestServer(t, 1)
		big := string(bytes.Repeat([]byte("x"), 2<<20))
		w, _ := s.do(multipartRequest(t, "/assessments/ict", submissionJSON(nil), map[string]string{"big.bin": big}))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestWriteError_StorageFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeError(c, nil, &storage.Error{Op: "create_folder", Path: "/x", Err: errors.New("disk full")})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t, 8)

	w, body := s.do(httptest.NewRequest(http.MethodGet, "/accounts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["accounts"], 2)

	w, body = s.do(httptest.NewRequest(http.MethodGet, "/countries", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["countries"], len(services.Countries()))

	w, body = s.do(httptest.NewRequest(http.MethodGet, "/types", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["types"], 4)
}

func TestGetAccounts_DegradesToOther(t *testing.T) {
	s := newTestServer(t, 8)
	s.crm.queryErr = errors.New("invalid session")

	w, body := s.do(httptest.NewRequest(http.MethodGet, "/accounts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["accounts"], 1)
	assert.NotEmpty(t, body["warning"])
}
