package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"IBT-ASSESS/internal"
	"IBT-ASSESS/internal/retry"
	"IBT-ASSESS/internal/salesforce"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ictTemplateFiles = map[string]string{
	"1_Customer_Info/7_ALL_Info_Shared/.keep": "",
	"1_Customer_Info/README.txt":              "customer docs",
	"2_Design/checklist.md":                   "# checklist",
	"3_Quote/quote.xlsx":                      "\x00\x01binary",
}

var fctTemplateFiles = map[string]string{
	"1_Customer_Info/3_ALL_Info_Shared/.keep": "",
	"2_Test_Plan/plan.md":                     "plan",
}

func writeTemplate(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

func readFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return out
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeCRM pops one queued error per call before answering.
type fakeCRM struct {
	mu           sync.Mutex
	accounts     []map[string]any
	queryErrs    []error
	createErrs   []error
	createResult *salesforce.CreateResult
	queries      int
	creates      int
	lastFields   map[string]any
}

func (f *fakeCRM) Query(ctx context.Context, soql string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := pop(&f.queryErrs); err != nil {
		return nil, err
	}
	if soql != accountsQuery {
		return nil, errors.New("unexpected query: " + soql)
	}
	return f.accounts, nil
}

func (f *fakeCRM) Create(ctx context.Context, sobject string, fields map[string]any) (*salesforce.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastFields = fields
	if err := pop(&f.createErrs); err != nil {
		return nil, err
	}
	if sobject != opportunityObject {
		return nil, errors.New("unexpected sobject: " + sobject)
	}
	if f.createResult != nil {
		return f.createResult, nil
	}
	return &salesforce.CreateResult{ID: "006000000000001", Success: true}, nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// recordingPolicy is the production policy with sleeps captured instead of
// waited out.
func recordingPolicy(sleeps *[]time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return p
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, internal.Migrate(db, nil))
	return db
}
