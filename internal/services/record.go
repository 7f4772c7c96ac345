package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/retry"
	"IBT-ASSESS/internal/salesforce"

	"go.uber.org/zap"
)

const (
	accountsQuery     = "SELECT Id, Name FROM Account ORDER BY Name ASC"
	accountsCacheTTL  = 10 * time.Minute
	otherAccountID    = "other"
	opportunityObject = "Opportunity"
	StageNewRequest   = "New Request"
)

// CRM is the subset of the Salesforce client the record service needs.
type CRM interface {
	Query(ctx context.Context, soql string) ([]map[string]any, error)
	Create(ctx context.Context, sobject string, fields map[string]any) (*salesforce.CreateResult, error)
}

type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Opportunity struct {
	Name           string
	StageName      string
	CloseDate      time.Time
	AssessmentDate time.Time
	Path           string
	BU             models.AssessmentType
	AccountID      string
}

func (o Opportunity) fields() map[string]any {
	fields := map[string]any{
		"Name":               o.Name,
		"StageName":          o.StageName,
		"CloseDate":          o.CloseDate.Format(DateLayout),
		"Assessment_Date__c": o.AssessmentDate.Format(DateLayout),
		"Path__c":            o.Path,
		"BU__c":              string(o.BU),
	}
	if o.AccountID != "" {
		fields["AccountId"] = o.AccountID
	}
	return fields
}

// RecordService wraps CRM calls with retry on transient failures and keeps
// a short-lived cache of the account list.
type RecordService struct {
	crm    CRM
	policy retry.Policy
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	accounts  []Account
	fetchedAt time.Time
}

func NewRecordService(crm CRM, policy retry.Policy, logger *zap.Logger) *RecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &RecordService{crm: crm, policy: policy, logger: logger, now: time.Now}
}

// Accounts lists CRM accounts with unique names in name order, followed by
// an "Other" entry. Results are cached for ten minutes. When the CRM cannot
// be reached and nothing is cached, only "Other" is returned with the error.
func (s *RecordService) Accounts(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	if s.accounts != nil && s.now().Sub(s.fetchedAt) < accountsCacheTTL {
		cached := s.accounts
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	records, err := retry.DoValue(ctx, s.policy, "query_accounts", func(ctx context.Context) ([]map[string]any, error) {
		return s.crm.Query(ctx, accountsQuery)
	})
	if err != nil {
		s.logger.Error("Failed to fetch accounts", zap.Error(err))
		return []Account{{ID: otherAccountID, Name: models.OtherCustomer}}, &RecordError{Op: "query_accounts", Err: err}
	}

	accounts := uniqueAccounts(records)
	s.mu.Lock()
	s.accounts = accounts
	s.fetchedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

// AccountID returns the CRM id for an account name, or "" when the name is
// not listed.
func (s *RecordService) AccountID(ctx context.Context, name string) (string, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.Name == name && a.ID != otherAccountID {
			return a.ID, nil
		}
	}
	return "", nil
}

// CreateOpportunity creates the opportunity and returns its id. A create
// the CRM rejects is returned as a RecordError without retrying.
func (s *RecordService) CreateOpportunity(ctx context.Context, opp Opportunity) (string, error) {
	s.logger.Info("Creating opportunity", zap.String("name", opp.Name), zap.String("bu", string(opp.BU)))

	result, err := retry.DoValue(ctx, s.policy, "create_opportunity", func(ctx context.Context) (*salesforce.CreateResult, error) {
		return s.crm.Create(ctx, opportunityObject, opp.fields())
	})
	if err != nil {
		return "", &RecordError{Op: "create_opportunity", ProjectPath: opp.Path, Err: err}
	}
	if !result.Success {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		if len(msgs) == 0 {
			msgs = append(msgs, "unknown error")
		}
		err := errors.New(strings.Join(msgs, "; "))
		s.logger.Error("Opportunity rejected", zap.String("name", opp.Name), zap.Error(err))
		return "", &RecordError{Op: "create_opportunity", ProjectPath: opp.Path, Err: err}
	}

	s.logger.Info("Created opportunity", zap.String("id", result.ID))
	return result.ID, nil
}

func uniqueAccounts(records []map[string]any) []Account {
	seen := make(map[string]bool, len(records))
	accounts := make([]Account, 0, len(records)+1)
	for _, r := range records {
		id, _ := r["Id"].(string)
		name, _ := r["Name"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		accounts = append(accounts, Account{ID: id, Name: name})
	}
	if !seen[models.OtherCustomer] {
		accounts = append(accounts, Account{ID: otherAccountID, Name: models.OtherCustomer})
	}
	return accounts
}
