// Package salesforce is a minimal Salesforce REST client covering the two
// calls the intake flow makes: SOQL queries and sObject creation.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"IBT-ASSESS/internal/retry"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type Options struct {
	Username       string
	Password       string
	SecurityToken  string
	ConsumerKey    string
	ConsumerSecret string
	TokenURL       string
	APIVersion     string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client authenticates with the OAuth password grant. The session is cached
// for the client's lifetime and re-acquired once when the API answers 401.
type Client struct {
	conf       *oauth2.Config
	username   string
	password   string
	apiVersion string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	token       *oauth2.Token
	instanceURL string
}

type QueryResult struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

type CreateResult struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Errors  []APIError `json:"errors"`
}

type APIError struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.ErrorCode, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// StatusError is a non-2xx API answer.
type StatusError struct {
	StatusCode int
	Errors     []APIError
	Body       string
}

func (e *StatusError) Error() string {
	if len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, ae := range e.Errors {
			msgs[i] = ae.Error()
		}
		return fmt.Sprintf("salesforce returned %d: %s", e.StatusCode, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("salesforce returned %d: %s", e.StatusCode, e.Body)
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 40 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "v59.0"
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     opts.ConsumerKey,
			ClientSecret: opts.ConsumerSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   opts.Username,
		password:   opts.Password + opts.SecurityToken,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Query runs a SOQL query and follows nextRecordsUrl until every record is
// read.
func (c *Client) Query(ctx context.Context, soql string) ([]map[string]any, error) {
	endpoint := c.dataPath("/query?q=" + url.QueryEscape(soql))
	var records []map[string]any
	for endpoint != "" {
		var page QueryResult
		if err := c.call(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to query: %w", err)
		}
		records = append(records, page.Records...)
		if page.Done {
			break
		}
		endpoint = page.NextRecordsURL
	}
	return records, nil
}

// Create inserts an sObject. A 400 with field errors is returned as an
// unsuccessful CreateResult rather than an error.
func (c *Client) Create(ctx context.Context, sobject string, fields map[string]any) (*CreateResult, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", sobject, err)
	}

	var result CreateResult
	err = c.call(ctx, http.MethodPost, c.dataPath("/sobjects/"+url.PathEscape(sobject)+"/"), body, &result)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest && len(se.Errors) > 0 {
			return &CreateResult{Success: false, Errors: se.Errors}, nil
		}
		return nil, fmt.Errorf("failed to create %s: %w", sobject, err)
	}
	return &result, nil
}

func (c *Client) dataPath(suffix string) string {
	return "/services/data/" + c.apiVersion + suffix
}

func (c *Client) call(ctx context.Context, method, endpoint string, body []byte, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Warn("Salesforce session rejected, re-authenticating")
		c.invalidate()
		if resp, err = c.send(ctx, method, endpoint, body); err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		se := statusError(resp)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.Transient(se)
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	token, instanceURL, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(instanceURL, "/")+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) session(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil {
		return c.token.AccessToken, c.instanceURL, nil
	}

	c.logger.Info("Connecting to Salesforce...")
	token, err := c.conf.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), c.username, c.password)
	if err != nil {
		c.logger.Error("Failed to connect to Salesforce", zap.Error(err))
		return "", "", fmt.Errorf("failed to authenticate: %w", err)
	}
	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return "", "", fmt.Errorf("failed to authenticate: token response has no instance_url")
	}

	c.token = token
	c.instanceURL = instanceURL
	c.logger.Info("Successfully connected to Salesforce", zap.String("instance_url", instanceURL))
	return token.AccessToken, instanceURL, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	var apiErrs []APIError
	if err := json.Unmarshal(body, &apiErrs); err == nil {
		se.Errors = apiErrs
	}
	return se
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
