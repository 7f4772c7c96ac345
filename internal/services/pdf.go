package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"IBT-ASSESS/internal/models"
	"IBT-ASSESS/internal/retry"

	"github.com/starwalkn/gotenberg-go-client/v8"
	"github.com/starwalkn/gotenberg-go-client/v8/document"
	"go.uber.org/zap"
)

// PDFService renders the HTML report to PDF through Gotenberg's Chromium
// route.
type PDFService struct {
	client  *gotenberg.Client
	timeout time.Duration
	policy  retry.Policy
	logger  *zap.Logger
}

func NewPDFService(gotenbergURL string, timeoutStr string, policy retry.Policy, logger *zap.Logger) (*PDFService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		timeout = 30 * time.Second
		logger.Warn("Invalid Gotenberg timeout, using default", zap.String("value", timeoutStr), zap.Duration("timeout", timeout))
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	client, err := gotenberg.NewClient(gotenbergURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gotenberg client: %w", err)
	}

	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &PDFService{
		client:  client,
		timeout: timeout,
		policy:  policy,
		logger:  logger,
	}, nil
}

// ConvertHTML returns the PDF bytes for a complete HTML page.
func (s *PDFService) ConvertHTML(ctx context.Context, html string) ([]byte, error) {
	pdf, err := retry.DoValue(ctx, s.policy, "convert_html", func(ctx context.Context) ([]byte, error) {
		convertCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		doc, err := document.FromReader("index.html", strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("failed to create document from reader: %w", err)
		}

		resp, err := s.client.Send(convertCtx, gotenberg.NewHTMLRequest(doc))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("gotenberg returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, retry.Transient(err)
			}
			return nil, err
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert report to PDF: %w", err)
	}
	return pdf, nil
}

func ReportPDFFilename(t models.AssessmentType) string {
	return fmt.Sprintf("%s_Assessment.pdf", t)
}
