package storage

import (
	"context"
	"fmt"

	"IBT-ASSESS/internal/config"
	"IBT-ASSESS/internal/retry"

	"go.uber.org/zap"
)

// NewProvider builds the provider selected by cfg.Storage.Provider. The
// caller owns the result and should close it if it implements io.Closer.
func NewProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Storage.Provider {
	case config.ProviderLocal:
		return NewLocalProvider(cfg.Storage.BasePath, logger), nil
	case config.ProviderSharePoint:
		return NewSharePointProvider(SharePointOptions{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
			SiteID:       cfg.SharePoint.SiteID,
			DriveID:      cfg.SharePoint.DriveID,
			BasePath:     cfg.SharePoint.BasePath,
			GraphURL:     cfg.SharePoint.GraphURL,
			Retry:        RetryPolicy(cfg.Retry),
		}, logger), nil
	case config.ProviderGCS:
		return NewGCSProvider(ctx, cfg.GCS.BucketName, cfg.GCS.CredentialsPath, cfg.GCS.Prefix, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

// RetryPolicy converts the configured retry bounds into a retry.Policy.
func RetryPolicy(rc config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = rc.MaxRetries
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	return p
}
