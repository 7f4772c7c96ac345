package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderLocal      = "local"
	ProviderSharePoint = "sharepoint"
	ProviderGCS        = "gcs"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Storage    StorageConfig    `json:"storage"`
	Azure      AzureConfig      `json:"azure"`
	SharePoint SharePointConfig `json:"sharepoint"`
	GCS        GCSConfig        `json:"gcs"`
	Salesforce SalesforceConfig `json:"salesforce"`
	Gotenberg  GotenbergConfig  `json:"gotenberg"`
	Auth       AuthConfig       `json:"auth"`
	Retry      RetryConfig      `json:"retry"`
	Log        LogConfig        `json:"log"`
}

type ServerConfig struct {
	Port         string   `json:"port"`
	Environment  string   `json:"environment"`
	AllowOrigins []string `json:"allow_origins"`
	MaxUploadMB  int64    `json:"max_upload_mb"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`

	// LogRetention is how long activity logs are kept. Zero keeps them forever.
	LogRetention time.Duration `json:"log_retention"`
}

type StorageConfig struct {
	Provider      string `json:"provider"`
	BasePath      string `json:"base_path"`
	BrowseBaseURL string `json:"browse_base_url"`
	TemplateICT   string `json:"template_ict"`
	TemplateFCT   string `json:"template_fct"`
	TemplateIAT   string `json:"template_iat"`
	TemplateFIX   string `json:"template_fix"`
}

type AzureConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
}

type SharePointConfig struct {
	SiteID   string `json:"site_id"`
	DriveID  string `json:"drive_id"`
	BasePath string `json:"base_path"`
	GraphURL string `json:"graph_url"`
}

type GCSConfig struct {
	BucketName      string `json:"bucket_name"`
	ProjectID       string `json:"project_id"`
	CredentialsPath string `json:"credentials_path"`
	Prefix          string `json:"prefix"`
}

type SalesforceConfig struct {
	Username       string        `json:"username"`
	Password       string        `json:"-"`
	SecurityToken  string        `json:"-"`
	ConsumerKey    string        `json:"consumer_key"`
	ConsumerSecret string        `json:"-"`
	TokenURL       string        `json:"token_url"`
	APIVersion     string        `json:"api_version"`
	Timeout        time.Duration `json:"timeout"`
}

type GotenbergConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout"`
}

// AuthConfig configures Entra ID bearer validation. An empty JWKSURL disables it.
type AuthConfig struct {
	TenantID string `json:"tenant_id"`
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
	JWKSURL  string `json:"jwks_url"`
}

type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// Error reports configuration keys that are missing or malformed.
type Error struct {
	Keys    []string
	Message string
}

func (e *Error) Error() string {
	if len(e.Keys) == 0 {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Message, strings.Join(e.Keys, ", "))
}

func (d *DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

func (d *DatabaseConfig) DSN() string {
	// Cloud SQL Unix socket support
	if len(d.Host) > 0 && d.Host[0] == '/' {
		return fmt.Sprintf("%s:%s@unix(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

func (a *AuthConfig) Enabled() bool {
	return a.JWKSURL != ""
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Failed to load .env file: %v, using system environment variables\n", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			AllowOrigins: parseAllowOrigins(),
			MaxUploadMB:  int64(getEnvInt("MAX_UPLOAD_MB", 64)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ibt_assess"),

			LogRetention: getEnvDuration("LOG_RETENTION", 30*24*time.Hour),
		},
		Storage: StorageConfig{
			Provider:      strings.ToLower(getEnv("STORAGE_PROVIDER", ProviderLocal)),
			BasePath:      getEnv("PATH_FILE", ""),
			BrowseBaseURL: getEnv("PATH_TO_SHAREPOINT", ""),
			TemplateICT:   getEnv("TEMPLATE_ICT", ""),
			TemplateFCT:   getEnv("TEMPLATE_FCT", ""),
			TemplateIAT:   getEnv("TEMPLATE_IAT", ""),
			TemplateFIX:   getEnv("TEMPLATE_FIX", ""),
		},
		Azure: AzureConfig{
			TenantID:     getEnv("AZURE_TENANT_ID", ""),
			ClientID:     getEnv("AZURE_CLIENT_ID", ""),
			ClientSecret: getEnv("AZURE_CLIENT_SECRET", ""),
		},
		SharePoint: SharePointConfig{
			SiteID:   getEnv("SHAREPOINT_SITE_ID", ""),
			DriveID:  getEnv("SHAREPOINT_DRIVE_ID", ""),
			BasePath: getEnv("SHAREPOINT_BASE_PATH", ""),
			GraphURL: getEnv("GRAPH_URL", "https://graph.microsoft.com/v1.0"),
		},
		GCS: GCSConfig{
			BucketName:      getEnv("GCS_BUCKET_NAME", ""),
			ProjectID:       getEnv("GOOGLE_CLOUD_PROJECT", ""),
			CredentialsPath: getEnv("GCS_CREDENTIALS_PATH", ""),
			Prefix:          getEnv("GCS_PREFIX", ""),
		},
		Salesforce: SalesforceConfig{
			Username:       getEnv("SALESFORCE_USERNAME", ""),
			Password:       getEnv("SALESFORCE_PASSWORD", ""),
			SecurityToken:  getEnv("SALESFORCE_SECURITY_TOKEN", ""),
			ConsumerKey:    getEnv("SALESFORCE_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("SALESFORCE_CONSUMER_SECRET", ""),
			TokenURL:       getEnv("SALESFORCE_TOKEN_URL", "https://login.salesforce.com/services/oauth2/token"),
			APIVersion:     getEnv("SALESFORCE_API_VERSION", "v59.0"),
			Timeout:        time.Duration(getEnvInt("SALESFORCE_TIMEOUT", 40)) * time.Second,
		},
		Gotenberg: GotenbergConfig{
			URL:     getEnv("GOTENBERG_URL", ""),
			Timeout: getEnv("GOTENBERG_TIMEOUT", "30s"),
		},
		Auth: AuthConfig{
			TenantID: getEnv("ENTRA_TENANT_ID", ""),
			Issuer:   getEnv("ENTRA_ISSUER", ""),
			Audience: getEnv("ENTRA_AUDIENCE", ""),
			JWKSURL:  getEnv("ENTRA_JWKS_URL", ""),
		},
		Retry: RetryConfig{
			MaxRetries: getEnvInt("RETRY_MAX", 3),
			BaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that every key required by the selected storage provider
// and by the CRM client is present.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	switch c.Storage.Provider {
	case ProviderLocal:
		require("PATH_FILE", c.Storage.BasePath)
	case ProviderSharePoint:
		require("AZURE_TENANT_ID", c.Azure.TenantID)
		require("AZURE_CLIENT_ID", c.Azure.ClientID)
		require("AZURE_CLIENT_SECRET", c.Azure.ClientSecret)
		// Without a drive id the site's default document library is used.
		if strings.TrimSpace(c.SharePoint.DriveID) == "" {
			require("SHAREPOINT_SITE_ID", c.SharePoint.SiteID)
		}
	case ProviderGCS:
		require("GCS_BUCKET_NAME", c.GCS.BucketName)
	default:
		return &Error{Keys: []string{"STORAGE_PROVIDER"}, Message: fmt.Sprintf("unknown storage provider %q", c.Storage.Provider)}
	}

	require("TEMPLATE_ICT", c.Storage.TemplateICT)
	require("TEMPLATE_FCT", c.Storage.TemplateFCT)
	require("TEMPLATE_IAT", c.Storage.TemplateIAT)

	require("SALESFORCE_USERNAME", c.Salesforce.Username)
	require("SALESFORCE_PASSWORD", c.Salesforce.Password)
	require("SALESFORCE_CONSUMER_KEY", c.Salesforce.ConsumerKey)
	require("SALESFORCE_CONSUMER_SECRET", c.Salesforce.ConsumerSecret)

	if len(missing) > 0 {
		return &Error{Keys: missing, Message: "required environment variables are not set"}
	}
	if c.Retry.MaxRetries < 0 {
		return &Error{Keys: []string{"RETRY_MAX"}, Message: "must not be negative"}
	}
	return nil
}

// TemplatePaths maps assessment type names to their local template folders.
// Types without a configured template are left out.
func (s *StorageConfig) TemplatePaths() map[string]string {
	paths := make(map[string]string, 4)
	for name, path := range map[string]string{
		"ICT": s.TemplateICT,
		"FCT": s.TemplateFCT,
		"IAT": s.TemplateIAT,
		"FIX": s.TemplateFIX,
	} {
		if path != "" {
			paths[name] = path
		}
	}
	return paths
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid integer for %s=%q, using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		fmt.Printf("Warning: invalid duration for %s=%q, using %s\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func parseAllowOrigins() []string {
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		var allowOrigins []string
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowOrigins = append(allowOrigins, trimmed)
			}
		}
		return allowOrigins
	}

	var allowOrigins []string

	if url1 := getEnv("FRONTEND_URL_1", ""); url1 != "" {
		allowOrigins = append(allowOrigins, url1)
	}

	if url2 := getEnv("FRONTEND_URL_2", ""); url2 != "" {
		allowOrigins = append(allowOrigins, url2)
	}

	if len(allowOrigins) == 0 {
		allowOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}
	}

	return allowOrigins
}
