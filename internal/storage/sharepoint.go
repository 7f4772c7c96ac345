package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"IBT-ASSESS/internal/retry"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// Graph accepts simple PUT uploads up to 4 MiB; larger content goes
	// through an upload session in chunks that are multiples of 320 KiB.
	defaultSimpleUploadLimit = 4 * 1024 * 1024
	defaultUploadChunkSize   = 12 * 320 * 1024
)

type SharePointOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	SiteID       string
	DriveID      string
	BasePath     string
	GraphURL     string
	// TokenURL overrides the Entra ID token endpoint derived from TenantID.
	TokenURL   string
	HTTPClient *http.Client
	Retry      retry.Policy
}

// SharePointProvider stores projects in a SharePoint document library through
// Microsoft Graph. Public methods that take a caller path apply BasePath;
// the *Raw methods and every internal step of CopyTemplate, UploadFiles and
// WriteFile take already-prefixed paths.
type SharePointProvider struct {
	prefixer

	driveID    string
	siteID     string
	graphURL   string
	httpClient *http.Client
	creds      *clientcredentials.Config
	retry      retry.Policy
	logger     *zap.Logger

	simpleUploadLimit int
	uploadChunkSize   int

	mu    sync.Mutex
	token *oauth2.Token
}

func NewSharePointProvider(opts SharePointOptions, logger *zap.Logger) *SharePointProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	graphURL := strings.TrimRight(opts.GraphURL, "/")
	if graphURL == "" {
		graphURL = "https://graph.microsoft.com/v1.0"
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", opts.TenantID)
	}

	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}

	logger.Info("Initialized SharePoint storage provider",
		zap.String("site_id", opts.SiteID),
		zap.String("drive_id", opts.DriveID),
		zap.String("base_path", opts.BasePath))

	return &SharePointProvider{
		prefixer:   newPrefixer(opts.BasePath),
		driveID:    opts.DriveID,
		siteID:     opts.SiteID,
		graphURL:   graphURL,
		httpClient: httpClient,
		creds: &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		retry:             policy,
		logger:            logger,
		simpleUploadLimit: defaultSimpleUploadLimit,
		uploadChunkSize:   defaultUploadChunkSize,
	}
}

func (p *SharePointProvider) FullPath(parts ...string) string {
	return p.qualify(parts...)
}

func (p *SharePointProvider) FolderExists(ctx context.Context, path string) (bool, error) {
	return p.FolderExistsRaw(ctx, p.qualify(path))
}

func (p *SharePointProvider) CreateFolder(ctx context.Context, path string) error {
	err := p.CreateFolderRaw(ctx, p.qualify(path))
	if errors.Is(err, ErrFolderExists) {
		return nil
	}
	return err
}

func (p *SharePointProvider) UploadFile(ctx context.Context, content []byte, destFolder, filename string) error {
	return p.uploadFileRaw(ctx, content, p.qualify(destFolder), filename)
}

// UploadFiles expects destFolder to come from FullPath.
func (p *SharePointProvider) UploadFiles(ctx context.Context, files []File, destFolder string) ([]string, error) {
	uploaded := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, wrapErr("upload_files", destFolder, err)
		}
		if err := p.uploadFileRaw(ctx, f.Content, destFolder, f.Name); err != nil {
			p.logger.Error("Failed to upload file", zap.String("file", f.Name), zap.Error(err))
			return uploaded, err
		}
		uploaded = append(uploaded, joinSlash(destFolder, f.Name))
	}
	p.logger.Info("Uploaded files", zap.Int("count", len(uploaded)), zap.String("dest", destFolder))
	return uploaded, nil
}

// WriteFile expects destFolder to come from FullPath.
func (p *SharePointProvider) WriteFile(ctx context.Context, text, destFolder, filename string) error {
	if err := p.uploadFileRaw(ctx, []byte(text), destFolder, filename); err != nil {
		return wrapErr("write_file", joinSlash(destFolder, filename), err)
	}
	return nil
}

// CopyTemplate replicates a local template tree under dest, which must come
// from FullPath and must already exist. The root itself is never created
// here. Folders that already exist are skipped; the first failed file upload
// aborts the copy and leaves what was already copied in place.
func (p *SharePointProvider) CopyTemplate(ctx context.Context, templatePath, dest string) error {
	info, err := os.Stat(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return wrapErr("copy_template", templatePath, fmt.Errorf("%w: %s", ErrTemplateNotFound, templatePath))
		}
		return wrapErr("copy_template", templatePath, err)
	}
	if !info.IsDir() {
		return wrapErr("copy_template", templatePath, fmt.Errorf("template path is not a directory"))
	}

	p.logger.Info("Copying template", zap.String("template", templatePath), zap.String("dest", dest))

	var foldersCreated, filesCopied int
	err = filepath.WalkDir(templatePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == templatePath {
			return nil
		}

		rel, err := filepath.Rel(templatePath, path)
		if err != nil {
			return err
		}
		target := joinSlash(dest, filepath.ToSlash(rel))

		if d.IsDir() {
			err := p.createFolderLeaf(ctx, p.retry, target)
			switch {
			case err == nil:
				foldersCreated++
			case errors.Is(err, ErrFolderExists):
				p.logger.Debug("Folder already exists, skipping", zap.String("path", target))
			default:
				return err
			}
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		parent, name := splitParent(target)
		if err := p.uploadFileRaw(ctx, content, parent, name); err != nil {
			return fmt.Errorf("failed to upload %s: %w", rel, err)
		}
		filesCopied++
		if filesCopied%10 == 0 {
			p.logger.Info("Template copy progress", zap.Int("files", filesCopied))
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Template copy aborted",
			zap.String("dest", dest),
			zap.Int("folders", foldersCreated),
			zap.Int("files", filesCopied),
			zap.Error(err))
		return wrapErr("copy_template", dest, err)
	}

	p.logger.Info("Template copied",
		zap.String("dest", dest),
		zap.Int("folders", foldersCreated),
		zap.Int("files", filesCopied))
	return nil
}

// FolderExistsRaw looks up an already-prefixed path. A folder item means
// present and 404 absent; a file item yields ErrNotFolder.
func (p *SharePointProvider) FolderExistsRaw(ctx context.Context, path string) (bool, error) {
	resp, err := p.do(ctx, "folder_exists", func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, p.itemURL(path), nil)
	})
	if err != nil {
		return false, wrapErr("folder_exists", path, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		var item struct {
			Folder *json.RawMessage `json:"folder"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return false, wrapErr("folder_exists", path, fmt.Errorf("malformed item response: %w", err))
		}
		if item.Folder == nil {
			return false, wrapErr("folder_exists", path, ErrNotFolder)
		}
		p.logger.Debug("Folder exists check", zap.String("path", path), zap.Bool("exists", true))
		return true, nil
	case http.StatusNotFound:
		p.logger.Debug("Folder exists check", zap.String("path", path), zap.Bool("exists", false))
		return false, nil
	default:
		return false, wrapErr("folder_exists", path, graphError(resp))
	}
}

// CreateFolderRaw creates missing ancestors, then the leaf exactly once. A
// retried leaf POST whose first reply was lost would read back as 409 and
// look like someone else's project.
func (p *SharePointProvider) CreateFolderRaw(ctx context.Context, path string) error {
	for _, ancestor := range ancestors(path) {
		if err := p.createFolderLeaf(ctx, p.retry, ancestor); err != nil && !errors.Is(err, ErrFolderExists) {
			return err
		}
	}
	once := p.retry
	once.MaxRetries = 0
	return p.createFolderLeaf(ctx, once, path)
}

// createFolderLeaf creates one folder whose parent must exist. Conflict
// behaviour is "fail" so Graph never invents a renamed sibling.
func (p *SharePointProvider) createFolderLeaf(ctx context.Context, policy retry.Policy, path string) error {
	parent, name := splitParent(path)
	if name == "" {
		return wrapErr("create_folder", path, fmt.Errorf("empty folder name"))
	}
	payload, err := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	})
	if err != nil {
		return wrapErr("create_folder", path, err)
	}

	resp, err := p.doWith(ctx, policy, "create_folder", func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.childrenURL(parent), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return wrapErr("create_folder", path, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		p.logger.Info("Created folder", zap.String("path", path))
		return nil
	case http.StatusConflict:
		return wrapErr("create_folder", path, ErrFolderExists)
	default:
		return wrapErr("create_folder", path, graphError(resp))
	}
}

func (p *SharePointProvider) uploadFileRaw(ctx context.Context, content []byte, destFolder, filename string) error {
	itemPath := joinSlash(destFolder, filename)
	if len(content) > p.simpleUploadLimit {
		return p.uploadLarge(ctx, content, itemPath)
	}

	resp, err := p.do(ctx, "upload_file", func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, p.itemURL(itemPath)+":/content", bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	})
	if err != nil {
		return wrapErr("upload_file", itemPath, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return wrapErr("upload_file", itemPath, graphError(resp))
	}
	p.logger.Info("Uploaded file", zap.String("path", itemPath), zap.Int("size", len(content)))
	return nil
}

func (p *SharePointProvider) uploadLarge(ctx context.Context, content []byte, itemPath string) error {
	payload := []byte(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)
	resp, err := p.do(ctx, "create_upload_session", func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.itemURL(itemPath)+":/createUploadSession", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return wrapErr("upload_file", itemPath, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer drain(resp)
		return wrapErr("upload_file", itemPath, graphError(resp))
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err = json.NewDecoder(resp.Body).Decode(&session)
	drain(resp)
	if err != nil || session.UploadURL == "" {
		return wrapErr("upload_file", itemPath, fmt.Errorf("malformed upload session response: %v", err))
	}

	total := len(content)
	for start := 0; start < total; start += p.uploadChunkSize {
		if err := ctx.Err(); err != nil {
			return wrapErr("upload_file", itemPath, err)
		}
		end := min(start+p.uploadChunkSize, total)
		chunk := content[start:end]
		contentRange := fmt.Sprintf("bytes %d-%d/%d", start, end-1, total)

		// The upload URL is pre-authorised and must not carry the bearer token.
		err := retry.Do(ctx, p.retry, "upload_chunk", func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Range", contentRange)
			resp, err := p.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer drain(resp)
			switch {
			case resp.StatusCode == http.StatusAccepted, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
				return nil
			case isRetryableStatus(resp.StatusCode):
				return retry.Transient(graphError(resp))
			default:
				return graphError(resp)
			}
		})
		if err != nil {
			return wrapErr("upload_file", itemPath, err)
		}
	}

	p.logger.Info("Uploaded file in session", zap.String("path", itemPath), zap.Int("size", total))
	return nil
}

// do sends a Graph request with the cached bearer token. A 401 drops the
// cached token and retries once with a fresh one; transient failures are
// retried per the provider's policy.
func (p *SharePointProvider) do(ctx context.Context, op string, build func() (*http.Request, error)) (*http.Response, error) {
	return p.doWith(ctx, p.retry, op, build)
}

func (p *SharePointProvider) doWith(ctx context.Context, policy retry.Policy, op string, build func() (*http.Request, error)) (*http.Response, error) {
	return retry.DoValue(ctx, policy, op, func(ctx context.Context) (*http.Response, error) {
		resp, err := p.send(ctx, build)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			p.logger.Warn("Graph rejected access token, refreshing", zap.String("op", op))
			p.invalidateToken()
			resp, err = p.send(ctx, build)
			if err != nil {
				return nil, err
			}
		}
		if isRetryableStatus(resp.StatusCode) {
			defer drain(resp)
			return nil, retry.Transient(graphError(resp))
		}
		return resp, nil
	})
}

func (p *SharePointProvider) send(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := build()
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	return p.httpClient.Do(req)
}

// accessToken returns the cached token, acquiring one with the client
// credentials flow on first use. Tokens are not refreshed on expiry; a 401
// from Graph is what triggers re-acquisition.
func (p *SharePointProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil {
		return p.token.AccessToken, nil
	}

	token, err := p.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		p.logger.Error("Authentication failed", zap.Error(err))
		return "", &Error{Op: "authenticate", Err: err}
	}
	p.token = token
	p.logger.Info("Obtained Graph access token")
	return token.AccessToken, nil
}

func (p *SharePointProvider) invalidateToken() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}

// driveURL addresses DriveID when set, otherwise the site's default
// document library.
func (p *SharePointProvider) driveURL() string {
	if p.driveID == "" {
		return fmt.Sprintf("%s/sites/%s/drive", p.graphURL, p.siteID)
	}
	return fmt.Sprintf("%s/drives/%s", p.graphURL, url.PathEscape(p.driveID))
}

func (p *SharePointProvider) itemURL(path string) string {
	path = cleanSlashPath(path)
	if path == "" {
		return p.driveURL() + "/root"
	}
	return p.driveURL() + "/root:/" + escapePath(path)
}

func (p *SharePointProvider) childrenURL(parent string) string {
	parent = cleanSlashPath(parent)
	if parent == "" {
		return p.driveURL() + "/root/children"
	}
	return p.driveURL() + "/root:/" + escapePath(parent) + ":/children"
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func graphError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("graph returned %d %s: %s", resp.StatusCode, payload.Error.Code, payload.Error.Message)
	}
	return fmt.Errorf("graph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
