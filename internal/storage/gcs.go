package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const folderContentType = "application/x-directory"

// GCSProvider stores projects in a GCS bucket under an optional object
// prefix. Folders are zero-byte "name/" marker objects.
type GCSProvider struct {
	prefixer

	client     *storage.Client
	bucketName string
	logger     *zap.Logger
}

func NewGCSProvider(ctx context.Context, bucketName, credentialsPath, prefix string, logger *zap.Logger) (*GCSProvider, error) {
	var client *storage.Client
	var err error

	if credentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return NewGCSProviderWithClient(client, bucketName, prefix, logger), nil
}

func NewGCSProviderWithClient(client *storage.Client, bucketName, prefix string, logger *zap.Logger) *GCSProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initialized GCS storage provider", zap.String("bucket", bucketName), zap.String("prefix", prefix))
	return &GCSProvider{
		prefixer:   newPrefixer(prefix),
		client:     client,
		bucketName: bucketName,
		logger:     logger,
	}
}

func (g *GCSProvider) FullPath(parts ...string) string {
	return g.qualify(parts...)
}

func (g *GCSProvider) FolderExists(ctx context.Context, path string) (bool, error) {
	return g.FolderExistsRaw(ctx, g.qualify(path))
}

func (g *GCSProvider) FolderExistsRaw(ctx context.Context, path string) (bool, error) {
	it := g.client.Bucket(g.bucketName).Objects(ctx, &storage.Query{Prefix: folderMarker(path)})
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("folder_exists", path, err)
	}
	return true, nil
}

func (g *GCSProvider) CreateFolder(ctx context.Context, path string) error {
	err := g.CreateFolderRaw(ctx, g.qualify(path))
	if errors.Is(err, ErrFolderExists) {
		return nil
	}
	return err
}

// CreateFolderRaw writes the leaf marker with a DoesNotExist precondition.
// Ancestors are implicit in object names and need no markers.
func (g *GCSProvider) CreateFolderRaw(ctx context.Context, path string) error {
	if err := g.writeObject(ctx, folderMarker(path), nil, folderContentType, true); err != nil {
		return wrapErr("create_folder", path, err)
	}
	g.logger.Info("Created folder", zap.String("path", path))
	return nil
}

func (g *GCSProvider) UploadFile(ctx context.Context, content []byte, destFolder, filename string) error {
	return g.uploadFileRaw(ctx, content, g.qualify(destFolder), filename)
}

func (g *GCSProvider) UploadFiles(ctx context.Context, files []File, destFolder string) ([]string, error) {
	uploaded := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, wrapErr("upload_files", destFolder, err)
		}
		if err := g.uploadFileRaw(ctx, f.Content, destFolder, f.Name); err != nil {
			g.logger.Error("Failed to upload file", zap.String("file", f.Name), zap.Error(err))
			return uploaded, err
		}
		uploaded = append(uploaded, joinSlash(destFolder, f.Name))
	}
	g.logger.Info("Uploaded files", zap.Int("count", len(uploaded)), zap.String("dest", destFolder))
	return uploaded, nil
}

func (g *GCSProvider) WriteFile(ctx context.Context, text, destFolder, filename string) error {
	return g.uploadFileRaw(ctx, []byte(text), destFolder, filename)
}

func (g *GCSProvider) CopyTemplate(ctx context.Context, templatePath, dest string) error {
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

	files := 0
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
			err := g.writeObject(ctx, folderMarker(target), nil, folderContentType, true)
			if err != nil && !errors.Is(err, ErrFolderExists) {
				return err
			}
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		parent, name := splitParent(target)
		if err := g.uploadFileRaw(ctx, content, parent, name); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return wrapErr("copy_template", dest, err)
	}

	g.logger.Info("Template copied", zap.String("dest", dest), zap.Int("files", files))
	return nil
}

func (g *GCSProvider) Close() error {
	return g.client.Close()
}

func (g *GCSProvider) uploadFileRaw(ctx context.Context, content []byte, destFolder, filename string) error {
	objectName := joinSlash(destFolder, filename)
	if err := g.writeObject(ctx, objectName, content, contentTypeFor(filename), false); err != nil {
		return wrapErr("upload_file", objectName, err)
	}
	g.logger.Info("Uploaded file", zap.String("object", objectName), zap.Int("size", len(content)))
	return nil
}

func (g *GCSProvider) writeObject(ctx context.Context, objectName string, content []byte, contentType string, exclusive bool) error {
	obj := g.client.Bucket(g.bucketName).Object(objectName)
	if exclusive {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to copy data to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrFolderExists
		}
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func folderMarker(path string) string {
	return cleanSlashPath(path) + "/"
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
