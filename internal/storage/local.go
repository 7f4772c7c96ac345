package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalProvider stores projects on a local or mounted filesystem. Paths are
// used as given; FullPath is what anchors them under the root.
type LocalProvider struct {
	root   string
	logger *zap.Logger
}

func NewLocalProvider(root string, logger *zap.Logger) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initialized local storage provider", zap.String("root", root))
	return &LocalProvider{root: root, logger: logger}
}

func (p *LocalProvider) Root() string {
	return p.root
}

func (p *LocalProvider) FullPath(parts ...string) string {
	return filepath.Join(append([]string{p.root}, parts...)...)
}

// RelPath strips the root. Paths outside the root are returned unchanged.
func (p *LocalProvider) RelPath(fullPath string) string {
	rel, err := filepath.Rel(p.root, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(fullPath)
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (p *LocalProvider) FolderExists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapErr("folder_exists", path, err)
	}
	if !info.IsDir() {
		return false, wrapErr("folder_exists", path, ErrNotFolder)
	}
	p.logger.Debug("Folder exists check", zap.String("path", path), zap.Bool("exists", true))
	return true, nil
}

func (p *LocalProvider) CreateFolder(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return wrapErr("create_folder", path, err)
	}
	p.logger.Info("Created folder", zap.String("path", path))
	return nil
}

func (p *LocalProvider) UploadFile(ctx context.Context, content []byte, destFolder, filename string) error {
	if err := os.MkdirAll(destFolder, 0755); err != nil {
		return wrapErr("upload_file", destFolder, err)
	}
	target := filepath.Join(destFolder, filename)
	if err := os.WriteFile(target, content, 0644); err != nil {
		return wrapErr("upload_file", target, err)
	}
	p.logger.Info("Uploaded file", zap.String("path", target), zap.Int("size", len(content)))
	return nil
}

func (p *LocalProvider) UploadFiles(ctx context.Context, files []File, destFolder string) ([]string, error) {
	uploaded := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, wrapErr("upload_files", destFolder, err)
		}
		if err := p.UploadFile(ctx, f.Content, destFolder, f.Name); err != nil {
			p.logger.Error("Failed to upload file", zap.String("file", f.Name), zap.Error(err))
			return uploaded, err
		}
		uploaded = append(uploaded, filepath.Join(destFolder, f.Name))
	}
	p.logger.Info("Uploaded files", zap.Int("count", len(uploaded)), zap.String("dest", destFolder))
	return uploaded, nil
}

// CopyTemplate merges the template tree into dest. Existing folders are
// reused and existing files are overwritten.
func (p *LocalProvider) CopyTemplate(ctx context.Context, templatePath, dest string) error {
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

	err = filepath.WalkDir(templatePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(templatePath, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyLocalFile(path, target)
	})
	if err != nil {
		return wrapErr("copy_template", dest, err)
	}

	p.logger.Info("Copied template", zap.String("template", templatePath), zap.String("dest", dest))
	return nil
}

func (p *LocalProvider) WriteFile(ctx context.Context, text, destFolder, filename string) error {
	if err := os.MkdirAll(destFolder, 0755); err != nil {
		return wrapErr("write_file", destFolder, err)
	}
	target := filepath.Join(destFolder, filename)
	if err := os.WriteFile(target, []byte(text), 0644); err != nil {
		return wrapErr("write_file", target, err)
	}
	p.logger.Info("Wrote file", zap.String("path", target))
	return nil
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
