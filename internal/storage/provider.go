package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProjectExists is the collision outcome of provisioning: the target
	// project folder is already present.
	ErrProjectExists = errors.New("project already exists")

	// ErrFolderExists is returned by exclusive (conflict-fail) folder creation.
	ErrFolderExists = errors.New("folder already exists")

	ErrTemplateNotFound = errors.New("template not found")

	// ErrNotFolder means the path exists but holds a file.
	ErrNotFolder = errors.New("path exists but is not a folder")
)

// Error is the StorageError of every provider operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}

// File is one element of an upload batch.
type File struct {
	Name    string
	Content []byte
}

// Provider is the capability set the intake workflow needs from a storage
// backend. Paths handed back by FullPath are canonical for the provider.
type Provider interface {
	FolderExists(ctx context.Context, path string) (bool, error)
	// CreateFolder creates path and missing ancestors. An existing folder is
	// not an error.
	CreateFolder(ctx context.Context, path string) error
	UploadFile(ctx context.Context, content []byte, destFolder, filename string) error
	// UploadFiles uploads sequentially and stops at the first failure.
	// Files written before the failure stay in place.
	UploadFiles(ctx context.Context, files []File, destFolder string) ([]string, error)
	CopyTemplate(ctx context.Context, templatePath, dest string) error
	WriteFile(ctx context.Context, text, destFolder, filename string) error
	// FullPath joins parts under the provider root, applying any configured
	// prefix exactly once.
	FullPath(parts ...string) string
	// RelPath turns a FullPath result into a slash path relative to the
	// storage root, for links into the document library.
	RelPath(fullPath string) string
}

// RawProvider is implemented by prefixing backends. Its methods take paths
// that already carry the prefix (values returned by FullPath) and never
// apply it again.
type RawProvider interface {
	Provider
	FolderExistsRaw(ctx context.Context, path string) (bool, error)
	// CreateFolderRaw creates missing ancestors, then creates the leaf with
	// conflict-fail semantics: an existing leaf yields ErrFolderExists.
	CreateFolderRaw(ctx context.Context, path string) error
}
