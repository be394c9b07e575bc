package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideBaseDir = errors.New("path escapes base directory")

// LocalSource opens roster files from disk. Relative paths resolve under
// BaseDir and may not leave it.
type LocalSource struct {
	BaseDir string
}

func NewLocalSource(baseDir string) *LocalSource {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalSource{BaseDir: baseDir}
}

// Open returns the file and its size in bytes.
func (s *LocalSource) Open(ctx context.Context, sourcePath string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path, err := s.resolve(sourcePath)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open roster %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat roster %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("roster %s is a directory", path)
	}
	return f, info.Size(), nil
}

func (s *LocalSource) resolve(sourcePath string) (string, error) {
	if filepath.IsAbs(sourcePath) {
		return filepath.Clean(sourcePath), nil
	}
	rel := filepath.Clean(sourcePath)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBaseDir, sourcePath)
	}
	return filepath.Join(s.BaseDir, rel), nil
}
