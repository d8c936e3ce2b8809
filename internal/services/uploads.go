package services

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var allowedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

// DiskUploads writes files under Dir and serves them below URLPrefix.
type DiskUploads struct {
	Dir       string
	URLPrefix string
}

func (d DiskUploads) Save(name string, content io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedImageExtensions[ext] {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	stored := uuid.New().String() + ext
	f, err := os.Create(filepath.Join(d.Dir, stored))
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path.Join(d.URLPrefix, stored), nil
}
