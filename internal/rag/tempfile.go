package rag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

// withLocalFile hands fn a filesystem path for res. When the resource has no
// local path its bytes are copied to a temp file that is always removed.
func withLocalFile(res *Resource, logger *logging.Logger, fn func(path string) error) error {
	if res.Path != "" {
		if _, err := os.Stat(res.Path); err == nil {
			return fn(res.Path)
		}
	}
	if res.Open == nil {
		return fmt.Errorf("resource %d has no readable file", res.ID)
	}

	src, err := res.Open()
	if err != nil {
		return fmt.Errorf("failed to open resource %d: %w", res.ID, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.WarnKV("Failed to close resource reader", "resource_id", res.ID, "error", cerr)
		}
	}()

	ext := filepath.Ext(res.FileName)
	if ext == "" {
		ext = ".pdf"
	}
	tmp, err := os.CreateTemp("", "foia-coach-upload-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			logger.WarnKV("Failed to remove temp file", "path", tmpPath, "error", rerr)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	logger.DebugKV("Materialized resource to temp file", "resource_id", res.ID, "path", tmpPath)
	return fn(tmpPath)
}

// uploadFileName picks the name a provider shows for an uploaded file
func uploadFileName(res *Resource, path string) string {
	if res.FileName != "" {
		return filepath.Base(res.FileName)
	}
	return filepath.Base(path)
}
