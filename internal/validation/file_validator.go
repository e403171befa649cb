// Package validation checks spreadsheet paths handed to the command line
// tool before any parsing starts.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pmaxtools/internal/sheets"
)

// FileValidator validates input and output spreadsheet paths
type FileValidator struct {
	logger  *slog.Logger
	maxSize int64
}

// NewFileValidator creates a new file validator. A maxSize of zero disables
// the size check.
func NewFileValidator(maxSize int64, logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger:  logger,
		maxSize: maxSize,
	}
}

// ValidateInput checks that path is a readable .xlsx or .csv file and
// returns its format
func (v *FileValidator) ValidateInput(path string) (sheets.Format, error) {
	format, err := v.checkName(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("Input file does not exist",
			slog.String("file", path))
		return "", fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	if v.maxSize > 0 && info.Size() > v.maxSize {
		v.logger.Error("Input file too large",
			slog.String("file", path),
			slog.Int64("size", info.Size()),
			slog.Int64("limit", v.maxSize))
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), v.maxSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("file %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("Input file validated",
		slog.String("file", path),
		slog.String("format", string(format)),
		slog.Int64("size", info.Size()))
	return format, nil
}

// ValidateOutput checks that path names a supported format and that its
// directory exists or can be created and is writable
func (v *FileValidator) ValidateOutput(path string) (sheets.Format, error) {
	format, err := v.checkName(path)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".pmax-write-*")
	if err != nil {
		return "", fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return format, nil
}

func (v *FileValidator) checkName(path string) (sheets.Format, error) {
	if strings.HasPrefix(filepath.Base(path), "~$") {
		v.logger.Warn("Refusing temporary Excel file",
			slog.String("file", path))
		return "", fmt.Errorf("file %s is a temporary Excel file", path)
	}
	return sheets.DetectFormat(path)
}
