package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportFormats lists every supported export format
var ExportFormats = []string{FormatJSON, FormatCSV, FormatXLSX}

var ErrUnknownFormat = errors.New("unknown export format")

// ContentTypeForFormat returns the media type served for an export format
func ContentTypeForFormat(format string) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Render produces the export of the current queue in format
func (s *Service) Render(format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return s.ExportJSON()
	case FormatCSV:
		return s.ExportCSV(), nil
	case FormatXLSX:
		return s.ExportXLSX()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ExportWriter persists rendered exports
type ExportWriter interface {
	// Write stores data under name and returns where it was written
	Write(name string, data []byte) (string, error)
}

// DirWriter writes exports into a local directory
type DirWriter struct {
	basePath string
}

// NewDirWriter creates a new DirWriter, creating the directory if needed
func NewDirWriter(basePath string) (*DirWriter, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &DirWriter{
		basePath: basePath,
	}, nil
}

// Write writes to a temporary file and renames it into place
func (d *DirWriter) Write(name string, data []byte) (string, error) {
	path := filepath.Join(d.basePath, filepath.Base(name))
	tmp, err := os.CreateTemp(d.basePath, ".export-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming file: %w", err)
	}
	return path, nil
}

// WriteExports renders each format and hands it to w, returning the written locations
func (s *Service) WriteExports(w ExportWriter, formats ...string) ([]string, error) {
	if len(formats) == 0 {
		formats = ExportFormats
	}
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		data, err := s.Render(format)
		if err != nil {
			return paths, fmt.Errorf("rendering %s export: %w", format, err)
		}
		path, err := w.Write(s.ExportFilename(format), data)
		if err != nil {
			return paths, fmt.Errorf("saving %s export: %w", format, err)
		}
		slog.Info("Export written", "format", format, "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}
