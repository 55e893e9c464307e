package receipt

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// MaxFileSize is the largest accepted upload
const MaxFileSize = 15 << 20 // 15 MiB

// AllowedExtensions lists the accepted file extensions, lowercase and without the dot
var AllowedExtensions = []string{"pdf", "jpg", "jpeg", "png", "heic", "heif"}

// ValidationError describes files rejected before they entered the queue
type ValidationError struct {
	Rejections []Rejection
}

// Rejection is one rejected file and the reason
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Name, r.Reason))
	}
	return strings.Join(lines, "\n")
}

// extension returns the lowercase text after the last dot, or "" when there is none
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ValidateFile checks size, then type. The first failing rule wins.
func ValidateFile(f File) (bool, string) {
	if f.Size > MaxFileSize {
		return false, fmt.Sprintf("File too large. Maximum size is %dMB.", MaxFileSize>>20)
	}

	if !slices.Contains(AllowedExtensions, extension(f.Name)) {
		return false, fmt.Sprintf("Invalid file type. Allowed: %s", strings.Join(AllowedExtensions, ", "))
	}

	return true, ""
}

// PartitionFiles splits a submission into accepted files and a combined error for the rest.
// The error is nil when every file passed.
func PartitionFiles(files []File) ([]File, error) {
	accepted := make([]File, 0, len(files))
	var rejections []Rejection
	for _, f := range files {
		if ok, reason := ValidateFile(f); !ok {
			rejections = append(rejections, Rejection{Name: f.Name, Reason: reason})
			continue
		}
		accepted = append(accepted, f)
	}

	if len(rejections) > 0 {
		return accepted, &ValidationError{Rejections: rejections}
	}
	return accepted, nil
}

// ContentTypeFor derives a media type from a file name's extension
func ContentTypeFor(name string) string {
	switch extension(name) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	case "heic":
		return "image/heic"
	case "heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
