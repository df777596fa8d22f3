// Package domain defines core domain types, constants, and validation for
// the image search pipeline. It acts as the validation gate at API and CLI
// entry points.
package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Category labels a vector collection segment.
type Category string

const (
	CategoryHealthcare   Category = "healthcare"
	CategorySatellite    Category = "satellite"
	CategorySurveillance Category = "surveillance"
)

// Categories lists the supported categories in display order.
var Categories = []Category{CategoryHealthcare, CategorySatellite, CategorySurveillance}

// ValidCategories is the membership set for quick lookup.
var ValidCategories = map[Category]bool{
	CategoryHealthcare: true, CategorySatellite: true, CategorySurveillance: true,
}

// CategoryInfo describes a category for the /api/categories listing.
type CategoryInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var categoryDescriptions = map[Category]string{
	CategoryHealthcare:   "medical imagery: X-rays, MRI scans, CT scans",
	CategorySatellite:    "aerial and orbital imagery: terrain, weather, urban",
	CategorySurveillance: "security camera and monitoring footage frames",
}

// Describe returns the listing entries for all supported categories.
func Describe() []CategoryInfo {
	out := make([]CategoryInfo, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, CategoryInfo{Name: string(c), Description: categoryDescriptions[c]})
	}
	return out
}

// Sentinel errors for validation failures.
var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrEmptyFilename    = errors.New("empty filename")
	ErrUnsafeFilename   = errors.New("unsafe filename")
	ErrNotAnImage       = errors.New("not an image file")
	ErrTopKOutOfRange   = errors.New("top_k out of range")
	ErrScoreOutOfRange  = errors.New("min_score out of range")
	ErrEmptyImage       = errors.New("empty image payload")
	ErrImageTooLarge    = errors.New("image payload too large")
	ErrBadFeatureVector = errors.New("malformed feature vector")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// imageExtensions are the accepted upload extensions, case-insensitive.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// MaxImageBytes caps a single uploaded image.
const MaxImageBytes = 20 << 20

// Search bounds.
const (
	MaxTopK         = 100
	DefaultTopK     = 10
	DefaultMinScore = 0.70
)

// ValidateCategory checks a category name. Empty is allowed and means
// "search everything".
func ValidateCategory(name string) error {
	if name == "" {
		return nil
	}
	if !ValidCategories[Category(name)] {
		return NewValidationError("category", name, ErrUnknownCategory)
	}
	return nil
}

// ValidateFilename rejects empty, traversal-prone, and non-image filenames.
func ValidateFilename(name string) error {
	if name == "" {
		return NewValidationError("filename", name, ErrEmptyFilename)
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return NewValidationError("filename", name, ErrUnsafeFilename)
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(name))] {
		return NewValidationError("filename", name, ErrNotAnImage)
	}
	return nil
}

// ValidateImage checks the raw payload bounds.
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return NewValidationError("image", "", ErrEmptyImage)
	}
	if len(data) > MaxImageBytes {
		return NewValidationError("image", fmt.Sprintf("%d bytes", len(data)), ErrImageTooLarge)
	}
	return nil
}

// ValidateFeatureVector checks a raw query vector against the index
// dimension.
func ValidateFeatureVector(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return NewValidationError("features", "", ErrBadFeatureVector)
	}
	if len(vec) != dimension {
		return NewValidationError("features", fmt.Sprintf("%d dims, want %d", len(vec), dimension), ErrBadFeatureVector)
	}
	return nil
}

// ValidateSearch checks the tunable search parameters.
func ValidateSearch(topK int, minScore float64, category string) error {
	if topK < 1 || topK > MaxTopK {
		return NewValidationError("top_k", fmt.Sprintf("%d", topK), ErrTopKOutOfRange)
	}
	if minScore < 0 || minScore > 1 {
		return NewValidationError("min_score", fmt.Sprintf("%g", minScore), ErrScoreOutOfRange)
	}
	return ValidateCategory(category)
}
