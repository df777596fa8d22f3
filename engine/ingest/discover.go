package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantumvision/quantum-image-search/pkg/fn"
)

// imageExts are the extensions the uploader accepts, case-insensitive.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// Discover lists image files under root, including one subfolder level.
// Deeper nesting is ignored, matching the layout the uploader expects
// (category root with optional subcategory directories).
func Discover(root string) ([]SourceFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("ingest: read dir %s: %w", root, err)
	}

	var files []SourceFile
	for _, e := range entries {
		if !e.IsDir() {
			if isImage(e.Name()) {
				files = append(files, SourceFile{Path: filepath.Join(root, e.Name())})
			}
			continue
		}
		sub, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("ingest: read dir %s: %w", filepath.Join(root, e.Name()), err)
		}
		for _, se := range sub {
			if se.IsDir() || !isImage(se.Name()) {
				continue
			}
			files = append(files, SourceFile{
				Path:      filepath.Join(root, e.Name(), se.Name()),
				Subfolder: e.Name(),
			})
		}
	}

	return fn.UniqueBy(files, func(f SourceFile) string { return f.Path }), nil
}

func isImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Stem returns the filename without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
