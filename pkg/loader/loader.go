// Package loader reads uploaded or on-disk files into documents. Parsing is
// delegated to langchaingo's document loaders; this package only picks the
// loader by extension and normalizes the result.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/pkg/logging"
)

// ErrUnsupportedType is returned for file extensions no loader handles.
var ErrUnsupportedType = errors.New("unsupported document type")

var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".html": true,
	".htm":  true,
}

type FileLoader struct {
	logger logging.Logger
}

func New(logger logging.Logger) *FileLoader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileLoader{logger: logger}
}

// Supported reports whether the file name has a loadable extension.
func Supported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Load reads a file from disk into a single document.
func (l *FileLoader) Load(ctx context.Context, path string) ([]models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := l.LoadBytes(ctx, filepath.Base(path), data)
	if err != nil {
		return nil, err
	}
	doc.Source = path

	return []models.Document{doc}, nil
}

// LoadDir loads every supported file directly under dir.
func (l *FileLoader) LoadDir(ctx context.Context, dir string) ([]models.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var docs []models.Document
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}

		loaded, err := l.Load(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			l.logger.Warn("skipping file", "name", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, loaded...)
	}

	return docs, nil
}

// LoadBytes parses in-memory file content, as received from an upload.
func (l *FileLoader) LoadBytes(ctx context.Context, name string, data []byte) (models.Document, error) {
	ext := strings.ToLower(filepath.Ext(name))

	var (
		parts []schema.Document
		err   error
	)

	switch ext {
	case ".txt", ".md":
		parts, err = documentloaders.NewText(bytes.NewReader(data)).Load(ctx)
	case ".pdf":
		parts, err = documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	case ".html", ".htm":
		parts, err = documentloaders.NewHTML(bytes.NewReader(data)).Load(ctx)
	default:
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	if err != nil {
		return models.Document{}, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	var content strings.Builder
	for i, part := range parts {
		if i > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(part.PageContent)
	}

	doc := models.Document{
		ID:      uuid.NewString(),
		Name:    name,
		Source:  name,
		Content: content.String(),
		Size:    int64(len(data)),
		Metadata: map[string]interface{}{
			"type": strings.TrimPrefix(ext, "."),
		},
	}

	l.logger.Debug("loaded document", "name", name, "bytes", len(data), "parts", len(parts))

	return doc, nil
}

// Drain is a convenience for callers holding a reader, such as multipart
// uploads, where the size is not known up front.
func (l *FileLoader) Drain(ctx context.Context, name string, r io.Reader) (models.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read upload %s: %w", name, err)
	}
	return l.LoadBytes(ctx, name, data)
}
