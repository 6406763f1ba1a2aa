package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avass/docq/pkg/loader"
)

func TestSupported(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"notes.txt", true},
		{"README.md", true},
		{"paper.PDF", true},
		{"index.html", true},
		{"archive.zip", false},
		{"binary", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, loader.Supported(tt.name))
		})
	}
}

func TestLoadBytes_Text(t *testing.T) {
	l := loader.New(nil)

	doc, err := l.LoadBytes(context.Background(), "notes.txt", []byte("Plain text body."))
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "notes.txt", doc.Name)
	assert.Equal(t, "Plain text body.", doc.Content)
	assert.Equal(t, int64(16), doc.Size)
	assert.Equal(t, "txt", doc.Metadata["type"])
}

func TestLoadBytes_HTML(t *testing.T) {
	l := loader.New(nil)

	html := `<html><body><h1>Heading</h1><p>Paragraph text.</p></body></html>`
	doc, err := l.LoadBytes(context.Background(), "page.html", []byte(html))
	require.NoError(t, err)

	assert.Contains(t, doc.Content, "Paragraph text.")
	assert.NotContains(t, doc.Content, "<p>")
}

func TestLoadBytes_Unsupported(t *testing.T) {
	l := loader.New(nil)

	_, err := l.LoadBytes(context.Background(), "archive.zip", []byte{0x50, 0x4b})
	require.Error(t, err)
	assert.ErrorIs(t, err, loader.ErrUnsupportedType)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nBody text."), 0644))

	l := loader.New(nil)
	docs, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "doc.md", docs[0].Name)
	assert.Equal(t, path, docs[0].Source)
	assert.Contains(t, docs[0].Content, "Body text.")
}

func TestLoadDir_SkipsUnsupported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("First file."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("Second file."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte{0x00}, 0644))

	l := loader.New(nil)
	docs, err := l.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var names []string
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.md"}, names)
}

func TestDrain(t *testing.T) {
	l := loader.New(nil)

	doc, err := l.Drain(context.Background(), "upload.txt", strings.NewReader("Uploaded content."))
	require.NoError(t, err)
	assert.Equal(t, "Uploaded content.", doc.Content)
	assert.Equal(t, int64(17), doc.Size)
}
