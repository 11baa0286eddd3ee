package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
)

func TestNormalizeMIME(t *testing.T) {
	tests := []struct {
		name      string
		mimeType  string
		sourceURI string
		want      string
	}{
		{"explicit html", "text/html", "", "text/html"},
		{"charset parameter stripped", "text/html; charset=utf-8", "", "text/html"},
		{"markdown from extension", "", "docs/readme.md", "text/markdown"},
		{"html from extension", "", "https://example.com/page.html", "text/html"},
		{"octet-stream falls back to extension", "application/octet-stream", "notes.markdown", "text/markdown"},
		{"unknown defaults to plain", "", "data.bin", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeMIME(tt.mimeType, tt.sourceURI))
		})
	}
}

func TestPreprocessMarkdown(t *testing.T) {
	md := []byte("# Title\n\nSome *emphasized* text with a [link](https://example.com).\n\n" +
		"```go\nfunc main() {}\n```\n\n- item one\n- item two\n")

	text, err := Preprocess(md, "text/markdown", "doc.md")
	require.NoError(t, err)

	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "emphasized")
	assert.Contains(t, text, "func main() {}")
	assert.Contains(t, text, "item one")
	assert.NotContains(t, text, "# Title")
	assert.NotContains(t, text, "```")
	assert.NotContains(t, text, "](")
}

func TestPreprocessHTML(t *testing.T) {
	html := []byte(`<html><head><title>T</title><style>body{color:red}</style></head>
<body><article><h1>Heading</h1><p>Paragraph of real content with enough words to matter for extraction purposes.</p>
<p>Another paragraph that readability should keep as part of the main article body.</p></article>
<script>alert("nope")</script></body></html>`)

	text, err := Preprocess(html, "text/html", "https://example.com/a")
	require.NoError(t, err)
	assert.Contains(t, text, "Paragraph of real content")
	assert.NotContains(t, text, "alert(")
	assert.NotContains(t, text, "<p>")
}

func TestPreprocessPlain(t *testing.T) {
	text, err := Preprocess([]byte("  plain text  "), "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, "plain text", text)
}

func TestFetcherInlineText(t *testing.T) {
	f := NewFetcher(time.Second, 1024)
	data, mimeType, sourceType, err := f.Fetch(context.Background(), "text:hello inline")
	require.NoError(t, err)
	assert.Equal(t, "hello inline", string(data))
	assert.Equal(t, "text/plain", mimeType)
	assert.Equal(t, "text", sourceType)
}

func TestFetcherInlineTextTooLarge(t *testing.T) {
	f := NewFetcher(time.Second, 4)
	_, _, _, err := f.Fetch(context.Background(), "text:way too long")
	assert.Error(t, err)
}

func TestFetcherFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("file content"), 0o644))

	f := NewFetcher(time.Second, 1024)

	data, _, sourceType, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))
	assert.Equal(t, "file", sourceType)

	// file:// form too.
	data, _, _, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))

	_, _, _, err = f.Fetch(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func chunkWithID(id string, score float64) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: &models.DocumentChunk{ID: id, Content: "c-" + id},
		Score: score,
	}
}

func TestBlendScores(t *testing.T) {
	semantic := []models.ScoredChunk{
		chunkWithID("a", 0.9),
		chunkWithID("b", 0.5),
	}
	keyword := []models.ScoredChunk{
		chunkWithID("b", 2.0), // best keyword rank, normalizes to 1.0
		chunkWithID("c", 1.0), // normalizes to 0.5
	}

	results := blendScores(semantic, keyword, 0.7, 0.3)
	require.Len(t, results, 3)

	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Chunk.ID] = r.Score
	}
	assert.InDelta(t, 0.7*0.9, scores["a"], 1e-9)
	assert.InDelta(t, 0.7*0.5+0.3*1.0, scores["b"], 1e-9)
	assert.InDelta(t, 0.3*0.5, scores["c"], 1e-9)

	// Ordered by blended score descending.
	assert.Equal(t, "b", results[0].Chunk.ID)
	assert.Equal(t, "a", results[1].Chunk.ID)
	assert.Equal(t, "c", results[2].Chunk.ID)
}

func TestBlendScoresEmptyKeyword(t *testing.T) {
	semantic := []models.ScoredChunk{chunkWithID("a", 0.8)}
	results := blendScores(semantic, nil, 0.7, 0.3)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.56, results[0].Score, 1e-9)
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil))

	out := FormatContext([]models.ScoredChunk{
		chunkWithID("a", 0.9),
		chunkWithID("b", 0.8),
	})
	assert.Contains(t, out, "Relevant knowledge:")
	assert.Contains(t, out, "[1] c-a")
	assert.Contains(t, out, "[2] c-b")
}
