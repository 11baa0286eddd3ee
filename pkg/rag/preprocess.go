// Package rag implements the knowledge pipeline: document ingestion
// (fetch, preprocess, chunk, embed), retrieval (semantic and hybrid
// search over chunks), and entity extraction into the knowledge graph.
package rag

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Preprocess converts raw source bytes into plain text suitable for
// chunking. HTML goes through readability extraction; Markdown is
// flattened via its AST; everything else is treated as plain text.
func Preprocess(content []byte, mimeType, sourceURI string) (string, error) {
	switch normalizeMIME(mimeType, sourceURI) {
	case "text/html":
		return htmlToText(content, sourceURI)
	case "text/markdown":
		return markdownToText(content), nil
	default:
		return strings.TrimSpace(string(content)), nil
	}
}

// normalizeMIME resolves the effective MIME type, falling back to the
// source extension when the caller did not supply one.
func normalizeMIME(mimeType, sourceURI string) string {
	mt := mimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(strings.ToLower(mt))
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(sourceURI), "."))
	switch ext {
	case "md", "markdown":
		return "text/markdown"
	case "html", "htm":
		return "text/html"
	case "json":
		return "application/json"
	default:
		return "text/plain"
	}
}

// htmlToText runs readability article extraction. If extraction yields
// nothing (no article content, parse failure), the raw text is returned
// so ingestion still has something to chunk.
func htmlToText(content []byte, sourceURI string) (string, error) {
	var pageURL *url.URL
	if sourceURI != "" {
		pageURL, _ = url.Parse(sourceURI)
	}
	article, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return strings.TrimSpace(string(content)), nil
	}
	return text, nil
}

// markdownToText flattens a Markdown document to plain text by walking
// the goldmark AST and collecting text segments, with newlines at block
// boundaries. Code block content is kept; formatting syntax is dropped.
func markdownToText(source []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.HardLineBreak() || node.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.FencedCodeBlock:
			writeCodeLines(&buf, node.Lines(), source)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeCodeLines(&buf, node.Lines(), source)
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			buf.Write(node.URL(source))
		}
		return ast.WalkContinue, nil
	})

	return collapseBlankLines(buf.String())
}

func writeCodeLines(buf *bytes.Buffer, lines *text.Segments, source []byte) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
}

// collapseBlankLines trims trailing space per line and squeezes runs of
// blank lines down to one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
