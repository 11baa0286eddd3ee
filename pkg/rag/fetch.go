package rag

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; WeftBot/1.0)"

// Fetcher loads document sources. Supported forms:
//
//	text:<inline content>   inline text, no I/O
//	http(s)://...           remote fetch with size and time limits
//	file://<path> or <path> local file
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher builds a fetcher with the given timeout and size cap.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch returns the raw bytes, the MIME type when known, and the source
// type ("text", "url", "file") for the document record.
func (f *Fetcher) Fetch(ctx context.Context, source string) (data []byte, mimeType, sourceType string, err error) {
	switch {
	case strings.HasPrefix(source, "text:"):
		inline := strings.TrimPrefix(source, "text:")
		if int64(len(inline)) > f.maxBytes {
			return nil, "", "", fmt.Errorf("inline text exceeds %d bytes", f.maxBytes)
		}
		return []byte(inline), "text/plain", "text", nil

	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, mimeType, err = f.fetchURL(ctx, source)
		return data, mimeType, "url", err

	default:
		path := strings.TrimPrefix(source, "file://")
		data, err = f.readFile(path)
		return data, "", "file", err
	}
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", fmt.Errorf("%s exceeds %d bytes", rawURL, f.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > f.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, f.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
