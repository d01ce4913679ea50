package events

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/models"
)

// Client downloads event files over HTTP.
type Client struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a new event download client
func NewClient(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// IsURL reports whether an input refers to an HTTP(S) location.
func IsURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// Name returns the file name of an input path or URL.
func Name(input string) string {
	if IsURL(input) {
		if u, err := url.Parse(input); err == nil && u.Path != "" && u.Path != "/" {
			return path.Base(u.Path)
		}
		return input
	}
	return filepath.Base(input)
}

// Fetch downloads and parses the events at rawURL. URLs whose path ends in
// .zip are read from the first CSV entry of the archive.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]models.RawEvent, error) {
	body, err := c.download(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	if strings.EqualFold(filepath.Ext(Name(rawURL)), ".zip") {
		zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if err != nil {
			return nil, fmt.Errorf("failed to open archive %s: %w", rawURL, err)
		}
		return readArchive(zr, rawURL)
	}

	events, err := Read(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return events, nil
}

// download performs a GET with retry logic. Server errors and transport
// failures are retried with a linearly growing delay; client errors are not.
func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := time.Duration(i) * c.retryDelay
			logger.Debug("Retrying download of %s in %v (attempt %d/%d)", rawURL, delay, i+1, c.maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv, application/zip")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
