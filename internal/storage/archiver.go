package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"reelgen/internal/infra"
)

// ObjectStore persists a blob under key and returns an internal reference.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Archiver copies provider-hosted artifacts into our own storage.
type Archiver struct {
	store      ObjectStore
	httpClient *http.Client
	maxBytes   int64
	logger     infra.Logger
}

func NewArchiver(store ObjectStore, httpClient *http.Client, maxBytes int64, logger infra.Logger) *Archiver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxBytes <= 0 {
		maxBytes = 200 << 20
	}
	return &Archiver{store: store, httpClient: httpClient, maxBytes: maxBytes, logger: logger}
}

// Store downloads providerURL and stores it for jobID. Callers treat any error
// as "keep the provider URL".
func (a *Archiver) Store(ctx context.Context, jobID, providerURL string) (string, error) {
	if a == nil || a.store == nil {
		return "", errors.New("storage: archiver disabled")
	}
	parsed, err := url.Parse(strings.TrimSpace(providerURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("storage: invalid artifact url: %q", providerURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read artifact: %w", err)
	}
	if int64(len(data)) > a.maxBytes {
		return "", fmt.Errorf("storage: artifact exceeds %d bytes", a.maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := path.Join("videos", jobID+extensionFor(contentType, parsed.Path))
	ref, err := a.store.Put(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}
	a.logger.Debug().Str("job_id", jobID).Str("ref", ref).Int("bytes", len(data)).Msg("artifact archived")
	return ref, nil
}

func extensionFor(contentType, urlPath string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "video/mp4":
			return ".mp4"
		case "video/webm":
			return ".webm"
		case "video/quicktime":
			return ".mov"
		}
	}
	if ext := path.Ext(urlPath); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".mp4"
}
