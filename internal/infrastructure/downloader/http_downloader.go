package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 50 * 1024 * 1024

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// HTTPDownloader скачивает медиафайлы по прямым ссылкам CDN
type HTTPDownloader struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

func NewHTTPDownloader(timeout time.Duration, maxBytes int64) *HTTPDownloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPDownloader{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		userAgent: defaultUserAgent,
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) (*port.DownloadedAsset, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("download url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "image/*,video/*,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	// +1 чтобы отличить файл ровно на лимите от превышения
	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > d.maxBytes {
		return nil, fmt.Errorf("download %s: body exceeds %d bytes", rawURL, d.maxBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("download %s: empty body", rawURL)
	}

	return &port.DownloadedAsset{
		Body:        body,
		ContentType: contentType(resp.Header.Get("Content-Type"), rawURL, body),
	}, nil
}

func contentType(header, rawURL string, body []byte) string {
	if header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}

	clean := rawURL
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if byExt := mime.TypeByExtension(path.Ext(clean)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}

	return http.DetectContentType(body)
}
