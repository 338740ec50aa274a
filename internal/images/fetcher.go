// Package images stages listing images on disk for the AI oracle.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	referer   = "https://www.goofish.com/"
)

// Fetcher downloads item images into a per-task directory under baseDir.
type Fetcher struct {
	baseDir string
	client  *http.Client
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(baseDir string, client *http.Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{baseDir: baseDir, client: client, logger: logger}
}

// TaskDir is where a task's images are staged.
func (f *Fetcher) TaskDir(taskName string) string {
	return filepath.Join(f.baseDir, "task_images_"+sanitize(taskName))
}

// Download saves each URL as product_<itemID>_<n>.jpg and returns the paths
// that are on disk. Files already present are reused. Individual failures are
// joined into the returned error; the paths that did succeed are still returned.
func (f *Fetcher) Download(ctx context.Context, taskName, itemID string, urls []string) ([]string, error) {
	dir := f.TaskDir(taskName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir %s: %w", dir, err)
	}

	var (
		paths []string
		errs  []error
	)
	for i, u := range urls {
		if u == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path := filepath.Join(dir, fmt.Sprintf("product_%s_%d.jpg", sanitize(itemID), i+1))
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
			continue
		}
		if err := f.fetch(ctx, normalizeURL(u), path); err != nil {
			errs = append(errs, fmt.Errorf("image %d of item %s: %w", i+1, itemID, err))
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}

func (f *Fetcher) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("unexpected status downloading %s", url),
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move image into place: %w", err)
	}
	return nil
}

// Remove deletes staged files. Missing files are ignored.
func (f *Fetcher) Remove(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.logger.Warn("removing staged image", "path", p, "error", err)
		}
	}
}

// CleanupTask removes the task's whole image directory.
func (f *Fetcher) CleanupTask(taskName string) error {
	dir := f.TaskDir(taskName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing image dir %s: %w", dir, err)
	}
	return nil
}

// normalizeURL adds a scheme to protocol-relative CDN links.
func normalizeURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// sanitize keeps a name safe to use as a path element.
func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "untitled"
	}
	return name
}

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
