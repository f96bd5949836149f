// Package fetch downloads bulk dataset archives from the publisher's
// public data API: a JSON listing with per-file modification times and a
// streaming tar.bz2 download per archive.
package fetch

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paragraf/paragraf/internal/config"
	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/pkg/version"
)

// FileInfo is one entry from the public data listing.
type FileInfo struct {
	Filename     string    `json:"filename"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
}

// Entry is one file inside a dataset archive, valid only during the
// WalkArchive callback.
type Entry struct {
	Name   string
	Reader io.Reader
}

// Client talks to the public data API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   errors.RetryConfig
	logger  *slog.Logger
}

// NewClient builds a client from API configuration.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   retry,
		logger:  logger,
	}
}

func (c *Client) userAgent() string {
	return "paragraf/" + version.Version
}

// List fetches the dataset listing. Retried on transient failures.
func (c *Client) List(ctx context.Context) ([]FileInfo, error) {
	return errors.RetryWithResult(ctx, c.retry, func() ([]FileInfo, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
		if err != nil {
			return nil, errors.Internal("failed to build list request").WithDetail("cause", err.Error())
		}
		req.Header.Set("User-Agent", c.userAgent())
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Transient("list request failed").WithDetail("cause", err.Error())
		}
		defer resp.Body.Close()
		if err := classifyStatus(resp.StatusCode, "list"); err != nil {
			return nil, err
		}

		var files []FileInfo
		if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
			return nil, errors.Transient("failed to decode listing").WithDetail("cause", err.Error())
		}
		return files, nil
	})
}

// FileModified returns the listing entry for filename.
func (c *Client) FileModified(ctx context.Context, filename string) (*FileInfo, error) {
	files, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Filename == filename {
			return &files[i], nil
		}
	}
	return nil, errors.NotFound("archive not in listing").WithDetail("filename", filename)
}

// WalkArchive streams the named tar.bz2 archive, invoking fn for every
// regular file. The entry reader is only valid inside the callback. An
// error from fn aborts the walk and is returned unchanged.
func (c *Client) WalkArchive(ctx context.Context, filename string, fn func(Entry) error) error {
	return errors.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/get/"+filename, nil)
		if err != nil {
			return errors.Internal("failed to build download request").WithDetail("cause", err.Error())
		}
		req.Header.Set("User-Agent", c.userAgent())

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Transient("archive download failed").
				WithDetail("filename", filename).WithDetail("cause", err.Error())
		}
		defer resp.Body.Close()
		if err := classifyStatus(resp.StatusCode, filename); err != nil {
			return err
		}

		tr := tar.NewReader(bzip2.NewReader(resp.Body))
		count := 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				// A corrupt stream mid-archive is worth one more download.
				return errors.Transient("archive stream corrupted").
					WithDetail("filename", filename).WithDetail("cause", err.Error())
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			if err := fn(Entry{Name: hdr.Name, Reader: tr}); err != nil {
				return err
			}
			count++
		}
		c.logger.Info("archive processed",
			slog.String("filename", filename),
			slog.Int("files", count),
			slog.Duration("elapsed", time.Since(start)))
		return nil
	})
}

func classifyStatus(status int, what string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return errors.NotFound("not found on server").WithDetail("target", what)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Transient(fmt.Sprintf("server returned %d", status)).WithDetail("target", what)
	default:
		return errors.Internal(fmt.Sprintf("unexpected status %d", status)).WithDetail("target", what)
	}
}
