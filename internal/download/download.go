package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"primamateria.systems/alembic/internal/notify"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 5 * time.Minute

	progressStep = 1 << 20
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error downloading %v: server returned %v", e.URL, e.Code)
}

// Result describes a finished download.
type Result struct {
	Size int64
	// Hash is the lowercase hex sha256 of the downloaded bytes.
	Hash string
}

type Downloader interface {
	// Download fetches rawURL into dest, hashing the content as it streams.
	Download(ctx context.Context, rawURL, dest string) (Result, error)
}

type Config struct {
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client downloads file:// and http(s):// URLs.
type Client struct {
	config Config
	http   *http.Client
	notify notify.Sink
}

func NewClient(c Config, sink notify.Sink) *Client {
	c = c.withDefaults()
	return &Client{
		config: c,
		http:   &http.Client{Timeout: c.Timeout},
		notify: notify.OrNop(sink),
	}
}

func (c *Client) Download(ctx context.Context, rawURL, dest string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("invalid url %v: %w", rawURL, err)
	}
	switch u.Scheme {
	case "file":
		return c.downloadFile(u.Path, dest)
	case "http", "https":
		var res Result
		err := retry(ctx, c.config.Retries, c.config.RetryDelay, func(attempt int, err error) {
			c.notify.Notify(notify.New(notify.KindDownloadRetry, "retrying download", "url", rawURL, "attempt", attempt, "err", err))
		}, func() error {
			var err error
			res, err = c.downloadHTTP(ctx, rawURL, dest)
			return err
		})
		return res, err
	default:
		return Result{}, fmt.Errorf("%w: %v", ErrUnsupportedScheme, u.Scheme)
	}
}

func (c *Client) downloadFile(src, dest string) (Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = in.Close() }()
	if info, err := in.Stat(); err == nil {
		c.notify.Notify(notify.New(notify.KindDownloadContentLength, "download size", "bytes", info.Size()))
	}
	return c.stream(in, dest)
}

func (c *Client) downloadHTTP(ctx context.Context, rawURL, dest string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	log.Debug("requesting", "url", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, err
		}
		return Result{}, &RetryableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, &RetryableError{Err: &StatusError{URL: rawURL, Code: resp.StatusCode}}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if resp.ContentLength >= 0 {
		c.notify.Notify(notify.New(notify.KindDownloadContentLength, "download size", "bytes", resp.ContentLength))
	}
	res, err := c.stream(resp.Body, dest)
	if err != nil && ctx.Err() == nil {
		return Result{}, &RetryableError{Err: err}
	}
	return res, err
}

type progressWriter struct {
	hash     hash.Hash
	total    int64
	reported int64
	notify   notify.Sink
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.hash.Write(p)
	w.total += int64(n)
	if w.total-w.reported >= progressStep {
		w.reported = w.total
		w.notify.Notify(notify.New(notify.KindDownloadDataReceived, "downloading", "bytes", w.total))
	}
	return n, err
}

// stream copies r into dest, truncating anything a previous attempt left there.
func (c *Client) stream(r io.Reader, dest string) (Result, error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, err
	}
	pw := &progressWriter{hash: sha256.New(), notify: c.notify}
	n, err := io.Copy(io.MultiWriter(out, pw), r)
	if err != nil {
		_ = out.Close()
		return Result{}, fmt.Errorf("error writing %v: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return Result{}, err
	}
	return Result{Size: n, Hash: hex.EncodeToString(pw.hash.Sum(nil))}, nil
}
