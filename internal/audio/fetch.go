package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"callqa-backend/internal/shared/telemetry"
)

const (
	defaultSuffix       = ".mp3"
	maxSuffixLen        = 5
	defaultFetchTimeout = 120 * time.Second
)

// ObjectOpener reads objects from a bucket-addressed store.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Fetcher resolves audio references to local files.
//
// Supported references are filesystem paths, http(s) URLs, and s3://bucket/key
// when Objects is configured.
type Fetcher struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	TempDir    string
	Objects    ObjectOpener
}

// LocalAudio is a readable local file. Close removes it when it was downloaded.
type LocalAudio struct {
	Path      string
	temporary bool
}

// Close removes the temporary download, if any. It is safe to call more than once.
func (a *LocalAudio) Close() error {
	if a == nil || !a.temporary || a.Path == "" {
		return nil
	}
	err := os.Remove(a.Path)
	a.temporary = false
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Acquire produces a local readable file for ref. Callers must Close the result.
func (f *Fetcher) Acquire(ctx context.Context, ref string) (*LocalAudio, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &FetchError{Ref: ref, Err: errors.New("empty audio reference")}
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return f.download(ctx, ref)
	case strings.HasPrefix(lower, "s3://"):
		return f.openObject(ctx, ref)
	default:
		info, err := os.Stat(ref)
		if err != nil {
			return nil, &FetchError{Ref: ref, Err: err}
		}
		if info.IsDir() {
			return nil, &FetchError{Ref: ref, Err: errors.New("audio reference is a directory")}
		}
		return &LocalAudio{Path: ref}, nil
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (*LocalAudio, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Ref: rawURL, Err: err}
	}
	display := redactURL(u)

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Ref: display, Err: err}
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Ref: display, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Ref: display, StatusCode: resp.StatusCode}
	}

	local, size, err := f.writeTemp(resp.Body, SuffixFromPath(u.Path))
	if err != nil {
		return nil, &FetchError{Ref: display, Err: err}
	}
	telemetry.Info("audio.fetch.completed", map[string]any{
		"ref":         display,
		"size_bytes":  size,
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
	return local, nil
}

func (f *Fetcher) openObject(ctx context.Context, ref string) (*LocalAudio, error) {
	if f.Objects == nil {
		return nil, &FetchError{Ref: ref, Err: errors.New("object storage not configured")}
	}
	bucket, key, err := splitObjectRef(ref)
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: err}
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := f.Objects.Open(ctx, bucket, key)
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: err}
	}
	defer body.Close()

	local, _, err := f.writeTemp(body, SuffixFromPath(key))
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: err}
	}
	return local, nil
}

func (f *Fetcher) writeTemp(r io.Reader, suffix string) (*LocalAudio, int64, error) {
	tmp, err := os.CreateTemp(f.TempDir, "call-audio-*"+suffix)
	if err != nil {
		return nil, 0, fmt.Errorf("create temp file: %w", err)
	}
	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("write temp file: %w", copyErr)
	}
	return &LocalAudio{Path: tmp.Name(), temporary: true}, size, nil
}

// SuffixFromPath infers a file suffix from a URL or object path, defaulting to
// .mp3 when none is present or the extension is implausibly long.
func SuffixFromPath(p string) string {
	ext := path.Ext(path.Base(p))
	if ext == "" || ext == "." || len(ext) > maxSuffixLen {
		return defaultSuffix
	}
	return strings.ToLower(ext)
}

func splitObjectRef(ref string) (string, string, error) {
	rest := ref[len("s3://"):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("invalid object reference %q", ref)
	}
	return bucket, key, nil
}

// redactURL drops query strings, which commonly carry signatures.
func redactURL(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.Fragment = ""
	clean.User = nil
	return clean.String()
}
