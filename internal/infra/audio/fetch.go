package audio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// maxMediaBytes bounds a single fetched source.
const maxMediaBytes = 64 << 20

// Fetcher reads media sources from http(s) URLs, file URLs or local paths.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. A zero timeout means 30 seconds.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient creates a fetcher using the given HTTP client.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch reads the whole source into memory.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid media uri %q", uri)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, uri)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(uri)
	default:
		return nil, errors.Newf("unsupported media scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "media fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("media fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "media read failed")
	}
	if len(data) > maxMediaBytes {
		return nil, errors.Newf("media exceeds %d bytes", maxMediaBytes)
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "media file not accessible")
	}
	if info.Size() > maxMediaBytes {
		return nil, errors.Newf("media exceeds %d bytes", maxMediaBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "media read failed")
	}
	return data, nil
}

func newMemReader(data []byte) io.ReadSeeker {
	return bytes.NewReader(data)
}

// OpenSink opens a PCM sink: "discard", "stdout" or a file path.
func OpenSink(target string) (io.WriteCloser, error) {
	switch strings.ToLower(target) {
	case "", "discard":
		return nopWriteCloser{io.Discard}, nil
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sink %s", target)
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
