package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/logger"
)

const (
	// DefaultChunkSize is the length of one ranged request.
	DefaultChunkSize = 1 << 20

	// DefaultRetryMin is the first delay after a failed chunk.
	DefaultRetryMin = 3 * time.Second

	// DefaultRetryMax caps the chunk retry delay.
	DefaultRetryMax = 90 * time.Second

	// progressStep is the percentage granularity of progress logs.
	progressStep = 5

	// backoffMultiplier doubles the retry delay after every failure.
	backoffMultiplier = 2

	// dirPermissions is applied to the download directory.
	dirPermissions = 0o755
)

// Downloader fetches archives with sequential ranged requests.
type Downloader struct {
	// client performs the HEAD and ranged GET requests.
	client *http.Client
	// dir receives the downloaded archives.
	dir string
	// chunkSize is the length of one ranged request.
	chunkSize int64
	// retryMin is the initial backoff delay of a chunk.
	retryMin time.Duration
	// retryMax caps the backoff delay of a chunk.
	retryMax time.Duration
	// onRetry observes every scheduled retry delay.
	onRetry func(Range, time.Duration)
}

// Option configures the Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the client used to reach the store.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// WithDirectory sets where archives are written.
func WithDirectory(dir string) Option {
	return func(d *Downloader) {
		if dir != "" {
			d.dir = dir
		}
	}
}

// WithChunkSize sets the ranged request length.
func WithChunkSize(size int64) Option {
	return func(d *Downloader) {
		if size > 0 {
			d.chunkSize = size
		}
	}
}

// WithRetry sets the backoff floor and ceiling of a failing chunk.
func WithRetry(minDelay, maxDelay time.Duration) Option {
	return func(d *Downloader) {
		if minDelay > 0 {
			d.retryMin = minDelay
		}

		if maxDelay > 0 {
			d.retryMax = maxDelay
		}

		d.retryMax = max(d.retryMax, d.retryMin)
	}
}

// New creates a Downloader with defaults overridden by opts.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:    http.DefaultClient,
		dir:       filepath.Join(os.TempDir(), "agent-updater"),
		chunkSize: DefaultChunkSize,
		retryMin:  DefaultRetryMin,
		retryMax:  DefaultRetryMax,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches the remote artifact into a directory of its own under the
// download directory and returns the archive path once every chunk has been
// written. Artifacts sharing an archive never share the local copy.
func (d *Downloader) Download(ctx context.Context, storeURL, name string, remote *artifact.Artifact) (string, error) {
	ctx = logger.WithKV(ctx, "filename", remote.Filename)

	if err := artifact.ValidateName(name); err != nil {
		return "", err
	}

	artifactURL, err := ObjectURL(storeURL, remote.Filename)
	if err != nil {
		return "", err
	}

	length, err := d.contentLength(ctx, artifactURL)
	if err != nil {
		return "", err
	}

	artifactDir := filepath.Join(d.dir, name)

	if err = os.MkdirAll(artifactDir, dirPermissions); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	archivePath := filepath.Join(artifactDir, remote.Filename)

	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	ranges := ChunkRanges(length, d.chunkSize)

	logger.InfoKV(ctx, "Downloading artifact",
		"size", humanize.IBytes(uint64(length)), "chunks", len(ranges))

	progress := newProgress(length)

	for _, chunk := range ranges {
		if err = d.fetchChunk(ctx, archive, artifactURL, chunk); err != nil {
			return "", err
		}

		progress.report(ctx, chunk.End+1)
	}

	if err = archive.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}

	logger.InfoKV(ctx, "Artifact downloaded", "path", archivePath)

	return archivePath, nil
}

// contentLength asks the store for the archive size.
func (d *Downloader) contentLength(ctx context.Context, artifactURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, artifactURL, http.NoBody)
	if err != nil {
		return 0, err
	}

	response, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnknownLength, &TransportError{URL: artifactURL, Err: err})
	}

	_ = response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("%w: %w", ErrUnknownLength,
			&UnexpectedStatusError{URL: artifactURL, StatusCode: response.StatusCode})
	}

	if response.ContentLength < 0 {
		return 0, fmt.Errorf("%s: %w", artifactURL, ErrUnknownLength)
	}

	return response.ContentLength, nil
}

// fetchChunk retries a single chunk until it is fully written, a permanent
// error occurs or the context ends. Backoff state starts over for every chunk.
func (d *Downloader) fetchChunk(ctx context.Context, archive *os.File, artifactURL string, chunk Range) error {
	operation := func() error {
		return d.tryChunk(ctx, archive, artifactURL, chunk)
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnKV(ctx, "Failed to download a chunk, retrying",
			"range", chunk.Header(), "retry_in", wait, "error", err)

		if d.onRetry != nil {
			d.onRetry(chunk, wait)
		}
	}

	return backoff.RetryNotify(operation, d.newBackOff(ctx), notify)
}

// newBackOff builds the doubling, capped, never-expiring retry policy of one chunk.
//
//nolint:ireturn // backoff.WithContext returns the interface.
func (d *Downloader) newBackOff(ctx context.Context) backoff.BackOff {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     d.retryMin,
		RandomizationFactor: 0,
		Multiplier:          backoffMultiplier,
		MaxInterval:         d.retryMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}

	policy.Reset()

	return backoff.WithContext(policy, ctx)
}

// tryChunk performs one attempt at a chunk. The archive is rewound to the
// chunk start first, so a body that broke mid-stream leaves no stray bytes.
func (d *Downloader) tryChunk(ctx context.Context, archive *os.File, artifactURL string, chunk Range) error {
	if err := archive.Truncate(chunk.Start); err != nil {
		return backoff.Permanent(fmt.Errorf("rewind archive: %w", err))
	}

	if _, err := archive.Seek(chunk.Start, io.SeekStart); err != nil {
		return backoff.Permanent(fmt.Errorf("rewind archive: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, http.NoBody)
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("Range", chunk.Header())

	response, err := d.client.Do(req)
	if err != nil {
		return &TransportError{URL: artifactURL, Err: err}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	switch response.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// The store ignored the Range header and sent the whole object.
		if _, err = io.CopyN(io.Discard, response.Body, chunk.Start); err != nil {
			return &TransportError{URL: artifactURL, Err: err}
		}
	default:
		return &UnexpectedStatusError{URL: artifactURL, StatusCode: response.StatusCode}
	}

	writer := &trackingWriter{w: archive}

	if _, err = io.CopyN(writer, response.Body, chunk.Len()); err != nil {
		if writer.err != nil {
			return backoff.Permanent(fmt.Errorf("write archive chunk: %w", writer.err))
		}

		if errors.Is(err, io.EOF) {
			err = ErrShortBody
		}

		return &TransportError{URL: artifactURL, Err: err}
	}

	return nil
}

// trackingWriter separates local write failures from network read failures.
type trackingWriter struct {
	w   io.Writer
	err error
}

// Write implements io.Writer.
func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}

	return n, err
}

// progress logs download completion at progressStep granularity.
type progress struct {
	total int64
	last  int
}

func newProgress(total int64) *progress {
	return &progress{total: total, last: -1}
}

// report logs the rounded percentage of done bytes when it lands on a step.
func (p *progress) report(ctx context.Context, done int64) {
	if p.total <= 0 {
		return
	}

	percent := int(math.Round(float64(done) / float64(p.total) * 100))
	if percent%progressStep != 0 || percent == p.last {
		return
	}

	p.last = percent

	logger.InfoKV(ctx, "Download progress",
		"percent", percent,
		"downloaded", humanize.IBytes(uint64(done)),
		"total", humanize.IBytes(uint64(p.total)))
}
