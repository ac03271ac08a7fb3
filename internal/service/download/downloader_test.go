package download

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/logger"
)

// fakeStore serves a single archive honouring Range and can inject chunk failures.
type fakeStore struct {
	// data is the archive body.
	data []byte
	// ignoreRange makes GET answer 200 with the full body.
	ignoreRange bool
	// omitLength makes HEAD answer without Content-Length.
	omitLength bool
	// partialHead makes HEAD answer 206 like a ranged GET.
	partialHead bool

	mu sync.Mutex
	// ranges records every GET Range header in arrival order.
	ranges []string
	// failures maps a Range header to the number of 503 answers left.
	failures map[string]int
	// truncations maps a Range header to the number of cut-off bodies left.
	truncations map[string]int
}

func newFakeStore(data []byte) *fakeStore {
	return &fakeStore{
		data:        data,
		failures:    make(map[string]int),
		truncations: make(map[string]int),
	}
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead && s.omitLength {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method == http.MethodHead && s.partialHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		w.WriteHeader(http.StatusPartialContent)

		return
	}

	if r.Method == http.MethodGet {
		header := r.Header.Get("Range")

		s.mu.Lock()
		s.ranges = append(s.ranges, header)
		failing := s.failures[header] > 0
		truncating := !failing && s.truncations[header] > 0

		if failing {
			s.failures[header]--
		}

		if truncating {
			s.truncations[header]--
		}
		s.mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		if truncating {
			// Promise the whole range but deliver only a byte of it.
			w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(s.data[:1])

			return
		}

		if s.ignoreRange {
			r.Header.Del("Range")
		}
	}

	http.ServeContent(w, r, "archive", time.Time{}, bytes.NewReader(s.data))
}

func (s *fakeStore) requestedRanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ranges...)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)

	return data
}

func newTestDownloader(t *testing.T, server *httptest.Server, opts ...Option) *Downloader {
	t.Helper()

	base := []Option{
		WithHTTPClient(server.Client()),
		WithDirectory(t.TempDir()),
		WithChunkSize(4096),
		WithRetry(time.Millisecond, 4*time.Millisecond),
	}

	return New(append(base, opts...)...)
}

// TestDownload_SequentialRanges verifies ceil(L/C) ordered, non-overlapping range requests.
func TestDownload_SequentialRanges(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 10_000)
	store := newFakeStore(data)

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)
	require.Equal(t, "agent.zst", filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.Equal(t, []string{
		"bytes=0-4095",
		"bytes=4096-8191",
		"bytes=8192-9999",
	}, store.requestedRanges())
}

// TestDownload_RetriesWithCappedBackoff fails one chunk several times and checks the delays.
func TestDownload_RetriesWithCappedBackoff(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 10_000)
	store := newFakeStore(data)
	store.failures["bytes=4096-8191"] = 4

	server := httptest.NewServer(store)
	defer server.Close()

	var (
		mu    sync.Mutex
		waits []time.Duration
	)

	d := newTestDownloader(t, server)
	d.onRetry = func(chunk Range, wait time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		require.EqualValues(t, 4096, chunk.Start)

		waits = append(waits, wait)
	}

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, waits)

	// The first chunk is never fetched again.
	require.Equal(t, []string{
		"bytes=0-4095",
		"bytes=4096-8191",
		"bytes=4096-8191",
		"bytes=4096-8191",
		"bytes=4096-8191",
		"bytes=4096-8191",
		"bytes=8192-9999",
	}, store.requestedRanges())
}

// TestDownload_BackoffResetsPerChunk checks that a new chunk starts again from the minimum delay.
func TestDownload_BackoffResetsPerChunk(t *testing.T) {
	t.Parallel()

	store := newFakeStore(randomBytes(t, 8192))
	store.failures["bytes=0-4095"] = 3
	store.failures["bytes=4096-8191"] = 1

	server := httptest.NewServer(store)
	defer server.Close()

	var waits []time.Duration

	d := newTestDownloader(t, server)
	d.onRetry = func(_ Range, wait time.Duration) {
		waits = append(waits, wait)
	}

	_, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		time.Millisecond,
	}, waits)
}

// TestDownload_TruncatedBodyIsRewound ensures a broken body leaves no stray bytes behind.
func TestDownload_TruncatedBodyIsRewound(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 10_000)
	store := newFakeStore(data)
	store.truncations["bytes=4096-8191"] = 2

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestDownload_StoreIgnoresRange accepts 200 answers carrying the full object.
func TestDownload_StoreIgnoresRange(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 9000)
	store := newFakeStore(data)
	store.ignoreRange = true

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestDownload_UnknownLength fails fatally when HEAD does not report a size.
func TestDownload_UnknownLength(t *testing.T) {
	t.Parallel()

	store := newFakeStore(randomBytes(t, 100))
	store.omitLength = true

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	_, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.ErrorIs(t, err, ErrUnknownLength)
	require.Empty(t, store.requestedRanges())
}

// TestDownload_MissingObject fails fatally on a 404 metadata request.
func TestDownload_MissingObject(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	d := newTestDownloader(t, server)

	_, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.ErrorIs(t, err, ErrUnknownLength)

	var statusErr *UnexpectedStatusError

	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

// TestDownload_CancelInterruptsBackoff verifies a sleeping retry returns once the context ends.
func TestDownload_CancelInterruptsBackoff(t *testing.T) {
	t.Parallel()

	store := newFakeStore(randomBytes(t, 100))
	store.failures["bytes=0-99"] = 1_000_000

	server := httptest.NewServer(store)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newTestDownloader(t, server, WithRetry(time.Hour, time.Hour))
	d.onRetry = func(Range, time.Duration) {
		cancel()
	}

	_, err := d.Download(ctx, server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.ErrorIs(t, err, context.Canceled)
}

// TestDownload_EmptyArchive produces an empty file without range requests.
func TestDownload_EmptyArchive(t *testing.T) {
	t.Parallel()

	store := newFakeStore(nil)

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "empty.zst"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())
	require.Empty(t, store.requestedRanges())
}

// TestDownload_PartialContentHead accepts a 206 answer to the length request.
func TestDownload_PartialContentHead(t *testing.T) {
	t.Parallel()

	data := randomBytes(t, 5000)
	store := newFakeStore(data)
	store.partialHead = true

	server := httptest.NewServer(store)
	defer server.Close()

	d := newTestDownloader(t, server)

	path, err := d.Download(context.Background(), server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

// TestDownload_ArtifactDirectories keeps artifacts sharing an archive apart.
func TestDownload_ArtifactDirectories(t *testing.T) {
	t.Parallel()

	store := newFakeStore(randomBytes(t, 100))

	server := httptest.NewServer(store)
	defer server.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, server, WithDirectory(dir))
	shared := &artifact.Artifact{Filename: "bundle.zst"}

	first, err := d.Download(context.Background(), server.URL, "a", shared)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a", "bundle.zst"), first)

	second, err := d.Download(context.Background(), server.URL, "b", shared)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "b", "bundle.zst"), second)

	for _, name := range []string{"", "..", "a/b"} {
		_, err = d.Download(context.Background(), server.URL, name, shared)
		require.Error(t, err, name)
	}
}

// TestDownload_ProgressSteps logs rounded 5% steps through the end of each chunk, once each.
func TestDownload_ProgressSteps(t *testing.T) {
	t.Parallel()

	every := make([]int64, 0, 20)
	for percent := int64(5); percent <= 100; percent += 5 {
		every = append(every, percent)
	}

	tests := []struct {
		name      string
		length    int
		chunkSize int64
		want      []int64
	}{
		// Every chunk ends on an exact 5% step.
		{name: "aligned", length: 100_000, chunkSize: 1000, want: every},
		// 7%, 14%, ... only 35%, 70% and the final chunk land on a step.
		{name: "misaligned", length: 1000, chunkSize: 70, want: []int64{35, 70, 100}},
		// 99.9% rounds up to 100% and the last chunk does not repeat it.
		{name: "rounded", length: 1000, chunkSize: 333, want: []int64{100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(newFakeStore(randomBytes(t, tt.length)))
			defer server.Close()

			core, logs := observer.New(zapcore.InfoLevel)
			ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

			d := newTestDownloader(t, server, WithChunkSize(tt.chunkSize))

			_, err := d.Download(ctx, server.URL, "agent", &artifact.Artifact{Filename: "agent.zst"})
			require.NoError(t, err)

			entries := logs.FilterMessage("Download progress").All()
			percents := make([]int64, 0, len(entries))

			for _, entry := range entries {
				percent, ok := entry.ContextMap()["percent"].(int64)
				require.True(t, ok)

				percents = append(percents, percent)
			}

			require.Equal(t, tt.want, percents)
		})
	}
}
