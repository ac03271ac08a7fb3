package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/logger"
	"github.com/oshokin/agent-updater/internal/repository/manifest"
	"github.com/oshokin/agent-updater/internal/service/download"
	"github.com/oshokin/agent-updater/internal/service/supervisor"
)

const (
	// ManifestFilename is the remote manifest object name in the store.
	ManifestFilename = "artifacts.json"

	// DefaultManifestRetries bounds the attempts made for the remote manifest.
	DefaultManifestRetries = 4

	// maxManifestSize caps the remote manifest body.
	maxManifestSize = 8 << 20
)

var (
	// ErrRemoteUnavailable is returned when the remote manifest could not be
	// fetched. The cycle is skipped and the next one tries again.
	ErrRemoteUnavailable = errors.New("remote manifest unavailable")

	errNoRepository  = errors.New("manifest repository is required")
	errNoDownloader  = errors.New("downloader is required")
	errNoController  = errors.New("service controller is required")
	errBadInterval   = errors.New("interval must be positive")
	errNoStoreURL    = errors.New("store url is required")
	errTooFewRetries = errors.New("manifest retries must not be negative")
)

// Params are the collaborators and settings of a Reconciler.
type Params struct {
	// StoreURL is the base URL of the artifact store.
	StoreURL string
	// Interval is the pause between cycles.
	Interval time.Duration
	// RetryMin and RetryMax bound the wait between remote manifest attempts.
	RetryMin time.Duration
	RetryMax time.Duration
	// ManifestRetries is the number of retries for the remote manifest.
	ManifestRetries int
	// HTTPClient is the transport used for the remote manifest.
	HTTPClient *http.Client
	// Repository persists the local manifest.
	Repository manifest.Repository
	// Downloader fetches archives.
	Downloader *download.Downloader
	// Controller stops and starts services around installs.
	Controller supervisor.Controller
}

// Reconciler drives reconciliation cycles.
type Reconciler struct {
	storeURL    string
	manifestURL string
	interval    time.Duration
	repo        manifest.Repository
	downloader  *download.Downloader
	controller  supervisor.Controller
	client      *retryablehttp.Client
}

// New validates params and builds a Reconciler.
func New(p *Params) (*Reconciler, error) {
	switch {
	case p.StoreURL == "":
		return nil, errNoStoreURL
	case p.Interval <= 0:
		return nil, errBadInterval
	case p.ManifestRetries < 0:
		return nil, errTooFewRetries
	case p.Repository == nil:
		return nil, errNoRepository
	case p.Downloader == nil:
		return nil, errNoDownloader
	case p.Controller == nil:
		return nil, errNoController
	}

	manifestURL, err := download.ObjectURL(p.StoreURL, ManifestFilename)
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	if p.HTTPClient != nil {
		client.HTTPClient = p.HTTPClient
	}

	client.RetryMax = p.ManifestRetries
	client.Logger = newRetryLogger(logger.Logger().Named("store"))

	if p.RetryMin > 0 {
		client.RetryWaitMin = p.RetryMin
	}

	if p.RetryMax > 0 {
		client.RetryWaitMax = p.RetryMax
	}

	return &Reconciler{
		storeURL:    p.StoreURL,
		manifestURL: manifestURL,
		interval:    p.Interval,
		repo:        p.Repository,
		downloader:  p.Downloader,
		controller:  p.Controller,
		client:      client,
	}, nil
}

// Run repeats cycles until ctx is cancelled. An unreachable store or a
// non-200 manifest answer only skips the cycle, so the daemon stays up
// through store outages; any other cycle error ends Run.
func (r *Reconciler) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Reconciler started", "store", r.storeURL, "interval", r.interval)

	for {
		if _, err := r.Cycle(ctx); err != nil {
			if !errors.Is(err, ErrRemoteUnavailable) {
				return err
			}

			logger.WarnKV(ctx, "Skipping cycle", "error", err)
		}

		timer := time.NewTimer(r.interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "Reconciler stopped")

			return nil
		case <-timer.C:
		}
	}
}

// Cycle performs one reconciliation pass and returns the outcomes in the
// enumeration order of the remote manifest.
func (r *Reconciler) Cycle(ctx context.Context) ([]*Outcome, error) {
	ctx = logger.WithKV(ctx, "cycle", uuid.NewString())

	remote, err := r.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}

	local, err := r.repo.Load(ctx)

	switch {
	case errors.Is(err, manifest.ErrNotFound):
		logger.Info(ctx, "No local manifest yet, every artifact is a fresh install")

		local = artifact.Manifest{}
	case err != nil:
		return nil, fmt.Errorf("load local manifest: %w", err)
	}

	outcomes := r.reconcileAll(ctx, local, remote)

	next := make(artifact.Manifest, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			logger.ErrorKV(ctx, "Artifact update failed", "artifact", outcome.Name, "error", outcome.Err)
		}

		if outcome.Artifact != nil {
			next[outcome.Name] = outcome.Artifact
		}
	}

	for _, name := range local.Names() {
		if _, found := remote[name]; !found {
			logger.InfoKV(ctx, "Dropping artifact absent from the store", "artifact", name)
		}
	}

	if err = r.repo.Save(ctx, next); err != nil {
		return outcomes, fmt.Errorf("save local manifest: %w", err)
	}

	logSummary(ctx, outcomes)

	return outcomes, nil
}

// reconcileAll launches one task per remote artifact and collects the
// outcomes by enumeration index.
func (r *Reconciler) reconcileAll(ctx context.Context, local, remote artifact.Manifest) []*Outcome {
	names := remote.Names()
	outcomes := make([]*Outcome, len(names))

	var wg sync.WaitGroup

	for i, name := range names {
		localEntry := local[name].Clone()
		remoteEntry := remote[name].Clone()
		taskCtx := logger.WithKV(ctx, "artifact", name)

		wg.Go(func() {
			if localEntry == nil {
				outcomes[i] = r.installFresh(taskCtx, name, remoteEntry)
			} else {
				outcomes[i] = r.updateArtifact(taskCtx, name, localEntry, remoteEntry)
			}
		})
	}

	wg.Wait()

	return outcomes
}

// fetchRemote downloads and parses the remote manifest.
func (r *Reconciler) fetchRemote(ctx context.Context) (artifact.Manifest, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.manifestURL, nil)
	if err != nil {
		return nil, err
	}

	response, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable,
			&download.UnexpectedStatusError{URL: r.manifestURL, StatusCode: response.StatusCode})
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	remote, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse remote manifest: %w", err)
	}

	logger.DebugKV(ctx, "Remote manifest fetched", "artifacts", len(remote))

	return remote, nil
}

func logSummary(ctx context.Context, outcomes []*Outcome) {
	counts := make(map[State]int, len(stateNames))
	for _, outcome := range outcomes {
		counts[outcome.State]++
	}

	kvs := make([]any, 0, 2*len(counts)+2)
	kvs = append(kvs, "artifacts", len(outcomes))

	for state := range State(len(stateNames)) {
		if count := counts[state]; count > 0 {
			kvs = append(kvs, state.String(), count)
		}
	}

	logger.InfoKV(ctx, "Cycle finished", kvs...)
}
