package updater

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/lock"
	"github.com/oshokin/agent-updater/internal/logger"
	"github.com/oshokin/agent-updater/internal/service/install"
)

// updateArtifact runs the state machine for an artifact known locally.
// The returned outcome carries the remote entry when it got applied and the
// local entry otherwise.
func (r *Reconciler) updateArtifact(ctx context.Context, name string, local, remote *artifact.Artifact) *Outcome {
	keep := func(state State, err error) *Outcome {
		return &Outcome{Name: name, State: state, Artifact: local.Clone(), Err: err}
	}

	newer, err := artifact.IsRemoteNewer(ctx, name, local, remote)
	if err != nil {
		return keep(StateFailed, err)
	}

	if !newer {
		logger.DebugKV(ctx, "Artifact is up to date", "version", local.Version)

		return keep(StateUpToDate, nil)
	}

	if local.Lockfile != "" {
		handle, acquired, lockErr := lock.Acquire(local.Lockfile)
		if lockErr != nil {
			return keep(StateFailed, fmt.Errorf("acquire lock: %w", lockErr))
		}

		if !acquired {
			logger.InfoKV(ctx, "Artifact is busy, skipping until next cycle", "lockfile", local.Lockfile)

			return keep(StateBusy, nil)
		}

		defer func() {
			if releaseErr := handle.Release(); releaseErr != nil {
				logger.WarnKV(ctx, "Failed to release lock", "lockfile", local.Lockfile, "error", releaseErr)
			}
		}()
	}

	if err = r.apply(ctx, name, remote); err != nil {
		return keep(StateFailed, err)
	}

	return &Outcome{Name: name, State: StateApplied, Artifact: remote.Clone()}
}

// installFresh installs an artifact that has no local entry yet.
// Version comparison and locking are skipped.
func (r *Reconciler) installFresh(ctx context.Context, name string, remote *artifact.Artifact) *Outcome {
	logger.InfoKV(ctx, "Installing new artifact", "version", remote.Version)

	if err := r.apply(ctx, name, remote); err != nil {
		return &Outcome{Name: name, State: StateFailed, Err: err}
	}

	return &Outcome{Name: name, State: StateApplied, Artifact: remote.Clone()}
}

// apply walks Downloading, Verifying and Installing for the remote entry.
func (r *Reconciler) apply(ctx context.Context, name string, remote *artifact.Artifact) error {
	if err := remote.Validate(); err != nil {
		return fmt.Errorf("invalid remote entry: %w", err)
	}

	logger.DebugKV(ctx, "Entering state", "state", StateDownloading.String())

	archive, err := r.downloader.Download(ctx, r.storeURL, name, remote)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	logger.DebugKV(ctx, "Entering state", "state", StateVerifying.String())

	if err = install.VerifyChecksum(archive, remote.SHA512); err != nil {
		var mismatch *install.ChecksumMismatchError
		if errors.As(err, &mismatch) {
			logger.ErrorKV(ctx, "Archive checksum mismatch, keeping it for inspection",
				"archive", archive, "expected", mismatch.Expected, "actual", mismatch.Actual)
		}

		return err
	}

	logger.DebugKV(ctx, "Entering state", "state", StateInstalling.String())

	if remote.HasService() {
		logger.InfoKV(ctx, "Stopping service", "service", remote.Service)

		if err = r.controller.Stop(ctx, remote.Service); err != nil {
			logger.WarnKV(ctx, "Failed to stop service", "service", remote.Service, "error", err)
		}
	}

	if err = install.Decompress(ctx, archive, remote.Destination); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	if err = os.Remove(archive); err != nil {
		logger.WarnKV(ctx, "Failed to remove archive", "archive", archive, "error", err)
	}

	r.restart(ctx, remote)

	logger.InfoKV(ctx, "Artifact applied", "version", remote.Version, "destination", remote.Destination)

	return nil
}

// restart brings the service back after the swap. The files are already in
// place, so failures only get logged.
func (r *Reconciler) restart(ctx context.Context, remote *artifact.Artifact) {
	switch {
	case !remote.HasService():
		return
	case remote.IsSupervisor():
		logger.Info(ctx, "Reloading supervisor configuration")

		if err := r.controller.Reload(ctx); err != nil {
			logger.WarnKV(ctx, "Failed to reload supervisor", "error", err)
		}
	default:
		logger.InfoKV(ctx, "Starting service", "service", remote.Service)

		if err := r.controller.Start(ctx, remote.Service); err != nil {
			logger.WarnKV(ctx, "Failed to start service", "service", remote.Service, "error", err)
		}
	}
}
