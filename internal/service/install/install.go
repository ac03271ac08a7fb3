package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/agent-updater/internal/logger"
)

const (
	// DefaultFileMode is applied to payloads installed at a new destination.
	DefaultFileMode os.FileMode = 0o755

	// dirPermissions is applied to missing destination directories.
	dirPermissions = 0o755
)

// Decompress streams the archive through its codec into the destination,
// replacing whatever file was there. An existing destination keeps its mode.
func Decompress(ctx context.Context, archivePath, destination string) error {
	codec := CodecForFile(archivePath)

	archive, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	payload, err := NewReader(codec, archive)
	if err != nil {
		return err
	}

	defer func() {
		_ = payload.Close()
	}()

	mode := DefaultFileMode
	if info, statErr := os.Stat(destination); statErr == nil {
		mode = info.Mode().Perm()
	}

	logger.InfoKV(ctx, "Decompressing artifact",
		"archive", archivePath, "destination", destination, "codec", codec.String())

	if err = ReplaceFile(destination, payload, mode); err != nil {
		return fmt.Errorf("install %s: %w", destination, err)
	}

	return nil
}

// ReplaceFile writes payload to a sibling file and renames it over target.
// Readers of target see either the old or the new content, never a mix.
func ReplaceFile(target string, payload io.Reader, mode os.FileMode) error {
	target = filepath.Clean(target)

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// go-update moves the current file aside before the swap, so it has to exist.
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, mode)
		if createErr != nil {
			return fmt.Errorf("create %s: %w", target, createErr)
		}

		if createErr = placeholder.Close(); createErr != nil {
			return fmt.Errorf("create %s: %w", target, createErr)
		}
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: mode,
	}

	if err := goupdate.Apply(payload, options); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	return nil
}
