package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/agent-updater/internal/domain/artifact"
	"github.com/oshokin/agent-updater/internal/service/install"
)

// filePermissions is applied to the manifest file.
const filePermissions = 0o600

// Repository defines persistence operations for the local manifest.
type Repository interface {
	Load(ctx context.Context) (artifact.Manifest, error)
	Save(ctx context.Context, manifest artifact.Manifest) error
}

// FileRepository persists the manifest to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the manifest.
	path string
	// mu serializes access to the manifest file.
	mu sync.Mutex
}

// ErrNotFound is returned when the manifest file does not exist yet.
var ErrNotFound = errors.New("manifest not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the manifest location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the manifest from disk.
func (r *FileRepository) Load(_ context.Context) (artifact.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read manifest file: %w", err)
	}

	return Decode(contents)
}

// Save replaces the manifest file with the provided content.
func (r *FileRepository) Save(_ context.Context, manifest artifact.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if manifest == nil {
		manifest = artifact.Manifest{}
	}

	data, err := Encode(manifest)
	if err != nil {
		return err
	}

	if err = install.ReplaceFile(r.path, bytes.NewReader(data), filePermissions); err != nil {
		return fmt.Errorf("write manifest file: %w", err)
	}

	return nil
}

// Encode renders the manifest as indented JSON.
func Encode(manifest artifact.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return append(data, '\n'), nil
}

// Decode parses a JSON manifest and drops null entries.
func Decode(data []byte) (artifact.Manifest, error) {
	var manifest artifact.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if manifest == nil {
		manifest = artifact.Manifest{}
	}

	for name, entry := range manifest {
		if entry == nil {
			delete(manifest, name)
		}
	}

	return manifest, nil
}
