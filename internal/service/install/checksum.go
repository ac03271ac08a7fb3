package install

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChecksumMismatchError reports an archive whose digest differs from the manifest.
type ChecksumMismatchError struct {
	// Expected is the manifest digest.
	Expected string
	// Actual is the digest of the archive on disk.
	Actual string
}

// Error implements error.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// FileChecksum streams the file through SHA-512 and returns the lowercase hex digest.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha512.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum compares the archive digest with the expected lowercase hex value.
func VerifyChecksum(path, expected string) error {
	actual, err := FileChecksum(path)
	if err != nil {
		return err
	}

	if actual != strings.ToLower(expected) {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}

	return nil
}
