// Package fileid derives stable identifiers for watched files: a key from the path and
// a fingerprint from the content.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns a stable key for the given absolute path.
// Same path always yields the same key. Used to map a local file to its backend document.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// IsFileDocID reports whether key was produced by FileDocID.
func IsFileDocID(key string) bool {
	return len(key) == len(prefix)+sha256.Size*2 && key[:len(prefix)] == prefix
}

// ContentHash returns the hex sha256 of the file at path.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
