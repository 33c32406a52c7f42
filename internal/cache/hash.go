// Package cache provides content hashing for output names and an optional
// on-disk cache of transform results that survives between builds.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// FileHasher computes content hashes for cache keys and output names
type FileHasher struct {
	fs afero.Fs
}

// NewFileHasher creates a hasher reading files from fs
func NewFileHasher(fs afero.Fs) *FileHasher {
	return &FileHasher{fs: fs}
}

// HashFile computes a SHA-256 hash of the file contents
func (fh *FileHasher) HashFile(path string) (string, error) {
	file, err := fh.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashContent computes a SHA-256 hash of the given content
func (fh *FileHasher) HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashString computes a SHA-256 hash of the given string
func (fh *FileHasher) HashString(content string) string {
	return fh.HashContent([]byte(content))
}

// ShortHash returns the first 8 hex characters of the SHA-256 of s. It is
// the hash used in generated file names.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
