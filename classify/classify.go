// Package classify defines the classification boundary of the pipeline.
//
// A Classifier maps extracted text to suggestions (tags, correspondent,
// document type, storage path). Implementations are external collaborators;
// the pipeline only schedules them and caches their output keyed by a
// fingerprint of (content hash, classifier version), so a model upgrade
// naturally invalidates prior suggestions.
package classify

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Suggestions is the classifier output. Zero values mean "no suggestion".
type Suggestions struct {
	TagIDs          []int64 `json:"tag_ids,omitempty"`
	CorrespondentID int64   `json:"correspondent_id,omitempty"`
	DocumentTypeID  int64   `json:"document_type_id,omitempty"`
	StoragePathID   int64   `json:"storage_path_id,omitempty"`
}

// Classifier produces suggestions for a document's text. Version changes
// whenever the underlying model changes, which rolls every cache key.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Suggestions, error)
	Version() string
}

// ChecksumFile returns the hex BLAKE2b-256 digest of a file's content.
// It is the stable content identity used for duplicate detection and
// fingerprinting.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("classify: checksum %s: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("classify: checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint combines a content checksum with a classifier version into
// the cache key component for reusable classification work.
func Fingerprint(checksum, version string) string {
	return checksum + "@" + version
}
