package consume

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docmill/docmill/classify"
	"github.com/docmill/docmill/parsers"
	"github.com/docmill/docmill/tenant"
)

// Source records how a document entered the pipeline.
type Source string

const (
	SourceFolder Source = "folder"
	SourceUpload Source = "upload"
	SourceMail   Source = "mail"
	SourceAPI    Source = "api"
)

// Document is the immutable description of one file to consume. Build it
// with NewDocument; the checksum and MIME type are fixed at admission so
// later stages all see the same identity.
type Document struct {
	TenantID         tenant.ID
	Path             string
	OriginalFilename string
	MimeType         string
	Checksum         string
	Size             int64
	Source           Source
	Received         time.Time
}

// NewDocument stats, sniffs and hashes the file at path. The MIME type
// comes from content detection, never from the file extension.
func NewDocument(tid tenant.ID, path string, source Source) (*Document, error) {
	if !tid.Valid() {
		return nil, fmt.Errorf("consume: %w", errNoTenant)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("consume: admit %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("consume: admit %s: is a directory", path)
	}
	mimeType, err := parsers.Sniff(path)
	if err != nil {
		return nil, fmt.Errorf("consume: admit %s: %w", path, err)
	}
	checksum, err := classify.ChecksumFile(path)
	if err != nil {
		return nil, fmt.Errorf("consume: admit %s: %w", path, err)
	}
	return &Document{
		TenantID:         tid,
		Path:             path,
		OriginalFilename: filepath.Base(path),
		MimeType:         mimeType,
		Checksum:         checksum,
		Size:             info.Size(),
		Source:           source,
		Received:         time.Now().UTC(),
	}, nil
}

// Overrides carries caller-provided metadata that outranks anything the
// pipeline derives. Nil pointers mean "no opinion".
type Overrides struct {
	Title           *string          `json:"title,omitempty"`
	CorrespondentID *int64           `json:"correspondent_id,omitempty"`
	DocumentTypeID  *int64           `json:"document_type_id,omitempty"`
	StoragePathID   *int64           `json:"storage_path_id,omitempty"`
	TagIDs          []int64          `json:"tag_ids,omitempty"`
	ASN             *int64           `json:"asn,omitempty"`
	OwnerID         *int64           `json:"owner_id,omitempty"`
	OwnerUsername   string           `json:"owner_username,omitempty"`
	Created         *time.Time       `json:"created,omitempty"`
	CustomFields    map[int64]string `json:"custom_fields,omitempty"`
}
