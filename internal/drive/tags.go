package drive

import (
	"errors"
	"fmt"
	"time"
)

// Application identifiers written into the App-Name tag. File records and
// manifests use distinct values so a tag query can target either kind.
const (
	FileAppID     = "drivesync"
	ManifestAppID = "drivesync-manifest"
)

// Tag names used on published records. These keys are part of the wire
// contract; direct sync on another device reads them back.
const (
	TagContentType        = "Content-Type"
	TagAppName            = "App-Name"
	TagOwnerAddress       = "Owner-Address"
	TagFileName           = "File-Name"
	TagEncryptionAlgo     = "Encryption-Algo"
	TagEncryptionParams   = "Encryption-Params"
	TagCompressionAlgo    = "Compression-Algo"
	TagCompressionEnabled = "Compression-Enabled"
	TagManifestVersion    = "Manifest-Version"
	TagFileCount          = "File-Count"
	TagPreviousManifest   = "Previous-Manifest-TxId"
)

// FileMetadata is the typed result of parsing a file record's tags.
type FileMetadata struct {
	ContentID        string
	FileName         string
	MimeType         string
	EncryptionAlgo   string
	EncryptionParams string
	CompressionAlgo  string
	Size             int64
	CreatedAt        time.Time // record block time
}

var (
	errWrongApp    = errors.New("app id tag mismatch")
	errWrongOwner  = errors.New("owner address tag mismatch")
	errNoFileName  = errors.New("no file name tag")
	errOwnerForged = errors.New("owner tag does not match attested owner")
)

// BuildFileTags returns the tag set published alongside a file blob.
func BuildFileTags(ownerAddress, fileName, mimeType string, codec Codec) []Tag {
	tags := []Tag{
		{Name: TagContentType, Value: mimeType},
		{Name: TagAppName, Value: FileAppID},
		{Name: TagOwnerAddress, Value: ownerAddress},
		{Name: TagFileName, Value: fileName},
	}
	if codec == nil {
		return tags
	}
	if algo := codec.Algo(); algo != "" {
		tags = append(tags, Tag{Name: TagEncryptionAlgo, Value: algo})
		if params := codec.Params(); params != "" {
			tags = append(tags, Tag{Name: TagEncryptionParams, Value: params})
		}
	}
	if comp := codec.Compression(); comp != "" {
		tags = append(tags,
			Tag{Name: TagCompressionAlgo, Value: comp},
			Tag{Name: TagCompressionEnabled, Value: "true"},
		)
	}
	return tags
}

// ParseFileTags extracts file metadata from a store record's tags. A
// record that is not a file of ours for this owner (wrong app id, owner
// tag mismatch, owner tag not matching the store-attested owner, or no
// file name) is rejected with an error; nothing is ever thrown past this
// boundary.
func ParseFileTags(rec StoreRecord, ownerAddress string) (FileMetadata, error) {
	if app, _ := rec.Tag(TagAppName); app != FileAppID {
		return FileMetadata{}, fmt.Errorf("record %s: %w", rec.ID, errWrongApp)
	}
	taggedOwner, ok := rec.Tag(TagOwnerAddress)
	if !ok || taggedOwner != ownerAddress {
		return FileMetadata{}, fmt.Errorf("record %s: %w", rec.ID, errWrongOwner)
	}
	// Tags are free-form; only the store-attested owner is trustworthy.
	if rec.OwnerAddress != ownerAddress {
		return FileMetadata{}, fmt.Errorf("record %s: %w", rec.ID, errOwnerForged)
	}
	fileName, ok := rec.Tag(TagFileName)
	if !ok || fileName == "" {
		return FileMetadata{}, fmt.Errorf("record %s: %w", rec.ID, errNoFileName)
	}

	meta := FileMetadata{
		ContentID: rec.ID,
		FileName:  fileName,
		Size:      rec.Size,
		CreatedAt: rec.BlockTime,
	}
	meta.MimeType, _ = rec.Tag(TagContentType)
	meta.EncryptionAlgo, _ = rec.Tag(TagEncryptionAlgo)
	meta.EncryptionParams, _ = rec.Tag(TagEncryptionParams)
	meta.CompressionAlgo, _ = rec.Tag(TagCompressionAlgo)
	return meta, nil
}
