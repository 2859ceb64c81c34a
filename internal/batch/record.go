package batch

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/encryption"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

const recordVersion = 1

// Record is the persisted form of one encrypted file.
type Record struct {
	Version          int           `json:"version"`
	Scheme           string        `json:"scheme"`
	KeyID            string        `json:"key_id"`
	Evolution        uint64        `json:"evolution"`
	Ciphertext       keys.HexBytes `json:"ciphertext"`
	Nonce            keys.HexBytes `json:"nonce"`
	Tag              Tag           `json:"tag"`
	OriginalFilename string        `json:"original_filename"`
	RelativePath     string        `json:"relative_path"`
	EncryptedAt      time.Time     `json:"encrypted_at"`
	FileSize         int64         `json:"file_size"`
	ModTime          time.Time     `json:"mod_time"`
}

// Tag holds the authentication tag and the header it covers.
type Tag struct {
	MAC       keys.HexBytes `json:"mac"`
	Algorithm string        `json:"algorithm"`
	Header    keys.HexBytes `json:"header"`
}

func newRecord(sealed *encryption.Sealed, km *keys.Material, rel string, size int64, modTime, now time.Time) *Record {
	return &Record{
		Version:    recordVersion,
		Scheme:     km.Params().Scheme(),
		KeyID:      km.KeyID(),
		Evolution:  km.Counter(),
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Tag: Tag{
			MAC:       sealed.Tag,
			Algorithm: encryption.MACAlgorithm,
			Header:    sealed.Header,
		},
		OriginalFilename: path.Base(rel),
		RelativePath:     rel,
		EncryptedAt:      now.UTC(),
		FileSize:         size,
		ModTime:          modTime.UTC(),
	}
}

func (r *Record) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	return append(data, '\n'), nil
}

// parseRecord decodes and structurally validates a record.
func parseRecord(data []byte) (*Record, error) {
	var r Record

	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	if r.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedRecord, r.Version)
	}

	if _, err := chaos.Lookup(r.Scheme); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	if r.Tag.Algorithm != encryption.MACAlgorithm {
		return nil, fmt.Errorf("%w: unsupported MAC algorithm %q", ErrMalformedRecord, r.Tag.Algorithm)
	}

	if _, err := encryption.ParseHeader(r.Tag.Header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	if r.FileSize < 0 {
		return nil, fmt.Errorf("%w: negative file size", ErrMalformedRecord)
	}

	if err := validateFilename(r.OriginalFilename); err != nil {
		return nil, err
	}

	return &r, nil
}

// validateFilename accepts only a plain base name, so a record can never
// direct its plaintext outside the destination directory.
func validateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid original filename %q", ErrMalformedRecord, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: original filename %q contains a path separator", ErrMalformedRecord, name)
	}

	return nil
}
