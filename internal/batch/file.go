package batch

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/idelchi/chaoscrypt/internal/encryption"
	"github.com/idelchi/chaoscrypt/internal/fileutil"
	"github.com/idelchi/chaoscrypt/internal/filter"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

// shared is the key state reused by every file of a SharedKey job.
type shared struct {
	sealer   *encryption.Sealer
	artifact []byte
}

func (m *Manager) newShared(km *keys.Material) (*shared, error) {
	sealer, err := encryption.NewSealer(km, m.opts.Entropy)
	if err != nil {
		return nil, err
	}

	artifact, err := m.keyArtifact(km)
	if err != nil {
		return nil, err
	}

	return &shared{sealer: sealer, artifact: artifact}, nil
}

func (m *Manager) keyArtifact(km *keys.Material) ([]byte, error) {
	artifact, err := keys.NewArtifact(km, m.opts.Vault)
	if err != nil {
		return nil, err
	}

	return artifact.Marshal()
}

// encryptFile seals one file. With a nil shared, fresh material is
// generated for the file and wiped before returning.
func (m *Manager) encryptFile(job *Job, c filter.Candidate, sh *shared) Result {
	data, err := afero.ReadFile(m.opts.Fs, c.Path)
	if err != nil {
		return failed(c.Rel, fmt.Errorf("%w: reading: %w", ErrFileAccess, err))
	}

	if sh == nil {
		km, err := keys.Generate(m.opts.Entropy, m.opts.Params)
		if err != nil {
			return failed(c.Rel, err)
		}

		defer km.Wipe()

		if sh, err = m.newShared(km); err != nil {
			return failed(c.Rel, err)
		}
	}

	sealed, err := sh.sealer.Seal(data)
	if err != nil {
		return failed(c.Rel, err)
	}

	km := sh.sealer.Material()

	record, err := newRecord(sealed, km, c.Rel, int64(len(data)), c.ModTime, m.opts.Now()).marshal()
	if err != nil {
		return failed(c.Rel, err)
	}

	output := c.Rel + m.opts.RecordSuffix
	recordPath := filepath.Join(job.DestinationRoot, filepath.FromSlash(output))
	keyPath := filepath.Join(job.DestinationRoot, filepath.FromSlash(c.Rel+m.opts.KeySuffix))

	// The key lands first so a record never exists without its key.
	if err := fileutil.WriteFile(m.opts.Fs, keyPath, sh.artifact, keyPerm); err != nil {
		return failed(c.Rel, fmt.Errorf("%w: writing key: %w", ErrFileAccess, err))
	}

	if err := fileutil.WriteFile(m.opts.Fs, recordPath, record, recordPerm); err != nil {
		return failed(c.Rel, fmt.Errorf("%w: writing record: %w", ErrFileAccess, err))
	}

	if m.opts.PreserveTimestamps {
		if _, err := fileutil.FinalizeOutput(m.opts.Fs, recordPath, true, c.ModTime); err != nil {
			return failed(c.Rel, fmt.Errorf("%w: %w", ErrFileAccess, err))
		}
	}

	return Result{
		Path:             c.Rel,
		Status:           StatusSucceeded,
		Output:           output,
		OriginalFilename: path.Base(c.Rel),
		Size:             int64(len(data)),
		KeyID:            km.KeyID(),
	}
}

// decryptFile opens one record with its paired key artifact.
func (m *Manager) decryptFile(job *Job, c filter.Candidate) Result {
	data, err := afero.ReadFile(m.opts.Fs, c.Path)
	if err != nil {
		return failed(c.Rel, fmt.Errorf("%w: reading: %w", ErrFileAccess, err))
	}

	record, err := parseRecord(data)
	if err != nil {
		return failed(c.Rel, err)
	}

	keyPath := strings.TrimSuffix(c.Path, m.opts.RecordSuffix) + m.opts.KeySuffix

	keyData, err := afero.ReadFile(m.opts.Fs, keyPath)
	if err != nil {
		return failed(c.Rel, fmt.Errorf("%w: reading key: %w", ErrFileAccess, err))
	}

	artifact, err := keys.ParseArtifact(keyData)
	if err != nil {
		return failed(c.Rel, err)
	}

	km, err := artifact.Open(m.opts.Vault)
	if err != nil {
		return failed(c.Rel, err)
	}

	defer km.Wipe()

	if km.KeyID() != record.KeyID || km.Params().Scheme() != record.Scheme {
		return failed(c.Rel, fmt.Errorf("%w: record was not made with key %s", ErrMalformedRecord, km.KeyID()))
	}

	plaintext, err := encryption.Decrypt(record.Ciphertext, record.Tag.MAC, km, record.Nonce)
	if err != nil {
		return failed(c.Rel, err)
	}

	defer keys.ZeroBytes(plaintext)

	if int64(len(plaintext)) != record.FileSize {
		return failed(c.Rel, fmt.Errorf("%w: plaintext is %d bytes, record says %d",
			ErrMalformedRecord, len(plaintext), record.FileSize))
	}

	output := path.Join(path.Dir(c.Rel), record.OriginalFilename)
	outPath := filepath.Join(job.DestinationRoot, filepath.FromSlash(output))

	if err := fileutil.WriteFile(m.opts.Fs, outPath, plaintext, plaintextPerm); err != nil {
		return failed(c.Rel, fmt.Errorf("%w: writing plaintext: %w", ErrFileAccess, err))
	}

	if m.opts.PreserveTimestamps && !record.ModTime.IsZero() {
		if _, err := fileutil.FinalizeOutput(m.opts.Fs, outPath, true, record.ModTime); err != nil {
			return failed(c.Rel, fmt.Errorf("%w: %w", ErrFileAccess, err))
		}
	}

	return Result{
		Path:             c.Rel,
		Status:           StatusSucceeded,
		Output:           output,
		OriginalFilename: record.OriginalFilename,
		Size:             record.FileSize,
		KeyID:            km.KeyID(),
	}
}
