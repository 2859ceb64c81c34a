package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/idelchi/chaoscrypt/internal/filter"
)

// EncryptFile encrypts one regular file into destRoot, writing
// <name><RecordSuffix> and its key artifact there. No summary is written.
// The job holds exactly one result.
func (m *Manager) EncryptFile(ctx context.Context, sourcePath, destRoot string, policy KeyPolicy) (*Job, error) {
	if err := m.checkPolicy(policy); err != nil {
		return nil, err
	}

	job, c, err := m.prepareFile(OperationEncrypt, sourcePath, destRoot, policy)
	if err != nil {
		return nil, err
	}

	sh, release, err := m.lease(job)
	if err != nil {
		return nil, err
	}

	defer release()

	m.run(ctx, job, []filter.Candidate{c}, func(c filter.Candidate) Result {
		return m.encryptFile(job, c, sh)
	})

	if policy == SharedKey {
		m.recordUsage(job)
	}

	job.FinishedAt = m.opts.Now()

	return job, nil
}

// DecryptFile opens one record, reading the key artifact next to it, and
// writes the plaintext into destRoot under its original name.
func (m *Manager) DecryptFile(ctx context.Context, recordPath, destRoot string) (*Job, error) {
	if !strings.HasSuffix(recordPath, m.opts.RecordSuffix) {
		return nil, fmt.Errorf("%q is not a record, expected suffix %q", recordPath, m.opts.RecordSuffix)
	}

	job, c, err := m.prepareFile(OperationDecrypt, recordPath, destRoot, PerFileKeys)
	if err != nil {
		return nil, err
	}

	m.run(ctx, job, []filter.Candidate{c}, func(c filter.Candidate) Result {
		return m.decryptFile(job, c)
	})

	job.FinishedAt = m.opts.Now()

	return job, nil
}

// prepareFile builds a job rooted at the file's directory. Include and
// exclude patterns do not apply to an explicitly named file.
func (m *Manager) prepareFile(op Operation, file, destRoot string, policy KeyPolicy) (*Job, filter.Candidate, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, filter.Candidate{}, fmt.Errorf("resolving source: %w", err)
	}

	job, err := m.newJob(op, filepath.Dir(abs), destRoot, policy)
	if err != nil {
		return nil, filter.Candidate{}, err
	}

	info, err := m.opts.Fs.Stat(abs)
	if err != nil {
		return nil, filter.Candidate{}, fmt.Errorf("source: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, filter.Candidate{}, fmt.Errorf("source %q is not a regular file", abs)
	}

	if err := m.checkDestination(job.DestinationRoot); err != nil {
		return nil, filter.Candidate{}, err
	}

	c := filter.Candidate{
		Path:    abs,
		Rel:     filepath.Base(abs),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	job.Scanned = 1
	job.Paths = []string{c.Rel}

	return job, c, nil
}
