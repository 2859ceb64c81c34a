package batch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/evolution"
	"github.com/idelchi/chaoscrypt/internal/fileutil"
	"github.com/idelchi/chaoscrypt/internal/filter"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

// Default artifact suffixes.
const (
	DefaultRecordSuffix = ".encrypted"
	DefaultKeySuffix    = ".keys"
)

const (
	keyPerm       os.FileMode = 0o600
	recordPerm    os.FileMode = 0o640
	plaintextPerm os.FileMode = 0o600
	summaryPerm   os.FileMode = 0o640
)

// Options configures a Manager. The zero value of every field selects a default.
type Options struct {
	// Fs is the filesystem all files are read from and written to.
	Fs afero.Fs
	// Parallel bounds the number of files processed at once.
	Parallel int
	Logger   *logrus.Logger
	// Progress is called once per finished file from a single goroutine.
	Progress func(Progress)
	// Params for newly generated key material.
	Params chaos.Params
	// Scheduler supplies the material for SharedKey jobs.
	Scheduler *evolution.Scheduler
	// Vault seals private keys in new key artifacts and opens sealed ones.
	Vault *keys.Vault
	// Audit receives one Info entry per processed file when set.
	Audit *logrus.Logger

	Include []string
	Exclude []string

	RecordSuffix string
	KeySuffix    string

	// PreserveTimestamps copies the source modification time onto outputs.
	PreserveTimestamps bool

	// MinFreeBytes is checked against FreeSpace(destination) before a job starts.
	MinFreeBytes uint64
	FreeSpace    func(path string) (uint64, error)

	Now     func() time.Time
	Entropy io.Reader
}

// Manager runs batch jobs. It is safe to run several jobs concurrently.
type Manager struct {
	opts Options
	log  *logrus.Logger
}

// NewManager validates opts and fills in defaults.
func NewManager(opts Options) (*Manager, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.Parallel <= 0 {
		opts.Parallel = runtime.NumCPU()
	}

	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}

	if opts.Params.Version() == 0 {
		opts.Params = chaos.V1()
	}

	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}

	if opts.RecordSuffix == "" {
		opts.RecordSuffix = DefaultRecordSuffix
	}

	if opts.KeySuffix == "" {
		opts.KeySuffix = DefaultKeySuffix
	}

	if opts.RecordSuffix == opts.KeySuffix {
		return nil, fmt.Errorf("record and key suffix must differ, both are %q", opts.RecordSuffix)
	}

	if opts.FreeSpace == nil {
		opts.FreeSpace = diskFree
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Entropy == nil {
		opts.Entropy = rand.Reader
	}

	if _, err := filter.New(opts.Include, opts.Exclude); err != nil {
		return nil, err
	}

	return &Manager{opts: opts, log: opts.Logger}, nil
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %q: %w", path, err)
	}

	return usage.Free, nil
}

// EncryptFolder encrypts every regular file under sourceRoot into destRoot.
// The returned error is only non-nil for job-level failures; per-file
// failures are reported in Job.Results.
func (m *Manager) EncryptFolder(ctx context.Context, sourceRoot, destRoot string, policy KeyPolicy) (*Job, error) {
	if err := m.checkPolicy(policy); err != nil {
		return nil, err
	}

	job, err := m.newJob(OperationEncrypt, sourceRoot, destRoot, policy)
	if err != nil {
		return nil, err
	}

	candidates, err := m.prepare(job, m.opts.Include)
	if err != nil {
		return nil, err
	}

	sh, release, err := m.lease(job)
	if err != nil {
		return nil, err
	}

	defer release()

	m.run(ctx, job, candidates, func(c filter.Candidate) Result {
		return m.encryptFile(job, c, sh)
	})

	if policy == SharedKey {
		m.recordUsage(job)
	}

	return job, m.finish(job, EncryptionSummary)
}

// DecryptFolder decrypts every record under sourceRoot into destRoot.
// Include patterns select records by the name of the file they were made from.
func (m *Manager) DecryptFolder(ctx context.Context, sourceRoot, destRoot string) (*Job, error) {
	job, err := m.newJob(OperationDecrypt, sourceRoot, destRoot, PerFileKeys)
	if err != nil {
		return nil, err
	}

	candidates, err := m.prepare(job, filter.WithSuffix(m.opts.Include, m.opts.RecordSuffix))
	if err != nil {
		return nil, err
	}

	m.run(ctx, job, candidates, func(c filter.Candidate) Result {
		return m.decryptFile(job, c)
	})

	return job, m.finish(job, DecryptionSummary)
}

func (m *Manager) checkPolicy(policy KeyPolicy) error {
	switch policy {
	case PerFileKeys:
		return nil
	case SharedKey:
		if m.opts.Scheduler == nil {
			return errors.New("shared key mode requires a scheduler")
		}

		return nil
	default:
		return fmt.Errorf("unknown key policy %v", policy)
	}
}

// lease returns the key state shared by every file of a SharedKey job, or nil
// for PerFileKeys. The returned func releases the lease.
func (m *Manager) lease(job *Job) (*shared, func(), error) {
	if job.Policy != SharedKey {
		return nil, func() {}, nil
	}

	lease, err := m.opts.Scheduler.Acquire()
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring shared key material: %w", err)
	}

	sh, err := m.newShared(lease.Material())
	if err != nil {
		lease.Release()

		return nil, nil, fmt.Errorf("preparing shared key material: %w", err)
	}

	job.SharedKeyID = lease.Material().KeyID()

	return sh, lease.Release, nil
}

// newJob resolves both roots to absolute paths before prepare compares them.
func (m *Manager) newJob(op Operation, sourceRoot, destRoot string, policy KeyPolicy) (*Job, error) {
	src, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}

	dst, err := filepath.Abs(destRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving destination root: %w", err)
	}

	return &Job{
		Operation:       op,
		SourceRoot:      src,
		DestinationRoot: dst,
		Policy:          policy,
		StartedAt:       m.opts.Now(),
	}, nil
}

// prepare runs the job-level checks and discovery. Nothing is left in the
// destination except the created directory.
func (m *Manager) prepare(job *Job, includes []string) ([]filter.Candidate, error) {
	if job.SourceRoot == job.DestinationRoot {
		return nil, fmt.Errorf("source and destination are the same directory %q", job.SourceRoot)
	}

	info, err := m.opts.Fs.Stat(job.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("source root %q is not a directory", job.SourceRoot)
	}

	if err := m.checkDestination(job.DestinationRoot); err != nil {
		return nil, err
	}

	flt, err := filter.New(includes, m.opts.Exclude)
	if err != nil {
		return nil, err
	}

	var skip []string
	if within(job.SourceRoot, job.DestinationRoot) {
		skip = append(skip, job.DestinationRoot)
	}

	listing, err := filter.Walk(m.opts.Fs, job.SourceRoot, flt, skip...)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}

	job.Scanned = listing.Scanned
	job.Excluded = listing.Excluded

	for _, c := range listing.Candidates {
		job.Paths = append(job.Paths, c.Rel)

		if c.Err != nil {
			m.log.WithFields(logrus.Fields{"path": c.Rel, "operation": job.Operation}).
				WithError(c.Err).Warn("skipping entry")
		}
	}

	return listing.Candidates, nil
}

// checkDestination creates the destination root, proves it is writable and
// checks the free-space threshold.
func (m *Manager) checkDestination(root string) error {
	const dirPerm = 0o750

	if err := m.opts.Fs.MkdirAll(root, dirPerm); err != nil {
		return fmt.Errorf("%w: creating destination %q: %w", ErrFileAccess, root, err)
	}

	marker, err := afero.TempFile(m.opts.Fs, root, ".writable-*")
	if err != nil {
		return fmt.Errorf("%w: destination %q is not writable: %w", ErrFileAccess, root, err)
	}

	marker.Close()                  //nolint:gosec // empty marker file
	m.opts.Fs.Remove(marker.Name()) //nolint:gosec // best-effort cleanup

	if m.opts.MinFreeBytes == 0 {
		return nil
	}

	free, err := m.opts.FreeSpace(root)
	if err != nil {
		return fmt.Errorf("checking free space: %w", err)
	}

	if free < m.opts.MinFreeBytes {
		return fmt.Errorf("%w: %s free at %q, need %s", ErrInsufficientSpace,
			humanize.IBytes(free), root, humanize.IBytes(m.opts.MinFreeBytes))
	}

	return nil
}

// run processes candidates on the worker pool. Results are aggregated by a
// single collector goroutine and forwarded to a progress dispatcher. run
// returns once every result is collected; the dispatcher may still be
// delivering progress, see Job.Drained.
func (m *Manager) run(ctx context.Context, job *Job, candidates []filter.Candidate, process func(filter.Candidate) Result) {
	type indexed struct {
		index  int
		result Result
	}

	total := len(candidates)
	job.Results = make([]Result, total)

	results := make(chan indexed, total)
	progress := make(chan Progress, total)

	collected := make(chan struct{})
	job.drained = make(chan struct{})

	go func() {
		defer close(job.drained)

		for p := range progress {
			if m.opts.Progress != nil {
				m.opts.Progress(p)
			}
		}
	}()

	go func() {
		defer close(collected)
		defer close(progress)

		finished := 0

		for res := range results {
			finished++
			job.Results[res.index] = res.result

			m.logResult(job, res.result)
			m.audit(job, res.result)

			progress <- Progress{Index: finished, Total: total, Path: res.result.Path, Result: res.result}
		}
	}()

	group := errgroup.Group{}
	group.SetLimit(m.opts.Parallel)

	for i, c := range candidates {
		if c.Err != nil {
			results <- indexed{i, skipped(c.Rel, c.Err)}

			continue
		}

		if err := ctx.Err(); err != nil {
			results <- indexed{i, skipped(c.Rel, err)}

			continue
		}

		group.Go(func() error {
			// Files queued before cancellation are still dropped if they have not started.
			if err := ctx.Err(); err != nil {
				results <- indexed{i, skipped(c.Rel, err)}

				return nil
			}

			results <- indexed{i, process(c)}

			return nil
		})
	}

	group.Wait() //nolint:errcheck // workers report through results and always return nil

	close(results)

	<-collected

	for _, r := range job.Results {
		if r.Kind == KindCanceled {
			job.Canceled = true

			break
		}
	}
}

func (m *Manager) logResult(job *Job, r Result) {
	entry := m.log.WithFields(logrus.Fields{
		"operation": job.Operation,
		"path":      r.Path,
		"status":    r.Status,
	})

	if r.Err != nil {
		entry.WithField("kind", r.Kind).WithError(r.Err).Debug("file not processed")

		return
	}

	entry.WithField("output", r.Output).Debug("file processed")
}

// audit appends the outcome of one file to the audit log.
func (m *Manager) audit(job *Job, r Result) {
	if m.opts.Audit == nil {
		return
	}

	entry := m.opts.Audit.WithFields(logrus.Fields{
		"source_root":      job.SourceRoot,
		"destination_root": job.DestinationRoot,
		"path":             r.Path,
		"status":           r.Status,
	})

	if r.KeyID != "" {
		entry = entry.WithField("key_id", r.KeyID)
	}

	if r.Err != nil {
		entry = entry.WithField("kind", r.Kind).WithError(r.Err)
	} else {
		entry = entry.WithField("output", r.Output)
	}

	entry.Info(string(job.Operation))
}

// recordUsage charges the job to the shared material and retires it when a
// file hit a numerically unstable keystream.
func (m *Manager) recordUsage(job *Job) {
	succeeded, _, _ := job.Counts()

	if _, err := m.opts.Scheduler.Record(job.Bytes(), succeeded); err != nil {
		m.log.WithError(err).Warn("recording key usage")
	}

	for _, r := range job.Results {
		if r.Kind == KindNumericInstability {
			if err := m.opts.Scheduler.Evolve(); err != nil {
				m.log.WithError(err).Warn("forced key evolution failed")
			}

			return
		}
	}
}

// finish stamps the job and writes its summary.
func (m *Manager) finish(job *Job, name string) error {
	job.FinishedAt = m.opts.Now()

	succeeded, failed, skippedCount := job.Counts()

	m.log.WithFields(logrus.Fields{
		"operation": job.Operation,
		"total":     len(job.Results),
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skippedCount,
		"canceled":  job.Canceled,
		"duration":  job.FinishedAt.Sub(job.StartedAt),
	}).Info("batch finished")

	data, err := NewSummary(job).Marshal()
	if err != nil {
		return err
	}

	if err := fileutil.WriteFile(m.opts.Fs, filepath.Join(job.DestinationRoot, name), data, summaryPerm); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return nil
}

// within reports whether path lies strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
