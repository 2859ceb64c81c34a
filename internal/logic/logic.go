// Package logic implements the core business logic for batch encryption and decryption.
package logic

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/idelchi/chaoscrypt/internal/audit"
	"github.com/idelchi/chaoscrypt/internal/batch"
	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/evolution"
	"github.com/idelchi/chaoscrypt/internal/filter"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

// Run is the main logic of the application.
func Run(ctx context.Context, cfg *config.Config) error {
	start := time.Now()
	fsys := afero.NewOsFs()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	includes, excludes, err := loadPatterns(fsys, cfg)
	if err != nil {
		return err
	}

	opts := batch.Options{
		Fs:                 fsys,
		Parallel:           cfg.Parallel,
		Logger:             log,
		Progress:           progress(cfg),
		Params:             chaos.V1(),
		Include:            includes,
		Exclude:            excludes,
		RecordSuffix:       cfg.RecordExt,
		KeySuffix:          cfg.KeyExt,
		PreserveTimestamps: cfg.PreserveTimestamps,
		MinFreeBytes:       cfg.MinFreeBytes(),
	}

	if cfg.AuditLog != "" {
		hook, err := audit.Open(fsys, cfg.AuditLog)
		if err != nil {
			return err
		}

		defer hook.Close() //nolint:errcheck // entries are written unbuffered

		opts.Audit = audit.NewLogger(hook)
	}

	if cfg.Passphrase != "" {
		vault, err := keys.NewVault([]byte(cfg.Passphrase))
		if err != nil {
			return fmt.Errorf("preparing passphrase: %w", err)
		}

		defer vault.Wipe()

		opts.Vault = vault
	}

	policy, err := batch.ParseKeyPolicy(cfg.KeyMode)
	if err != nil {
		return err
	}

	if !cfg.Decrypt && policy == batch.SharedKey {
		scheduler, err := newScheduler(log)
		if err != nil {
			return err
		}

		defer scheduler.Close() //nolint:errcheck // wiping only

		opts.Scheduler = scheduler
	}

	mgr, err := batch.NewManager(opts)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	job, err := dispatch(ctx, fsys, mgr, cfg, policy)
	if err != nil {
		return fmt.Errorf("running logic: %w", err)
	}

	<-job.Drained()

	if cfg.Stats {
		printStats(job, time.Since(start))
	}

	if _, failed, _ := job.Counts(); failed > 0 {
		return fmt.Errorf("%d file(s) failed", failed)
	}

	if job.Canceled {
		return fmt.Errorf("interrupted: %w", context.Canceled)
	}

	return nil
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return log, nil
}

// dispatch runs the folder operation, or the single-file one when the source
// is a regular file.
func dispatch(ctx context.Context, fsys afero.Fs, mgr *batch.Manager, cfg *config.Config, policy batch.KeyPolicy) (*batch.Job, error) {
	info, err := fsys.Stat(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	switch {
	case info.IsDir() && cfg.Decrypt:
		return mgr.DecryptFolder(ctx, cfg.Source, cfg.Destination)
	case info.IsDir():
		return mgr.EncryptFolder(ctx, cfg.Source, cfg.Destination, policy)
	case cfg.Decrypt:
		return mgr.DecryptFile(ctx, cfg.Source, cfg.Destination)
	default:
		return mgr.EncryptFile(ctx, cfg.Source, cfg.Destination, policy)
	}
}

// newScheduler generates the shared material for one run. A run is one job,
// so the material only evolves when a file hits numeric instability.
func newScheduler(log *logrus.Logger) (*evolution.Scheduler, error) {
	initial, err := keys.Generate(rand.Reader, chaos.V1())
	if err != nil {
		return nil, fmt.Errorf("generating shared key material: %w", err)
	}

	scheduler, err := evolution.New(initial, evolution.Options{
		Trigger: evolution.Never,
		Logger:  log,
	})
	if err != nil {
		initial.Wipe()

		return nil, fmt.Errorf("creating key scheduler: %w", err)
	}

	return scheduler, nil
}

// loadPatterns merges CLI and file-based include/exclude patterns.
func loadPatterns(fsys afero.Fs, cfg *config.Config) (includes, excludes []string, err error) {
	includes = append(includes, cfg.Include...)
	excludes = append(excludes, cfg.Exclude...)

	if cfg.IncludeFrom != "" {
		patterns, err := filter.LoadPatterns(fsys, cfg.IncludeFrom)
		if err != nil {
			return nil, nil, fmt.Errorf("loading include patterns: %w", err)
		}

		includes = append(includes, patterns...)
	}

	if cfg.ExcludeFrom != "" {
		patterns, err := filter.LoadPatterns(fsys, cfg.ExcludeFrom)
		if err != nil {
			return nil, nil, fmt.Errorf("loading exclude patterns: %w", err)
		}

		excludes = append(excludes, patterns...)
	}

	return includes, excludes, nil
}

// progress prints one line per finished file. Failures are always printed.
func progress(cfg *config.Config) func(batch.Progress) {
	verb := "Encrypted"
	if cfg.Decrypt {
		verb = "Decrypted"
	}

	return func(p batch.Progress) {
		switch r := p.Result; r.Status {
		case batch.StatusSucceeded:
			if !cfg.Quiet {
				fmt.Printf("[%d/%d] %s %q -> %q\n", p.Index, p.Total, verb, r.Path, r.Output) //nolint:forbidigo
			}
		case batch.StatusSkipped:
			if !cfg.Quiet {
				fmt.Fprintf(os.Stderr, "[%d/%d] Skipped %q: %s\n", p.Index, p.Total, r.Path, r.Message())
			}
		default:
			fmt.Fprintf(os.Stderr, "[%d/%d] Error processing %q: %s\n", p.Index, p.Total, r.Path, r.Message())
		}
	}
}

func printStats(job *batch.Job, duration time.Duration) {
	succeeded, failed, skipped := job.Counts()

	fmt.Fprintf(os.Stderr, "\nStats\n")
	fmt.Fprintf(os.Stderr, "  Scanned:   %d\n", job.Scanned)
	fmt.Fprintf(os.Stderr, "  Excluded:  %d\n", job.Excluded)
	fmt.Fprintf(os.Stderr, "  Processed: %d\n", succeeded)
	fmt.Fprintf(os.Stderr, "  Errors:    %d\n", failed)
	fmt.Fprintf(os.Stderr, "  Skipped:   %d\n", skipped)

	if job.SharedKeyID != "" {
		fmt.Fprintf(os.Stderr, "  Key:       %s\n", job.SharedKeyID)
	}

	//nolint:gosec // Bytes is always non-negative (sum of file sizes)
	fmt.Fprintf(os.Stderr, "  Size:      %s\n", humanize.IBytes(uint64(max(0, job.Bytes()))))
	fmt.Fprintf(os.Stderr, "  Duration:  %s\n", duration.Round(time.Millisecond))
}
