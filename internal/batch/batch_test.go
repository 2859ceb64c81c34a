package batch_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idelchi/chaoscrypt/internal/audit"
	"github.com/idelchi/chaoscrypt/internal/batch"
	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/evolution"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tree(t *testing.T, fsys afero.Fs, root string) map[string][]byte {
	t.Helper()

	large := make([]byte, 10000)
	_, err := rand.Read(large)
	require.NoError(t, err)

	files := map[string][]byte{
		"a.txt":     []byte("hello"),
		"b.bin":     {},
		"sub/c.txt": large,
	}

	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, afero.WriteFile(fsys, p, data, 0o644))
	}

	return files
}

func manager(t *testing.T, opts batch.Options) *batch.Manager {
	t.Helper()

	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}

	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}

	m, err := batch.NewManager(opts)
	require.NoError(t, err)

	return m
}

func readRecord(t *testing.T, fsys afero.Fs, path string) *batch.Record {
	t.Helper()

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)

	var r batch.Record
	require.NoError(t, json.Unmarshal(data, &r))

	return &r
}

func writeRecord(t *testing.T, fsys afero.Fs, path string, r *batch.Record) {
	t.Helper()

	data, err := json.MarshalIndent(r, "", "  ")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, path, data, 0o640))
}

func resultFor(t *testing.T, job *batch.Job, path string) batch.Result {
	t.Helper()

	for _, r := range job.Results {
		if r.Path == path {
			return r
		}
	}

	t.Fatalf("no result for %q", path)

	return batch.Result{}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	files := tree(t, fsys, "/src")

	var (
		mu       sync.Mutex
		progress []batch.Progress
	)

	m := manager(t, batch.Options{
		Fs:       fsys,
		Parallel: 2,
		Progress: func(p batch.Progress) {
			mu.Lock()
			defer mu.Unlock()

			progress = append(progress, p)
		},
	})

	job, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	succeeded, failed, skipped := job.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)
	assert.Equal(t, []string{"a.txt", "b.bin", "sub/c.txt"}, job.Paths)
	assert.Equal(t, int64(10005), job.Bytes())
	assert.False(t, job.Canceled)

	<-job.Drained()

	mu.Lock()
	reported := append([]batch.Progress(nil), progress...)
	mu.Unlock()

	require.Len(t, reported, 3)

	for i, p := range reported {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, 3, p.Total)
	}

	for rel, data := range files {
		record := readRecord(t, fsys, "/enc/"+rel+".encrypted")
		assert.Equal(t, rel, record.RelativePath)
		assert.Equal(t, filepath.Base(rel), record.OriginalFilename)
		assert.Equal(t, int64(len(data)), record.FileSize)
		assert.Equal(t, "chaos-v1", record.Scheme)
		assert.Len(t, record.Nonce, 16)
		assert.Len(t, record.Tag.MAC, 32)

		if len(data) > 0 {
			assert.NotEqual(t, data, []byte(record.Ciphertext))
		}

		info, err := fsys.Stat("/enc/" + rel + ".keys")
		require.NoError(t, err)
		assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())

		info, err = fsys.Stat("/enc/" + rel + ".encrypted")
		require.NoError(t, err)
		assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
	}

	a := readRecord(t, fsys, "/enc/a.txt.encrypted")
	c := readRecord(t, fsys, "/enc/sub/c.txt.encrypted")
	assert.NotEqual(t, a.KeyID, c.KeyID, "per-file keys must differ")

	job, err = m.DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)

	succeeded, _, _ = job.Counts()
	require.Equal(t, 3, succeeded, "%+v", job.Failed())
	assert.Equal(t, []string{"a.txt.encrypted", "b.bin.encrypted", "sub/c.txt.encrypted"}, job.Paths)

	for rel, data := range files {
		got, err := afero.ReadFile(fsys, "/dec/"+rel)
		require.NoError(t, err)
		assert.Equal(t, data, got, rel)

		info, err := fsys.Stat("/dec/" + rel)
		require.NoError(t, err)
		assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
	}

	assert.Equal(t, "sub/c.txt", resultFor(t, job, "sub/c.txt.encrypted").Output)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")
	require.NoError(t, fsys.MkdirAll("/src/dir", 0o750))

	m := manager(t, batch.Options{Fs: fsys, Exclude: []string{"*.bin"}})

	_, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/enc/"+batch.EncryptionSummary)
	require.NoError(t, err)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal(data, &summary))

	assert.Equal(t, batch.OperationEncrypt, summary.Operation)
	assert.Equal(t, "per-file", summary.KeyMode)
	assert.Empty(t, summary.SharedKeys)
	assert.Equal(t, 2, summary.TotalFiles)
	assert.Equal(t, 2, summary.Succeeded)
	assert.True(t, fixedNow.Equal(summary.StartedAt))
	assert.Equal(t, "/src", summary.SourceRoot)
	assert.Equal(t, "/enc", summary.DestinationRoot)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "a.txt.encrypted", summary.Results[0].Output)
	assert.Empty(t, summary.Results[0].Error)

	exists, err := afero.Exists(fsys, "/enc/b.bin.encrypted")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSharedKey(t *testing.T) {
	t.Parallel()

	km, err := keys.Generate(rand.Reader, chaos.V1())
	require.NoError(t, err)

	scheduler, err := evolution.New(km, evolution.Options{Trigger: evolution.AfterFiles(3)})
	require.NoError(t, err)

	t.Cleanup(func() { scheduler.Close() })

	fsys := afero.NewMemMapFs()
	files := tree(t, fsys, "/src")

	m := manager(t, batch.Options{Fs: fsys, Scheduler: scheduler})

	job, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.SharedKey)
	require.NoError(t, err)

	succeeded, _, _ := job.Counts()
	require.Equal(t, 3, succeeded)
	require.NotEmpty(t, job.SharedKeyID)

	for rel := range files {
		assert.Equal(t, job.SharedKeyID, readRecord(t, fsys, "/enc/"+rel+".encrypted").KeyID)
	}

	// Three files make the trigger due, so the shared material moved on.
	assert.Equal(t, uint64(1), scheduler.Counter())
	assert.True(t, km.Wiped())

	data, err := afero.ReadFile(fsys, "/enc/"+batch.EncryptionSummary)
	require.NoError(t, err)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "shared", summary.KeyMode)
	assert.Equal(t, []string{job.SharedKeyID}, summary.SharedKeys)

	job, err = m.DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)

	succeeded, _, _ = job.Counts()
	assert.Equal(t, 3, succeeded, "%+v", job.Failed())

	got, err := afero.ReadFile(fsys, "/dec/sub/c.txt")
	require.NoError(t, err)
	assert.Equal(t, files["sub/c.txt"], got)
}

func TestSharedKeyRequiresScheduler(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	_, err := manager(t, batch.Options{Fs: fsys}).EncryptFolder(context.Background(), "/src", "/enc", batch.SharedKey)
	require.Error(t, err)
}

func TestSealedKeys(t *testing.T) {
	t.Parallel()

	vault := func(pass string) *keys.Vault {
		v, err := keys.NewVault([]byte(pass))
		require.NoError(t, err)

		v.Cost = keys.Cost{Time: 1, MemoryKiB: 64, Threads: 1}

		return v
	}

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/secret.txt", []byte("attack at dawn"), 0o644))

	_, err := manager(t, batch.Options{Fs: fsys, Vault: vault("right")}).
		EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	key, err := afero.ReadFile(fsys, "/enc/secret.txt.keys")
	require.NoError(t, err)
	assert.Contains(t, string(key), `"sealed"`)

	for name, v := range map[string]*keys.Vault{"no passphrase": nil, "wrong passphrase": vault("wrong")} {
		job, err := manager(t, batch.Options{Fs: fsys, Vault: v}).
			DecryptFolder(context.Background(), "/enc", "/dec-"+name)
		require.NoError(t, err)

		r := resultFor(t, job, "secret.txt.encrypted")
		assert.Equal(t, batch.StatusFailed, r.Status, name)
		assert.Equal(t, batch.KindAuthentication, r.Kind, name)
	}

	job, err := manager(t, batch.Options{Fs: fsys, Vault: vault("right")}).
		DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)
	assert.Equal(t, batch.StatusSucceeded, resultFor(t, job, "secret.txt.encrypted").Status)

	got, err := afero.ReadFile(fsys, "/dec/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "attack at dawn", string(got))
}

func TestDecryptFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, fsys afero.Fs)
		kind   batch.Kind
	}{
		{
			name: "tampered ciphertext",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				r := readRecord(t, fsys, "/enc/a.txt.encrypted")
				r.Ciphertext[0] ^= 1
				writeRecord(t, fsys, "/enc/a.txt.encrypted", r)
			},
			kind: batch.KindAuthentication,
		},
		{
			name: "tampered tag",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				r := readRecord(t, fsys, "/enc/a.txt.encrypted")
				r.Tag.MAC[31] ^= 0x80
				writeRecord(t, fsys, "/enc/a.txt.encrypted", r)
			},
			kind: batch.KindAuthentication,
		},
		{
			name: "swapped key",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				other, err := afero.ReadFile(fsys, "/enc/sub/c.txt.keys")
				require.NoError(t, err)
				require.NoError(t, afero.WriteFile(fsys, "/enc/a.txt.keys", other, 0o600))
			},
			kind: batch.KindFormat,
		},
		{
			name: "missing key",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				require.NoError(t, fsys.Remove("/enc/a.txt.keys"))
			},
			kind: batch.KindFileAccess,
		},
		{
			name: "unsafe filename",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				r := readRecord(t, fsys, "/enc/a.txt.encrypted")
				r.OriginalFilename = "../../escape.txt"
				writeRecord(t, fsys, "/enc/a.txt.encrypted", r)
			},
			kind: batch.KindFormat,
		},
		{
			name: "size mismatch",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				r := readRecord(t, fsys, "/enc/a.txt.encrypted")
				r.FileSize++
				writeRecord(t, fsys, "/enc/a.txt.encrypted", r)
			},
			kind: batch.KindFormat,
		},
		{
			name: "not json",
			mutate: func(t *testing.T, fsys afero.Fs) {
				t.Helper()

				require.NoError(t, afero.WriteFile(fsys, "/enc/a.txt.encrypted", []byte("{"), 0o640))
			},
			kind: batch.KindFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fsys := afero.NewMemMapFs()
			tree(t, fsys, "/src")

			m := manager(t, batch.Options{Fs: fsys})

			_, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
			require.NoError(t, err)

			tt.mutate(t, fsys)

			job, err := m.DecryptFolder(context.Background(), "/enc", "/dec")
			require.NoError(t, err)

			r := resultFor(t, job, "a.txt.encrypted")
			assert.Equal(t, batch.StatusFailed, r.Status)
			assert.Equal(t, tt.kind, r.Kind, r.Message())
			assert.Contains(t, r.Message(), string(tt.kind)+": ")

			// Failures stay local to their file.
			assert.Equal(t, batch.StatusSucceeded, resultFor(t, job, "sub/c.txt.encrypted").Status)

			exists, err := afero.Exists(fsys, "/dec/a.txt")
			require.NoError(t, err)
			assert.False(t, exists)

			exists, err = afero.Exists(fsys, "/escape.txt")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

// denyFs refuses to open the listed paths.
type denyFs struct {
	afero.Fs
	denied map[string]bool
}

func (d denyFs) Open(name string) (afero.File, error) {
	if d.denied[filepath.Clean(name)] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}

	return d.Fs.Open(name)
}

func TestUnreadableFile(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()
	tree(t, base, "/src")

	m := manager(t, batch.Options{Fs: denyFs{Fs: base, denied: map[string]bool{"/src/a.txt": true}}})

	job, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	r := resultFor(t, job, "a.txt")
	assert.Equal(t, batch.StatusFailed, r.Status)
	assert.Equal(t, batch.KindFileAccess, r.Kind)
	require.ErrorIs(t, r.Err, os.ErrPermission)

	succeeded, failed, _ := job.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)
}

func TestUnreadableFilesInSummary(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()

	for i := range 8 {
		require.NoError(t, afero.WriteFile(base, fmt.Sprintf("/src/f%d.txt", i), []byte{byte(i)}, 0o644))
	}

	denied := map[string]bool{"/src/f1.txt": true, "/src/f4.txt": true, "/src/f6.txt": true}

	job, err := manager(t, batch.Options{Fs: denyFs{Fs: base, denied: denied}}).
		EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)
	require.Len(t, job.Results, 8)

	data, err := afero.ReadFile(base, "/enc/"+batch.EncryptionSummary)
	require.NoError(t, err)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal(data, &summary))

	assert.Equal(t, 8, summary.TotalFiles)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 3, summary.Failed)

	var accessErrors []string

	for _, r := range summary.Results {
		if r.ErrorKind == batch.KindFileAccess {
			accessErrors = append(accessErrors, r.Path)
		}
	}

	assert.Equal(t, []string{"f1.txt", "f4.txt", "f6.txt"}, accessErrors)

	for path := range denied {
		exists, err := afero.Exists(base, "/enc/"+filepath.Base(path)+".encrypted")
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestSymlinkSkipped(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("data"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")))

	dst := filepath.Join(t.TempDir(), "out")

	m := manager(t, batch.Options{Fs: afero.NewOsFs()})

	job, err := m.EncryptFolder(context.Background(), src, dst, batch.PerFileKeys)
	require.NoError(t, err)

	link := resultFor(t, job, "link.txt")
	assert.Equal(t, batch.StatusSkipped, link.Status)
	assert.Equal(t, batch.KindDiscovery, link.Kind)
	assert.Equal(t, batch.StatusSucceeded, resultFor(t, job, "real.txt").Status)

	assert.NoFileExists(t, filepath.Join(dst, "link.txt.encrypted"))
	assert.FileExists(t, filepath.Join(dst, "real.txt.encrypted"))

	info, err := os.Stat(filepath.Join(dst, "real.txt.keys"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestCanceled(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := manager(t, batch.Options{Fs: fsys}).EncryptFolder(ctx, "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	assert.True(t, job.Canceled)

	_, _, skipped := job.Counts()
	assert.Equal(t, 3, skipped)

	for _, r := range job.Results {
		assert.Equal(t, batch.KindCanceled, r.Kind)
		require.ErrorIs(t, r.Err, context.Canceled)
	}

	data, err := afero.ReadFile(fsys, "/enc/"+batch.EncryptionSummary)
	require.NoError(t, err)

	var summary batch.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.True(t, summary.Canceled)
	assert.Equal(t, 3, summary.Skipped)
}

func TestNestedDestination(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	m := manager(t, batch.Options{Fs: fsys})

	_, err := m.EncryptFolder(context.Background(), "/src", "/src/out", batch.PerFileKeys)
	require.NoError(t, err)

	job, err := m.EncryptFolder(context.Background(), "/src", "/src/out", batch.PerFileKeys)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.bin", "sub/c.txt"}, job.Paths)
}

func TestJobErrors(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	ctx := context.Background()

	_, err := manager(t, batch.Options{Fs: fsys}).EncryptFolder(ctx, "/src", "/src/", batch.PerFileKeys)
	require.Error(t, err, "same root")

	_, err = manager(t, batch.Options{Fs: fsys}).EncryptFolder(ctx, "/missing", "/enc", batch.PerFileKeys)
	require.Error(t, err, "missing source")

	_, err = manager(t, batch.Options{Fs: fsys}).DecryptFolder(ctx, "/src/a.txt", "/enc")
	require.Error(t, err, "source is a file")

	_, err = manager(t, batch.Options{Fs: afero.NewReadOnlyFs(fsys)}).EncryptFolder(ctx, "/src", "/enc", batch.PerFileKeys)
	require.ErrorIs(t, err, batch.ErrFileAccess, "unwritable destination")

	m := manager(t, batch.Options{
		Fs:           fsys,
		MinFreeBytes: 1 << 30,
		FreeSpace:    func(string) (uint64, error) { return 1 << 20, nil },
	})

	_, err = m.EncryptFolder(ctx, "/src", "/enc", batch.PerFileKeys)
	require.ErrorIs(t, err, batch.ErrInsufficientSpace)
	assert.Contains(t, err.Error(), "1.0 MiB")

	exists, err := afero.Exists(fsys, "/enc/a.txt.encrypted")
	require.NoError(t, err)
	assert.False(t, exists)

	m = manager(t, batch.Options{
		Fs:           fsys,
		MinFreeBytes: 1,
		FreeSpace:    func(string) (uint64, error) { return 0, errors.New("no statfs") },
	})

	_, err = m.EncryptFolder(ctx, "/src", "/enc", batch.PerFileKeys)
	require.Error(t, err)
}

func TestNewManagerRejects(t *testing.T) {
	t.Parallel()

	_, err := batch.NewManager(batch.Options{Exclude: []string{"[z-a]"}})
	require.Error(t, err)

	_, err = batch.NewManager(batch.Options{RecordSuffix: ".x", KeySuffix: ".x"})
	require.Error(t, err)
}

func TestPreserveTimestamps(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/old.txt", []byte("old"), 0o644))

	mtime := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, fsys.Chtimes("/src/old.txt", mtime, mtime))

	m := manager(t, batch.Options{Fs: fsys, PreserveTimestamps: true})

	_, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	record := readRecord(t, fsys, "/enc/old.txt.encrypted")
	assert.True(t, mtime.Equal(record.ModTime))

	_, err = m.DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)

	info, err := fsys.Stat("/dec/old.txt")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()), info.ModTime())
}

func TestIncludeOnDecrypt(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	_, err := manager(t, batch.Options{Fs: fsys}).EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	job, err := manager(t, batch.Options{Fs: fsys, Include: []string{"*.txt"}}).
		DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt.encrypted", "sub/c.txt.encrypted"}, job.Paths)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want batch.Kind
	}{
		{nil, ""},
		{context.Canceled, batch.KindCanceled},
		{chaos.ErrSeedValidation, batch.KindSeedValidation},
		{chaos.ErrNumericInstability, batch.KindNumericInstability},
		{keys.ErrUnseal, batch.KindAuthentication},
		{keys.ErrMalformed, batch.KindFormat},
		{batch.ErrMalformedRecord, batch.KindFormat},
		{os.ErrNotExist, batch.KindFileAccess},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, batch.KindOf(tt.err), "%v", tt.err)
	}
}

func TestParseKeyPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []batch.KeyPolicy{batch.PerFileKeys, batch.SharedKey} {
		got, err := batch.ParseKeyPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := batch.ParseKeyPolicy("rotating")
	require.Error(t, err)
}

// gateFs cancels a context when the nth source file is opened.
type gateFs struct {
	afero.Fs
	after  int32
	cancel context.CancelFunc
	opened atomic.Int32
}

func (g *gateFs) Open(name string) (afero.File, error) {
	if strings.HasSuffix(name, ".txt") && g.opened.Add(1) == g.after {
		g.cancel()
	}

	return g.Fs.Open(name)
}

func TestCancelMidJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		after     int32
		succeeded int
		canceled  bool
	}{
		{name: "after two files", after: 2, succeeded: 2, canceled: true},
		{name: "while the last file runs", after: 6, succeeded: 6, canceled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := afero.NewMemMapFs()

			for i := range 6 {
				require.NoError(t, afero.WriteFile(base, fmt.Sprintf("/src/f%d.txt", i), []byte("data"), 0o644))
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			fsys := &gateFs{Fs: base, after: tt.after, cancel: cancel}

			job, err := manager(t, batch.Options{Fs: fsys, Parallel: 1}).
				EncryptFolder(ctx, "/src", "/enc", batch.PerFileKeys)
			require.NoError(t, err)

			succeeded, failed, skipped := job.Counts()
			assert.Equal(t, tt.succeeded, succeeded)
			assert.Zero(t, failed)
			assert.Equal(t, 6-tt.succeeded, skipped)
			assert.Equal(t, tt.canceled, job.Canceled)

			for i, r := range job.Results {
				if i < tt.succeeded {
					assert.Equal(t, batch.StatusSucceeded, r.Status, r.Path)

					continue
				}

				assert.Equal(t, batch.KindCanceled, r.Kind, r.Path)
			}

			data, err := afero.ReadFile(base, "/enc/"+batch.EncryptionSummary)
			require.NoError(t, err)

			var summary batch.Summary
			require.NoError(t, json.Unmarshal(data, &summary))
			assert.Equal(t, tt.canceled, summary.Canceled)
			assert.Equal(t, tt.succeeded, summary.Succeeded)
		})
	}
}

func TestBlockedProgress(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	release := make(chan struct{})

	var calls atomic.Int32

	m := manager(t, batch.Options{
		Fs: fsys,
		Progress: func(batch.Progress) {
			calls.Add(1)
			<-release
		},
	})

	var (
		job  *batch.Job
		err  error
		done = make(chan struct{})
	)

	go func() {
		defer close(done)

		job, err = m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		close(release)
		t.Fatal("job waited for the progress handler")
	}

	require.NoError(t, err)

	succeeded, _, _ := job.Counts()
	assert.Equal(t, 3, succeeded)

	exists, err := afero.Exists(fsys, "/enc/"+batch.EncryptionSummary)
	require.NoError(t, err)
	assert.True(t, exists, "summary must not wait for the progress handler")

	select {
	case <-job.Drained():
		t.Fatal("drained while the handler is still blocked")
	default:
	}

	close(release)
	<-job.Drained()

	assert.Equal(t, int32(3), calls.Load())
}

// Roots given relative to the working directory are compared with absolute ones.
func TestRelativeRoots(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	t.Chdir(dir)

	fsys := afero.NewOsFs()
	tree(t, fsys, "src")

	m := manager(t, batch.Options{Fs: fsys})
	ctx := context.Background()

	nested := filepath.Join(dir, "src", "enc")

	for range 2 {
		job, err := m.EncryptFolder(ctx, "src", nested, batch.PerFileKeys)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.bin", "sub/c.txt"}, job.Paths)
		assert.Equal(t, filepath.Join(dir, "src"), job.SourceRoot)
	}

	_, err = m.EncryptFolder(ctx, "src", filepath.Join(dir, "src"), batch.PerFileKeys)
	require.Error(t, err)

	_, err = m.EncryptFolder(ctx, filepath.Join(dir, "src"), "./src/", batch.PerFileKeys)
	require.Error(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "src", "a.txt.encrypted"))
	assert.NoFileExists(t, filepath.Join(dir, "src", batch.EncryptionSummary))
}

func TestSingleFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	files := tree(t, fsys, "/src")

	// Patterns only shape discovery, a named file is always processed.
	m := manager(t, batch.Options{Fs: fsys, Exclude: []string{"*.txt"}})
	ctx := context.Background()

	job, err := m.EncryptFile(ctx, "/src/sub/c.txt", "/out", batch.PerFileKeys)
	require.NoError(t, err)
	require.Len(t, job.Results, 1)

	encrypted := job.Results[0]
	assert.Equal(t, batch.StatusSucceeded, encrypted.Status)
	assert.Equal(t, "c.txt.encrypted", encrypted.Output)
	assert.NotEmpty(t, encrypted.KeyID)
	assert.Equal(t, "/src/sub", job.SourceRoot)

	for _, name := range []string{"/out/c.txt.encrypted", "/out/c.txt.keys"} {
		exists, err := afero.Exists(fsys, name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	exists, err := afero.Exists(fsys, "/out/"+batch.EncryptionSummary)
	require.NoError(t, err)
	assert.False(t, exists)

	job, err = m.DecryptFile(ctx, "/out/c.txt.encrypted", "/plain")
	require.NoError(t, err)
	require.Len(t, job.Results, 1)
	assert.Equal(t, batch.StatusSucceeded, job.Results[0].Status, "%v", job.Results[0].Err)
	assert.Equal(t, encrypted.KeyID, job.Results[0].KeyID)

	got, err := afero.ReadFile(fsys, "/plain/c.txt")
	require.NoError(t, err)
	assert.Equal(t, files["sub/c.txt"], got)

	_, err = m.EncryptFile(ctx, "/src/sub", "/out", batch.PerFileKeys)
	require.Error(t, err, "directory")

	_, err = m.EncryptFile(ctx, "/src/missing.txt", "/out", batch.PerFileKeys)
	require.Error(t, err, "missing")

	_, err = m.EncryptFile(ctx, "/src/a.txt", "/out", batch.SharedKey)
	require.Error(t, err, "no scheduler")

	_, err = m.DecryptFile(ctx, "/src/a.txt", "/plain")
	require.Error(t, err, "not a record")

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	job, err = m.EncryptFile(canceled, "/src/a.txt", "/out", batch.PerFileKeys)
	require.NoError(t, err)
	assert.True(t, job.Canceled)
	assert.Equal(t, batch.KindCanceled, job.Results[0].Kind)
}

func TestAuditLog(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	tree(t, fsys, "/src")

	var buf bytes.Buffer

	m := manager(t, batch.Options{Fs: fsys, Audit: audit.NewLogger(audit.NewHook(&buf))})

	_, err := m.EncryptFolder(context.Background(), "/src", "/enc", batch.PerFileKeys)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/enc/a.txt.keys", []byte("{}"), 0o600))

	_, err = m.DecryptFolder(context.Background(), "/enc", "/dec")
	require.NoError(t, err)

	chain, err := audit.Verify(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), chain.Len)

	var entries []audit.Entry

	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))

		entries = append(entries, e)
	}

	require.Len(t, entries, 6)

	statuses := map[string]string{}

	for _, e := range entries[:3] {
		assert.Equal(t, "encrypt", e.Event)
		assert.NotEmpty(t, e.Fields["key_id"])
		assert.Equal(t, "/src", e.Fields["source_root"])
	}

	for _, e := range entries[3:] {
		assert.Equal(t, "decrypt", e.Event)

		statuses[e.Fields["path"]] = e.Fields["status"]
	}

	assert.Equal(t, map[string]string{
		"a.txt.encrypted":     "failed",
		"b.bin.encrypted":     "succeeded",
		"sub/c.txt.encrypted": "succeeded",
	}, statuses)
}
