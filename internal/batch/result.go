package batch

import (
	"fmt"
	"time"
)

// Status is the outcome of one file.
type Status string

// Possible statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result represents the outcome of processing a single file.
type Result struct {
	// Input path relative to the source root
	Path string

	Status Status

	// Output path relative to the destination root
	Output string

	// Base name of the plaintext file
	OriginalFilename string

	// Plaintext size in bytes
	Size int64

	// Key the file was sealed or opened with
	KeyID string

	Kind Kind

	// Any error that occurred during processing
	Err error
}

// Message renders the error as "<Kind>: <cause>", or "" on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}

	return fmt.Sprintf("%s: %v", r.Kind, r.Err)
}

func failed(path string, err error) Result {
	return Result{Path: path, Status: StatusFailed, Kind: KindOf(err), Err: err}
}

func skipped(path string, err error) Result {
	return Result{Path: path, Status: StatusSkipped, Kind: KindOf(err), Err: err}
}

// Progress is reported once per finished file.
type Progress struct {
	// Index counts finished files, starting at 1.
	Index  int
	Total  int
	Path   string
	Result Result
}

// Operation names what a job does.
type Operation string

// Job operations.
const (
	OperationEncrypt Operation = "encrypt"
	OperationDecrypt Operation = "decrypt"
)

// Job describes one batch run and its outcome.
type Job struct {
	Operation       Operation
	SourceRoot      string
	DestinationRoot string
	Policy          KeyPolicy

	// Paths lists the discovered entries relative to SourceRoot, in walk order.
	Paths []string
	// Results holds one entry per path, in the same order.
	Results []Result

	// SharedKeyID identifies the material used for every file in SharedKey mode.
	SharedKeyID string

	// Scanned and Excluded count files seen by discovery and removed by patterns.
	Scanned  int
	Excluded int

	StartedAt  time.Time
	FinishedAt time.Time
	// Canceled is set when at least one file was skipped because the job's
	// context ended.
	Canceled bool

	drained chan struct{}
}

// Drained is closed once the progress callback has been called for every
// result. Jobs return before that happens, so callers that print after the
// progress lines wait on it.
func (j *Job) Drained() <-chan struct{} {
	if j.drained == nil {
		closed := make(chan struct{})
		close(closed)

		return closed
	}

	return j.drained
}

// Counts tallies results by status.
func (j *Job) Counts() (succeeded, failed, skipped int) {
	for _, r := range j.Results {
		switch r.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}

	return succeeded, failed, skipped
}

// Bytes sums the plaintext size of succeeded files.
func (j *Job) Bytes() int64 {
	var total int64

	for _, r := range j.Results {
		if r.Status == StatusSucceeded {
			total += r.Size
		}
	}

	return total
}

// Failed returns the results that did not succeed.
func (j *Job) Failed() []Result {
	var out []Result

	for _, r := range j.Results {
		if r.Status != StatusSucceeded {
			out = append(out, r)
		}
	}

	return out
}
