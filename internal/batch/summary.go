package batch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Summary file names written at the destination root.
const (
	EncryptionSummary = "encryption_summary.json"
	DecryptionSummary = "decryption_summary.json"
)

// Summary is the JSON report of a finished job.
type Summary struct {
	Operation       Operation       `json:"operation"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	SourceRoot      string          `json:"source_root"`
	DestinationRoot string          `json:"destination_root"`
	KeyMode         string          `json:"key_mode"`
	SharedKeys      []string        `json:"shared_keys"`
	TotalFiles      int             `json:"total_files"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Skipped         int             `json:"skipped"`
	Canceled        bool            `json:"canceled"`
	Results         []SummaryResult `json:"results"`
}

// SummaryResult is one file's line in the summary.
type SummaryResult struct {
	Path             string `json:"path"`
	Status           Status `json:"status"`
	Output           string `json:"output,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Size             int64  `json:"size"`
	KeyID            string `json:"key_id,omitempty"`
	ErrorKind        Kind   `json:"error_kind,omitempty"`
	Error            string `json:"error,omitempty"`
}

// NewSummary builds the report for job.
func NewSummary(job *Job) *Summary {
	succeeded, failed, skipped := job.Counts()

	s := &Summary{
		Operation:       job.Operation,
		StartedAt:       job.StartedAt.UTC(),
		FinishedAt:      job.FinishedAt.UTC(),
		SourceRoot:      job.SourceRoot,
		DestinationRoot: job.DestinationRoot,
		KeyMode:         job.Policy.String(),
		SharedKeys:      []string{},
		TotalFiles:      len(job.Results),
		Succeeded:       succeeded,
		Failed:          failed,
		Skipped:         skipped,
		Canceled:        job.Canceled,
		Results:         make([]SummaryResult, 0, len(job.Results)),
	}

	if job.SharedKeyID != "" {
		s.SharedKeys = append(s.SharedKeys, job.SharedKeyID)
	}

	for _, r := range job.Results {
		s.Results = append(s.Results, SummaryResult{
			Path:             r.Path,
			Status:           r.Status,
			Output:           r.Output,
			OriginalFilename: r.OriginalFilename,
			Size:             r.Size,
			KeyID:            r.KeyID,
			ErrorKind:        r.Kind,
			Error:            r.Message(),
		})
	}

	return s
}

// Marshal encodes the summary as indented JSON.
func (s *Summary) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}

	return append(data, '\n'), nil
}
