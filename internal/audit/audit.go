// Package audit keeps a tamper-evident record of encrypt and decrypt events.
//
// Events are logged through a logrus.Logger carrying a Hook. The hook appends
// one JSON line per event, and each line holds the SHA3-256 of its own
// content, which includes the hash of the line before it. Editing, dropping
// or reordering lines breaks the chain and is reported by Verify.
package audit

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/sha3"
)

// ErrBroken is returned when a log does not form an intact chain.
var ErrBroken = errors.New("audit chain broken")

// Genesis is the previous-hash value of the first entry.
var Genesis = strings.Repeat("0", 2*sha3.New256().Size()) //nolint:gochecknoglobals // derived from the digest size

const logPerm os.FileMode = 0o600

// Entry is one line of the log.
type Entry struct {
	Seq    uint64            `json:"seq"`
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields,omitempty"`
	Prev   string            `json:"prev_hash"`
	Hash   string            `json:"hash"`
}

// digest hashes the entry with Hash cleared.
func (e Entry) digest() (string, error) {
	e.Hash = ""

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding audit entry: %w", err)
	}

	sum := sha3.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

// Hook is a logrus hook that appends every entry it fires on to the chain.
type Hook struct {
	mu   sync.Mutex
	w    io.Writer
	seq  uint64
	prev string
}

// NewHook starts a new chain on w.
func NewHook(w io.Writer) *Hook {
	return &Hook{w: w, prev: Genesis}
}

// Open continues the chain stored at path, creating the file if needed.
// An existing log that does not verify is refused.
func Open(fsys afero.Fs, path string) (*Hook, error) {
	hook := &Hook{prev: Genesis}

	existing, err := fsys.Open(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("opening audit log: %w", err)
	default:
		chain, err := Verify(existing)
		existing.Close() //nolint:errcheck,gosec // read only

		if err != nil {
			return nil, fmt.Errorf("audit log %q: %w", path, err)
		}

		hook.seq, hook.prev = chain.Len, chain.Head
	}

	file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, logPerm)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	hook.w = file

	return hook, nil
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *Hook) Fire(e *logrus.Entry) error {
	fields := make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		fields[k] = fmt.Sprint(v)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry := Entry{
		Seq:    h.seq + 1,
		Time:   e.Time.UTC(),
		Event:  e.Message,
		Fields: fields,
		Prev:   h.prev,
	}

	hash, err := entry.digest()
	if err != nil {
		return err
	}

	entry.Hash = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	if _, err := h.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}

	h.seq, h.prev = entry.Seq, entry.Hash

	return nil
}

// Close closes the underlying writer if it is closable.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// NewLogger returns a logger that only feeds hook. Every level is recorded.
func NewLogger(hook *Hook) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.TraceLevel)
	log.AddHook(hook)

	return log
}

// Chain describes a verified log.
type Chain struct {
	// Len is the number of entries.
	Len uint64
	// Head is the hash of the last entry, or Genesis for an empty log.
	Head string
}

// Verify reads a log and checks every link.
func Verify(r io.Reader) (Chain, error) {
	const maxLine = 1 << 20

	chain := Chain{Head: Genesis}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for line := 1; scanner.Scan(); line++ {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return chain, fmt.Errorf("%w: line %d: %w", ErrBroken, line, err)
		}

		if entry.Seq != chain.Len+1 || entry.Prev != chain.Head {
			return chain, fmt.Errorf("%w: line %d does not follow line %d", ErrBroken, line, line-1)
		}

		want, err := entry.digest()
		if err != nil {
			return chain, err
		}

		if want != entry.Hash {
			return chain, fmt.Errorf("%w: line %d was modified", ErrBroken, line)
		}

		chain.Len, chain.Head = entry.Seq, entry.Hash
	}

	if err := scanner.Err(); err != nil {
		return chain, fmt.Errorf("reading audit log: %w", err)
	}

	return chain, nil
}
