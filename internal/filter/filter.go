// Package filter discovers the files a batch operates on: a recursive walk
// over an afero filesystem with find -path include/exclude patterns.
// Symlinks, special files and unreadable directories are reported, not followed.
package filter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrUnsupported marks entries that are not regular files or directories.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrUnreadable marks entries the walk could not stat or list.
	ErrUnreadable = errors.New("unreadable entry")
)

// Filter selects files by relative slash-separated path.
// Empty includes match everything. Excludes always win.
type Filter struct {
	includes *Matcher
	excludes *Matcher
}

// New compiles include/exclude patterns into a reusable filter.
func New(includes, excludes []string) (*Filter, error) {
	inc, err := NewMatcher(includes)
	if err != nil {
		return nil, fmt.Errorf("compiling include patterns: %w", err)
	}

	exc, err := NewMatcher(excludes)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns: %w", err)
	}

	return &Filter{includes: inc, excludes: exc}, nil
}

// Match reports whether rel should be processed.
func (f *Filter) Match(rel string) bool {
	if f == nil {
		return true
	}

	included := f.includes.Len() == 0 || f.includes.MatchAny(rel)

	return included && !f.excludes.MatchAny(rel)
}

// Candidate is one discovered entry. Err is set for entries that must be
// reported but not processed.
type Candidate struct {
	// Path is the entry's path on the filesystem.
	Path string
	// Rel is Path relative to the walk root, slash separated.
	Rel     string
	Size    int64
	ModTime time.Time
	Err     error
}

// Listing is the result of a walk, in lexical order.
type Listing struct {
	Candidates []Candidate
	Scanned    int
	Excluded   int
}

// Files returns the candidates without errors.
func (l *Listing) Files() []Candidate {
	var files []Candidate

	for _, c := range l.Candidates {
		if c.Err == nil {
			files = append(files, c)
		}
	}

	return files
}

// Walk lists root recursively. Directories listed in skip (e.g. a destination
// nested inside the source) are not descended into. The walk only fails when
// root itself is missing or not a directory.
func Walk(fsys afero.Fs, root string, flt *Filter, skip ...string) (*Listing, error) {
	root = filepath.Clean(root)

	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", root, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[filepath.Clean(s)] = struct{}{}
	}

	listing := &Listing{}

	report := func(path string, cause error) {
		rel := relative(root, path)

		listing.Scanned++

		if !flt.Match(rel) {
			listing.Excluded++

			return
		}

		listing.Candidates = append(listing.Candidates, Candidate{Path: path, Rel: rel, Err: cause})
	}

	err = afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}

			report(path, fmt.Errorf("%w: %w", ErrUnreadable, err))

			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		mode := info.Mode()

		switch {
		case mode.IsDir():
			if _, ok := skipped[filepath.Clean(path)]; ok && path != root {
				return filepath.SkipDir
			}

			return nil
		case mode&os.ModeSymlink != 0:
			report(path, fmt.Errorf("%w: symbolic link", ErrUnsupported))
		case !mode.IsRegular():
			report(path, fmt.Errorf("%w: %s", ErrUnsupported, mode.Type()))
		default:
			rel := relative(root, path)

			listing.Scanned++

			if !flt.Match(rel) {
				listing.Excluded++

				return nil
			}

			listing.Candidates = append(listing.Candidates, Candidate{
				Path:    path,
				Rel:     rel,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", root, err)
	}

	return listing, nil
}

func relative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}
