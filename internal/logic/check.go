package logic

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/idelchi/chaoscrypt/internal/config"
	"github.com/idelchi/chaoscrypt/internal/filter"
)

// RunCheck validates that every include/exclude pattern matches at least one file under the source root.
func RunCheck(cfg *config.Config) error {
	fsys := afero.NewOsFs()

	includes, excludes, err := loadPatterns(fsys, cfg)
	if err != nil {
		return err
	}

	if len(includes) == 0 && len(excludes) == 0 {
		return errors.New("no include or exclude patterns to check")
	}

	listing, err := filter.Walk(fsys, cfg.Source, nil)
	if err != nil {
		return err
	}

	candidates := make([]string, 0, len(listing.Candidates))
	for _, c := range listing.Files() {
		candidates = append(candidates, c.Rel)
	}

	var failures int

	failures += checkPatterns("include", includes, candidates, cfg.Quiet)
	failures += checkPatterns("exclude", excludes, candidates, cfg.Quiet)

	if failures > 0 {
		return fmt.Errorf("%d pattern(s) matched no files", failures)
	}

	return nil
}

// checkPatterns tests each pattern individually against candidates.
// Returns the number of patterns that matched zero files.
func checkPatterns(kind string, patterns, candidates []string, quiet bool) int {
	var failures int

	for _, pattern := range patterns {
		matcher, err := filter.NewMatcher([]string{pattern})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s: invalid pattern: %v\n", kind, pattern, err)

			failures++

			continue
		}

		count := matcher.Count(candidates)[pattern]

		if count == 0 {
			fmt.Fprintf(os.Stderr, "%s: %s: 0 files (ERROR)\n", kind, pattern)

			failures++
		} else if !quiet {
			fmt.Fprintf(os.Stderr, "%s: %s: %d files\n", kind, pattern, count)
		}
	}

	return failures
}
