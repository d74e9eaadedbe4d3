// Package ingestion runs the scrape, compare, download and load pipeline.
package ingestion

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"cbstrade/pkg/contracts/domain"
)

// Decision is the change detection outcome for one table entry.
type Decision string

const (
	// DecisionNew: no metadata stored for the file.
	DecisionNew Decision = "new"
	// DecisionSkip: stored watermark matches.
	DecisionSkip Decision = "skip"
	// DecisionUpdated: the published last update date changed.
	DecisionUpdated Decision = "updated"
	// DecisionRetry: watermark matches but the last attempt did not parse.
	DecisionRetry Decision = "retry"
)

// Fetch reports whether the entry has to be downloaded and processed.
func (d Decision) Fetch() bool {
	return d != DecisionSkip
}

// Decide compares a table entry with the stored metadata for the same key.
// With retryFailed set, a file whose last attempt was not parsed is fetched
// again even when its watermark is unchanged.
func Decide(existing *domain.FileMetadata, entry domain.TableEntry, retryFailed bool) Decision {
	switch {
	case existing == nil:
		return DecisionNew
	case existing.LastUpdateDate != entry.LastUpdateDate:
		return DecisionUpdated
	case retryFailed && !existing.Parsed:
		return DecisionRetry
	default:
		return DecisionSkip
	}
}

// ResolveLink qualifies link against the site URL and returns the absolute
// download URL and the file name taken from its last path segment.
func ResolveLink(site *url.URL, link string) (string, string, error) {
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", fmt.Errorf("invalid download link %q: %w", link, err)
	}
	abs := site.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported download link scheme %q", abs.Scheme)
	}

	name := path.Base(abs.Path)
	if name == "" || name == "/" || name == "." {
		return "", "", fmt.Errorf("download link %q has no file name", link)
	}
	return abs.String(), name, nil
}
