package scholar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/papertrawl/papertrawl/internal/fingerprint"
)

// SearchSpec is the immutable description of one logical search.
type SearchSpec struct {
	// IncludeTerms must all be present in matching results. Required.
	IncludeTerms []string `json:"include_terms"`
	// ExcludeTerms are filtered out of matching results. May be empty.
	ExcludeTerms []string `json:"exclude_terms,omitempty"`
	// StartYear and EndYear bound the publication year. Zero means unset.
	StartYear int `json:"start_year,omitempty"`
	EndYear   int `json:"end_year,omitempty"`
	// MaxResults caps the total number of unique records. Zero means unlimited.
	MaxResults int `json:"max_results,omitempty"`
}

// Validate enforces the SearchSpec invariants.
func (s SearchSpec) Validate() error {
	terms := 0
	for _, t := range s.IncludeTerms {
		if strings.TrimSpace(t) != "" {
			terms++
		}
	}
	if terms == 0 {
		return errors.New("at least one include term is required")
	}
	if s.StartYear != 0 && s.EndYear != 0 && s.StartYear > s.EndYear {
		return fmt.Errorf("start year %d is after end year %d", s.StartYear, s.EndYear)
	}
	if s.MaxResults < 0 {
		return errors.New("max results must be >= 0")
	}
	return nil
}

// Years returns the ascending list of per-year sub-queries. When the spec does
// not carry both bounds the whole search runs as a single sub-query and the
// returned slice holds the zero sentinel.
func (s SearchSpec) Years() []int {
	if s.StartYear == 0 || s.EndYear == 0 {
		return []int{0}
	}
	years := make([]int, 0, s.EndYear-s.StartYear+1)
	for y := s.StartYear; y <= s.EndYear; y++ {
		years = append(years, y)
	}
	return years
}

// Record is one extracted bibliographic entry.
type Record struct {
	Title     string `json:"title"`
	Authors   string `json:"authors,omitempty"`
	Year      int    `json:"year,omitempty"`
	Source    string `json:"source,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Citations int    `json:"citations"`
	Abstract  string `json:"abstract,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Fingerprint returns the dedup identity of the record: the content-addressed
// digest of its normalized title. Empty when the title normalizes to nothing.
func (r Record) Fingerprint() string {
	return fingerprint.Title(r.Title)
}

// Checkpoint is the minimal resumable cursor for a decomposition run. It is
// written after a page is fully processed and before the next page request is
// issued, so the worst-case replay on resume is a single page.
type Checkpoint struct {
	// Year is the sub-query year the cursor points into; zero means the run
	// is not split by year.
	Year int `json:"year"`
	// Offset is the record offset of the next page to request.
	Offset int `json:"offset"`
	// Count is the number of unique records emitted so far.
	Count int `json:"count"`
	// Seen holds the sorted title digests of every record emitted so far, so
	// resumption never re-emits a duplicate.
	Seen []string `json:"seen,omitempty"`
}

// IsZero reports whether the checkpoint describes a fresh run.
func (c Checkpoint) IsZero() bool {
	return c.Year == 0 && c.Offset == 0 && c.Count == 0 && len(c.Seen) == 0
}

// SeenSet materializes the seen digests as a membership set.
func (c Checkpoint) SeenSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Seen))
	for _, d := range c.Seen {
		set[d] = struct{}{}
	}
	return set
}

func seenSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// JobStatus represents the lifecycle state of a search job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Resumable reports whether a job in this status may re-enter running.
func (s JobStatus) Resumable() bool {
	switch s {
	case JobStatusPending, JobStatusPaused, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCanceled
}

// Job is the metadata persisted for each submitted search.
type Job struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Spec          SearchSpec `json:"spec"`
	Status        JobStatus  `json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	Progress      float64    `json:"progress"`
	RecordsFound  int        `json:"records_found"`
	Checkpoint    Checkpoint `json:"checkpoint"`
	ErrorText     string     `json:"error_text,omitempty"`
	RetryCount    int        `json:"retry_count"`
	Submitted     time.Time  `json:"submitted_at"`
	Started       *time.Time `json:"started_at,omitempty"`
	Finished      *time.Time `json:"finished_at,omitempty"`
}
