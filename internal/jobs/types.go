// Package jobs defines core types shared across the ingestion pipeline.
package jobs

import "time"

// PostingStatus represents the publication state of a stored job posting.
type PostingStatus string

// Posting statuses persisted in job_postings.status.
const (
	StatusActive	PostingStatus	= "active"
	StatusInactive	PostingStatus	= "inactive"
)

// PostingRow is the write-side input produced by the scraper for one posting.
// SourceURL is the natural key; everything else is payload.
type PostingRow struct {
	Title		string		`json:"title" mapstructure:"title"`
	Company		string		`json:"company" mapstructure:"company"`
	Location	string		`json:"location" mapstructure:"location"`
	Description	string		`json:"description" mapstructure:"description"`
	Status		PostingStatus	`json:"status" mapstructure:"status"`
	SourceURL	string		`json:"sourceUrl" mapstructure:"source_url"`
	PDFURL		string		`json:"pdfUrl,omitempty" mapstructure:"pdf_url"`
	PostedAt	time.Time	`json:"postedAt,omitempty" mapstructure:"posted_at"`
}

// Trigger identifies what initiated a scrape run.
type Trigger string

// Run triggers.
const (
	TriggerManual	Trigger	= "manual"
	TriggerAuto	Trigger	= "auto"
)

// RunState is the lifecycle state of a scrape run.
type RunState string

// Run states persisted in scrape_run_state.state.
const (
	RunIdle		RunState	= "idle"
	RunRunning	RunState	= "running"
	RunSuccess	RunState	= "success"
	RunFailed	RunState	= "failed"
	RunCancelled	RunState	= "cancelled"
	RunSkipped	RunState	= "skipped"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCancelled, RunSkipped:
		return true
	default:
		return false
	}
}

// RunSnapshot is the single current-state record published to pollers.
// It is overwritten by the next run, not appended to a log.
type RunSnapshot struct {
	RunID			string		`json:"runId"`
	Trigger			Trigger		`json:"trigger"`
	State			RunState	`json:"state"`
	StartedAt		time.Time	`json:"startedAt"`
	UpdatedAt		time.Time	`json:"updatedAt"`
	FinishedAt		*time.Time	`json:"finishedAt"`
	TotalSources		int		`json:"totalSources"`
	ProcessedSources	int		`json:"processedSources"`
	CurrentSource		*string		`json:"currentSource"`
	LastCompletedSource	*string		`json:"lastCompletedSource"`
	LookbackDays		int		`json:"lookbackDays"`
	CancelRequested		bool		`json:"cancelRequested"`
	Inserted		*int		`json:"inserted"`
	Updated			*int		`json:"updated"`
	SkippedDuplicates	*int		`json:"skippedDuplicates"`
	Message			*string		`json:"message"`
}

// SourceStat aggregates per-source results of one run.
type SourceStat struct {
	Source			string	`json:"source"`
	Scraped			int	`json:"scraped"`
	Inserted		int	`json:"inserted"`
	Updated			int	`json:"updated"`
	SkippedDuplicates	int	`json:"skippedDuplicates"`
	Error			string	`json:"error,omitempty"`
}

// RunStats is the synchronous result returned by the cron trigger.
type RunStats struct {
	Skipped			bool		`json:"skipped,omitempty"`
	SkipReason		string		`json:"skipReason,omitempty"`
	SourcesProcessed	int		`json:"sourcesProcessed"`
	Inserted		int		`json:"inserted"`
	Updated			int		`json:"updated"`
	SkippedDuplicates	int		`json:"skippedDuplicates"`
	FilteredByLocation	int		`json:"filteredByLocation"`
	FilteredByDate		int		`json:"filteredByDate"`
	SourceStats		[]SourceStat	`json:"sourceStats"`
}

// SourceSelectors holds the CSS selectors used to extract postings from a
// source's listing page. Selectors are evaluated relative to each Item match.
type SourceSelectors struct {
	Item		string	`json:"item" mapstructure:"item"`
	Title		string	`json:"title" mapstructure:"title"`
	Company		string	`json:"company" mapstructure:"company"`
	Location	string	`json:"location" mapstructure:"location"`
	Description	string	`json:"description" mapstructure:"description"`
	Link		string	`json:"link" mapstructure:"link"`
	PDFLink		string	`json:"pdf_link" mapstructure:"pdf_link"`
	PostedAt	string	`json:"posted_at" mapstructure:"posted_at"`
	DateLayout	string	`json:"date_layout" mapstructure:"date_layout"`
}

// SourceConfig declares one scrape source.
type SourceConfig struct {
	Name		string		`json:"name" mapstructure:"name"`
	URL		string		`json:"url" mapstructure:"url"`
	LocationScope	[]string	`json:"location_scope" mapstructure:"location_scope"`
	RenderJS	bool		`json:"render_js" mapstructure:"render_js"`
	Selectors	SourceSelectors	`json:"selectors" mapstructure:"selectors"`
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
