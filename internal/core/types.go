package core

import (
	"time"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/render"
)

// GenerateRequest describes a batch to run.
type GenerateRequest struct {
	TemplateID content.PageID
	Mapping    render.Mapping
	Rows       []csvtable.Row
	Slug       generate.SlugSettings
	Meta       generate.MetaSettings
	// Source names the input, typically the uploaded file name.
	Source string
}

// PreviewRequest describes a single row to render.
type PreviewRequest struct {
	TemplateID content.PageID
	Mapping    render.Mapping
	Row        csvtable.Row
	Slug       generate.SlugSettings
	Meta       generate.MetaSettings
}

// PreviewResult is what a row would produce.
type PreviewResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Slug  string `json:"slug"`
	// Meta holds the SEO values that would be written, keyed by meta key.
	Meta map[string]string `json:"meta"`
	// Unmapped lists template placeholders with no column mapped.
	Unmapped []string `json:"unmapped"`
	// MissingColumns lists mapped columns absent from the row.
	MissingColumns []string `json:"missing_columns"`
}

// ScanResult lists a template's placeholders.
type ScanResult struct {
	TemplateID   content.PageID `json:"template_id"`
	Placeholders []string       `json:"placeholders"`
	Debug        ScanDebug      `json:"debug"`
}

// ScanDebug is diagnostic detail about a scan. The raw body is what gets
// rendered; the sanitized ("rendered") body is scanned only for comparison.
type ScanDebug struct {
	RawBodyLength      int    `json:"raw_content_length"`
	RenderedBodyLength int    `json:"rendered_content_length"`
	Title              string `json:"title_content"`
	PlaceholderCount   int    `json:"placeholder_count"`
	// RenderedOnly lists placeholders that appear only after sanitizing.
	RenderedOnly []string `json:"rendered_only"`
}

// JobPhase indicates the current stage of a job.
type JobPhase string

const (
	PhaseStarting  JobPhase = "starting"
	PhaseRunning   JobPhase = "running"
	PhaseComplete  JobPhase = "complete"
	PhaseFailed    JobPhase = "failed"
	PhaseCancelled JobPhase = "cancelled"
)

// Done reports whether p is terminal.
func (p JobPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// JobProgress is the current state of a job.
type JobProgress struct {
	JobID     string   `json:"job_id"`
	Phase     JobPhase `json:"phase"`
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Success   int      `json:"success"`
	Failed    int      `json:"failed"`
	Error     string   `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p JobProgress) Percent() int {
	if p.Total <= 0 {
		if p.Phase.Done() {
			return 100
		}
		return 0
	}
	return p.Processed * 100 / p.Total
}

// JobResult is the final outcome of a job.
type JobResult struct {
	JobID      string          `json:"job_id"`
	TemplateID content.PageID  `json:"template_id"`
	Source     string          `json:"source"`
	Phase      JobPhase        `json:"phase"`
	Total      int             `json:"total"`
	Result     generate.Result `json:"result"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration returns how long the job ran.
func (r JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Progress returns the final progress snapshot for r.
func (r JobResult) Progress() JobProgress {
	return JobProgress{
		JobID:     r.JobID,
		Phase:     r.Phase,
		Processed: r.Result.Processed(),
		Total:     r.Total,
		Success:   r.Result.SuccessCount,
		Failed:    r.Result.FailureCount,
		Error:     r.Error,
	}
}
