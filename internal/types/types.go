package types

import "time"

// Status is the lifecycle state of an interview render job
type Status string

// Job status constants
const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusProcessing,
	StatusDone,
	StatusFailed,
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// HoldsSlot reports whether a job in this status occupies a scheduler slot
func (s Status) HoldsSlot() bool {
	return s == StatusDownloading || s == StatusProcessing
}

// Job is a point-in-time snapshot of one render job
type Job struct {
	ID             string     `json:"job_id"`
	Status         Status     `json:"status"`
	Stage          string     `json:"stage,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorAt        *time.Time `json:"error_at,omitempty"`
	InputRefs      []string   `json:"input_refs"`
	CandidateLabel string     `json:"candidate_label"`
	Process        string     `json:"process,omitempty"`
	ExternalRef    string     `json:"external_ref,omitempty"`
	OutputRef      string     `json:"output_ref,omitempty"`
	PublishedURLs  []string   `json:"published_urls,omitempty"`
	FailureDetail  string     `json:"failure_detail,omitempty"`
	FailureKind    Kind       `json:"failure_kind,omitempty"`
	QueuePosition  int        `json:"queue_position,omitempty"`
}

// QueueEntry is what the scheduler needs to start a queued job
type QueueEntry struct {
	JobID          string
	InputRefs      []string
	CandidateLabel string
	Process        string
	ExternalRef    string
}

// Submission is an incoming request to render an interview
type Submission struct {
	InputRefs      []string
	CandidateLabel string
	Process        string
	ExternalRef    string
}

// Stats summarizes scheduler and store state
type Stats struct {
	TotalJobs      int            `json:"total_jobs"`
	ByStatus       map[Status]int `json:"by_status"`
	OccupiedSlots  int            `json:"current_processing"`
	MaxConcurrent  int            `json:"max_concurrent_jobs"`
	QueueLength    int            `json:"queue_length"`
	SuccessRatePct int            `json:"success_rate"`
}

// Tracker receives progress from a running pipeline
type Tracker interface {
	MarkProcessing(jobID string) error
	SetStage(jobID, stage string)
	AddPublished(jobID, url string)
}
