package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// jobRecord is the mutable state behind a types.Job snapshot
type jobRecord struct {
	id             string
	status         types.Status
	stage          string
	createdAt      time.Time
	lastActivityAt time.Time
	completedAt    *time.Time
	errorAt        *time.Time
	inputRefs      []string
	candidateLabel string
	process        string
	externalRef    string
	outputRef      string
	published      []string
	failureDetail  string
	failureKind    types.Kind
}

func (r *jobRecord) snapshot() types.Job {
	job := types.Job{
		ID:             r.id,
		Status:         r.status,
		Stage:          r.stage,
		CreatedAt:      r.createdAt,
		LastActivityAt: r.lastActivityAt,
		InputRefs:      append([]string(nil), r.inputRefs...),
		CandidateLabel: r.candidateLabel,
		Process:        r.process,
		ExternalRef:    r.externalRef,
		OutputRef:      r.outputRef,
		FailureDetail:  r.failureDetail,
		FailureKind:    r.failureKind,
	}
	if len(r.published) > 0 {
		job.PublishedURLs = append([]string(nil), r.published...)
	}
	if r.completedAt != nil {
		t := *r.completedAt
		job.CompletedAt = &t
	}
	if r.errorAt != nil {
		t := *r.errorAt
		job.ErrorAt = &t
	}
	return job
}

// Store is the in-memory job table. It is created at process start and
// holds no state across restarts.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
	now  func() time.Time
}

// NewStore creates an empty store. A nil clock means time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		jobs: make(map[string]*jobRecord),
		now:  now,
	}
}

// Add records a new job in the queued state
func (s *Store) Add(id string, sub types.Submission) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return types.Job{}, fmt.Errorf("job %s already exists", id)
	}
	now := s.now()
	rec := &jobRecord{
		id:             id,
		status:         types.StatusQueued,
		createdAt:      now,
		lastActivityAt: now,
		inputRefs:      append([]string(nil), sub.InputRefs...),
		candidateLabel: sub.CandidateLabel,
		process:        sub.Process,
		externalRef:    sub.ExternalRef,
	}
	s.jobs[id] = rec
	return rec.snapshot(), nil
}

// Get returns a snapshot of one job
func (s *Store) Get(id string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return types.Job{}, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	return rec.snapshot(), nil
}

// Advance moves a job one step forward through queued, downloading and
// processing. Terminal states are reached only through Complete and Fail.
func (s *Store) Advance(id string, to types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if !isValidAdvance(rec.status, to) {
		return fmt.Errorf("invalid transition for job %s: %s -> %s", id, rec.status, to)
	}
	rec.status = to
	rec.lastActivityAt = s.now()
	return nil
}

// MarkProcessing is called by the pipeline once downloads have finished
func (s *Store) MarkProcessing(id string) error {
	return s.Advance(id, types.StatusProcessing)
}

// SetStage records the pipeline stage label; it does not count as activity
func (s *Store) SetStage(id, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok && !rec.status.IsTerminal() {
		rec.stage = stage
	}
}

// AddPublished records a remote copy of the job output
func (s *Store) AddPublished(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok && !rec.status.IsTerminal() {
		rec.published = append(rec.published, url)
	}
}

// Complete moves a processing job to done with its output reference
func (s *Store) Complete(id, outputRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if rec.status != types.StatusProcessing {
		return fmt.Errorf("invalid transition for job %s: %s -> %s", id, rec.status, types.StatusDone)
	}
	now := s.now()
	rec.status = types.StatusDone
	rec.stage = ""
	rec.outputRef = outputRef
	rec.completedAt = &now
	rec.lastActivityAt = now
	return nil
}

// Fail moves a non-terminal job to failed, recording cause verbatim. It
// reports false when the job was already terminal, in which case nothing
// changes.
func (s *Store) Fail(id string, cause error) (types.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || rec.status.IsTerminal() {
		return "", false
	}
	prev := rec.status
	s.failLocked(rec, cause)
	return prev, true
}

// ForceFail fails a job only if it is still non-terminal and has had no
// activity since cutoff. It returns the status the job held before.
func (s *Store) ForceFail(id string, cutoff time.Time, cause error) (types.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || rec.status.IsTerminal() || !rec.lastActivityAt.Before(cutoff) {
		return "", false
	}
	prev := rec.status
	s.failLocked(rec, cause)
	return prev, true
}

func (s *Store) failLocked(rec *jobRecord, cause error) {
	now := s.now()
	detail := "job failed"
	if cause != nil && cause.Error() != "" {
		detail = cause.Error()
	}
	rec.status = types.StatusFailed
	rec.failureDetail = detail
	rec.failureKind = types.KindOf(cause)
	if rec.failureKind == "" {
		rec.failureKind = types.KindInternal
	}
	rec.outputRef = ""
	rec.errorAt = &now
	rec.lastActivityAt = now
}

// Snapshot returns every job ordered by creation time
func (s *Store) Snapshot() []types.Job {
	s.mu.RLock()
	jobs := make([]types.Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		jobs = append(jobs, rec.snapshot())
	}
	s.mu.RUnlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Counts returns the number of jobs per status
func (s *Store) Counts() map[types.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.Status]int, len(types.AllStatuses))
	for _, status := range types.AllStatuses {
		counts[status] = 0
	}
	for _, rec := range s.jobs {
		counts[rec.status]++
	}
	return counts
}

// ActiveIDs returns the ids of all non-terminal jobs
func (s *Store) ActiveIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for id, rec := range s.jobs {
		if !rec.status.IsTerminal() {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// isValidAdvance enforces the forward-only, one-step non-terminal edges
func isValidAdvance(from, to types.Status) bool {
	switch from {
	case types.StatusQueued:
		return to == types.StatusDownloading
	case types.StatusDownloading:
		return to == types.StatusProcessing
	default:
		return false
	}
}
