package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// Defaults used when Options leaves a field zero
const (
	DefaultMaxConcurrent    = 10
	DefaultWatchdogInterval = 5 * time.Minute
	DefaultJobBudget        = 15 * time.Minute
)

// ErrShuttingDown is returned by Submit once Shutdown has begun
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Options configures a Scheduler
type Options struct {
	MaxConcurrent    int
	WatchdogInterval time.Duration
	JobBudget        time.Duration
	MaxInputs        int
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Scheduler admits queued jobs into a bounded set of slots in FIFO order
// and fails jobs that stop making progress.
type Scheduler struct {
	store    *Store
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time
	maxSlots int
	interval time.Duration
	budget   time.Duration
	maxInput int

	mu      sync.Mutex
	queue   []types.QueueEntry
	slots   map[string]context.CancelFunc
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewScheduler creates a scheduler over store that hands admitted jobs to runner
func NewScheduler(store *Store, runner Runner, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	if opts.JobBudget <= 0 {
		opts.JobBudget = DefaultJobBudget
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = store.now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		runner:   runner,
		logger:   opts.Logger.With(slog.String("component", "scheduler")),
		now:      opts.Clock,
		maxSlots: opts.MaxConcurrent,
		interval: opts.WatchdogInterval,
		budget:   opts.JobBudget,
		maxInput: opts.MaxInputs,
		slots:    make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

// Submit validates a submission, records it as queued and tries to admit
// it straight away. The returned snapshot reflects the state right after
// admission was attempted.
func (s *Scheduler) Submit(sub types.Submission) (types.Job, error) {
	sub, err := validateSubmission(sub, s.maxInput)
	if err != nil {
		return types.Job{}, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return types.Job{}, ErrShuttingDown
	}

	id := uuid.NewString()
	if _, err := s.store.Add(id, sub); err != nil {
		return types.Job{}, err
	}

	s.mu.Lock()
	s.queue = append(s.queue, newQueueEntry(id, sub))
	depth := len(s.queue)
	s.mu.Unlock()

	s.logger.Info("job queued",
		slog.String("job_id", id),
		slog.String("candidate", sub.CandidateLabel),
		slog.Int("inputs", len(sub.InputRefs)),
		slog.Int("queue_depth", depth))

	s.drain()
	return s.Job(id)
}

// drain admits until the queue is empty or every slot is taken
func (s *Scheduler) drain() {
	for s.tryAdmitNext() {
	}
}

// tryAdmitNext pops entries in FIFO order and reports whether a job was
// admitted. Entries whose job was already failed while waiting are
// consumed without taking a slot.
func (s *Scheduler) tryAdmitNext() bool {
	s.mu.Lock()
	for !s.closed && len(s.slots) < s.maxSlots && len(s.queue) > 0 {
		entry := s.queue[0]
		s.queue[0] = types.QueueEntry{}
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(s.baseCtx)
		s.slots[entry.JobID] = cancel
		if err := s.store.Advance(entry.JobID, types.StatusDownloading); err != nil {
			delete(s.slots, entry.JobID)
			cancel()
			s.logger.Warn("skipping queue entry",
				slog.String("job_id", entry.JobID),
				slog.String("error", err.Error()))
			continue
		}
		occupied := len(s.slots)
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Info("job admitted",
			slog.String("job_id", entry.JobID),
			slog.Int("occupied", occupied),
			slog.Int("max_concurrent", s.maxSlots))
		go s.work(ctx, entry)
		return true
	}
	s.mu.Unlock()
	return false
}

// release frees the slot held by jobID and cancels its context. Releasing
// a job that holds no slot is a no-op, so a slot is never freed twice.
func (s *Scheduler) release(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.slots[jobID]
	if ok {
		delete(s.slots, jobID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Start launches the watchdog loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("watchdog started",
		slog.Duration("interval", s.interval),
		slog.Duration("job_budget", s.budget))

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ReapStuck()
			case <-s.stopChan:
				s.logger.Info("watchdog stopped")
				return
			}
		}
	}()
}

// ReapStuck fails every non-terminal job whose last activity is older
// than the job budget and returns how many it failed. Jobs that finish
// concurrently are left alone.
func (s *Scheduler) ReapStuck() int {
	cutoff := s.now().Add(-s.budget)
	cause := types.Wrap(types.ErrStuckJob, "watchdog", "",
		fmt.Sprintf("no activity for %s", s.budget), nil)

	// fail everything stale before releasing anything, so a freed slot
	// cannot admit a queued job this scan is about to fail
	var holders []string
	waiting := make(map[string]struct{})
	reaped := 0
	for _, job := range s.store.Snapshot() {
		if job.Status.IsTerminal() || !job.LastActivityAt.Before(cutoff) {
			continue
		}
		prev, ok := s.store.ForceFail(job.ID, cutoff, cause)
		if !ok {
			continue
		}
		reaped++
		if prev.HoldsSlot() {
			holders = append(holders, job.ID)
		} else if prev == types.StatusQueued {
			waiting[job.ID] = struct{}{}
		}
		s.logger.Warn("stuck job failed",
			slog.String("job_id", job.ID),
			slog.String("previous_status", string(prev)),
			slog.Time("last_activity", job.LastActivityAt))
	}
	if len(waiting) > 0 {
		s.dropQueued(waiting)
	}
	for _, id := range holders {
		if s.release(id) {
			s.logger.Debug("slot released", slog.String("job_id", id))
		}
	}
	if reaped > 0 {
		s.drain()
	}
	return reaped
}

// dropQueued removes the entries of failed waiting jobs so queue length
// and positions only count jobs that can still run
func (s *Scheduler) dropQueued(ids map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	for _, entry := range s.queue {
		if _, ok := ids[entry.JobID]; !ok {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = types.QueueEntry{}
	}
	s.queue = kept
}

// Shutdown stops admissions and the watchdog, cancels running jobs and
// waits for them to clean up or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopChan)
		s.cancel()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Job returns a snapshot of one job with its queue position when waiting
func (s *Scheduler) Job(id string) (types.Job, error) {
	job, err := s.store.Get(id)
	if err != nil {
		return job, err
	}
	if job.Status == types.StatusQueued {
		job.QueuePosition = s.queuePosition(id)
	}
	return job, nil
}

// Jobs returns snapshots of every known job, oldest first
func (s *Scheduler) Jobs() []types.Job {
	return s.store.Snapshot()
}

func (s *Scheduler) queuePosition(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.queue {
		if entry.JobID == id {
			return i + 1
		}
	}
	return 0
}

// Stats reports job counts and slot usage
func (s *Scheduler) Stats() types.Stats {
	counts := s.store.Counts()

	s.mu.Lock()
	occupied := len(s.slots)
	waiting := len(s.queue)
	s.mu.Unlock()

	total := 0
	for _, n := range counts {
		total += n
	}
	finished := counts[types.StatusDone] + counts[types.StatusFailed]
	rate := 0
	if finished > 0 {
		rate = counts[types.StatusDone] * 100 / finished
	}
	return types.Stats{
		TotalJobs:      total,
		ByStatus:       counts,
		OccupiedSlots:  occupied,
		MaxConcurrent:  s.maxSlots,
		QueueLength:    waiting,
		SuccessRatePct: rate,
	}
}

// Occupied returns the number of held slots
func (s *Scheduler) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// SlotHolders returns the ids of jobs currently holding a slot
func (s *Scheduler) SlotHolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	return ids
}

// ActiveJobIDs returns every non-terminal job id; their workspaces are live
func (s *Scheduler) ActiveJobIDs() map[string]struct{} {
	return s.store.ActiveIDs()
}
