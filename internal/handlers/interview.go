package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/interview-render/internal/download"
	"github.com/codebuildervaibhav/interview-render/internal/queue"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// minutesPerQueuedJob drives the advisory wait estimate
const minutesPerQueuedJob = 2

// JobService is the part of the scheduler the HTTP layer talks to
type JobService interface {
	Submit(sub types.Submission) (types.Job, error)
	Job(id string) (types.Job, error)
	Jobs() []types.Job
	Stats() types.Stats
	SlotHolders() []string
}

// OutputLocator resolves finished renders on disk
type OutputLocator interface {
	Lookup(jobID string) (string, error)
}

// RenderLister reads the finished-render ledger
type RenderLister interface {
	ListRenders(ctx context.Context, limit int) ([]storage.RenderRecord, error)
}

// InterviewHandler handles submission, status and download requests
type InterviewHandler struct {
	jobs    JobService
	outputs OutputLocator
	logger  *slog.Logger
}

// NewInterviewHandler creates a new interview handler
func NewInterviewHandler(jobs JobService, outputs OutputLocator, logger *slog.Logger) *InterviewHandler {
	return &InterviewHandler{jobs: jobs, outputs: outputs, logger: logger}
}

// InterviewRequest represents the request body
type InterviewRequest struct {
	Videos      []string `json:"videos"`
	Name        string   `json:"name"`
	Process     string   `json:"process"`
	ExternalRef string   `json:"external_ref"`
}

// Submit validates and enqueues a render request
func (h *InterviewHandler) Submit(c *fiber.Ctx) error {
	var req InterviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if len(req.Videos) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": `Send at least two videos in the "videos" array`,
			"code":  "ERR_TOO_FEW_VIDEOS",
		})
	}
	if err := download.ValidateURLs(req.Videos); err != nil {
		body := fiber.Map{"error": "Invalid video URLs", "code": "ERR_INVALID_URL"}
		var vErr *types.ValidationError
		if errors.As(err, &vErr) {
			body["invalid"] = vErr.Invalid
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	job, err := h.jobs.Submit(types.Submission{
		InputRefs:      req.Videos,
		CandidateLabel: req.Name,
		Process:        req.Process,
		ExternalRef:    req.ExternalRef,
	})
	if err != nil {
		return writeError(c, err)
	}

	h.logger.Info("interview submitted",
		slog.String("job_id", job.ID),
		slog.Int("inputs", len(job.InputRefs)),
		slog.String("status", string(job.Status)))

	waiting := h.jobs.Stats().QueueLength
	return c.JSON(fiber.Map{
		"job_id":                 job.ID,
		"status":                 job.Status,
		"position":               job.QueuePosition,
		"estimated_wait_minutes": waiting * minutesPerQueuedJob,
	})
}

// Status reports a job's state. Finished jobs get a download link or the
// failure detail; running ones get queue and slot figures.
func (h *InterviewHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid job ID",
			"code":  "ERR_INVALID_ID",
		})
	}

	job, err := h.jobs.Job(id)
	if err != nil {
		return writeError(c, err)
	}

	switch job.Status {
	case types.StatusDone:
		return c.JSON(fiber.Map{
			"job_id":         job.ID,
			"status":         job.Status,
			"download":       fmt.Sprintf("/api/download/%s", job.ID),
			"completed":      job.CompletedAt,
			"published_urls": job.PublishedURLs,
		})
	case types.StatusFailed:
		return c.JSON(fiber.Map{
			"job_id":     job.ID,
			"status":     job.Status,
			"error":      job.FailureDetail,
			"error_kind": job.FailureKind,
			"error_time": job.ErrorAt,
		})
	}

	stats := h.jobs.Stats()
	return c.JSON(fiber.Map{
		"job_id":                  job.ID,
		"status":                  job.Status,
		"stage":                   job.Stage,
		"created":                 job.CreatedAt,
		"queue_position":          job.QueuePosition,
		"current_processing_jobs": stats.OccupiedSlots,
		"max_concurrent_jobs":     stats.MaxConcurrent,
		"queue_length":            stats.QueueLength,
		"candidate":               job.CandidateLabel,
		"process":                 job.Process,
		"external_ref":            job.ExternalRef,
	})
}

// Download serves a finished render as an attachment
func (h *InterviewHandler) Download(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.jobs.Job(id)
	if err != nil || job.Status != types.StatusDone {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Video is not ready or the job failed",
			"code":  "ERR_NOT_READY",
		})
	}

	path, err := h.outputs.Lookup(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Video file not found",
			"code":  "ERR_FILE_NOT_FOUND",
		})
	}
	return c.Download(path, fmt.Sprintf("entrevista_%s.mp4", id))
}

// writeError maps err onto a JSON error body and status code
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "ERR_INTERNAL"
	switch {
	case errors.Is(err, queue.ErrShuttingDown):
		status, code = fiber.StatusServiceUnavailable, "ERR_SHUTTING_DOWN"
	case types.KindOf(err) == types.KindValidation:
		status, code = fiber.StatusBadRequest, "ERR_VALIDATION"
	case types.KindOf(err) == types.KindNotFound:
		status, code = fiber.StatusNotFound, "ERR_NOT_FOUND"
	}

	body := fiber.Map{"error": err.Error(), "code": code}
	var vErr *types.ValidationError
	if errors.As(err, &vErr) {
		body["error"] = vErr.Message
		if len(vErr.Invalid) > 0 {
			body["invalid"] = vErr.Invalid
		}
	}
	return c.Status(status).JSON(body)
}
