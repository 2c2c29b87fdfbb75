package handlers

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/interview-render/internal/cleanup"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// Sweeper removes work dir entries that belong to no live job
type Sweeper interface {
	SweepOrphans(maxAge time.Duration) cleanup.Result
}

// LogSource exposes recent log lines
type LogSource interface {
	GetLogs() []string
}

// SystemHandler serves health, stats and maintenance endpoints
type SystemHandler struct {
	jobs    JobService
	renders RenderLister
	sweeper Sweeper
	logs    LogSource
	logger  *slog.Logger
	started time.Time
	now     func() time.Time
}

// NewSystemHandler creates a new system handler. renders and logs may be nil.
func NewSystemHandler(jobs JobService, renders RenderLister, sweeper Sweeper, logs LogSource, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		jobs:    jobs,
		renders: renders,
		sweeper: sweeper,
		logs:    logs,
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
	}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": Version})
}

func (h *SystemHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"pong":          true,
		"timestamp":     h.now().UnixMilli(),
		"server_active": true,
	})
}

// StatusHealth reports uptime alongside the health flag
func (h *SystemHandler) StatusHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": h.now().UTC(),
		"uptime":    h.now().Sub(h.started).Seconds(),
	})
}

func (h *SystemHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.jobs.Stats())
}

type debugJob struct {
	JobID      string       `json:"job_id"`
	Status     types.Status `json:"status"`
	Stage      string       `json:"stage,omitempty"`
	AgeSeconds int64        `json:"age_seconds"`
}

// Debug cross-checks slot bookkeeping against job statuses. A mismatch
// means a slot is held by a job that is not running or the reverse.
func (h *SystemHandler) Debug(c *fiber.Ctx) error {
	now := h.now()
	jobs := h.jobs.Jobs()

	active := make([]debugJob, 0)
	for _, job := range jobs {
		if job.Status.HoldsSlot() {
			active = append(active, toDebugJob(job, now))
		}
	}
	last := make([]debugJob, 0, 5)
	for i := max(0, len(jobs)-5); i < len(jobs); i++ {
		last = append(last, toDebugJob(jobs[i], now))
	}

	holders := h.jobs.SlotHolders()
	stats := h.jobs.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(fiber.Map{
		"current_processing_jobs": len(holders),
		"real_active_jobs":        len(active),
		"counter_mismatch":        len(active) != len(holders),
		"max_concurrent_jobs":     stats.MaxConcurrent,
		"queue_length":            stats.QueueLength,
		"active_jobs":             active,
		"slot_holders":            holders,
		"memory_mb":               mem.HeapAlloc / 1024 / 1024,
		"uptime_minutes":          int(now.Sub(h.started).Minutes()),
		"last_jobs":               last,
	})
}

func toDebugJob(job types.Job, now time.Time) debugJob {
	return debugJob{
		JobID:      job.ID,
		Status:     job.Status,
		Stage:      job.Stage,
		AgeSeconds: int64(now.Sub(job.CreatedAt).Seconds()),
	}
}

// Cleanup removes every temp entry that belongs to no live job, whatever
// its age
func (h *SystemHandler) Cleanup(c *fiber.Ctx) error {
	res := h.sweeper.SweepOrphans(0)
	h.logger.Info("manual cleanup", slog.Int("removed", res.Removed))
	return c.JSON(fiber.Map{
		"message": "Cleanup complete",
		"result":  res,
	})
}

// Renders lists finished renders from the ledger, newest first
func (h *SystemHandler) Renders(c *fiber.Ctx) error {
	if h.renders == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Render ledger not configured",
			"code":  "ERR_NO_LEDGER",
		})
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	renders, err := h.renders.ListRenders(c.UserContext(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(renders)
}

func (h *SystemHandler) Logs(c *fiber.Ctx) error {
	if h.logs == nil {
		return c.JSON(fiber.Map{"logs": []string{}})
	}
	return c.JSON(fiber.Map{"logs": h.logs.GetLogs()})
}
