package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

const defaultPollInterval = 500 * time.Millisecond

// StreamHandler pushes job snapshots over a WebSocket until the job ends
type StreamHandler struct {
	jobs     JobService
	interval time.Duration
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(jobs JobService, interval time.Duration, logger *slog.Logger) *StreamHandler {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &StreamHandler{jobs: jobs, interval: interval, logger: logger}
}

// Upgrade rejects plain HTTP requests and unknown job ids before the
// WebSocket handshake
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid job ID",
			"code":  "ERR_INVALID_ID",
		})
	}
	if _, err := h.jobs.Job(id); err != nil {
		return writeError(c, err)
	}
	return c.Next()
}

// Handle sends the job snapshot whenever its status or stage changes and
// closes the connection after the terminal snapshot
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	id := c.Params("id")
	logger := h.logger.With(slog.String("job_id", id))
	logger.Debug("status stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last types.Job
	first := true
	for {
		job, err := h.jobs.Job(id)
		if err != nil {
			_ = c.WriteJSON(fiber.Map{"error": err.Error()})
			return
		}
		if first || job.Status != last.Status || job.Stage != last.Stage || job.QueuePosition != last.QueuePosition {
			if err := c.WriteJSON(job); err != nil {
				logger.Debug("status stream write failed", slog.String("error", err.Error()))
				return
			}
			first = false
			last = job
		}
		if job.Status.IsTerminal() {
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			logger.Debug("status stream closed by client")
			return
		}
	}
}
