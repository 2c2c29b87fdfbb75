package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
)

// Deps are the collaborators the HTTP layer needs. Renders and Logs are
// optional.
type Deps struct {
	Jobs         JobService
	Outputs      OutputLocator
	Renders      RenderLister
	Sweeper      Sweeper
	Logs         LogSource
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Register mounts every route on app
func Register(app *fiber.App, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	logger := deps.Logger.With(slog.String("component", "http"))

	interview := NewInterviewHandler(deps.Jobs, deps.Outputs, logger)
	system := NewSystemHandler(deps.Jobs, deps.Renders, deps.Sweeper, deps.Logs, logger)
	stream := NewStreamHandler(deps.Jobs, deps.PollInterval, logger)

	app.Get("/health", system.Health)
	app.Get("/ping", system.Ping)
	app.Get("/logs", system.Logs)

	api := app.Group("/api")
	api.Post("/interview", interview.Submit)
	api.Get("/status/health", system.StatusHealth)
	api.Get("/status/:id", interview.Status)
	api.Get("/download/:id", interview.Download)
	api.Get("/stats", system.Stats)
	api.Get("/debug", system.Debug)
	api.Get("/renders", system.Renders)
	api.Post("/cleanup", system.Cleanup)
	api.Get("/logs", system.Logs)

	app.Get("/ws/jobs/:id", stream.Upgrade, websocket.New(stream.Handle))
}
