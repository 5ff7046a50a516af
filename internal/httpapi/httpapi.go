// Package httpapi exposes the scheduler over HTTP using fiber, mirroring
// original_source's FastAPI route table (POST /workflows, GET /workflows,
// GET /workflows/{id}/jobs, POST /jobs, POST /jobs/{id}/cancel, GET
// /jobs/{id}, GET /jobs/{id}/result) plus an additive /admin/stats. Handler
// style — c.BodyParser, c.Locals, fiber.Map JSON bodies — is modeled on
// AzielCF-az-wap's clients_portal/auth/infrastructure/handlers.go.
package httpapi

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/fieldkit/flowqueue/internal/schederr"
	"github.com/fieldkit/flowqueue/internal/scheduler"
	"github.com/fieldkit/flowqueue/pkg/types"
)

const userIDHeader = "X-User-ID"

// New builds a fiber app wired against sched. Use Listen on the returned
// app, or App() style embedding via app.Test for tests.
func New(sched *scheduler.Scheduler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})

	// Registered ahead of requireUserID so it is served without a user header.
	app.Get("/admin/stats", adminStats(sched))

	app.Use(requireUserID)

	app.Post("/workflows", createWorkflow(sched))
	app.Get("/workflows", listWorkflows(sched))
	app.Get("/workflows/:id/jobs", listJobs(sched))

	app.Post("/jobs", createJob(sched))
	app.Get("/jobs/:id", getJob(sched))
	app.Post("/jobs/:id/cancel", cancelJob(sched))
	app.Get("/jobs/:id/result", getJobResult(sched))

	return app
}

// requireUserID rejects any request to the routes registered after it that
// is missing the X-User-ID header, mirroring original_source's FastAPI
// dependency (400 if absent).
func requireUserID(c *fiber.Ctx) error {
	user := c.Get(userIDHeader)
	if user == "" {
		return schederr.ErrInvalidRequest
	}
	c.Locals("user_id", types.UserID(user))
	return c.Next()
}

func userFromCtx(c *fiber.Ctx) types.UserID {
	return c.Locals("user_id").(types.UserID)
}

func createWorkflow(sched *scheduler.Scheduler) fiber.Handler {
	type request struct {
		Name string `json:"name"`
	}
	return func(c *fiber.Ctx) error {
		var req request
		if err := c.BodyParser(&req); err != nil {
			return schederr.ErrInvalidRequest
		}
		wf := sched.CreateWorkflow(userFromCtx(c), req.Name)
		return c.Status(fiber.StatusCreated).JSON(wf)
	}
}

func listWorkflows(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		workflows := sched.ListWorkflows(userFromCtx(c))
		return c.JSON(fiber.Map{"workflows": workflows})
	}
}

func listJobs(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wfID := types.WorkflowID(c.Params("id"))
		wf, err := sched.GetWorkflow(wfID)
		if err != nil {
			return err
		}
		if wf.UserID != userFromCtx(c) {
			return schederr.ErrNotFound
		}
		return c.JSON(fiber.Map{"jobs": sched.ListJobs(wfID)})
	}
}

func createJob(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var jc types.JobCreate
		if err := c.BodyParser(&jc); err != nil {
			return schederr.ErrInvalidRequest
		}
		job, err := sched.SubmitJob(userFromCtx(c), jc)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(job)
	}
}

func getJob(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := sched.GetJob(types.JobID(c.Params("id")))
		if err != nil {
			return err
		}
		if job.UserID != userFromCtx(c) {
			return schederr.ErrNotFound
		}
		return c.JSON(job)
	}
}

func cancelJob(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := types.JobID(c.Params("id"))
		existing, err := sched.GetJob(id)
		if err != nil {
			return err
		}
		if existing.UserID != userFromCtx(c) {
			return schederr.ErrNotFound
		}
		job, err := sched.CancelJob(id)
		if err != nil {
			return err
		}
		return c.JSON(job)
	}
}

func getJobResult(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := sched.GetJob(types.JobID(c.Params("id")))
		if err != nil {
			return err
		}
		if job.UserID != userFromCtx(c) {
			return schederr.ErrNotFound
		}
		if job.ResultPath == "" {
			return schederr.ErrNotFound
		}
		return c.SendFile(job.ResultPath)
	}
}

func adminStats(sched *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		activeWorkers, activeUsers := sched.Stats()
		return c.JSON(fiber.Map{
			"active_workers": activeWorkers,
			"active_users":   activeUsers,
		})
	}
}

// errorHandler maps schederr sentinels to HTTP status codes.
func errorHandler(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, schederr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, schederr.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, schederr.ErrIllegalTransition):
		log.Printf("httpapi: %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	case errors.Is(err, schederr.ErrShuttingDown):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
