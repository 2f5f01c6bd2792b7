// Package web serves the HTTP API for browsing chunks, duplicate groups, and
// annotations.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func NewServer(addr string, h *Handler) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
	})
	registerRoutes(app, h)

	return &Server{
		listenAddr: addr,
		app:        app,
		logger:     slog.Default(),
	}
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func registerRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.HandleHealth)

	api := app.Group("/api")
	api.Get("/stats", h.HandleStats)

	chunks := api.Group("/chunks")
	chunks.Get("/search", h.HandleChunkSearch)
	chunks.Get("/text", h.HandleChunkText)

	dups := api.Group("/dups")
	dups.Get("/list", h.HandleDupsList)
	dups.Get("/get", h.HandleDupsGet)
	dups.Get("/list_filtered", h.HandleDupsListFiltered)
	dups.Get("/get_filtered", h.HandleDupsGetFiltered)

	ann := api.Group("/annotations")
	ann.Get("/get", h.HandleAnnotationGet)
	ann.Get("/list", h.HandleAnnotationsList)
	ann.Post("/set", h.HandleAnnotationSet)
	ann.Post("/set_group_status", h.HandleSetGroupStatus)
	ann.Post("/bulk_get", h.HandleAnnotationsBulkGet)
}

// Run blocks serving HTTP until the listener fails or the app is shut down.
func (s *Server) Run() error {
	s.logger.Info("web server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("web server stopping")
	return s.app.Shutdown()
}
