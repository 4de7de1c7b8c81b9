package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"boardsync/internal/config"
	"boardsync/internal/session"
)

// Server is the local read-only inspection surface: a small HTTP API that
// rendering collaborators (and humans with curl) pull board state from. It
// never mutates the session.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	session *session.Session
}

// New builds the inspection server around a live session.
func New(cfg *config.Config, sess *session.Session) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Board Sync Inspector",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Inspect.ReadTimeout,
		DisableStartupMessage: true,
	})

	s := &Server{app: app, cfg: cfg, session: sess}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[Inspect] ${time} ${status} ${method} ${path} (${latency})\n",
	}))
	// Local tooling only; the inspector binds to localhost in practice.
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET",
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	api := s.app.Group("/api")
	api.Get("/elements", s.handleElements)
	api.Get("/elements/:id", s.handleElement)
	api.Get("/presence/cursors", s.handleCursors)
	api.Get("/presence/selections", s.handleSelections)
	api.Get("/connectors/routes", s.handleRoutes)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"board_id": s.cfg.Backend.BoardID,
		"user_id":  s.session.Identity().UserID,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleElements returns the live board in z-order. ?deleted=true includes
// tombstones.
func (s *Server) handleElements(c *fiber.Ctx) error {
	includeDeleted := c.Query("deleted") == "true"
	elements := s.session.Document().Materialize(includeDeleted)
	return c.JSON(fiber.Map{"elements": elements, "count": len(elements)})
}

func (s *Server) handleElement(c *fiber.Ctx) error {
	element, ok := s.session.Document().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fiber.Map{"code": "NOT_FOUND", "message": "element not found"},
		})
	}
	return c.JSON(element)
}

func (s *Server) handleCursors(c *fiber.Ctx) error {
	cursors := s.session.CursorView()
	out := make([]fiber.Map, 0, len(cursors))
	for _, entry := range cursors {
		out = append(out, fiber.Map{
			"user_id":   entry.UserID,
			"user_name": entry.UserName,
			"color":     entry.Color,
			"x":         entry.X,
			"y":         entry.Y,
		})
	}
	return c.JSON(fiber.Map{"cursors": out})
}

func (s *Server) handleSelections(c *fiber.Ctx) error {
	selections := s.session.SelectionView()
	out := make([]fiber.Map, 0, len(selections))
	for _, entry := range selections {
		row := fiber.Map{
			"user_id":   entry.UserID,
			"user_name": entry.UserName,
			"color":     entry.Color,
			"selection": entry.Selection,
		}
		if entry.Editing != nil {
			row["editing"] = entry.Editing
		}
		out = append(out, fiber.Map{"user": row})
	}
	return c.JSON(fiber.Map{"selections": out})
}

func (s *Server) handleRoutes(c *fiber.Ctx) error {
	routes := s.session.RouteConnectors(c.Context())
	out := make([]fiber.Map, 0, len(routes))
	for _, route := range routes {
		out = append(out, fiber.Map{
			"element_id": route.ElementID,
			"points":     route.Path.Points,
			"bounds":     route.Path.Bounds,
		})
	}
	return c.JSON(fiber.Map{"routes": out})
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.Printf("[Inspect] Inspection API listening on %s", s.cfg.Inspect.Port)
	return s.app.Listen(s.cfg.Inspect.Port)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}
