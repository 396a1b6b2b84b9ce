// Package web exposes extraction over HTTP together with health and
// Prometheus endpoints.
package web

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-highlight/pkg/extract"
)

// maxHistory bounds the in-memory list of recent extractions.
const maxHistory = 200

// Extractor runs one extraction.
type Extractor interface {
	Extract(ctx context.Context, input, output string) (*extract.Result, error)
}

// HistoryEntry records one finished request.
type HistoryEntry struct {
	ID       string          `json:"id"`
	Time     string          `json:"time"`
	Input    string          `json:"input"`
	Output   string          `json:"output,omitempty"`
	Kind     string          `json:"kind,omitempty"` // failure kind, empty on success
	Error    string          `json:"error,omitempty"`
	Result   *extract.Result `json:"result,omitempty"`
	Duration string          `json:"duration"`
}

// ServerConfig controls where the server listens and which files it may touch.
type ServerConfig struct {
	Host string // bind address, empty means all interfaces
	Port string
	Root string // request paths resolve under this directory
}

// Server is the extraction HTTP server
type Server struct {
	app       *fiber.App
	config    ServerConfig
	root      string
	extractor Extractor
	logger    *slog.Logger

	// History buffer (last maxHistory entries)
	history   []HistoryEntry
	historyMu sync.RWMutex
}

// NewServer creates a new server. Inputs and outputs named in requests are
// confined to cfg.Root, which defaults to the working directory.
func NewServer(cfg ServerConfig, extractor Extractor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	s := &Server{
		config:    cfg,
		root:      filepath.Clean(root),
		extractor: extractor,
		logger:    logger.With("component", "web"),
		history:   make([]HistoryEntry, 0, maxHistory),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-highlight",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api")
	api.Post("/extract", s.handleExtract)
	api.Get("/extractions", s.handleHistory)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	s.logger.Info("http server listening", "addr", addr, "root", s.root)
	return s.app.Listen(addr)
}

// record appends an entry, dropping the oldest past maxHistory.
func (s *Server) record(entry HistoryEntry) {
	s.historyMu.Lock()
	s.history = append(s.history, entry)
	if len(s.history) > maxHistory {
		s.history = s.history[1:]
	}
	s.historyMu.Unlock()
}

// History returns a copy of the recent entries, oldest first.
func (s *Server) History() []HistoryEntry {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Shutdown gracefully stops the server, waiting at most timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
