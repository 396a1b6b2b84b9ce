package web

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-highlight/pkg/extract"
)

// ExtractRequest is the request body for POST /api/extract
type ExtractRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleHistory returns recent extractions
func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.History())
}

// handleExtract runs one extraction synchronously
func (s *Server) handleExtract(c *fiber.Ctx) error {
	var req ExtractRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Input == "" || req.Output == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "input and output are required",
		})
	}

	input, err := s.resolve(req.Input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	output, err := s.resolve(req.Output)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id := uuid.NewString()
	started := time.Now()
	s.logger.Info("extract request", "id", id, "input", input, "output", output)

	result, err := s.extractor.Extract(c.UserContext(), input, output)

	entry := HistoryEntry{
		ID:       id,
		Time:     started.Format(time.RFC3339),
		Input:    req.Input,
		Result:   result,
		Duration: time.Since(started).String(),
	}
	if err != nil {
		entry.Kind = extract.KindOf(err)
		entry.Error = err.Error()
		s.record(entry)
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"id":    id,
			"kind":  entry.Kind,
			"error": entry.Error,
		})
	}

	entry.Output = result.Output
	s.record(entry)
	return c.JSON(fiber.Map{
		"id":     id,
		"result": result,
	})
}

// resolve maps a request path onto the server root. Relative paths are
// joined to the root; absolute paths must already lie beneath it.
func (s *Server) resolve(p string) (string, error) {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the server root", p)
	}
	return full, nil
}

// statusFor maps failure kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, extract.ErrDurationExceeded), errors.Is(err, extract.ErrVideoOpen):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}
