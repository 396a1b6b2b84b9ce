package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// progressEvery controls how often write progress is logged.
const progressEvery = 30

// WriterConfig holds segment writer configuration.
type WriterConfig struct {
	Size  image.Point // output frame size
	FPS   float64     // output frame rate, 0 uses the source rate
	Codec string      // fourcc, e.g. "avc1" (H.264) or "mp4v"
}

// DefaultWriterConfig returns the reel defaults: 480x480 H.264.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Size:  image.Pt(480, 480),
		Codec: "avc1",
	}
}

// WriteResult reports what a write produced.
type WriteResult struct {
	Path      string `json:"path"`
	Frames    int    `json:"frames"`
	Requested int    `json:"requested"`
	Truncated bool   `json:"truncated"` // source ran out before Requested
}

// Writer re-encodes a frame range of a source into a letterboxed MP4.
type Writer struct {
	config WriterConfig
	logger *slog.Logger
}

// NewWriter creates a segment writer.
func NewWriter(cfg WriterConfig, logger *slog.Logger) (*Writer, error) {
	if cfg.Size.X <= 0 || cfg.Size.Y <= 0 {
		return nil, fmt.Errorf("video: invalid output size %v", cfg.Size)
	}
	if cfg.Codec == "" {
		cfg.Codec = DefaultWriterConfig().Codec
	}
	if len(cfg.Codec) != 4 {
		return nil, fmt.Errorf("video: codec %q is not a fourcc", cfg.Codec)
	}
	if cfg.FPS < 0 {
		return nil, fmt.Errorf("video: invalid output fps %v", cfg.FPS)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{config: cfg, logger: logger.With("component", "segment-writer")}, nil
}

// Config returns the writer configuration.
func (w *Writer) Config() WriterConfig {
	return w.config
}

// MP4Path returns output with its extension replaced by .mp4.
func MP4Path(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".mp4"
}

// Write seeks src to start and encodes up to count frames at the output
// rate into output (forced to .mp4). The file appears at its final path only when at least
// one frame was written; on failure nothing is left behind.
func (w *Writer) Write(ctx context.Context, src FrameReader, start, count int, output string) (WriteResult, error) {
	result := WriteResult{Path: MP4Path(output), Requested: count}
	if count <= 0 {
		return result, ErrEmptySegment
	}

	fps := w.config.OutputRate(src.Info())

	if err := os.MkdirAll(filepath.Dir(result.Path), 0o755); err != nil {
		return result, fmt.Errorf("video: create output dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(result.Path),
		fmt.Sprintf(".%s.%s.mp4", strings.TrimSuffix(filepath.Base(result.Path), ".mp4"), uuid.NewString()))

	written, err := w.encode(ctx, src, start, count, fps, tmp)
	result.Frames = written
	if err == nil && written == 0 {
		err = ErrEmptySegment
	}
	if err != nil {
		os.Remove(tmp)
		return result, err
	}

	if err := os.Rename(tmp, result.Path); err != nil {
		os.Remove(tmp)
		return result, fmt.Errorf("video: finalize output: %w", err)
	}
	result.Truncated = written < count

	w.logger.Info("segment written",
		"path", result.Path,
		"frames", written,
		"requested", count,
		"truncated", result.Truncated)
	return result, nil
}

// encode writes count output frames into path and always closes the
// encoder. Output frame i shows source frame SourceIndex(start, i, ...), so
// source frames are skipped or repeated when the output rate differs from
// the source rate.
func (w *Writer) encode(ctx context.Context, src FrameReader, start, count int, fps float64, path string) (written int, err error) {
	if err := src.Seek(start); err != nil {
		return 0, err
	}
	srcFPS := float64(src.Info().FPS)

	vw, err := gocv.VideoWriterFile(path, w.config.Codec, fps, w.config.Size.X, w.config.Size.Y, true)
	if err != nil {
		return 0, fmt.Errorf("video: open writer: %w", err)
	}
	defer func() {
		if cerr := vw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("video: close writer: %w", cerr)
		}
	}()
	if !vw.IsOpened() {
		return 0, fmt.Errorf("video: writer for codec %s not opened", w.config.Codec)
	}

	// boxed holds the letterboxed picture of source frame current.
	var boxed gocv.Mat
	haveBoxed := false
	current := start - 1
	defer func() {
		if haveBoxed {
			boxed.Close()
		}
	}()

	for written < count {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		want := SourceIndex(start, written, srcFPS, fps)
		for current < want {
			frame, err := src.Next()
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			if err != nil {
				return written, err
			}
			current++
			if current < want {
				frame.Close()
				continue
			}

			next, err := Letterbox(frame.Image, w.config.Size)
			frame.Close()
			if err != nil {
				next.Close()
				return written, err
			}
			if haveBoxed {
				boxed.Close()
			}
			boxed, haveBoxed = next, true
		}

		if err := vw.Write(boxed); err != nil {
			return written, fmt.Errorf("video: write frame %d: %w", written, err)
		}
		written++

		if written%progressEvery == 0 {
			w.logger.Debug("write progress", "frames", written, "requested", count)
		}
	}

	return written, nil
}

// SourceIndex returns the source frame shown by output frame i of a segment
// starting at source frame start.
func SourceIndex(start, i int, srcFPS, outFPS float64) int {
	if srcFPS <= 0 || outFPS <= 0 || srcFPS == outFPS {
		return start + i
	}
	return start + int(math.Floor(float64(i)*srcFPS/outFPS+1e-9))
}

// OutputRate returns the frame rate a segment of src is written at.
func (c WriterConfig) OutputRate(src Info) float64 {
	if c.FPS > 0 {
		return c.FPS
	}
	return float64(src.FPS)
}
