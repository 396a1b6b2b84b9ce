// Package extract finds a highlight segment in a video and writes it out.
//
// An extraction scans frames in order with a person detector and stops at
// the first hit. Scanned frames are buffered; if no person is found the
// buffer goes to a parallel face pass, and the earliest frame with a face
// wins. Without any detection the segment starts at the first frame.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teslashibe/go-highlight/pkg/detection"
	"github.com/teslashibe/go-highlight/pkg/metrics"
	"github.com/teslashibe/go-highlight/pkg/video"
)

const progressEvery = 30

var tracer = otel.Tracer("github.com/teslashibe/go-highlight/pkg/extract")

// Deps are the collaborators of an Extractor.
type Deps struct {
	Open     Opener
	Person   PersonDetector
	Faces    FaceScanner
	Selector Selector
	Writer   SegmentWriter
}

// Extractor runs extractions. It is safe for concurrent use as long as
// its collaborators are.
type Extractor struct {
	config  Config
	deps    Deps
	logger  *slog.Logger
	closers []io.Closer
}

// New creates an Extractor from explicit collaborators.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("extract: invalid config: %w", err)
	}
	switch {
	case deps.Open == nil:
		return nil, errors.New("extract: opener required")
	case deps.Person == nil:
		return nil, errors.New("extract: person detector required")
	case deps.Faces == nil:
		return nil, errors.New("extract: face scanner required")
	case deps.Selector == nil:
		return nil, errors.New("extract: selector required")
	case deps.Writer == nil:
		return nil, errors.New("extract: writer required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "extractor"),
	}, nil
}

// Config returns the extraction parameters.
func (x *Extractor) Config() Config {
	return x.config
}

// Close releases collaborators created by NewDefault.
func (x *Extractor) Close() error {
	var errs []error
	for _, c := range x.closers {
		errs = append(errs, c.Close())
	}
	x.closers = nil
	return errors.Join(errs...)
}

// Extract writes a highlight segment of input to output (forced to .mp4).
// Every failure comes back as an *Error; the source is released on every path.
func (x *Extractor) Extract(ctx context.Context, input, output string) (res *Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "extract", trace.WithAttributes(
		attribute.String("input", input),
		attribute.String("output", output),
	))
	defer span.End()

	metrics.ActiveExtractions.Inc()
	defer metrics.ActiveExtractions.Dec()

	logger := x.logger.With("input", input)

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, newError("extract", input, ErrExtraction, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			metrics.ExtractionsTotal.WithLabelValues(KindOf(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err))
			logger.Error("extraction failed", "kind", KindOf(err), "error", err)
			return
		}
		res.Elapsed = time.Since(started)
		metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
		logger.Info("extraction complete",
			"output", res.Output,
			"trigger", res.Event.Kind,
			"segment", res.Segment.String(),
			"frames", res.FramesWritten,
			"decoded", res.FramesDecoded,
			"elapsed", res.Elapsed)
	}()

	logger.Info("opening video")
	src, err := x.deps.Open(input)
	if err != nil {
		return nil, newError("open", input, ErrVideoOpen, err)
	}
	defer src.Close()

	info := src.Info()
	logger.Info("video loaded",
		"fps", info.FPS,
		"frames", info.FrameCount,
		"duration", info.Duration())

	if info.Duration() > x.config.MaxVideoDuration {
		return nil, newError("check duration", input, ErrDurationExceeded,
			fmt.Errorf("%.2fs exceeds %.2fs", info.Duration(), x.config.MaxVideoDuration))
	}

	event, scanned, err := x.findTrigger(ctx, src, info, logger)
	if err != nil {
		return nil, err
	}
	metrics.TriggersTotal.WithLabelValues(string(event.Kind)).Inc()

	seg := x.deps.Selector.Select(event.Timestamp, info.Duration())
	outFPS := video.WriterConfig{FPS: x.config.OutputFPS}.OutputRate(info)
	count := seg.FrameCountAt(outFPS)
	logger.Info("extracting segment",
		"start", seg.Start,
		"end", seg.End,
		"fps", outFPS,
		"frames", count)

	writeStarted := time.Now()
	wctx, wspan := tracer.Start(ctx, "write segment")
	written, err := x.deps.Writer.Write(wctx, src, event.FrameIndex, count, output)
	endSpan(wspan, err)
	metrics.StageDuration.WithLabelValues("write").Observe(time.Since(writeStarted).Seconds())
	if err != nil {
		return nil, newError("write", output, ErrExtraction, err)
	}
	metrics.FramesWrittenTotal.Add(float64(written.Frames))

	return &Result{
		Output:          written.Path,
		Source:          info,
		Event:           event,
		Segment:         seg,
		FramesScanned:   scanned,
		OutputFPS:       outFPS,
		FramesRequested: count,
		FramesDecoded:   src.Reads(),
		FramesWritten:   written.Frames,
		Truncated:       written.Truncated,
	}, nil
}

// findTrigger runs the person pass, then the face pass, then falls back to
// the first frame. It returns the number of frames the person pass read.
func (x *Extractor) findTrigger(ctx context.Context, src Source, info video.Info, logger *slog.Logger) (Event, int, error) {
	buf := video.NewFrameBuffer(x.config.MaxBufferBytes)
	defer func() {
		metrics.BufferedBytes.Sub(float64(buf.Bytes()))
		buf.Close()
	}()

	started := time.Now()
	pctx, pspan := tracer.Start(ctx, "scan persons")
	event, found, scanned, err := x.scanPersons(pctx, src, info, buf, logger)
	endSpan(pspan, err)
	metrics.StageDuration.WithLabelValues("persons").Observe(time.Since(started).Seconds())
	if err != nil || found {
		return event, scanned, err
	}

	logger.Info("no people detected, starting face pass", "frames", buf.Len(), "buffered_bytes", buf.Bytes())
	metrics.BufferedBytes.Sub(float64(buf.Bytes()))
	frames := buf.Take()

	started = time.Now()
	_, fspan := tracer.Start(ctx, "scan faces", trace.WithAttributes(attribute.Int("frames", len(frames))))
	event, found, err = x.scanFaces(frames, info, logger)
	endSpan(fspan, err)
	metrics.StageDuration.WithLabelValues("faces").Observe(time.Since(started).Seconds())
	if err != nil || found {
		return event, scanned, err
	}

	logger.Info("no people or faces detected, using video start")
	return Event{
		FrameIndex: 0,
		Timestamp:  0,
		Kind:       KindFallback,
		Reason:     "no detections",
	}, scanned, nil
}

// scanPersons reads frames in order until the first person detection.
// Frames without a person are moved into buf.
func (x *Extractor) scanPersons(ctx context.Context, src Source, info video.Info, buf *video.FrameBuffer, logger *slog.Logger) (Event, bool, int, error) {
	path := info.Path
	scanned := 0

	for scanned < info.FrameCount {
		if err := ctx.Err(); err != nil {
			return Event{}, false, scanned, newError("scan persons", path, ErrExtraction, err)
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Event{}, false, scanned, newError("scan persons", path, ErrExtraction, err)
		}
		scanned++
		metrics.FramesScannedTotal.WithLabelValues("persons").Inc()

		dets, err := x.detectPersons(frame)
		if err != nil {
			frame.Close()
			return Event{}, false, scanned, newError("scan persons", path, ErrExtraction,
				fmt.Errorf("frame %d: %w", frame.Index, err))
		}

		if len(dets) > 0 {
			frame.Close()
			event := Event{
				FrameIndex:    frame.Index,
				Timestamp:     frame.Timestamp,
				Kind:          KindPerson,
				Reason:        fmt.Sprintf("people detected: %d", len(dets)),
				Confidence:    detection.MaxConfidence(dets),
				HasConfidence: true,
			}
			logger.Info("people detected",
				"frame", event.FrameIndex,
				"time", event.Timestamp,
				"boxes", len(dets),
				"confidence", event.Confidence)
			return event, true, scanned, nil
		}

		size := frame.Bytes()
		if err := buf.Append(frame); err != nil {
			frame.Close()
			return Event{}, false, scanned, newError("buffer frames", path, ErrExtraction, err)
		}
		metrics.BufferedBytes.Add(float64(size))

		if scanned%progressEvery == 0 {
			logger.Debug("person scan progress", "frames", scanned, "total", info.FrameCount)
		}
	}

	return Event{}, false, scanned, nil
}

// detectPersons runs the person detector on frame. If the detector panics
// the frame is released before the panic continues.
func (x *Extractor) detectPersons(frame video.Frame) ([]detection.Detection, error) {
	defer func() {
		if r := recover(); r != nil {
			frame.Close()
			panic(r)
		}
	}()
	return x.deps.Person.Detect(frame.Image)
}

// scanFaces hands frames to the face scanner and picks the earliest hit.
func (x *Extractor) scanFaces(frames []video.Frame, info video.Info, logger *slog.Logger) (Event, bool, error) {
	if len(frames) == 0 {
		return Event{}, false, nil
	}
	metrics.FramesScannedTotal.WithLabelValues("faces").Add(float64(len(frames)))

	hits, err := x.deps.Faces.DetectAll(frames)
	if err != nil {
		kind := ErrExtraction
		if errors.Is(err, ErrModelLoad) {
			kind = ErrModelLoad
		}
		return Event{}, false, newError("scan faces", info.Path, kind, err)
	}

	idx, ok := Earliest(hits)
	if !ok {
		return Event{}, false, nil
	}

	event := Event{
		FrameIndex: idx,
		Timestamp:  info.Timestamp(idx),
		Kind:       KindFace,
		Reason:     fmt.Sprintf("faces detected: %d", hits[idx]),
	}
	logger.Info("faces detected",
		"frame", event.FrameIndex,
		"time", event.Timestamp,
		"faces", hits[idx],
		"frames_with_faces", len(hits))
	return event, true, nil
}

// Earliest returns the smallest frame index with at least one hit.
// Map iteration order is random, so the order is rebuilt here.
func Earliest(hits map[int]int) (int, bool) {
	indices := make([]int, 0, len(hits))
	for idx, n := range hits {
		if n > 0 {
			indices = append(indices, idx)
		}
	}
	if len(indices) == 0 {
		return 0, false
	}
	sort.Ints(indices)
	return indices[0], true
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
