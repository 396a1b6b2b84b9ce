package detection

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/teslashibe/go-highlight/pkg/video"
	"gocv.io/x/gocv"
)

// FaceCounter counts faces in one image.
type FaceCounter interface {
	CountFaces(img gocv.Mat) (int, error)
	Close() error
}

// FaceCounterFactory builds an independent FaceCounter for one worker.
type FaceCounterFactory func() (FaceCounter, error)

// FacePool runs face counting over buffered frames on a fixed number of
// workers. Every worker owns its own counter; nothing mutable is shared.
type FacePool struct {
	workers    int
	newCounter FaceCounterFactory
	logger     *slog.Logger
}

// NewFacePool creates a pool of Haar cascade workers. The cascade is loaded
// once up front so a bad file fails here rather than inside a worker.
func NewFacePool(cfg FaceConfig, logger *slog.Logger) (*FacePool, error) {
	if err := requireFile(cfg.CascadePath); err != nil {
		return nil, err
	}
	return NewCheckedFacePool(cfg.Workers, func() (FaceCounter, error) {
		return NewCascade(cfg)
	}, logger)
}

// NewCheckedFacePool is NewFacePoolWith after building and closing one
// counter. A factory failure is reported as ErrModelLoad.
func NewCheckedFacePool(workers int, factory FaceCounterFactory, logger *slog.Logger) (*FacePool, error) {
	counter, err := factory()
	if err != nil {
		if errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if err := counter.Close(); err != nil {
		return nil, fmt.Errorf("%w: close counter: %v", ErrModelLoad, err)
	}
	return NewFacePoolWith(workers, factory, logger), nil
}

// NewFacePoolWith creates a pool around a custom counter factory.
// workers <= 0 uses runtime.NumCPU().
func NewFacePoolWith(workers int, factory FaceCounterFactory, logger *slog.Logger) *FacePool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FacePool{
		workers:    workers,
		newCounter: factory,
		logger:     logger.With("component", "face-pool"),
	}
}

// Workers returns the pool size.
func (p *FacePool) Workers() int {
	return p.workers
}

// DetectAll counts faces in every frame and returns frame index -> face
// count for frames with at least one face. It takes ownership of frames and
// releases all of them before returning. It waits for every worker, even
// when one fails.
func (p *FacePool) DetectAll(frames []video.Frame) (map[int]int, error) {
	if len(frames) == 0 {
		return map[int]int{}, nil
	}

	chunks := Chunk(len(frames), p.workers)
	results := make([]map[int]int, len(chunks))
	errs := make([]error, len(chunks))

	p.logger.Debug("face pass started", "frames", len(frames), "workers", len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, part []video.Frame) {
			defer wg.Done()
			results[i], errs[i] = p.work(part)
		}(i, frames[c.Start:c.End])
	}
	wg.Wait()

	merged := make(map[int]int)
	for _, r := range results {
		for idx, n := range r {
			merged[idx] = n
		}
	}

	if err := errors.Join(errs...); err != nil {
		return merged, err
	}
	return merged, nil
}

// work processes one chunk with a worker-local counter.
func (p *FacePool) work(part []video.Frame) (hits map[int]int, err error) {
	defer video.CloseFrames(part)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("face worker panic: %v", r)
		}
	}()

	counter, err := p.newCounter()
	if err != nil {
		if errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer counter.Close()

	hits = make(map[int]int)
	for _, f := range part {
		n, err := counter.CountFaces(f.Image)
		if err != nil {
			return hits, fmt.Errorf("frame %d: %w", f.Index, err)
		}
		if n > 0 {
			hits[f.Index] = n
		}
	}
	return hits, nil
}

// Span is a half-open index range [Start, End).
type Span struct {
	Start, End int
}

// Chunk splits n items into at most workers contiguous spans of
// ceil(n/workers) items each.
func Chunk(n, workers int) []Span {
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	size := (n + workers - 1) / workers

	spans := make([]Span, 0, workers)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}
