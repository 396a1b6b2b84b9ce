package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/teslashibe/go-highlight/pkg/artifacts"
	"github.com/teslashibe/go-highlight/pkg/detection"
	"github.com/teslashibe/go-highlight/pkg/segment"
	"github.com/teslashibe/go-highlight/pkg/video"
)

// ModelFiles lists every artifact NewDefault needs.
var ModelFiles = []string{
	detection.YOLOConfigFile,
	detection.YOLOWeightsFile,
	detection.FaceCascadeFile,
}

// OpenFile opens a local video with OpenCV.
func OpenFile(path string) (Source, error) {
	src, err := video.Open(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// NewDefault builds an Extractor on OpenCV, resolving model files through
// cache. Model failures are reported as ErrModelLoad.
func NewDefault(ctx context.Context, cfg Config, cache *artifacts.Cache, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("extract: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := cache.Warm(ctx, ModelFiles...)
	if err != nil {
		return nil, newError("load models", cache.Dir, ErrModelLoad, err)
	}
	setup := logger.With("component", "extractor")
	setup.Info("loading YOLO model", "config", paths[0], "weights", paths[1])

	personCfg := detection.DefaultPersonConfig()
	personCfg.ConfigPath = paths[0]
	personCfg.WeightsPath = paths[1]
	personCfg.ConfidenceThresh = cfg.ConfidenceThreshold

	person, err := detection.LoadPerson(personCfg)
	if err != nil {
		return nil, newError("load models", paths[1], ErrModelLoad, err)
	}
	setup.Info("YOLO network loaded", "threshold", person.Threshold())

	faceCfg := detection.DefaultFaceConfig()
	faceCfg.CascadePath = paths[2]
	faceCfg.Workers = cfg.FaceWorkers

	faces, err := detection.NewFacePool(faceCfg, logger)
	if err != nil {
		person.Close()
		return nil, newError("load models", paths[2], ErrModelLoad, err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	selector, err := segment.NewSeeded(cfg.MinSegment, cfg.MaxSegment, seed)
	if err != nil {
		person.Close()
		return nil, err
	}

	writer, err := video.NewWriter(video.WriterConfig{
		Size:  cfg.TargetSize,
		FPS:   cfg.OutputFPS,
		Codec: cfg.Codec,
	}, logger)
	if err != nil {
		person.Close()
		return nil, err
	}

	x, err := New(cfg, Deps{
		Open:     OpenFile,
		Person:   person,
		Faces:    faces,
		Selector: selector,
		Writer:   writer,
	}, logger)
	if err != nil {
		person.Close()
		return nil, err
	}
	x.closers = []io.Closer{person}
	return x, nil
}
