package extract

import (
	"errors"
	"fmt"
	"image"
)

// Config holds extraction parameters. All of them are passed explicitly;
// nothing is read from the environment here.
type Config struct {
	TargetSize          image.Point // output frame size
	MinSegment          float64     // shortest drawn segment length, seconds
	MaxSegment          float64     // longest drawn segment length, seconds
	ConfidenceThreshold float64     // person scores must be strictly greater
	MaxVideoDuration    float64     // longer sources are rejected, seconds
	MaxBufferBytes      int64       // face pass buffer limit, 0 = unbounded
	OutputFPS           float64     // 0 keeps the source rate
	Codec               string      // output fourcc
	FaceWorkers         int         // 0 uses runtime.NumCPU()
	Seed                uint64      // segment length seed, 0 seeds from the clock
}

// DefaultConfig returns the reel defaults.
func DefaultConfig() Config {
	return Config{
		TargetSize:          image.Pt(480, 480),
		MinSegment:          5,
		MaxSegment:          8,
		ConfidenceThreshold: 0.7,
		MaxVideoDuration:    40,
		Codec:               "avc1",
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.TargetSize.X <= 0 || c.TargetSize.Y <= 0 {
		errs = append(errs, fmt.Errorf("target size %v must be positive", c.TargetSize))
	}
	if c.MinSegment < 0 || c.MinSegment > c.MaxSegment {
		errs = append(errs, fmt.Errorf("segment range [%v, %v] is invalid", c.MinSegment, c.MaxSegment))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold %v outside [0, 1]", c.ConfidenceThreshold))
	}
	if c.MaxVideoDuration <= 0 {
		errs = append(errs, fmt.Errorf("max video duration %v must be positive", c.MaxVideoDuration))
	}
	if c.MaxBufferBytes < 0 {
		errs = append(errs, fmt.Errorf("max buffer bytes %d is negative", c.MaxBufferBytes))
	}
	if c.OutputFPS < 0 {
		errs = append(errs, fmt.Errorf("output fps %v is negative", c.OutputFPS))
	}
	return errors.Join(errs...)
}
