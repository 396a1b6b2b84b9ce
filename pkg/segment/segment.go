// Package segment turns a trigger time into a clipped highlight window of
// randomised length.
package segment

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Segment is a [Start, End) window in seconds of the source video.
type Segment struct {
	Start float64 `json:"start_seconds"`
	End   float64 `json:"end_seconds"`
}

// Length returns End - Start.
func (s Segment) Length() float64 {
	return s.End - s.Start
}

// FrameCount returns how many frames at fps cover the segment.
func (s Segment) FrameCount(fps int) int {
	return s.FrameCountAt(float64(fps))
}

// FrameCountAt is FrameCount for fractional rates.
func (s Segment) FrameCountAt(fps float64) int {
	if fps <= 0 || s.End <= s.Start {
		return 0
	}
	return int(math.Round(s.Length() * fps))
}

// StartFrame returns the index of the first frame of the segment.
func (s Segment) StartFrame(fps int) int {
	if fps <= 0 {
		return 0
	}
	return int(math.Round(s.Start * float64(fps)))
}

// Durations returns the bounds as time.Duration values.
func (s Segment) Durations() (start, end time.Duration) {
	return seconds(s.Start), seconds(s.End)
}

func (s Segment) String() string {
	return fmt.Sprintf("[%.3fs, %.3fs)", s.Start, s.End)
}

// Selector draws segment lengths uniformly from [Min, Max] seconds.
// It is safe for concurrent use.
type Selector struct {
	min, max float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector drawing from src.
func NewSelector(min, max float64, src rand.Source) (*Selector, error) {
	if min < 0 || math.IsNaN(min) || math.IsNaN(max) {
		return nil, fmt.Errorf("segment: invalid length range [%v, %v]", min, max)
	}
	if min > max {
		return nil, fmt.Errorf("segment: min length %v exceeds max %v", min, max)
	}
	if src == nil {
		return nil, fmt.Errorf("segment: nil random source")
	}
	return &Selector{min: min, max: max, rng: rand.New(src)}, nil
}

// NewSeeded creates a selector with a deterministic PCG source.
func NewSeeded(min, max float64, seed uint64) (*Selector, error) {
	return NewSelector(min, max, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Range returns the configured length bounds.
func (s *Selector) Range() (min, max float64) {
	return s.min, s.max
}

// Length draws one segment length.
func (s *Selector) Length() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.min + s.rng.Float64()*(s.max-s.min)
}

// Select builds the window starting at start seconds of a source lasting
// duration seconds. The end is clipped to duration, so the result may be
// shorter than Min or even empty when start is at the very end.
func (s *Selector) Select(start, duration float64) Segment {
	return Clip(start, s.Length(), duration)
}

// Clip returns [start, start+length) clipped into [0, duration].
func Clip(start, length, duration float64) Segment {
	if duration < 0 {
		duration = 0
	}
	start = math.Max(0, math.Min(start, duration))
	end := math.Min(start+math.Max(length, 0), duration)
	return Segment{Start: start, End: end}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
