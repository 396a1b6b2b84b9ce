package extract

import (
	"context"
	"time"

	"github.com/teslashibe/go-highlight/pkg/detection"
	"github.com/teslashibe/go-highlight/pkg/segment"
	"github.com/teslashibe/go-highlight/pkg/video"
	"gocv.io/x/gocv"
)

// Source is an owned decode cursor. Scan and write share it, one after
// the other.
type Source interface {
	video.FrameReader
	Reads() int // frames decoded so far
	Close() error
}

// Opener opens a Source for a local path.
type Opener func(path string) (Source, error)

// PersonDetector reports person boxes in one frame.
type PersonDetector interface {
	Detect(img gocv.Mat) ([]detection.Detection, error)
}

// FaceScanner counts faces across buffered frames. It takes ownership of
// frames and releases them.
type FaceScanner interface {
	DetectAll(frames []video.Frame) (map[int]int, error)
}

// Selector turns a trigger time into a segment.
type Selector interface {
	Select(start, duration float64) segment.Segment
}

// SegmentWriter writes count frames of src starting at frame start.
type SegmentWriter interface {
	Write(ctx context.Context, src video.FrameReader, start, count int, output string) (video.WriteResult, error)
}

// Kind names the pass that produced a trigger.
type Kind string

const (
	KindPerson   Kind = "person"
	KindFace     Kind = "face"
	KindFallback Kind = "fallback"
)

// Event is the trigger frame chosen for one extraction.
type Event struct {
	FrameIndex    int     `json:"frame_index"`
	Timestamp     float64 `json:"timestamp_seconds"`
	Kind          Kind    `json:"kind"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence,omitempty"`
	HasConfidence bool    `json:"has_confidence"`
}

// Result describes a successful extraction.
type Result struct {
	Output          string          `json:"output"`
	Source          video.Info      `json:"source"`
	Event           Event           `json:"event"`
	Segment         segment.Segment `json:"segment"`
	FramesScanned   int             `json:"frames_scanned"`
	FramesDecoded   int             `json:"frames_decoded"`
	OutputFPS       float64         `json:"output_fps"`
	FramesRequested int             `json:"frames_requested"`
	FramesWritten   int             `json:"frames_written"`
	Truncated       bool            `json:"truncated"`
	Elapsed         time.Duration   `json:"elapsed"`
}
