// Package video reads local video files frame by frame with OpenCV and
// writes letterboxed MP4 segments back out.
package video

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Sentinel errors for common conditions.
var (
	// ErrOpen is returned when a video cannot be opened or reports no usable frame rate.
	ErrOpen = errors.New("video: cannot open source")

	// ErrEmptySegment is returned when a write would produce zero frames.
	ErrEmptySegment = errors.New("video: segment contains no frames")

	// ErrBufferFull is returned when a FrameBuffer would exceed its byte limit.
	ErrBufferFull = errors.New("video: frame buffer limit reached")

	// ErrClosed is returned when reading from a closed source.
	ErrClosed = errors.New("video: source closed")
)

// Info describes an opened video. It never changes after Open.
type Info struct {
	Path       string `json:"path"`
	FPS        int    `json:"fps"`
	FrameCount int    `json:"frame_count"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Duration returns the length of the video in seconds.
func (i Info) Duration() float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(i.FrameCount) / float64(i.FPS)
}

// Timestamp returns the presentation time of the frame at index.
func (i Info) Timestamp(index int) float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(index) / float64(i.FPS)
}

// FrameBytes is the size of one decoded BGR frame.
func (i Info) FrameBytes() int64 {
	return int64(i.Width) * int64(i.Height) * 3
}

// MemoryCeiling is the worst case size of buffering every frame of the
// video, which is what a scan without any person detection costs.
func (i Info) MemoryCeiling() int64 {
	return int64(i.FrameCount) * i.FrameBytes()
}

// Frame is one decoded picture. The holder owns Image and must Close it.
type Frame struct {
	Index     int
	Timestamp float64 // seconds
	Image     gocv.Mat
}

// Bytes returns the pixel buffer size.
func (f Frame) Bytes() int64 {
	return int64(f.Image.Rows()) * int64(f.Image.Cols()) * int64(f.Image.Channels())
}

// Close releases the pixel buffer.
func (f Frame) Close() error {
	return f.Image.Close()
}

// CloseFrames releases every frame in frames.
func CloseFrames(frames []Frame) {
	for _, f := range frames {
		f.Close()
	}
}

// FrameBuffer keeps frames scanned by one pass so a later pass can reuse the
// decoded pixels without a second decode.
//
// Memory grows with every appended frame; the worst case is
// Info.MemoryCeiling. Set a limit with NewFrameBuffer to turn the ceiling
// into an error instead.
type FrameBuffer struct {
	frames   []Frame
	bytes    int64
	maxBytes int64
	taken    bool
}

// NewFrameBuffer returns an empty buffer. maxBytes <= 0 means unbounded.
func NewFrameBuffer(maxBytes int64) *FrameBuffer {
	return &FrameBuffer{maxBytes: maxBytes}
}

// Append transfers ownership of f to the buffer. When the limit would be
// exceeded, or the frames were already taken, the caller keeps ownership.
func (b *FrameBuffer) Append(f Frame) error {
	if b.taken {
		return fmt.Errorf("video: append after take")
	}
	size := f.Bytes()
	if b.maxBytes > 0 && b.bytes+size > b.maxBytes {
		return fmt.Errorf("%w: %d bytes buffered, limit %d", ErrBufferFull, b.bytes, b.maxBytes)
	}
	b.frames = append(b.frames, f)
	b.bytes += size
	return nil
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Bytes returns the total pixel size of buffered frames.
func (b *FrameBuffer) Bytes() int64 {
	return b.bytes
}

// Take hands every buffered frame to the caller. It succeeds once; later
// calls return nil.
func (b *FrameBuffer) Take() []Frame {
	if b.taken {
		return nil
	}
	b.taken = true
	frames := b.frames
	b.frames = nil
	b.bytes = 0
	return frames
}

// Close releases frames still owned by the buffer.
func (b *FrameBuffer) Close() error {
	CloseFrames(b.frames)
	b.frames = nil
	b.bytes = 0
	return nil
}
