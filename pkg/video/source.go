package video

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// FrameReader is a sequential, seekable cursor over decoded frames.
type FrameReader interface {
	Info() Info
	Seek(index int) error
	Next() (Frame, error)
}

// Source owns one OpenCV capture handle for a video file.
// It is not safe for concurrent use: a single owner advances the cursor.
type Source struct {
	capture *gocv.VideoCapture
	info    Info
	next    int
	reads   int

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// Open opens the video at path and reads its properties without decoding.
func Open(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s: capture not opened", ErrOpen, path)
	}

	info := Info{
		Path:       path,
		FPS:        int(math.Round(capture.Get(gocv.VideoCaptureFPS))),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if info.FPS <= 0 {
		capture.Close()
		return nil, fmt.Errorf("%w: %s: invalid frame rate", ErrOpen, path)
	}
	if info.FrameCount < 0 {
		info.FrameCount = 0
	}

	return &Source{capture: capture, info: info}, nil
}

// Info returns the immutable video properties.
func (s *Source) Info() Info {
	return s.info
}

// Seek positions the cursor so the next call to Next returns frame index.
func (s *Source) Seek(index int) error {
	if s.closed {
		return ErrClosed
	}
	if index < 0 || (s.info.FrameCount > 0 && index > s.info.FrameCount) {
		return fmt.Errorf("video: seek to %d outside [0, %d]", index, s.info.FrameCount)
	}
	s.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	s.next = index
	return nil
}

// Next decodes the frame under the cursor and advances it.
// It returns io.EOF once the stream is exhausted.
func (s *Source) Next() (Frame, error) {
	if s.closed {
		return Frame{}, ErrClosed
	}

	img := gocv.NewMat()
	if ok := s.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return Frame{}, io.EOF
	}
	s.reads++

	f := Frame{
		Index:     s.next,
		Timestamp: s.info.Timestamp(s.next),
		Image:     img,
	}
	s.next++
	return f, nil
}

// Reads returns how many frames have been decoded.
func (s *Source) Reads() int {
	return s.reads
}

// Close releases the capture handle. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.closeErr = s.capture.Close()
	})
	return s.closeErr
}
