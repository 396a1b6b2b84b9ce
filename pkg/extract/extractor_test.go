package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-highlight/internal/log"
	"github.com/teslashibe/go-highlight/pkg/detection"
	"github.com/teslashibe/go-highlight/pkg/metrics"
	"github.com/teslashibe/go-highlight/pkg/segment"
	"github.com/teslashibe/go-highlight/pkg/video"
)

// fakeSource serves tiny black frames and counts decodes.
type fakeSource struct {
	info   video.Info
	next   int
	reads  int
	closed int
}

func newFakeSource(fps, frames int) *fakeSource {
	return &fakeSource{info: video.Info{Path: "in.mp4", FPS: fps, FrameCount: frames, Width: 4, Height: 2}}
}

func (s *fakeSource) Info() video.Info { return s.info }

func (s *fakeSource) Seek(index int) error {
	if index < 0 || index > s.info.FrameCount {
		return errors.New("seek out of range")
	}
	s.next = index
	return nil
}

func (s *fakeSource) Next() (video.Frame, error) {
	if s.next >= s.info.FrameCount {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{
		Index:     s.next,
		Timestamp: s.info.Timestamp(s.next),
		Image:     gocv.NewMatWithSize(2, 4, gocv.MatTypeCV8UC3),
	}
	s.next++
	s.reads++
	return f, nil
}

func (s *fakeSource) Reads() int { return s.reads }

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

// fakePerson reports people on chosen call numbers. Calls line up with
// frame indices because the scan starts at frame 0.
type fakePerson struct {
	hits  map[int]int
	fail  int
	panic bool
	calls int
}

func (p *fakePerson) Detect(img gocv.Mat) ([]detection.Detection, error) {
	call := p.calls
	p.calls++
	if p.panic {
		panic("detector crashed")
	}
	if p.fail > 0 && call == p.fail {
		return nil, errors.New("forward failed")
	}
	dets := make([]detection.Detection, p.hits[call])
	for i := range dets {
		dets[i] = detection.Detection{Box: image.Rect(0, 0, 1, 1), Confidence: 0.8 + float64(i)/100}
	}
	return dets, nil
}

// fakeFaces records what it was handed and returns canned hits.
type fakeFaces struct {
	hits    map[int]int
	err     error
	calls   int
	indices []int
}

func (f *fakeFaces) DetectAll(frames []video.Frame) (map[int]int, error) {
	defer video.CloseFrames(frames)
	f.calls++
	for _, fr := range frames {
		f.indices = append(f.indices, fr.Index)
	}
	return f.hits, f.err
}

type fixedSelector struct {
	length float64
}

func (s fixedSelector) Select(start, duration float64) segment.Segment {
	return segment.Clip(start, s.length, duration)
}

// fakeWriter reads the requested range like the real writer but encodes nothing.
type fakeWriter struct {
	err         error
	calls       int
	start       int
	count       int
	readsBefore int
}

func (w *fakeWriter) Write(ctx context.Context, src video.FrameReader, start, count int, output string) (video.WriteResult, error) {
	w.calls++
	w.start, w.count = start, count
	if fs, ok := src.(*fakeSource); ok {
		w.readsBefore = fs.reads
	}
	res := video.WriteResult{Path: video.MP4Path(output), Requested: count}
	if w.err != nil {
		return res, w.err
	}
	if count <= 0 {
		return res, video.ErrEmptySegment
	}
	if err := src.Seek(start); err != nil {
		return res, err
	}
	for res.Frames < count {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		f.Close()
		res.Frames++
	}
	res.Truncated = res.Frames < count
	return res, nil
}

type harness struct {
	src    *fakeSource
	person *fakePerson
	faces  *fakeFaces
	writer *fakeWriter
	opens  int
	x      *Extractor
}

func newHarness(t *testing.T, src *fakeSource, length float64, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		src:    src,
		person: &fakePerson{hits: map[int]int{}},
		faces:  &fakeFaces{hits: map[int]int{}},
		writer: &fakeWriter{},
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	x, err := New(cfg, Deps{
		Open: func(path string) (Source, error) {
			h.opens++
			return h.src, nil
		},
		Person:   h.person,
		Faces:    h.faces,
		Selector: fixedSelector{length: length},
		Writer:   h.writer,
	}, log.Discard())
	require.NoError(t, err)
	h.x = x
	return h
}

func (h *harness) extract() (*Result, error) {
	return h.x.Extract(context.Background(), "in.mp4", "out/clip.mov")
}

func TestExtract_DurationGateReadsNothing(t *testing.T) {
	// 41 seconds at 24 fps.
	h := newHarness(t, newFakeSource(24, 41*24), 6, nil)

	res, err := h.extract()
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDurationExceeded)
	assert.Equal(t, "duration_exceeded", KindOf(err))

	assert.Zero(t, h.src.reads, "no frame may be decoded")
	assert.Zero(t, h.person.calls)
	assert.Zero(t, h.writer.calls)
	assert.Equal(t, 1, h.src.closed)

	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "in.mp4", xerr.Path)
}

func TestExtract_DurationAtLimitPasses(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 40*24), 6, nil)

	_, err := h.extract()
	require.NoError(t, err)
}

func TestExtract_OpenFailure(t *testing.T) {
	x, err := New(DefaultConfig(), Deps{
		Open: func(path string) (Source, error) {
			return nil, video.ErrOpen
		},
		Person:   &fakePerson{},
		Faces:    &fakeFaces{},
		Selector: fixedSelector{length: 5},
		Writer:   &fakeWriter{},
	}, log.Discard())
	require.NoError(t, err)

	_, err = x.Extract(context.Background(), "missing.mp4", "out.mp4")
	assert.ErrorIs(t, err, ErrVideoOpen)
	assert.ErrorIs(t, err, video.ErrOpen)
	assert.Equal(t, "video_open", KindOf(err))
}

func TestExtract_PersonStopsScanEarly(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 240), 5, nil)
	h.person.hits[36] = 2

	res, err := h.extract()
	require.NoError(t, err)

	assert.Equal(t, 37, h.writer.readsBefore, "scan must stop at the first person frame")
	assert.Equal(t, 37, h.person.calls)
	assert.Equal(t, 37, res.FramesScanned)
	assert.Zero(t, h.faces.calls, "face pass must not run after a person hit")

	assert.Equal(t, KindPerson, res.Event.Kind)
	assert.Equal(t, 36, res.Event.FrameIndex)
	assert.InDelta(t, 1.5, res.Event.Timestamp, 1e-9)
	assert.True(t, res.Event.HasConfidence)
	assert.InDelta(t, 0.81, res.Event.Confidence, 1e-9)
	assert.Equal(t, "people detected: 2", res.Event.Reason)

	assert.Equal(t, 36, h.writer.start)
	assert.Equal(t, 120, h.writer.count)
	assert.Equal(t, 120, res.FramesWritten)
	assert.Equal(t, "out/clip.mp4", res.Output)
	assert.Equal(t, 37+120, res.FramesDecoded)
	assert.Equal(t, 1, h.src.closed)
}

func TestExtract_FirstFramePerson(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 240), 5, nil)
	h.person.hits[0] = 1

	res, err := h.extract()
	require.NoError(t, err)
	assert.Equal(t, 1, h.writer.readsBefore)
	assert.Equal(t, 0, res.Event.FrameIndex)
	assert.Equal(t, KindPerson, res.Event.Kind)
}

func TestExtract_FacePassPicksEarliestFrame(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 100), 5, nil)
	h.faces.hits = map[int]int{40: 1, 12: 3, 77: 2}

	res, err := h.extract()
	require.NoError(t, err)

	assert.Equal(t, 100, h.person.calls)
	assert.Equal(t, 1, h.faces.calls)
	require.Len(t, h.faces.indices, 100, "every scanned frame goes to the face pass")
	for i, idx := range h.faces.indices {
		require.Equal(t, i, idx)
	}

	assert.Equal(t, KindFace, res.Event.Kind)
	assert.Equal(t, 12, res.Event.FrameIndex)
	assert.InDelta(t, 0.5, res.Event.Timestamp, 1e-9)
	assert.False(t, res.Event.HasConfidence)
	assert.Equal(t, "faces detected: 3", res.Event.Reason)
	assert.Equal(t, 12, h.writer.start)
}

func TestExtract_FallbackToStart(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 100), 5, nil)

	res, err := h.extract()
	require.NoError(t, err)

	assert.Equal(t, KindFallback, res.Event.Kind)
	assert.Equal(t, 0, res.Event.FrameIndex)
	assert.Zero(t, res.Event.Timestamp)
	assert.Equal(t, "no detections", res.Event.Reason)
	assert.Equal(t, 0, h.writer.start)
	assert.Equal(t, 1, h.faces.calls)
}

func TestExtract_FrameCountRounds(t *testing.T) {
	// 6.4 s at 24 fps is 153.6 frames.
	h := newHarness(t, newFakeSource(24, 240), 6.4, nil)
	h.person.hits[0] = 1

	res, err := h.extract()
	require.NoError(t, err)
	assert.Equal(t, 154, h.writer.count)
	assert.Equal(t, 154, res.FramesRequested)
	assert.False(t, res.Truncated)
}

func TestExtract_OutputRateDiffersFromSource(t *testing.T) {
	// 6.4 s written at 30 fps needs 192 frames, not the 154 a 24 fps
	// source holds for that span.
	h := newHarness(t, newFakeSource(24, 240), 6.4, func(c *Config) {
		c.OutputFPS = 30
	})
	h.person.hits[0] = 1

	res, err := h.extract()
	require.NoError(t, err)
	assert.InDelta(t, 30.0, res.OutputFPS, 1e-9)
	assert.Equal(t, 192, h.writer.count)
	assert.Equal(t, 192, res.FramesRequested)
	assert.Equal(t, 192, res.FramesWritten)

	h = newHarness(t, newFakeSource(24, 240), 6.4, nil)
	h.person.hits[0] = 1
	res, err = h.extract()
	require.NoError(t, err)
	assert.InDelta(t, 24.0, res.OutputFPS, 1e-9)
	assert.Equal(t, 154, res.FramesRequested)
}

func TestExtract_SegmentClippedAtEnd(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 240), 5, nil)
	h.person.hits[228] = 1

	res, err := h.extract()
	require.NoError(t, err)

	assert.InDelta(t, 9.5, res.Segment.Start, 1e-9)
	assert.InDelta(t, 10.0, res.Segment.End, 1e-9)
	assert.Equal(t, 12, h.writer.count)
	assert.Equal(t, 12, res.FramesWritten)
}

func TestExtract_ClipsToSourceEnd(t *testing.T) {
	// 6 s source, person at 5 s, lengths drawn from [5, 8].
	sel, err := segment.NewSeeded(5, 8, 1)
	require.NoError(t, err)

	h := newHarness(t, newFakeSource(24, 144), 5, nil)
	h.person.hits[120] = 1
	h.x.deps.Selector = sel

	res, err := h.extract()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Segment.Start, 1e-9)
	assert.InDelta(t, 6.0, res.Segment.End, 1e-9)
	assert.Equal(t, 24, res.FramesRequested)
}

func TestExtract_SameSeedSameSegment(t *testing.T) {
	run := func() *Result {
		sel, err := segment.NewSeeded(5, 8, 42)
		require.NoError(t, err)
		h := newHarness(t, newFakeSource(24, 240), 5, nil)
		h.person.hits[50] = 1
		h.x.deps.Selector = sel
		res, err := h.extract()
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Segment, b.Segment)
	assert.Equal(t, a.FramesRequested, b.FramesRequested)
	assert.Equal(t, a.FramesWritten, b.FramesWritten)
	assert.InDelta(t, 50.0/24, a.Segment.Start, 1e-9)
}

func TestExtract_PersonDetectorError(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 100), 5, nil)
	h.person.fail = 3

	_, err := h.extract()
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Equal(t, "extraction", KindOf(err))
	assert.Zero(t, h.writer.calls)
	assert.Equal(t, 1, h.src.closed)
}

func TestExtract_PanicBecomesExtractionError(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 100), 5, nil)
	h.person.panic = true

	res, err := h.extract()
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "detector crashed")
	assert.Equal(t, 1, h.src.closed)
}

func TestExtract_LogsOneComponentKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	src := newFakeSource(24, 48)
	x, err := New(DefaultConfig(), Deps{
		Open:     func(string) (Source, error) { return src, nil },
		Person:   &fakePerson{hits: map[int]int{2: 1}},
		Faces:    &fakeFaces{},
		Selector: fixedSelector{length: 1},
		Writer:   &fakeWriter{},
	}, logger)
	require.NoError(t, err)

	_, err = x.Extract(context.Background(), "in.mp4", "out.mp4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"component":`), line)
	}
}

func TestExtract_FaceModelError(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 50), 5, nil)
	h.faces.err = errors.Join(detection.ErrModelLoad, errors.New("cascade unreadable"))

	_, err := h.extract()
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.Equal(t, "model_load", KindOf(err))
	assert.Zero(t, h.writer.calls)
}

func TestExtract_FaceWorkerError(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 50), 5, nil)
	h.faces.err = errors.New("frame 7: bad pixels")

	_, err := h.extract()
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Equal(t, "extraction", KindOf(err))
}

func TestExtract_WriterError(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 50), 5, nil)
	h.writer.err = errors.New("disk full")

	_, err := h.extract()
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, h.src.closed)
}

func TestExtract_BufferLimit(t *testing.T) {
	frameBytes := int64(2 * 4 * 3)
	h := newHarness(t, newFakeSource(24, 50), 5, func(c *Config) {
		c.MaxBufferBytes = 10 * frameBytes
	})

	_, err := h.extract()
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, video.ErrBufferFull)
	assert.Equal(t, 11, h.person.calls)
	assert.Zero(t, h.faces.calls)
}

func TestExtract_Cancelled(t *testing.T) {
	h := newHarness(t, newFakeSource(24, 50), 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.x.Extract(ctx, "in.mp4", "out.mp4")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.src.reads)
}

func TestExtract_Concurrent(t *testing.T) {
	const n = 4
	x, err := New(DefaultConfig(), Deps{
		Open: func(path string) (Source, error) {
			return newFakeSource(24, 120), nil
		},
		Person:   personAlways{},
		Faces:    &fakeFaces{},
		Selector: fixedSelector{length: 5},
		Writer:   nopWriter{},
	}, log.Discard())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = x.Extract(context.Background(), "in.mp4", "out.mp4")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// personAlways reports a person in every frame and is safe for concurrent use.
type personAlways struct{}

func (personAlways) Detect(img gocv.Mat) ([]detection.Detection, error) {
	return []detection.Detection{{Confidence: 0.9}}, nil
}

type nopWriter struct{}

func (nopWriter) Write(ctx context.Context, src video.FrameReader, start, count int, output string) (video.WriteResult, error) {
	return video.WriteResult{Path: output, Frames: count, Requested: count}, nil
}

func TestExtract_Metrics(t *testing.T) {
	rejected := metrics.ExtractionsTotal.WithLabelValues("duration_exceeded")
	ok := metrics.ExtractionsTotal.WithLabelValues("ok")
	faces := metrics.TriggersTotal.WithLabelValues(string(KindFace))
	beforeRejected, beforeOK, beforeFaces := testutil.ToFloat64(rejected), testutil.ToFloat64(ok), testutil.ToFloat64(faces)

	h := newHarness(t, newFakeSource(24, 41*24), 5, nil)
	_, err := h.extract()
	require.Error(t, err)

	h = newHarness(t, newFakeSource(24, 48), 5, nil)
	h.faces.hits = map[int]int{3: 1}
	_, err = h.extract()
	require.NoError(t, err)

	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(rejected))
	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeFaces+1, testutil.ToFloat64(faces))
	assert.Zero(t, testutil.ToFloat64(metrics.BufferedBytes), "buffer gauge must return to zero")
}

func TestNew_RequiresDeps(t *testing.T) {
	full := Deps{
		Open:     func(string) (Source, error) { return nil, nil },
		Person:   &fakePerson{},
		Faces:    &fakeFaces{},
		Selector: fixedSelector{},
		Writer:   &fakeWriter{},
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"opener", func(d *Deps) { d.Open = nil }},
		{"person", func(d *Deps) { d.Person = nil }},
		{"faces", func(d *Deps) { d.Faces = nil }},
		{"selector", func(d *Deps) { d.Selector = nil }},
		{"writer", func(d *Deps) { d.Writer = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.mutate(&d)
			_, err := New(DefaultConfig(), d, nil)
			assert.Error(t, err)
		})
	}

	cfg := DefaultConfig()
	cfg.MaxVideoDuration = 0
	_, err := New(cfg, full, nil)
	assert.Error(t, err)
}

func TestEarliest(t *testing.T) {
	idx, ok := Earliest(map[int]int{40: 1, 12: 2, 77: 1})
	assert.True(t, ok)
	assert.Equal(t, 12, idx)

	idx, ok = Earliest(map[int]int{3: 0, 9: 1})
	assert.True(t, ok)
	assert.Equal(t, 9, idx)

	_, ok = Earliest(nil)
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{newError("check duration", "a", ErrDurationExceeded, nil), "duration_exceeded"},
		{newError("open", "a", ErrVideoOpen, io.ErrUnexpectedEOF), "video_open"},
		{newError("load models", "a", ErrModelLoad, nil), "model_load"},
		{newError("write", "a", ErrExtraction, errors.New("x")), "extraction"},
		{errors.New("anything else"), "extraction"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinSegment = 9
	cfg.ConfidenceThreshold = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment range")
	assert.Contains(t, err.Error(), "confidence threshold")
}
