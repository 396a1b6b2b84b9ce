package detection

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// FaceConfig holds face cascade configuration
type FaceConfig struct {
	CascadePath  string  // Haar cascade XML
	ScaleFactor  float64 // Pyramid step (default 1.1)
	MinNeighbors int     // Candidate merge threshold (default 5)
	MinSize      int     // Smallest face side in pixels (default 30)
	Workers      int     // Pool size, 0 uses runtime.NumCPU()
}

// DefaultFaceConfig returns the frontal face defaults.
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		CascadePath:  "models/" + FaceCascadeFile,
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      30,
	}
}

// CascadeDetector counts faces with a Haar cascade. Instances are not
// shared; each pool worker builds its own.
type CascadeDetector struct {
	classifier gocv.CascadeClassifier
	config     FaceConfig
	gray       gocv.Mat
}

// NewCascade loads the cascade named in cfg.
func NewCascade(cfg FaceConfig) (*CascadeDetector, error) {
	if err := requireFile(cfg.CascadePath); err != nil {
		return nil, err
	}

	def := DefaultFaceConfig()
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = def.ScaleFactor
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = def.MinNeighbors
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = def.MinSize
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("%w: cannot load cascade %s", ErrModelLoad, cfg.CascadePath)
	}

	return &CascadeDetector{
		classifier: classifier,
		config:     cfg,
		gray:       gocv.NewMat(),
	}, nil
}

// Detect returns face boxes found in a BGR image.
func (c *CascadeDetector) Detect(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	gocv.CvtColor(img, &c.gray, gocv.ColorBGRToGray)

	rects := c.classifier.DetectMultiScaleWithParams(c.gray,
		c.config.ScaleFactor,
		c.config.MinNeighbors,
		0,
		image.Pt(c.config.MinSize, c.config.MinSize),
		image.Pt(0, 0),
	)

	detections := make([]Detection, 0, len(rects))
	for _, r := range rects {
		detections = append(detections, Detection{Box: r})
	}
	return detections, nil
}

// CountFaces returns the number of faces in img.
func (c *CascadeDetector) CountFaces(img gocv.Mat) (int, error) {
	dets, err := c.Detect(img)
	return len(dets), err
}

// Close releases the detector resources
func (c *CascadeDetector) Close() error {
	c.gray.Close()
	return c.classifier.Close()
}
