package detection

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// PersonClassID is the COCO class index for "person".
const PersonClassID = 0

// PersonConfig holds person detector configuration
type PersonConfig struct {
	ConfigPath       string  // Darknet network definition (.cfg)
	WeightsPath      string  // Darknet weights
	ConfidenceThresh float64 // Scores must be strictly greater than this
	InputWidth       int     // Network input width
	InputHeight      int     // Network input height
}

// DefaultPersonConfig returns production defaults for YOLOv3.
func DefaultPersonConfig() PersonConfig {
	return PersonConfig{
		ConfigPath:       "models/" + YOLOConfigFile,
		WeightsPath:      "models/" + YOLOWeightsFile,
		ConfidenceThresh: 0.7,
		InputWidth:       416,
		InputHeight:      416,
	}
}

// PersonDetector runs a Darknet YOLO network and keeps person detections only.
type PersonDetector struct {
	net         gocv.Net
	config      PersonConfig
	outputNames []string
	inputSize   image.Point
	mu          sync.Mutex
}

// LoadPerson loads the YOLO network described by cfg.
func LoadPerson(cfg PersonConfig) (*PersonDetector, error) {
	if err := requireFile(cfg.ConfigPath); err != nil {
		return nil, err
	}
	if err := requireFile(cfg.WeightsPath); err != nil {
		return nil, err
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		def := DefaultPersonConfig()
		cfg.InputWidth, cfg.InputHeight = def.InputWidth, def.InputHeight
	}

	net := gocv.ReadNetFromDarknet(cfg.ConfigPath, cfg.WeightsPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: empty network from %s", ErrModelLoad, cfg.WeightsPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	names := outputLayerNames(net.GetLayerNames(), net.GetUnconnectedOutLayers())
	if len(names) == 0 {
		net.Close()
		return nil, fmt.Errorf("%w: network has no output layers", ErrModelLoad)
	}

	return &PersonDetector{
		net:         net,
		config:      cfg,
		outputNames: names,
		inputSize:   image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Threshold returns the configured confidence threshold.
func (d *PersonDetector) Threshold() float64 {
	return d.config.ConfidenceThresh
}

// Detect returns every person box in img whose score exceeds the threshold.
// Boxes are not deduplicated.
func (d *PersonDetector) Detect(img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	var detections []Detection
	for _, out := range outputs {
		data, err := out.DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("read output: %w", err)
		}
		detections = append(detections,
			parseYOLOOutput(data, out.Rows(), out.Cols(), img.Cols(), img.Rows(), d.config.ConfidenceThresh)...)
	}

	return detections, nil
}

// Close releases the detector resources
func (d *PersonDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// outputLayerNames maps OpenCV's 1-based unconnected layer ids to names.
func outputLayerNames(layers []string, ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 1 || id > len(layers) {
			continue
		}
		names = append(names, layers[id-1])
	}
	return names
}

// parseYOLOOutput parses one YOLOv3 output tensor.
// Each row is [cx, cy, w, h, objectness, class scores...] normalised to
// the image size.
func parseYOLOOutput(data []float32, rows, cols, imgW, imgH int, thresh float64) []Detection {
	if cols <= 5 || len(data) < rows*cols {
		return nil
	}

	var detections []Detection
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		scores := row[5:]

		classID := 0
		best := scores[0]
		for c := 1; c < len(scores); c++ {
			if scores[c] > best {
				best = scores[c]
				classID = c
			}
		}
		if classID != PersonClassID || float64(best) <= thresh {
			continue
		}

		cx := int(row[0] * float32(imgW))
		cy := int(row[1] * float32(imgH))
		w := int(row[2] * float32(imgW))
		h := int(row[3] * float32(imgH))
		x := int(float64(cx) - float64(w)/2)
		y := int(float64(cy) - float64(h)/2)

		detections = append(detections, Detection{
			Box:        image.Rect(x, y, x+w, y+h),
			Confidence: float64(best),
		})
	}
	return detections
}
