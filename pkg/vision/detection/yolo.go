package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/vision"
)

// YOLODetector runs a YOLOv8 ONNX model for object detection.
// Labels are passed through untouched; person filtering is the scanner's job.
type YOLODetector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
}

// NewYOLO loads the YOLOv8 model named in cfg.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.PersonModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.PersonModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.PersonModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.PersonModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect runs the model on img and returns labelled pixel-space detections.
// Pan and world angles are left for the caller to fill in.
func (d *YOLODetector) Detect(img gocv.Mat) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape [1, 4+classes, anchors]
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected YOLO output rank %d", len(sizes))
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read YOLO output: %w", err)
	}

	scaleX := float32(img.Cols()) / float32(d.config.InputWidth)
	scaleY := float32(img.Rows()) / float32(d.config.InputHeight)
	cands := decodeYOLOv8(data, sizes[1], sizes[2], scaleX, scaleY, float32(d.config.ConfidenceThresh))
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.rect
		scores[i] = c.score
	}
	indices := gocv.NMSBoxes(boxes, scores, float32(d.config.ConfidenceThresh), float32(d.config.NMSThresh))

	dets := make([]vision.Detection, 0, len(indices))
	for _, idx := range indices {
		c := cands[idx]
		dets = append(dets, vision.Detection{
			Label:      ClassName(c.classID),
			Confidence: float64(c.score),
			BBox:       rectToBBox(c.rect),
		})
	}

	log.Debug("yolo detections", "count", len(dets))
	return dets, nil
}

// Close releases the detector resources.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
