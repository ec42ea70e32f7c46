package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex
}

// NewYuNet creates a YuNet face detector from cfg.FaceModelPath.
func NewYuNet(cfg Config) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.FaceModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.FaceModelPath)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.FaceModelPath,
		"",
		image.Pt(320, 320), // resized per image in Detect
		float32(cfg.ConfidenceThresh),
		0.3,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{detector: detector}, nil
}

// Detect returns face boxes in pixel space.
func (d *YuNetDetector) Detect(img gocv.Mat) ([]vision.BBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	// 15 columns per row: x, y, w, h, 5 landmark pairs, score
	boxes := make([]vision.BBox, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		boxes = append(boxes, vision.BBox{
			X: float64(faces.GetFloatAt(r, 0)),
			Y: float64(faces.GetFloatAt(r, 1)),
			W: float64(faces.GetFloatAt(r, 2)),
			H: float64(faces.GetFloatAt(r, 3)),
		})
	}
	return boxes, nil
}

// Close releases the detector resources.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
