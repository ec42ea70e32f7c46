package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/vision"
)

// CameraConfig describes the capture device and its optics.
type CameraConfig struct {
	Source      string  // device index ("0") or stream URL
	FrameWidth  int     // requested capture width
	FrameHeight int     // requested capture height
	FOV         float64 // horizontal field of view (degrees)
}

// Camera is a vision.Camera backed by a gocv VideoCapture.
type Camera struct {
	cfg     CameraConfig
	capture *gocv.VideoCapture
	persons *YOLODetector
	faces   *YuNetDetector // optional

	mu  sync.Mutex
	img gocv.Mat
}

var _ vision.Camera = (*Camera)(nil)

// OpenCamera opens the capture device and loads the detectors.
func OpenCamera(cfg CameraConfig, det Config) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", cfg.Source, err)
	}
	if cfg.FrameWidth > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.FrameWidth))
	}
	if cfg.FrameHeight > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.FrameHeight))
	}

	persons, err := NewYOLO(det)
	if err != nil {
		capture.Close()
		return nil, err
	}

	c := &Camera{
		cfg:     cfg,
		capture: capture,
		persons: persons,
		img:     gocv.NewMat(),
	}

	if det.FaceModelPath != "" {
		faces, err := NewYuNet(det)
		if err != nil {
			log.Warn("face detector unavailable, tilt nudge disabled", "error", err)
		} else {
			c.faces = faces
		}
	}

	return c, nil
}

// Capture reads one frame and runs detection on it.
func (c *Camera) Capture(ctx context.Context, pan float64) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.capture.Read(&c.img); !ok || c.img.Empty() {
		return vision.Frame{}, vision.ErrNoFrame
	}
	now := time.Now()
	width, height := c.img.Cols(), c.img.Rows()

	dets, err := c.persons.Detect(c.img)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("person detection: %w", err)
	}

	var faces []vision.BBox
	if c.faces != nil {
		faces, err = c.faces.Detect(c.img)
		if err != nil {
			// Faces only refine tilt; keep the frame.
			log.Debug("face detection failed", "error", err)
			faces = nil
		}
	}

	for i := range dets {
		dets[i].PanAngle = pan
		dets[i].WorldAngle = vision.WorldAngle(dets[i].BBox, pan, c.cfg.FOV, width)
		dets[i].Timestamp = now
		dets[i].Faces = vision.AssociateFaces(dets[i].BBox, faces)
	}

	return vision.Frame{
		Width:      width,
		Height:     height,
		Detections: dets,
		Faces:      faces,
		Timestamp:  now,
	}, nil
}

// Close releases the capture device and detectors.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.faces != nil {
		errs = append(errs, c.faces.Close())
	}
	errs = append(errs, c.persons.Close(), c.img.Close(), c.capture.Close())
	return errors.Join(errs...)
}
