// Package detection implements the vision collaborator on top of OpenCV:
// frames come from a gocv VideoCapture, people from a YOLOv8 ONNX model and
// faces from OpenCV's YuNet detector.
package detection

import (
	"image"

	"github.com/teslashibe/go-panscan/pkg/vision"
)

// Config holds detector configuration.
type Config struct {
	PersonModelPath  string  // YOLOv8 ONNX model
	FaceModelPath    string  // YuNet ONNX model; empty disables face detection
	ConfidenceThresh float64 // Minimum model score kept by the detector
	NMSThresh        float64
	InputWidth       int // YOLO input size
	InputHeight      int
}

// DefaultConfig returns production defaults for YOLOv8n + YuNet.
func DefaultConfig() Config {
	return Config{
		PersonModelPath:  "models/yolov8n.onnx",
		FaceModelPath:    "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// candidate is one pre-NMS box decoded from the model output.
type candidate struct {
	rect    image.Rectangle
	score   float32
	classID int
}

// decodeYOLOv8 walks a YOLOv8 output tensor laid out as [attrs][anchors]
// (attrs = 4 box values + one score per class) and keeps anchors whose best
// class score reaches thresh. Boxes are scaled from model input space to
// image space.
func decodeYOLOv8(data []float32, attrs, anchors int, scaleX, scaleY float32, thresh float32) []candidate {
	if attrs <= 4 || anchors <= 0 || len(data) < attrs*anchors {
		return nil
	}

	var out []candidate
	for i := 0; i < anchors; i++ {
		best := float32(0)
		bestClass := 0
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > best {
				best = s
				bestClass = c - 4
			}
		}
		if best < thresh {
			continue
		}

		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		out = append(out, candidate{
			rect:    image.Rect(x1, y1, x2, y2),
			score:   best,
			classID: bestClass,
		})
	}
	return out
}

// rectToBBox converts an image rectangle to a pixel-space box.
func rectToBBox(r image.Rectangle) vision.BBox {
	return vision.BBox{
		X: float64(r.Min.X),
		Y: float64(r.Min.Y),
		W: float64(r.Dx()),
		H: float64(r.Dy()),
	}
}

// ClassName returns the COCO label for a class id.
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return ""
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names in model order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
