package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"anpr-stream/internal/domain/anpr"
)

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultNMSThreshold  = 0.45
)

var ErrModelNotLoaded = errors.New("detector model not loaded")

type DetectorOptions struct {
	ModelPath     string
	Classes       []string
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
}

// YOLODetector runs a YOLOv8 ONNX export through the OpenCV DNN module.
// It is not safe for concurrent use.
type YOLODetector struct {
	net     gocv.Net
	classes []string
	size    int
	conf    float32
	nms     float32
}

func NewYOLODetector(opts DetectorOptions) (*YOLODetector, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path is empty", ErrModelNotLoaded)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if opts.ConfThreshold <= 0 {
		opts.ConfThreshold = DefaultConfThreshold
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = DefaultNMSThreshold
	}

	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:     net,
		classes: opts.Classes,
		size:    opts.InputSize,
		conf:    opts.ConfThreshold,
		nms:     opts.NMSThreshold,
	}, nil
}

// Detect returns the boxes found in frame after non-maximum suppression, in
// frame coordinates.
func (d *YOLODetector) Detect(frame gocv.Mat) ([]anpr.Detection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("detect: empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.size, d.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("detect: unexpected output shape %v", dims)
	}

	// [1, 4+classes, candidates] viewed as a (4+classes) x candidates matrix.
	rows, candidates := dims[1], dims[2]
	preds := out.Reshape(1, rows)
	defer preds.Close()

	scaleX := float32(frame.Cols()) / float32(d.size)
	scaleY := float32(frame.Rows()) / float32(d.size)
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for j := 0; j < candidates; j++ {
		classID, score := -1, float32(0)
		for c := 4; c < rows; c++ {
			if s := preds.GetFloatAt(c, j); s > score {
				classID, score = c-4, s
			}
		}
		if score < d.conf {
			continue
		}

		cx := preds.GetFloatAt(0, j) * scaleX
		cy := preds.GetFloatAt(1, j) * scaleY
		w := preds.GetFloatAt(2, j) * scaleX
		h := preds.GetFloatAt(3, j) * scaleY
		box := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)).Intersect(bounds)
		if box.Empty() {
			continue
		}

		boxes = append(boxes, box)
		scores = append(scores, score)
		classes = append(classes, classID)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.conf, d.nms)
	dets := make([]anpr.Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, anpr.Detection{
			Box:        boxes[idx],
			ClassID:    classes[idx],
			ClassName:  d.className(classes[idx]),
			Confidence: scores[idx],
		})
	}
	return dets, nil
}

func (d *YOLODetector) className(id int) string {
	if id >= 0 && id < len(d.classes) {
		return d.classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func (d *YOLODetector) Close() error {
	return d.net.Close()
}
