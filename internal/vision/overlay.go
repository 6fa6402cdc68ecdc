package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"anpr-stream/internal/domain/anpr"
)

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	labelColor = color.RGBA{A: 255}
)

const (
	boxThickness   = 3
	labelScale     = 0.7
	labelThickness = 2
)

// DrawDetections draws each box with its label on a filled tag above it.
// Boxes without a label are drawn bare.
func DrawDetections(img *gocv.Mat, dets []anpr.Detection, labels []string) {
	for i, det := range dets {
		gocv.Rectangle(img, det.Box, boxColor, boxThickness)
		if i >= len(labels) || labels[i] == "" {
			continue
		}

		label := labels[i]
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, labelScale, labelThickness)
		origin := det.Box.Min
		tag := image.Rect(origin.X, origin.Y-size.Y-10, origin.X+size.X+10, origin.Y)
		gocv.Rectangle(img, tag, boxColor, -1)
		gocv.PutText(img, label, image.Pt(origin.X+5, origin.Y-5), gocv.FontHersheySimplex, labelScale, labelColor, labelThickness)
	}
}
