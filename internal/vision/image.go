package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const (
	DefaultJPEGQuality = 75
	// MinCropHeight is the height small plate crops are upscaled to before
	// recognition.
	MinCropHeight = 50
)

var ErrEmptyCrop = errors.New("empty crop")

// PreparePlateCrop copies box out of frame and prepares it for the
// recognizer: crops shorter than minHeight are upscaled, then contrast is
// raised slightly. The caller owns the returned Mat.
func PreparePlateCrop(frame gocv.Mat, box image.Rectangle, minHeight int) (gocv.Mat, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	box = box.Intersect(bounds)
	if box.Empty() {
		return gocv.NewMat(), ErrEmptyCrop
	}

	region := frame.Region(box)
	crop := region.Clone()
	region.Close()
	if crop.Empty() {
		crop.Close()
		return gocv.NewMat(), ErrEmptyCrop
	}

	if minHeight > 0 && crop.Rows() < minHeight {
		width := crop.Cols() * minHeight / crop.Rows()
		if width < 1 {
			width = 1
		}
		resized := gocv.NewMat()
		gocv.Resize(crop, &resized, image.Pt(width, minHeight), 0, 0, gocv.InterpolationLinear)
		crop.Close()
		crop = resized
	}

	enhanced := gocv.NewMat()
	gocv.ConvertScaleAbs(crop, &enhanced, 1.2, 10)
	crop.Close()
	return enhanced, nil
}

// EncodeJPEG encodes img at the given quality and returns a Go-owned copy of
// the bytes.
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty image")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}
