package recognition

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

type TesseractOptions struct {
	Language  string
	Whitelist string
}

// TesseractRecognizer reads single-line plate text with one Tesseract client.
// The client is not safe for concurrent use, so calls are serialized.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func NewTesseractRecognizer(opts TesseractOptions) (*TesseractRecognizer, error) {
	if opts.Language == "" {
		opts.Language = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(opts.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("set ocr whitelist: %w", err)
		}
	}

	return &TesseractRecognizer{client: client}, nil
}

// Recognize returns the text found in img with all whitespace removed, so
// a plate printed on two lines reads as one string.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("empty image")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	defer buf.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := r.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return strings.Join(strings.Fields(text), ""), nil
}

func (r *TesseractRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}
