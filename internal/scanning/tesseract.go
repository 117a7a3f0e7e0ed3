package scanning

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// minOCRHeight is the height small scans are upscaled to before recognition
const minOCRHeight = 1200

// Tesseract recognizes receipt text locally with libtesseract
type Tesseract struct {
	language string

	mu sync.Mutex // gosseract clients are not safe for concurrent use
}

// NewTesseract creates a Tesseract recognizer. language defaults to "eng".
func NewTesseract(language string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}
}

// Name identifies the backend in logs and errors
func (t *Tesseract) Name() string { return "tesseract" }

// RecognizeText grayscales and upscales the image, then runs OCR on it
func (t *Tesseract) RecognizeText(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prepared, err := preprocessForOCR(png)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("setting ocr language: %w", err)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr error: %w", err)
	}
	return text, nil
}

// Close is a no-op; a client is created per recognition
func (t *Tesseract) Close() error {
	return nil
}

func preprocessForOCR(png []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decoding image for ocr: %w", err)
	}

	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < 800 {
		gray = imaging.Resize(gray, 0, minOCRHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding image for ocr: %w", err)
	}
	return buf.Bytes(), nil
}
