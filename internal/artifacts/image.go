package artifacts

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

const (
	visionMaxSide  = 1200
	visionMaxBytes = 5 * 1024 * 1024
)

// jpegQualities is tried in order until the encoded image fits the cap.
var jpegQualities = []int{85, 75, 65, 55, 45, 35}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
	image.RegisterFormat("webp", "RIFF????WEBP", webp.Decode, webp.DecodeConfig)
}

// IsImage reports whether the path has a processable image extension.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// PrepareForVision downscales and re-encodes an image so it fits vision
// attachment limits. Auto-orients via EXIF, resizes to at most
// visionMaxSide per dimension, then encodes as JPEG at decreasing
// quality until under visionMaxBytes. Returns the temp file path.
func PrepareForVision(inputPath string) (string, error) {
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > visionMaxSide || h > visionMaxSide {
		img = imaging.Fit(img, visionMaxSide, visionMaxSide, imaging.Lanczos)
	}

	for _, quality := range jpegQualities {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", fmt.Errorf("encode jpeg (q=%d): %w", quality, err)
		}
		if buf.Len() <= visionMaxBytes {
			out, err := os.CreateTemp("", "tatty_vision_*.jpg")
			if err != nil {
				return "", err
			}
			if _, err := out.Write(buf.Bytes()); err != nil {
				out.Close()
				return "", err
			}
			out.Close()
			return out.Name(), nil
		}
	}
	return "", fmt.Errorf("image too large even at lowest quality (%dx%d)", w, h)
}

// Thumbnail renders a small preview PNG (for TUI/status output).
func Thumbnail(inputPath string, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = 256
	}
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	img = imaging.Fit(img, maxSide, maxSide, imaging.Box)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
