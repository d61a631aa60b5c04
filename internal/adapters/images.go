package adapters

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
)

// ImageEncoder turns a referenced scientific image file into a base64 PNG
// for the detail views. Encoders never write into the project directory;
// thumbnails are produced on demand and not cached. Proprietary formats
// (MRC stacks, EPU previews) plug in through this seam.
type ImageEncoder interface {
	// EncodePNG renders the image at path. The index selects a slice of a
	// multi-image file; zero means the whole or first image.
	EncodePNG(path string, index int) (string, error)
}

// NopEncoder skips image rendering. Views stay functional without derived
// media.
type NopEncoder struct{}

// EncodePNG returns an empty string.
func (NopEncoder) EncodePNG(string, int) (string, error) { return "", nil }

// PNGEncoder renders plain raster files (PNG, JPEG) to base64 PNG using the
// standard decoders.
type PNGEncoder struct{}

// EncodePNG implements ImageEncoder.
func (PNGEncoder) EncodePNG(path string, _ int) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
