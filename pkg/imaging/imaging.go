package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	// Registered decoders: any of these formats is accepted as input.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/chai2010/webp"
)

// ErrNotImage is returned when the payload cannot be decoded as a raster
// image.
var ErrNotImage = errors.New("payload is not a decodable image")

// DefaultQuality is the lossy quality used for canonical images.
const DefaultQuality = 80

// Format is the canonical image format produced by this package.
const Format = "webp"

// ToWebP decodes src as any registered raster format and re-encodes it as
// lossy WebP at the given quality. Transparency survives the round trip.
func ToWebP(src []byte, quality float32) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, ErrNotImage
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// FileToWebP converts the file at src and writes the result to dst,
// returning the output size.
func FileToWebP(src, dst string, quality float32) (int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("failed to read source image: %w", err)
	}

	out, err := ToWebP(data, quality)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write webp: %w", err)
	}
	return int64(len(out)), nil
}
