package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 100, A: alpha})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestToWebPFromPNG(t *testing.T) {
	src := pngBytes(t, 64, 48, 255)

	out, err := ToWebP(src, DefaultQuality)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestToWebPFromJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := ToWebP(buf.Bytes(), DefaultQuality)
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 32, decoded.Bounds().Dx())
}

func TestToWebPPreservesTransparentDimensions(t *testing.T) {
	src := pngBytes(t, 20, 10, 128)

	out, err := ToWebP(src, DefaultQuality)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
}

func TestToWebPRejectsGarbage(t *testing.T) {
	_, err := ToWebP([]byte("definitely not an image"), DefaultQuality)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = ToWebP(nil, DefaultQuality)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestFileToWebP(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "packed.webp")
	require.NoError(t, os.WriteFile(src, pngBytes(t, 16, 16, 255), 0o644))

	size, err := FileToWebP(src, dst, DefaultQuality)
	require.NoError(t, err)

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), size)
}

func TestFileToWebPMissingSource(t *testing.T) {
	_, err := FileToWebP(filepath.Join(t.TempDir(), "absent.png"), "out.webp", DefaultQuality)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotImage)
}
