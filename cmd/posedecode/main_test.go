package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame-1.png")

	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.Set(2, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	got, err := loadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Bounds().Dx())
	assert.Equal(t, 4, got.Bounds().Dy())

	_, err = loadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, err = loadImage(garbage)
	assert.Error(t, err)
}

func TestRunRejectsMissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := run(options{
		modelPath:  "model.onnx",
		imagePath:  "image.png",
		configPath: filepath.Join(t.TempDir(), "missing.yaml"),
		stride:     8,
	}, &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}
