package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocessNormalizesPlanar(t *testing.T) {
	img := solidImage(40, 20, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	dst := make([]float32, 3*8*4)

	scale, err := Preprocess(img, 8, 4, ImageNet, dst)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, scale.X, 1e-6)
	assert.InDelta(t, 5.0, scale.Y, 1e-6)

	wantR := (1.0 - 0.485) / 0.229
	wantG := (0.0 - 0.456) / 0.224
	wantB := (0.2 - 0.406) / 0.225
	for i := 0; i < 32; i++ {
		assert.InDelta(t, wantR, dst[i], 0.02, "red %d", i)
		assert.InDelta(t, wantG, dst[32+i], 0.02, "green %d", i)
		assert.InDelta(t, wantB, dst[64+i], 0.02, "blue %d", i)
	}
}

func TestPreprocessKeepsMatchingSize(t *testing.T) {
	img := solidImage(2, 1, color.RGBA{A: 255})
	img.Set(1, 0, color.RGBA{R: 255, A: 255})
	dst := make([]float32, 6)

	scale, err := Preprocess(img, 2, 1, Normalization{Std: [3]float32{1, 1, 1}}, dst)
	require.NoError(t, err)
	assert.Equal(t, Scale{X: 1, Y: 1}, scale)
	assert.Equal(t, []float32{0, 1, 0, 0, 0, 0}, dst)
}

func TestPreprocessErrors(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{A: 255})

	_, err := Preprocess(img, 4, 4, ImageNet, make([]float32, 10))
	assert.Error(t, err, "short destination")

	_, err = Preprocess(img, 0, 4, ImageNet, make([]float32, 48))
	assert.Error(t, err, "zero width")

	_, err = Preprocess(nil, 4, 4, ImageNet, make([]float32, 48))
	assert.Error(t, err, "nil image")

	_, err = Preprocess(img, 4, 4, Normalization{}, make([]float32, 48))
	assert.Error(t, err, "zero std")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no model", mutate: func(c *Config) { c.ModelPath = "" }, wantErr: true},
		{name: "no output name", mutate: func(c *Config) { c.AssociationOutput = "" }, wantErr: true},
		{name: "zero stride", mutate: func(c *Config) { c.Stride = 0 }, wantErr: true},
		{name: "four channel intensity", mutate: func(c *Config) { c.IntensityChannels = 4 }},
		{name: "six channel intensity", mutate: func(c *Config) { c.IntensityChannels = 6 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Provider.Backend = "tpu" }, wantErr: true},
		{name: "negative threads", mutate: func(c *Config) { c.Provider.IntraOpThreads = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("model.onnx")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFieldSize(t *testing.T) {
	cfg := DefaultConfig("model.onnx")
	h, w := cfg.FieldSize()
	assert.Equal(t, 81, h)
	assert.Equal(t, 81, w)

	cfg.InputWidth, cfg.InputHeight, cfg.Stride = 640, 480, 16
	h, w = cfg.FieldSize()
	assert.Equal(t, 30, h)
	assert.Equal(t, 40, w)
}
