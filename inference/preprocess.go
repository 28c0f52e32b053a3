package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Normalization holds per channel (R, G, B) mean and standard deviation
// applied after scaling pixels to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the normalization pose backbones are trained with.
var ImageNet = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Scale maps model input coordinates back to the source image.
type Scale struct {
	X, Y float32
}

// Preprocess resizes img to width x height and writes it into dst as
// normalized planar RGB (CHW).
//
// Arguments:
//   - img: The source image.
//   - width: Model input width.
//   - height: Model input height.
//   - norm: Channel normalization.
//   - dst: Destination buffer of at least 3*width*height floats.
//
// Returns:
//   - Scale: Factors from model input to source image coordinates.
//   - error: An error if the sizes are invalid.
func Preprocess(img image.Image, width, height int, norm Normalization, dst []float32) (Scale, error) {
	if img == nil {
		return Scale{}, errors.New("nil image")
	}
	if width <= 0 || height <= 0 {
		return Scale{}, errors.Errorf("invalid input size %dx%d", width, height)
	}
	channelSize := width * height
	if len(dst) < 3*channelSize {
		return Scale{}, errors.Errorf("destination holds %d floats, needs %d", len(dst), 3*channelSize)
	}
	for c, s := range norm.Std {
		if s == 0 {
			return Scale{}, errors.Errorf("channel %d has zero standard deviation", c)
		}
	}

	bounds := img.Bounds()
	scale := Scale{
		X: float32(bounds.Dx()) / float32(width),
		Y: float32(bounds.Dy()) / float32(height),
	}
	if bounds.Dx() != width || bounds.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		bounds = img.Bounds()
	}

	red := dst[0:channelSize]
	green := dst[channelSize : 2*channelSize]
	blue := dst[2*channelSize : 3*channelSize]

	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+height; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			red[i] = (float32(r>>8)/255.0 - norm.Mean[0]) / norm.Std[0]
			green[i] = (float32(g>>8)/255.0 - norm.Mean[1]) / norm.Std[1]
			blue[i] = (float32(b>>8)/255.0 - norm.Mean[2]) / norm.Std[2]
			i++
		}
	}
	return scale, nil
}
