// Package cvsink - Decoder sink that writes colormapped field heatmaps with OpenCV.
package cvsink

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-pose/decoder"
	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/intensity"
	"github.com/nvr-ai/go-pose/visualize"
)

var (
	intensityColor   = color.RGBA{R: 255, G: 200, B: 0, A: 0}
	associationColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Sink writes one PNG per recorded array into Dir. Failures are logged and
// never reach the decoder.
type Sink struct {
	// Dir receives the images. It must exist.
	Dir string
	// Colormap applied to confidence heatmaps.
	Colormap gocv.ColormapTypes
	// Logger receives write failures. Nil uses the standard logger.
	Logger *log.Logger

	mu  sync.Mutex
	seq int
}

// New returns a sink writing jet colormapped images into dir.
func New(dir string) *Sink {
	return &Sink{Dir: dir, Colormap: gocv.ColormapJet}
}

func (s *Sink) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// path returns a unique file name for one image.
func (s *Sink) path(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return filepath.Join(s.Dir, fmt.Sprintf("%03d_%s.png", s.seq, name))
}

// RecordRawField writes the strongest confidence of the field as a heatmap.
func (s *Sink) RecordRawField(kind decoder.FieldKind, stride int, field *tensor.Dense) {
	img, err := visualize.ConfidenceImage(field, stride)
	if err != nil {
		s.logf("cvsink: %s field: %v", kind, err)
		return
	}
	if err := s.writeHeatmap(s.path(fmt.Sprintf("%s_raw_s%d", kind, stride)), img); err != nil {
		s.logf("cvsink: %v", err)
	}
}

// RecordIntensity draws every normalized intensity row as a circle of its spread.
func (s *Sink) RecordIntensity(src *fields.Intensity) {
	var w, h int
	for _, rows := range src.Rows {
		for _, r := range rows {
			w, h = max(w, int(r.X+r.B)+1), max(h, int(r.Y+r.B)+1)
		}
	}
	if w <= 0 || h <= 0 {
		return
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer mat.Close()
	for _, rows := range src.Rows {
		for _, r := range rows {
			gocv.Circle(&mat, image.Pt(int(r.X), int(r.Y)), max(1, int(r.B)), intensityColor, 1)
		}
	}
	s.write(s.path(fmt.Sprintf("pif_rows_s%d", src.Stride)), mat)
}

// RecordAssociation draws every normalized association row as an arrow.
func (s *Sink) RecordAssociation(src *fields.Association) {
	var w, h int
	for _, rows := range src.Rows {
		for _, r := range rows {
			w = max(w, int(max(r.X1, r.X2))+1)
			h = max(h, int(max(r.Y1, r.Y2))+1)
		}
	}
	if w <= 0 || h <= 0 {
		return
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer mat.Close()
	for _, rows := range src.Rows {
		for _, r := range rows {
			gocv.ArrowedLine(&mat, image.Pt(int(r.X1), int(r.Y1)), image.Pt(int(r.X2), int(r.Y2)), associationColor, 1)
		}
	}
	s.write(s.path(fmt.Sprintf("paf_rows_s%d", src.Stride)), mat)
}

// RecordSurface writes one heatmap per joint surface.
func (s *Sink) RecordSurface(acc *intensity.Accumulator) {
	for j := 0; j < acc.Joints(); j++ {
		if err := s.writeHeatmap(s.path(fmt.Sprintf("surface_%02d", j)), visualize.SurfaceImage(acc, j)); err != nil {
			s.logf("cvsink: %v", err)
		}
	}
}

func (s *Sink) writeHeatmap(path string, img *image.Gray) error {
	gray, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return errors.Wrap(err, "converting heatmap")
	}
	defer gray.Close()

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, s.Colormap)
	s.write(path, colored)
	return nil
}

func (s *Sink) write(path string, mat gocv.Mat) {
	if !gocv.IMWrite(path, mat) {
		s.logf("cvsink: failed to write %s", path)
	}
}
