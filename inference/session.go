// Package inference - ONNX Runtime sessions producing raw PIF/PAF field tensors.
package inference

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/skeleton"
)

var envMu sync.Mutex

// Config describes a pose model and how to run it.
type Config struct {
	// ModelPath is the ONNX file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath is the ONNX Runtime shared library. Empty uses DefaultLibraryPath.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputName is the image input node.
	InputName string `json:"input_name" yaml:"input_name"`
	// IntensityOutput and AssociationOutput name the field output nodes.
	IntensityOutput   string `json:"intensity_output" yaml:"intensity_output"`
	AssociationOutput string `json:"association_output" yaml:"association_output"`
	// InputWidth and InputHeight are the fixed model input size.
	InputWidth  int `json:"input_width" yaml:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height"`
	// Stride is the ratio of input pixels to field cells.
	Stride int `json:"stride" yaml:"stride"`
	// IntensityChannels is 5 with a scale channel, 4 without.
	IntensityChannels int `json:"intensity_channels" yaml:"intensity_channels"`
	// Provider selects the execution provider.
	Provider ProviderOptions `json:"provider" yaml:"provider"`
}

// DefaultConfig returns a stride 8 model with a 641x641 input.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:         modelPath,
		InputName:         "input_batch",
		IntensityOutput:   "pif",
		AssociationOutput: "paf",
		InputWidth:        641,
		InputHeight:       641,
		Stride:            8,
		IntensityChannels: fields.IntensityChannels,
		Provider:          ProviderOptions{Backend: BackendCPU},
	}
}

// FieldSize returns the field height and width for the configured input.
func (c Config) FieldSize() (h, w int) {
	return (c.InputHeight-1)/c.Stride + 1, (c.InputWidth-1)/c.Stride + 1
}

// Validate checks sizes, names and provider options.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputName == "" || c.IntensityOutput == "" || c.AssociationOutput == "" {
		return errors.New("input and output node names are required")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.Stride <= 0 {
		return errors.Errorf("invalid stride %d", c.Stride)
	}
	if c.IntensityChannels != fields.IntensityChannels && c.IntensityChannels != fields.IntensityChannels-1 {
		return errors.Errorf("intensity channels %d, want %d or %d",
			c.IntensityChannels, fields.IntensityChannels-1, fields.IntensityChannels)
	}
	return c.Provider.Validate()
}

// Session runs a pose model. Tensors are preallocated once and reused, so
// Run calls are serialized.
type Session struct {
	mu      sync.Mutex
	cfg     Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	pif     *ort.Tensor[float32]
	paf     *ort.Tensor[float32]
	joints  int
	edges   int
}

// NewSession loads the model with tensors shaped for skel.
//
// Arguments:
//   - cfg: The model configuration.
//   - skel: The skeleton the model was trained for.
//
// Returns:
//   - *Session: The session. Close releases native resources.
//   - error: An error if the runtime or the model cannot be loaded.
func NewSession(cfg Config, skel *skeleton.Skeleton) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "inference config")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	h, w := cfg.FieldSize()
	s := &Session{cfg: cfg, joints: skel.NumJoints(), edges: skel.NumEdges()}

	var err error
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputHeight), int64(cfg.InputWidth))); err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	if s.pif, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.joints), int64(cfg.IntensityChannels), int64(h), int64(w))); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "creating intensity tensor")
	}
	if s.paf, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.edges), fields.AssociationChannels, int64(h), int64(w))); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "creating association tensor")
	}

	options, err := cfg.Provider.sessionOptions()
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.IntensityOutput, cfg.AssociationOutput},
		[]ort.Value{s.input},
		[]ort.Value{s.pif, s.paf},
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "loading model %s", cfg.ModelPath)
	}
	return s, nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = DefaultLibraryPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initializing ORT environment")
	}
	return nil
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// Run preprocesses img, runs the model and returns the fields as
// [intensity, association] tensors without the batch dimension, matching a
// single source decoder configuration with PifIndex 0 and PafIndex 1.
//
// Returns:
//   - []*tensor.Dense: Copies of the output fields.
//   - Scale: Factors from model input to image coordinates.
//   - error: An error if preprocessing or inference fails.
func (s *Session) Run(img image.Image) ([]*tensor.Dense, Scale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, Scale{}, errors.New("session is closed")
	}
	scale, err := Preprocess(img, s.cfg.InputWidth, s.cfg.InputHeight, ImageNet, s.input.GetData())
	if err != nil {
		return nil, Scale{}, errors.Wrap(err, "preprocessing")
	}
	if err := s.session.Run(); err != nil {
		return nil, Scale{}, errors.Wrap(err, "running model")
	}

	h, w := s.cfg.FieldSize()
	return []*tensor.Dense{
		denseCopy(s.pif.GetData(), s.joints, s.cfg.IntensityChannels, h, w),
		denseCopy(s.paf.GetData(), s.edges, fields.AssociationChannels, h, w),
	}, scale, nil
}

// denseCopy detaches an output buffer from the runtime as a [types, channels, h, w] tensor.
func denseCopy(src []float32, types, channels, h, w int) *tensor.Dense {
	data := make([]float32, types*channels*h*w)
	copy(data, src)
	return tensor.New(tensor.WithShape(types, channels, h, w), tensor.WithBacking(data))
}

// Close releases the session and its tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range []**ort.Tensor[float32]{&s.input, &s.pif, &s.paf} {
		if *t != nil {
			(*t).Destroy()
			*t = nil
		}
	}
	return errors.Wrap(err, "destroying ORT session")
}
