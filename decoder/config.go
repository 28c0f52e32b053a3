// Package decoder - Greedy PIF/PAF pose decoding.
//
// The decoder turns raw intensity (PIF) and association (PAF) field tensors
// into pose annotations:
//
//	raw tensors → normalize → {seeds, intensity surface} → assemble → complete
//
// A Decoder is configured once and may be shared; every Decode call owns its
// own occupancy state.
package decoder

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-pose/intensity"
	"github.com/nvr-ai/go-pose/seeds"
	"github.com/nvr-ai/go-pose/skeleton"
)

var (
	// ErrConfig is returned for configurations that cannot be applied to the
	// skeleton or the declared field sources.
	ErrConfig = errors.New("invalid decoder configuration")
	// ErrSeed is returned when a seed does not match the skeleton edge it
	// names. Seeds produced by this package never trigger it.
	ErrSeed = errors.New("malformed seed")
)

// configError marks a collaborator's error as a configuration error while
// keeping the original cause reachable through errors.Is and errors.As.
type configError struct {
	cause error
}

func (e *configError) Error() string { return ErrConfig.Error() + ": " + e.cause.Error() }

func (e *configError) Is(target error) bool { return target == ErrConfig }

func (e *configError) Unwrap() error { return e.cause }

func invalidConfig(err error) error {
	return errors.WithStack(&configError{cause: err})
}

// ConnectionMethod selects how a new joint is estimated from association evidence.
type ConnectionMethod string

const (
	// ConnectionBlend averages the best association candidates and mixes in
	// the intensity surface.
	ConnectionBlend ConnectionMethod = "blend"
	// ConnectionMax takes the single best association candidate verbatim.
	ConnectionMax ConnectionMethod = "max"
)

// DefaultBlendNN is the number of association candidates blended per joint.
const DefaultBlendNN = 35

// Source declares one field resolution: which entries of the fields slice hold
// its intensity and association tensors and their stride.
type Source struct {
	Stride   int `json:"stride" yaml:"stride"`
	PifIndex int `json:"pif_index" yaml:"pif_index"`
	PafIndex int `json:"paf_index" yaml:"paf_index"`
}

// Config holds the recognized decoder options.
type Config struct {
	// Sources lists the field resolutions; outputs are concatenated.
	Sources []Source `json:"sources" yaml:"sources"`
	// PifMinScale drops intensity rows with a smaller joint scale in pixels, per source.
	PifMinScale Broadcast[float32] `json:"pif_min_scale" yaml:"pif_min_scale"`
	// PafMinDistance drops association rows with shorter edges in pixels, per source.
	PafMinDistance Broadcast[float32] `json:"paf_min_distance" yaml:"paf_min_distance"`
	// PafMaxDistance drops association rows with longer edges, per source. 0 is unbounded.
	PafMaxDistance Broadcast[float32] `json:"paf_max_distance" yaml:"paf_max_distance"`
	// SeedThreshold is the minimum association confidence of a seed.
	SeedThreshold float32 `json:"seed_threshold" yaml:"seed_threshold"`
	// SeedScoreScale multiplies seed scores, scalar or per edge.
	SeedScoreScale Broadcast[float32] `json:"seed_score_scale" yaml:"seed_score_scale"`
	// ConfidenceScales multiplies association confidences per edge before normalization.
	ConfidenceScales []float32 `json:"confidence_scales" yaml:"confidence_scales"`
	// ConnectionMethod is "blend" or "max".
	ConnectionMethod ConnectionMethod `json:"connection_method" yaml:"connection_method"`
	// ForceComplete runs the completion pass.
	ForceComplete bool `json:"force_complete" yaml:"force_complete"`
	// FixedB overrides every regressed spread (field units) when > 0.
	FixedB float32 `json:"fixed_b" yaml:"fixed_b"`
	// PafTh is the minimum confidence of an estimated joint.
	PafTh float32 `json:"paf_th" yaml:"paf_th"`
	// PifTh is the minimum confidence of an intensity row that reaches the
	// surface. 0 picks intensity.DefaultMinConfidence.
	PifTh float32 `json:"pif_th" yaml:"pif_th"`
	// PifNN normalizes intensity accumulation.
	PifNN int `json:"pif_nn" yaml:"pif_nn"`
	// PafNN caps the association candidates per estimate. 0 picks the
	// connection method default.
	PafNN int `json:"paf_nn" yaml:"paf_nn"`
	// CompletionThreshold is the minimum intensity accepted by the completion pass.
	CompletionThreshold float32 `json:"completion_threshold" yaml:"completion_threshold"`
	// MaxCompletionPasses bounds the completion loop. 0 means one more than
	// the number of joints.
	MaxCompletionPasses int `json:"max_completion_passes" yaml:"max_completion_passes"`
	// SuppressionFactor scales strides into the seed and claim tolerance.
	SuppressionFactor float32 `json:"suppression_factor" yaml:"suppression_factor"`
}

// DefaultConfig returns the single stride-8 source configuration.
//
// Returns:
//   - Config: Defaults matching the reference decoder.
//
// @example
// cfg := DefaultConfig()
// cfg.ConnectionMethod = ConnectionMax
// dec, err := NewDecoder(cfg, skeleton.COCOPerson(), Options{})
func DefaultConfig() Config {
	return Config{
		Sources:             []Source{{Stride: 8, PifIndex: 0, PafIndex: 1}},
		PifMinScale:         Scalar[float32](0),
		PafMinDistance:      Scalar[float32](0),
		PafMaxDistance:      Scalar[float32](0),
		SeedThreshold:       0.2,
		SeedScoreScale:      Scalar[float32](1),
		ConnectionMethod:    ConnectionBlend,
		ForceComplete:       true,
		PafTh:               0.1,
		PifTh:               intensity.DefaultMinConfidence,
		PifNN:               intensity.DefaultPifNN,
		CompletionThreshold: 0.1,
		SuppressionFactor:   seeds.DefaultSuppressionFactor,
	}
}

// LoadConfig reads a YAML configuration on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading decoder config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing decoder config %s", path)
	}
	return cfg, nil
}

// settings is a Config resolved against a skeleton, every list expanded.
type settings struct {
	Config

	pifMinScale    []float32
	pafMinDistance []float32
	pafMaxDistance []float32
	seedScoreScale []float32
	pafNN          int
	maxPasses      int
}

// resolve validates cfg and broadcasts scalar options. All configuration
// errors surface here, before any field is read.
func resolve(cfg Config, skel *skeleton.Skeleton) (*settings, error) {
	if skel == nil {
		return nil, errors.Wrap(ErrConfig, "nil skeleton")
	}
	if err := skel.Validate(); err != nil {
		return nil, invalidConfig(err)
	}
	n := len(cfg.Sources)
	if n == 0 {
		return nil, errors.Wrap(ErrConfig, "no field sources")
	}
	for i, s := range cfg.Sources {
		if s.Stride <= 0 {
			return nil, errors.Wrapf(ErrConfig, "source %d: stride %d", i, s.Stride)
		}
		if s.PifIndex < 0 || s.PafIndex < 0 {
			return nil, errors.Wrapf(ErrConfig, "source %d: negative field index", i)
		}
	}

	s := &settings{Config: cfg}
	var err error
	if s.pifMinScale, err = cfg.PifMinScale.Expand(n); err != nil {
		return nil, errors.Wrap(err, "pif_min_scale")
	}
	if s.pafMinDistance, err = cfg.PafMinDistance.Expand(n); err != nil {
		return nil, errors.Wrap(err, "paf_min_distance")
	}
	if s.pafMaxDistance, err = cfg.PafMaxDistance.Expand(n); err != nil {
		return nil, errors.Wrap(err, "paf_max_distance")
	}
	if cfg.SeedScoreScale.Len() == 0 {
		cfg.SeedScoreScale = Scalar[float32](1)
	}
	if s.seedScoreScale, err = cfg.SeedScoreScale.Expand(skel.NumEdges()); err != nil {
		return nil, errors.Wrap(err, "seed_score_scale")
	}
	if cfg.ConfidenceScales != nil && len(cfg.ConfidenceScales) != skel.NumEdges() {
		return nil, errors.Wrapf(ErrConfig, "confidence_scales has %d entries for %d edges",
			len(cfg.ConfidenceScales), skel.NumEdges())
	}

	switch cfg.ConnectionMethod {
	case ConnectionBlend, "":
		s.ConnectionMethod = ConnectionBlend
		s.pafNN = DefaultBlendNN
	case ConnectionMax:
		s.pafNN = 1
	default:
		return nil, errors.Wrapf(ErrConfig, "unknown connection method %q", cfg.ConnectionMethod)
	}
	if cfg.PafNN > 0 {
		s.pafNN = cfg.PafNN
		if s.ConnectionMethod == ConnectionMax {
			s.pafNN = 1
		}
	}

	if cfg.SeedThreshold < 0 || cfg.PafTh < 0 || cfg.PifTh < 0 || cfg.CompletionThreshold < 0 || cfg.FixedB < 0 {
		return nil, errors.Wrap(ErrConfig, "thresholds and fixed_b must not be negative")
	}
	if cfg.PifNN < 0 || cfg.PafNN < 0 || cfg.MaxCompletionPasses < 0 {
		return nil, errors.Wrap(ErrConfig, "counts must not be negative")
	}
	if s.PifNN == 0 {
		s.PifNN = intensity.DefaultPifNN
	}
	if s.SuppressionFactor <= 0 {
		s.SuppressionFactor = seeds.DefaultSuppressionFactor
	}
	s.maxPasses = cfg.MaxCompletionPasses
	if s.maxPasses == 0 {
		s.maxPasses = skel.NumJoints() + 1
	}
	return s, nil
}

// Broadcast is an option that holds either one value for every entry or an
// explicit list with one value per entry.
type Broadcast[T any] struct {
	values []T
	list   bool
}

// Scalar returns an option applying v to every entry.
func Scalar[T any](v T) Broadcast[T] {
	return Broadcast[T]{values: []T{v}}
}

// List returns an option with an explicit value per entry.
func List[T any](vs ...T) Broadcast[T] {
	out := make([]T, len(vs))
	copy(out, vs)
	return Broadcast[T]{values: out, list: true}
}

// IsList reports whether the option holds an explicit list.
func (b Broadcast[T]) IsList() bool { return b.list }

// Len returns the number of stored values.
func (b Broadcast[T]) Len() int { return len(b.values) }

// Expand returns n values. A scalar is repeated; a list must have exactly n
// entries; an unset option yields n zero values.
func (b Broadcast[T]) Expand(n int) ([]T, error) {
	out := make([]T, n)
	if b.list {
		if len(b.values) != n {
			return nil, errors.Wrapf(ErrConfig, "list has %d entries, want %d", len(b.values), n)
		}
		copy(out, b.values)
		return out, nil
	}
	if len(b.values) == 1 {
		for i := range out {
			out[i] = b.values[0]
		}
	}
	return out, nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (b *Broadcast[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var vs []T
		if err := node.Decode(&vs); err != nil {
			return err
		}
		*b = List(vs...)
		return nil
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	*b = Scalar(v)
	return nil
}

// MarshalYAML writes a scalar or a sequence.
func (b Broadcast[T]) MarshalYAML() (interface{}, error) {
	if b.list {
		return b.values, nil
	}
	if len(b.values) == 0 {
		return nil, nil
	}
	return b.values[0], nil
}

// UnmarshalJSON accepts a scalar or an array.
func (b *Broadcast[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var vs []T
		if err := json.Unmarshal(trimmed, &vs); err != nil {
			return err
		}
		*b = List(vs...)
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*b = Broadcast[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*b = Scalar(v)
	return nil
}

// MarshalJSON writes a scalar or an array.
func (b Broadcast[T]) MarshalJSON() ([]byte, error) {
	if b.list {
		return json.Marshal(b.values)
	}
	if len(b.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(b.values[0])
}
