package decoder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-pose/skeleton"
)

func TestBroadcastExpand(t *testing.T) {
	tests := []struct {
		name    string
		opt     Broadcast[float32]
		n       int
		want    []float32
		wantErr bool
	}{
		{name: "scalar", opt: Scalar[float32](2), n: 3, want: []float32{2, 2, 2}},
		{name: "unset", opt: Broadcast[float32]{}, n: 2, want: []float32{0, 0}},
		{name: "list", opt: List[float32](1, 2), n: 2, want: []float32{1, 2}},
		{name: "short list", opt: List[float32](1), n: 2, wantErr: true},
		{name: "single element list", opt: List[float32](5), n: 1, want: []float32{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opt.Expand(tt.n)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBroadcastYAML(t *testing.T) {
	var cfg struct {
		A Broadcast[float32] `yaml:"a"`
		B Broadcast[float32] `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 0.5\nb: [1, 2, 3]\n"), &cfg))

	assert.False(t, cfg.A.IsList())
	assert.True(t, cfg.B.IsList())
	assert.Equal(t, 3, cfg.B.Len())

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "a: 0.5")
	assert.Contains(t, string(out), "- 2")
}

func TestBroadcastJSON(t *testing.T) {
	var cfg struct {
		A Broadcast[float32] `json:"a"`
		B Broadcast[float32] `json:"b"`
		C Broadcast[float32] `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1.5, "b": [1, 2], "c": null}`), &cfg))

	a, err := cfg.A.Expand(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 1.5}, a)
	b, err := cfg.B.Expand(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, b)
	assert.Equal(t, 0, cfg.C.Len())

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1.5, "b": [1, 2], "c": null}`, string(out))
}

func TestResolveRejects(t *testing.T) {
	skel := chain()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }},
		{name: "zero stride", mutate: func(c *Config) { c.Sources[0].Stride = 0 }},
		{name: "negative index", mutate: func(c *Config) { c.Sources[0].PafIndex = -1 }},
		{name: "per source list too long", mutate: func(c *Config) { c.PafMinDistance = List[float32](1, 2) }},
		{name: "pif min scale list", mutate: func(c *Config) { c.PifMinScale = List[float32]() }},
		{name: "score scale per edge", mutate: func(c *Config) { c.SeedScoreScale = List[float32](1, 1, 1) }},
		{name: "confidence scales", mutate: func(c *Config) { c.ConfidenceScales = []float32{1} }},
		{name: "unknown method", mutate: func(c *Config) { c.ConnectionMethod = "mean" }},
		{name: "negative threshold", mutate: func(c *Config) { c.SeedThreshold = -0.1 }},
		{name: "negative pif threshold", mutate: func(c *Config) { c.PifTh = -0.1 }},
		{name: "negative count", mutate: func(c *Config) { c.PafNN = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewDecoder(cfg, skel, Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionMethod = ""
	cfg.PifNN = 0
	cfg.SuppressionFactor = 0
	cfg.SeedScoreScale = Broadcast[float32]{}

	set, err := resolve(cfg, chain())
	require.NoError(t, err)
	assert.Equal(t, ConnectionBlend, set.ConnectionMethod)
	assert.Equal(t, DefaultBlendNN, set.pafNN)
	assert.Equal(t, 16, set.PifNN)
	assert.Equal(t, float32(2), set.SuppressionFactor)
	assert.Equal(t, []float32{1, 1}, set.seedScoreScale)
	assert.Equal(t, 4, set.maxPasses)

	cfg.ConnectionMethod = ConnectionMax
	cfg.PafNN = 10
	set, err = resolve(cfg, chain())
	require.NoError(t, err)
	assert.Equal(t, 1, set.pafNN, "max always uses the single best candidate")

	_, err = resolve(cfg, nil)
	assert.True(t, errors.Is(err, ErrConfig))
	_, err = resolve(cfg, &skeleton.Skeleton{Keypoints: []string{"a"}, Edges: []skeleton.Edge{{From: 0, To: 1}}})
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestResolveKeepsSkeletonCause(t *testing.T) {
	bad := &skeleton.Skeleton{Keypoints: []string{"a", "b"}, Edges: []skeleton.Edge{{From: 1, To: 1}}}

	_, err := NewDecoder(testConfig(), bad, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.True(t, errors.Is(err, skeleton.ErrInvalid), "got %v", err)
	assert.Contains(t, err.Error(), "self loop")
	assert.Contains(t, err.Error(), ErrConfig.Error())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoder.yaml")
	data := []byte(`
sources:
  - {stride: 8, pif_index: 0, paf_index: 1}
  - {stride: 16, pif_index: 2, paf_index: 3}
paf_min_distance: [0, 4]
seed_threshold: 0.3
pif_th: 0.05
connection_method: max
force_complete: false
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)
	assert.Equal(t, 16, cfg.Sources[1].Stride)
	assert.Equal(t, float32(0.3), cfg.SeedThreshold)
	assert.Equal(t, float32(0.05), cfg.PifTh)
	assert.Equal(t, ConnectionMax, cfg.ConnectionMethod)
	assert.False(t, cfg.ForceComplete)
	assert.Equal(t, float32(0.1), cfg.PafTh, "unset keys keep defaults")

	d, err := cfg.PafMinDistance.Expand(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, d)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
