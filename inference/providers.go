package inference

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA runs on an NVIDIA GPU.
	BackendCUDA Backend = "cuda"
	// BackendCoreML runs through Apple CoreML.
	BackendCoreML Backend = "coreml"
	// BackendOpenVINO runs through Intel OpenVINO.
	BackendOpenVINO Backend = "openvino"
)

// ProviderOptions configures the execution provider and threading of a session.
type ProviderOptions struct {
	// Backend selects the execution provider. Empty means CPU.
	Backend Backend `json:"backend" yaml:"backend"`
	// DeviceID selects the GPU or accelerator.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// DeviceType is the OpenVINO device, e.g. "CPU" or "GPU".
	DeviceType string `json:"device_type" yaml:"device_type"`
	// IntraOpThreads parallelizes single operators. 0 lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes independent graph nodes. 0 lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// Validate checks the backend name and thread counts.
func (o ProviderOptions) Validate() error {
	switch o.Backend {
	case "", BackendCPU, BackendCUDA, BackendCoreML, BackendOpenVINO:
	default:
		return errors.Errorf("unknown execution backend %q", o.Backend)
	}
	if o.IntraOpThreads < 0 || o.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	if o.DeviceID < 0 {
		return errors.Errorf("device id %d must not be negative", o.DeviceID)
	}
	return nil
}

// sessionOptions builds native session options. The caller destroys them.
func (o ProviderOptions) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating ORT session options")
	}
	if err := o.apply(options); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func (o ProviderOptions) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(o.IntraOpThreads); err != nil {
		return errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(o.InterOpThreads); err != nil {
		return errors.Wrap(err, "setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}

	switch o.Backend {
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "enabling CoreML")
		}
	case BackendOpenVINO:
		deviceType := o.DeviceType
		if deviceType == "" {
			deviceType = "CPU"
		}
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_id":   fmt.Sprintf("%d", o.DeviceID),
			"device_type": deviceType,
		}); err != nil {
			return errors.Wrap(err, "enabling OpenVINO")
		}
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": fmt.Sprintf("%d", o.DeviceID)}); err != nil {
			return errors.Wrap(err, "configuring CUDA")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enabling CUDA")
		}
	}
	return nil
}

// DefaultLibraryPath returns where the ONNX Runtime shared library is expected
// for the current platform.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}
