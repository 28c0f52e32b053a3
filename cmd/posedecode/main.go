package main

import (
	"encoding/json"
	"flag"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pose/annotation"
	"github.com/nvr-ai/go-pose/decoder"
	"github.com/nvr-ai/go-pose/inference"
	"github.com/nvr-ai/go-pose/skeleton"
	"github.com/nvr-ai/go-pose/util"
	"github.com/nvr-ai/go-pose/visualize/cvsink"
)

func main() {
	var (
		modelPath   string
		imagePath   string
		imageDir    string
		configPath  string
		libraryPath string
		backend     string
		vizDir      string
		inputWidth  int
		inputHeight int
		stride      int
		verbose     bool
	)
	flag.StringVar(&modelPath, "model", "openpifpaf-resnet50.onnx", "Path to the PIF/PAF ONNX model")
	flag.StringVar(&imagePath, "image", "", "Path to the input image (.jpg, .png)")
	flag.StringVar(&imageDir, "dir", "", "Decode every image in this directory")
	flag.StringVar(&configPath, "config", "", "Optional decoder YAML configuration")
	flag.StringVar(&libraryPath, "onnxruntime", "", "Path to the ONNX Runtime shared library")
	flag.StringVar(&backend, "backend", string(inference.BackendCPU), "Execution backend (cpu, cuda, coreml, openvino)")
	flag.StringVar(&vizDir, "viz-dir", "", "Write field heatmaps into this directory")
	flag.IntVar(&inputWidth, "width", 641, "Model input width")
	flag.IntVar(&inputHeight, "height", 641, "Model input height")
	flag.IntVar(&stride, "stride", 8, "Model output stride")
	flag.BoolVar(&verbose, "verbose", false, "Log decoder stages and timings")
	flag.Parse()

	if (imagePath == "") == (imageDir == "") {
		log.Fatal("exactly one of -image or -dir is required")
	}

	if err := run(options{
		modelPath:   modelPath,
		imagePath:   imagePath,
		imageDir:    imageDir,
		configPath:  configPath,
		libraryPath: libraryPath,
		backend:     inference.Backend(backend),
		vizDir:      vizDir,
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
		stride:      stride,
		verbose:     verbose,
	}, os.Stdout); err != nil {
		log.Fatalf("posedecode: %v", err)
	}
}

type options struct {
	modelPath   string
	imagePath   string
	imageDir    string
	configPath  string
	libraryPath string
	backend     inference.Backend
	vizDir      string
	inputWidth  int
	inputHeight int
	stride      int
	verbose     bool
}

func run(opts options, out io.Writer) error {
	skel := skeleton.COCOPerson()

	cfg := decoder.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = decoder.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	cfg.Sources = []decoder.Source{{Stride: opts.stride, PifIndex: 0, PafIndex: 1}}

	decOpts := decoder.Options{}
	if opts.verbose {
		decOpts.Logger = log.New(os.Stderr, "decoder: ", log.LstdFlags)
	}
	if opts.vizDir != "" {
		if err := os.MkdirAll(opts.vizDir, 0o755); err != nil {
			return errors.Wrap(err, "creating visualization directory")
		}
		decOpts.Sink = cvsink.New(opts.vizDir)
	}
	dec, err := decoder.NewDecoder(cfg, skel, decOpts)
	if err != nil {
		return err
	}

	infCfg := inference.DefaultConfig(opts.modelPath)
	infCfg.LibraryPath = opts.libraryPath
	infCfg.InputWidth = opts.inputWidth
	infCfg.InputHeight = opts.inputHeight
	infCfg.Stride = opts.stride
	infCfg.Provider.Backend = opts.backend
	session, err := inference.NewSession(infCfg, skel)
	if err != nil {
		return err
	}
	defer session.Close()

	paths := []string{opts.imagePath}
	if opts.imageDir != "" {
		files, err := util.ListImageFiles(opts.imageDir)
		if err != nil {
			return err
		}
		paths = paths[:0]
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, path := range paths {
		anns, err := decodeImage(dec, session, path)
		if err != nil {
			return err
		}
		if opts.verbose {
			log.Printf("%d annotations in %s", len(anns), path)
		}
		if err := enc.Encode(result{Image: path, Annotations: anns}); err != nil {
			return errors.Wrap(err, "writing annotations")
		}
	}

	if opts.verbose {
		return dec.Timings().Report(os.Stderr)
	}
	return nil
}

// result is the JSON record written per image.
type result struct {
	Image       string                   `json:"image"`
	Annotations []*annotation.Annotation `json:"annotations"`
}

func decodeImage(dec *decoder.Decoder, session *inference.Session, path string) ([]*annotation.Annotation, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	in, scale, err := session.Run(img)
	if err != nil {
		return nil, errors.Wrapf(err, "running model on %s", path)
	}
	anns, err := dec.Decode(in, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	for _, ann := range anns {
		ann.Scale(scale.X, scale.Y)
	}
	return anns, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %s", path)
	}
	return img, nil
}
