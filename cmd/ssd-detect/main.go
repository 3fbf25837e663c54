// Command ssd-detect runs an exported SSD network over images and prints the
// decoded detections.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/inference"
	"github.com/nvr-ai/go-ssd/models"
	"github.com/nvr-ai/go-ssd/profiler"
	"github.com/nvr-ai/go-ssd/util"
)

type options struct {
	configPath string
	modelPath  string
	libPath    string
	backend    string
	imagePath  string
	dir        string
	score      float64
}

func main() {
	var (
		opts    options
		verbose bool
	)
	flag.StringVar(&opts.configPath, "config", "", "YAML configuration (defaults to SSD300/VOC)")
	flag.StringVar(&opts.modelPath, "model", "", "ONNX model (overrides the configured path)")
	flag.StringVar(&opts.libPath, "lib", "", "ONNX Runtime shared library (overrides the configured path)")
	flag.StringVar(&opts.backend, "backend", "cpu", "Execution provider: cpu, cuda or coreml")
	flag.StringVar(&opts.imagePath, "image", "", "Image file (.jpg, .jpeg, .png)")
	flag.StringVar(&opts.dir, "dir", "", "Directory of images")
	flag.Float64Var(&opts.score, "score", 0, "Score threshold (0 uses the configured value)")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.Parse()

	if opts.imagePath == "" && opts.dir == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, opts, logger)
	stop()
	if err != nil {
		logger.Fatalf("ssd-detect: %v", err)
	}
}

func run(ctx context.Context, opts options, logger *logrus.Logger) (err error) {
	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	if opts.modelPath != "" {
		cfg.Inference.ModelPath = opts.modelPath
	}
	if opts.libPath != "" {
		cfg.Inference.SharedLibraryPath = opts.libPath
	}
	if opts.score > 0 {
		cfg.Decode.ScoreThreshold = float32(opts.score)
	}

	paths := []string{opts.imagePath}
	if opts.imagePath == "" {
		if paths, err = util.ListImages(opts.dir); err != nil {
			return err
		}
	}

	classes, err := models.Lookup(models.FamilyVOC)
	if err != nil {
		return err
	}
	if classes.Len() != cfg.Loss.NumClasses {
		logger.Warnf("Configured %d classes, label names cover %d", cfg.Loss.NumClasses, classes.Len())
	}

	set, err := anchors.Generate(cfg.Anchors)
	if err != nil {
		return errors.WithMessage(err, "generating anchors")
	}
	enc, err := encoder.New(set, cfg.Encoder)
	if err != nil {
		return errors.WithMessage(err, "creating encoder")
	}

	session, err := inference.NewSession(inference.SessionArgs{
		ModelPath:         cfg.Inference.ModelPath,
		SharedLibraryPath: cfg.Inference.SharedLibraryPath,
		Backend:           inference.Backend(opts.backend),
		InputName:         cfg.Inference.InputName,
		LocOutput:         cfg.Inference.LocOutput,
		ConfOutput:        cfg.Inference.ConfOutput,
		InputSize:         cfg.Inference.InputSize,
		NumAnchors:        len(set),
		NumClasses:        cfg.Loss.NumClasses,
	})
	if err != nil {
		return errors.WithMessage(err, "creating session")
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Errorf("Failed to close session: %v", cerr)
		}
	}()

	detector, err := inference.NewDetector(inference.DetectorArgs{
		Predictor:  session,
		Encoder:    enc,
		InputSize:  cfg.Inference.InputSize,
		NumClasses: cfg.Loss.NumClasses,
		Logits:     cfg.Inference.Logits,
		Options:    cfg.Decode,
		Logger:     logger,
	})
	if err != nil {
		return errors.WithMessage(err, "creating detector")
	}

	prof := profiler.New(0)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		img, err := decodeImage(path)
		if err != nil {
			logger.Errorf("Skipping %s: %v", path, err)
			continue
		}

		done := prof.StartOperation("detect")
		results, err := detector.Detect(ctx, img)
		done()
		if err != nil {
			logger.Errorf("Failed to detect %s: %v", path, err)
			continue
		}
		prof.RecordMetric("detections", float64(len(results)))

		bounds := img.Bounds()
		for _, r := range results {
			name, err := classes.Name(r.Class)
			if err != nil {
				name = fmt.Sprintf("class-%d", r.Class)
			}
			rect := inference.ToPixels(r, bounds.Dx(), bounds.Dy())
			fmt.Printf("%s %s %.3f %d %d %d %d\n", path, name, r.Score, rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y)
		}
	}
	prof.Report(logger)
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
