// Command ssd-encode encodes every image of a list-file dataset against the
// configured anchor set and reports how ground truth maps onto anchors.
package main

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/profiler"
	"github.com/nvr-ai/go-ssd/util"
)

func main() {
	var (
		configPath string
		listFile   string
		imageRoot  string
		workers    int
		batchSize  int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration (defaults to SSD300/VOC)")
	flag.StringVar(&listFile, "list", "", "Annotation list file")
	flag.StringVar(&imageRoot, "root", ".", "Directory the list file's image names are relative to")
	flag.IntVar(&workers, "workers", 0, "Encoding goroutines (0 uses the configured value)")
	flag.IntVar(&batchSize, "batch", 0, "Images per batch (0 uses the configured value)")
	flag.BoolVar(&verbose, "v", false, "Log every batch")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if listFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			logger.Fatalf("Failed to load config: %v", err)
		}
	}
	if workers <= 0 {
		workers = cfg.Training.Workers
	}
	if batchSize <= 0 {
		batchSize = cfg.Training.BatchSize
	}

	set, err := anchors.Generate(cfg.Anchors)
	if err != nil {
		logger.Fatalf("Failed to generate anchors: %v", err)
	}
	enc, err := encoder.New(set, cfg.Encoder)
	if err != nil {
		logger.Fatalf("Failed to create encoder: %v", err)
	}

	loaded, err := util.LoadAnnotations(listFile, imageRoot)
	if err != nil {
		logger.Fatalf("Failed to load annotations: %v", err)
	}
	annotations := usable(loaded, cfg.Loss.NumClasses, logger)
	logger.WithFields(logrus.Fields{
		"images":  len(annotations),
		"skipped": len(loaded) - len(annotations),
		"anchors": len(set),
		"workers": workers,
	}).Info("encoding dataset")

	prof := profiler.New(0)
	var images, boxes, positives, empty int
	for start := 0; start < len(annotations); start += batchSize {
		end := min(start+batchSize, len(annotations))
		samples := make([]encoder.Sample, 0, end-start)
		for _, a := range annotations[start:end] {
			samples = append(samples, a.Sample)
		}

		done := prof.StartOperation("encode_batch")
		targets, err := enc.EncodeBatch(samples, workers)
		done()
		if err != nil {
			logger.Fatalf("Failed to encode batch at image %d: %v", start, err)
		}

		done = prof.StartOperation("stack_batch")
		if _, _, err := encoder.Stack(targets); err != nil {
			logger.Fatalf("Failed to stack batch at image %d: %v", start, err)
		}
		done()

		batchPositives := 0
		for i, t := range targets {
			p := t.NumPositive()
			batchPositives += p
			boxes += len(samples[i].Boxes)
			if len(samples[i].Boxes) == 0 {
				empty++
			} else {
				prof.RecordMetric("positives_per_box", float64(p)/float64(len(samples[i].Boxes)))
			}
			prof.RecordMetric("positives_per_image", float64(p))
		}
		images += len(targets)
		positives += batchPositives

		logger.WithFields(logrus.Fields{
			"batch":     start / batchSize,
			"images":    len(targets),
			"positives": batchPositives,
		}).Debug("batch encoded")
	}

	logger.WithFields(logrus.Fields{
		"images":            images,
		"boxes":             boxes,
		"positives":         positives,
		"images_without_gt": empty,
	}).Info("dataset encoded")
	prof.Report(logger)
}

// usable drops the annotations Encode would reject or whose labels exceed the
// class count, logging each one.
func usable(annotations []util.Annotation, numClasses int, logger logrus.FieldLogger) []util.Annotation {
	out := make([]util.Annotation, 0, len(annotations))
	for _, a := range annotations {
		err := a.Sample.Validate()
		if err == nil {
			for i, l := range a.Sample.Labels {
				if l >= numClasses {
					err = errors.Errorf("box %d has label %d, only %d classes", i, l, numClasses)
					break
				}
			}
		}
		if err != nil {
			logger.WithField("image", a.Path).Warnf("Skipping annotation: %v", err)
			continue
		}
		out = append(out, a)
	}
	return out
}
