// Command ssd-anchors generates the anchor set of a configuration and prints
// it, one "cx cy w h" line per anchor.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/config"
)

func main() {
	var (
		configPath string
		limit      int
		quiet      bool
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration (defaults to SSD300)")
	flag.IntVar(&limit, "limit", 0, "Print at most this many anchors (0 prints all)")
	flag.BoolVar(&quiet, "quiet", false, "Only print the per-scale summary")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			logger.Fatalf("Failed to load config: %v", err)
		}
	}

	set, err := anchors.Generate(cfg.Anchors)
	if err != nil {
		logger.Fatalf("Failed to generate anchors: %v", err)
	}

	for i, s := range cfg.Anchors.Scales {
		logger.WithFields(logrus.Fields{
			"scale":          i,
			"grid":           s.GridSize,
			"boxes_per_cell": cfg.Anchors.BoxesPerCell(i),
			"anchors":        s.GridSize * s.GridSize * cfg.Anchors.BoxesPerCell(i),
		}).Info("scale")
	}
	logger.WithField("anchors", len(set)).Info("anchor set generated")

	if quiet {
		return
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for i, a := range set {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(w, "%.6f %.6f %.6f %.6f\n", a.CX, a.CY, a.W, a.H)
	}
}
