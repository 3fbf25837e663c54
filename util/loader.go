// Package util - Dataset helpers: list-file annotations and image discovery.
package util

import (
	"bufio"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssd/boxes"
	"github.com/nvr-ai/go-ssd/encoder"
)

// ErrMalformedLine is returned for list-file lines that do not parse.
var ErrMalformedLine = errors.New("malformed annotation line")

// Annotation is the ground truth of one image.
type Annotation struct {
	// Path is the image file.
	Path string
	// Width and Height are read from the image header.
	Width, Height int
	// Sample holds normalized boxes and labels shifted past the background class.
	Sample encoder.Sample
}

// LoadAnnotations reads a list file in which every line describes one image:
//
//	name n xmin ymin xmax ymax class [xmin ymin xmax ymax class ...]
//
// Coordinates are in pixels and classes are 0-based. Boxes are normalized by
// the image size and classes are shifted by one so that 0 stays background.
//
// Arguments:
//   - listFile: The list file.
//   - imageRoot: Directory the image names are relative to.
//
// Returns:
//   - []Annotation: One entry per non-empty line, in file order.
//   - error: ErrMalformedLine with the line number, or an image read error.
func LoadAnnotations(listFile, imageRoot string) ([]Annotation, error) {
	f, err := os.Open(listFile)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", listFile)
	}
	defer f.Close()

	var out []Annotation
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		a, err := parseLine(fields, imageRoot)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", listFile, line)
		}
		out = append(out, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", listFile)
	}
	return out, nil
}

func parseLine(fields []string, imageRoot string) (Annotation, error) {
	if len(fields) < 2 {
		return Annotation{}, errors.Wrap(ErrMalformedLine, "missing box count")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return Annotation{}, errors.Wrapf(ErrMalformedLine, "box count %q", fields[1])
	}
	if len(fields) != 2+5*n {
		return Annotation{}, errors.Wrapf(ErrMalformedLine, "%d boxes need %d fields, got %d", n, 2+5*n, len(fields))
	}

	a := Annotation{Path: filepath.Join(imageRoot, fields[0])}
	if a.Width, a.Height, err = imageSize(a.Path); err != nil {
		return Annotation{}, err
	}

	w, h := float32(a.Width), float32(a.Height)
	a.Sample.Boxes = make([]boxes.Box, n)
	a.Sample.Labels = make([]int, n)
	for i := 0; i < n; i++ {
		var v [4]float32
		for k := range v {
			f, err := strconv.ParseFloat(fields[2+5*i+k], 32)
			if err != nil {
				return Annotation{}, errors.Wrapf(ErrMalformedLine, "box %d coordinate %q", i, fields[2+5*i+k])
			}
			v[k] = float32(f)
		}
		class, err := strconv.Atoi(fields[2+5*i+4])
		if err != nil || class < 0 {
			return Annotation{}, errors.Wrapf(ErrMalformedLine, "box %d class %q", i, fields[2+5*i+4])
		}
		a.Sample.Boxes[i] = boxes.Box{XMin: v[0] / w, YMin: v[1] / h, XMax: v[2] / w, YMax: v[3] / h}
		a.Sample.Labels[i] = class + 1
	}
	return a, nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "decoding header of %s", path)
	}
	return cfg.Width, cfg.Height, nil
}

// ListImages returns the JPEG and PNG files of dir in name order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
