package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/models/postprocess"
)

// Predictor produces raw SSD outputs for one preprocessed image. Session is
// the ONNX Runtime implementation.
type Predictor interface {
	Predict(ctx context.Context, input []float32) (loc, conf []float32, err error)
}

var _ Predictor = (*Session)(nil)

// DetectorArgs configures a Detector.
type DetectorArgs struct {
	Predictor Predictor
	// Encoder must be built over the anchor set the network was trained with.
	Encoder    *encoder.Encoder
	InputSize  int
	NumClasses int
	// Logits applies a per-anchor softmax to the class output before decoding.
	Logits  bool
	Options encoder.DecodeOptions
	Logger  logrus.FieldLogger
}

// Detector chains preprocessing, the network and decoding.
type Detector struct {
	args   DetectorArgs
	logger logrus.FieldLogger
}

// NewDetector validates args and creates a Detector.
func NewDetector(args DetectorArgs) (*Detector, error) {
	if args.Predictor == nil || args.Encoder == nil {
		return nil, errors.New("detector requires a predictor and an encoder")
	}
	if args.InputSize <= 0 {
		return nil, errors.Errorf("input size %d must be positive", args.InputSize)
	}
	logger := args.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{args: args, logger: logger}, nil
}

// Detect returns the detections of img in normalized coordinates.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]postprocess.Result, error) {
	input := make([]float32, 3*d.args.InputSize*d.args.InputSize)
	if err := Preprocess(img, d.args.InputSize, input); err != nil {
		return nil, err
	}
	return d.DetectTensor(ctx, input)
}

// DetectTensor runs an already preprocessed image through the network and
// decodes the result.
func (d *Detector) DetectTensor(ctx context.Context, input []float32) ([]postprocess.Result, error) {
	start := time.Now()
	loc, scores, err := d.args.Predictor.Predict(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "predicting")
	}
	if d.args.Logits {
		if scores, err = encoder.Softmax(scores, d.args.NumClasses); err != nil {
			return nil, err
		}
	}

	results, err := d.args.Encoder.Decode(loc, scores, d.args.NumClasses, d.args.Options)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"detections": len(results),
		"elapsed":    time.Since(start),
	}).Debug("detect")
	return results, nil
}

// ToPixels maps a normalized box onto an image of the given size. Decoded
// boxes may extend past the image; the rectangle is clipped to its bounds.
func ToPixels(r postprocess.Result, width, height int) image.Rectangle {
	b := r.Box.Clip()
	w, h := float32(width), float32(height)
	return image.Rect(
		int(b.XMin*w+0.5), int(b.YMin*h+0.5),
		int(b.XMax*w+0.5), int(b.YMax*h+0.5),
	)
}
