// Package inference - ONNX Runtime execution of an exported SSD network and
// decoding of its raw predictions into detections.
package inference

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrLibraryNotFound is returned when the ONNX Runtime shared library is missing.
var ErrLibraryNotFound = errors.New("onnxruntime shared library not found")

// Backend selects the ONNX Runtime execution provider.
type Backend string

const (
	// BackendCPU runs on the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA runs on an NVIDIA GPU.
	BackendCUDA Backend = "cuda"
	// BackendCoreML runs on Apple hardware.
	BackendCoreML Backend = "coreml"
)

// DefaultSharedLibraryPath returns $ONNXRUNTIME_SHARED_LIBRARY_PATH when set,
// otherwise the conventional location of the ONNX Runtime library for the
// current platform, or "" if there is none.
func DefaultSharedLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
	return ""
}

var environment = struct {
	sync.Mutex
	sessions int
	// owned is set when this package initialized the runtime and so must
	// destroy it.
	owned   bool
	destroy func() error
}{destroy: ort.DestroyEnvironment}

// acquireEnvironment initializes the process-wide ONNX Runtime environment on
// first use, unless another caller already did.
func acquireEnvironment(libPath string) error {
	environment.Lock()
	defer environment.Unlock()

	if environment.sessions == 0 && !ort.IsInitialized() {
		if _, err := os.Stat(libPath); err != nil {
			return errors.Wrapf(ErrLibraryNotFound, "%s: %v", libPath, err)
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "initializing onnxruntime environment")
		}
		environment.owned = true
	}
	environment.sessions++
	return nil
}

// releaseEnvironment drops one session reference and destroys the runtime
// with the last one if acquireEnvironment created it.
func releaseEnvironment() error {
	environment.Lock()
	defer environment.Unlock()

	environment.sessions--
	if environment.sessions > 0 || !environment.owned {
		return nil
	}
	environment.owned = false
	if err := environment.destroy(); err != nil {
		return errors.Wrap(err, "destroying onnxruntime environment")
	}
	return nil
}

// SessionArgs describes the exported network.
type SessionArgs struct {
	// ModelPath is the ONNX model file.
	ModelPath string
	// SharedLibraryPath is the ONNX Runtime library. Empty uses DefaultSharedLibraryPath.
	SharedLibraryPath string
	// Backend is the execution provider. Empty means BackendCPU.
	Backend Backend
	// DeviceID selects the GPU for BackendCUDA.
	DeviceID int
	// InputName is the (1, 3, InputSize, InputSize) image input.
	InputName string
	// LocOutput and ConfOutput are the (1, N, 4) and (1, N, C) outputs.
	LocOutput  string
	ConfOutput string
	InputSize  int
	NumAnchors int
	NumClasses int
}

// Session runs an SSD network with preallocated input and output tensors.
// Predict calls are serialized.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	loc     *ort.Tensor[float32]
	conf    *ort.Tensor[float32]
}

// NewSession loads the model and binds its tensors.
//
// Arguments:
//   - args: The model location and tensor layout.
//
// Returns:
//   - *Session: A session that must be closed by the caller.
//   - error: ErrLibraryNotFound, or any runtime error while loading the model.
func NewSession(args SessionArgs) (*Session, error) {
	if args.InputSize <= 0 || args.NumAnchors <= 0 || args.NumClasses < 2 {
		return nil, errors.Errorf("invalid session layout: input %d, anchors %d, classes %d",
			args.InputSize, args.NumAnchors, args.NumClasses)
	}
	libPath := args.SharedLibraryPath
	if libPath == "" {
		libPath = DefaultSharedLibraryPath()
	}
	if err := acquireEnvironment(libPath); err != nil {
		return nil, err
	}

	s := &Session{}
	if err := s.bind(args); err != nil {
		_ = s.destroy()
		_ = releaseEnvironment()
		return nil, err
	}
	return s, nil
}

func (s *Session) bind(args SessionArgs) error {
	var err error
	size := int64(args.InputSize)
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size)); err != nil {
		return errors.Wrap(err, "allocating input tensor")
	}
	if s.loc, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(args.NumAnchors), 4)); err != nil {
		return errors.Wrap(err, "allocating loc tensor")
	}
	if s.conf, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(args.NumAnchors), int64(args.NumClasses))); err != nil {
		return errors.Wrap(err, "allocating conf tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}
	if err := appendProvider(options, args); err != nil {
		return err
	}

	s.session, err = ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.LocOutput, args.ConfOutput},
		[]ort.Value{s.input},
		[]ort.Value{s.loc, s.conf},
		options,
	)
	if err != nil {
		return errors.Wrapf(err, "loading model %s", args.ModelPath)
	}
	return nil
}

func appendProvider(options *ort.SessionOptions, args SessionArgs) error {
	switch args.Backend {
	case "", BackendCPU:
		return nil
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "enabling CoreML")
		}
		return nil
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(args.DeviceID)}); err != nil {
			return errors.Wrap(err, "configuring CUDA")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enabling CUDA")
		}
		return nil
	}
	return errors.Errorf("unknown backend %q", args.Backend)
}

// Predict runs the network on one preprocessed CHW image.
//
// Arguments:
//   - ctx: Checked before the run; a started run is not interrupted.
//   - input: 3*InputSize*InputSize values, see Preprocess.
//
// Returns:
//   - loc: A copy of the (N, 4) offsets.
//   - conf: A copy of the (N, C) class scores.
//   - err: Size or runtime errors.
func (s *Session) Predict(ctx context.Context, input []float32) (loc, conf []float32, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, nil, errors.New("session is closed")
	}
	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, nil, errors.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, nil, errors.Wrap(err, "running model")
	}
	loc = append([]float32(nil), s.loc.GetData()...)
	conf = append([]float32(nil), s.conf.GetData()...)
	return loc, conf, nil
}

// Close releases the session and its tensors. Closing the last session also
// destroys the runtime environment if NewSession created it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	if err := s.destroy(); err != nil {
		_ = releaseEnvironment()
		return errors.Wrap(err, "destroying session")
	}
	return releaseEnvironment()
}

func (s *Session) destroy() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{s.input, s.loc, s.conf} {
		if t != nil {
			t.Destroy()
		}
	}
	s.input, s.loc, s.conf = nil, nil, nil
	return err
}
