package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/aigoflow/detection-service/internal/models"
)

// ErrNotReady is returned by Detect before a successful Load.
var ErrNotReady = errors.New("detector: model not loaded")

var ortInit sync.Once

type Config struct {
	ModelPath    string
	OrtSharedLib string
	LabelsPath   string
	InputSize    int
	Workers      int
}

// Detector wraps a pool of ONNX Runtime sessions over a single model.
// The loaded model is read-only; concurrent Detect calls share it
// through the session pool.
type Detector struct {
	cfg    Config
	labels []string

	mu     sync.Mutex
	pool   *sessionPool
	loaded atomic.Bool
}

func New(cfg Config) *Detector {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Detector{cfg: cfg}
}

// Load initializes the runtime and creates the session pool. It is
// idempotent: once loaded, subsequent calls return nil immediately.
func (d *Detector) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded.Load() {
		return nil
	}

	if _, err := os.Stat(d.cfg.ModelPath); err != nil {
		return fmt.Errorf("model weights not found at %s: %w", d.cfg.ModelPath, err)
	}

	labels, err := resolveLabels(d.cfg.LabelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	var initErr error
	ortInit.Do(func() {
		if d.cfg.OrtSharedLib != "" {
			ort.SetSharedLibraryPath(d.cfg.OrtSharedLib)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	pool, err := newSessionPool(d.cfg.ModelPath, d.cfg.InputSize, len(labels), d.cfg.Workers)
	if err != nil {
		return fmt.Errorf("create session pool: %w", err)
	}

	d.labels = labels
	d.pool = pool
	d.loaded.Store(true)
	return nil
}

// Ready reports whether the model has been loaded. Monotonic: it never
// flips back to false for the life of the process.
func (d *Detector) Ready() bool {
	return d.loaded.Load()
}

// Detect runs one inference pass and returns detections whose score
// meets conf, in source pixel coordinates. A single attempt, no retries.
func (d *Detector) Detect(ctx context.Context, img image.Image, conf float64) ([]models.Detection, error) {
	if !d.loaded.Load() {
		return nil, ErrNotReady
	}

	sess, err := d.pool.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer d.pool.release(sess)

	resized := imaging.Resize(img, d.cfg.InputSize, d.cfg.InputSize, imaging.Linear)
	fillInput(resized, sess.input.GetData(), d.cfg.InputSize)

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	bounds := img.Bounds()
	candidates := decodeOutput(sess.output.GetData(), d.labels, conf, d.cfg.InputSize, bounds.Dx(), bounds.Dy())
	return nonMaxSuppression(candidates, defaultIoUThreshold), nil
}

// Labels returns the class table the model maps indices onto.
func (d *Detector) Labels() []string {
	return d.labels
}

func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.destroy()
		d.pool = nil
	}
}
