package learned

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// The trained artifact reconstructs trailing windows of this shape.
	sequenceLen = 7
	featureDim  = 5

	// mseReferenceScale normalizes the reconstruction error to [0,1].
	mseReferenceScale = 100.0
)

// autoencoderArtifact is the on-disk JSON weight format produced by the
// offline training job. Training itself is out of scope here; the
// service only runs inference.
type autoencoderArtifact struct {
	SeqLen   int     `json:"seq_len"`
	InputDim int     `json:"input_dim"`
	Layers   []layer `json:"layers"`
}

type layer struct {
	Weights    [][]float64 `json:"weights"` // out x in
	Biases     []float64   `json:"biases"`
	Activation string      `json:"activation"` // relu | tanh | sigmoid | linear
}

// Autoencoder scores how poorly a trained sequence autoencoder
// reconstructs a ward's trailing feature window. A missing or broken
// artifact is a soft failure: Score returns nil and detection goes on
// without this component.
type Autoencoder struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	net *autoencoderArtifact
}

// LoadAutoencoder reads the weight artifact at path. Load failure does
// not error out; the returned scorer simply stays unloaded.
func LoadAutoencoder(path string, logger *zap.Logger) *Autoencoder {
	a := &Autoencoder{path: path, logger: logger.Named("autoencoder")}
	if err := a.reload(); err != nil {
		a.logger.Warn("model artifact unavailable, reconstruction score disabled",
			zap.String("path", path), zap.Error(err))
	}
	return a
}

// Loaded reports whether a usable artifact is in memory.
func (a *Autoencoder) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.net != nil
}

func (a *Autoencoder) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return err
	}
	var art autoencoderArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("parse artifact: %w", err)
	}
	if art.SeqLen != sequenceLen || art.InputDim != featureDim {
		return fmt.Errorf("artifact shape %dx%d, want %dx%d",
			art.SeqLen, art.InputDim, sequenceLen, featureDim)
	}
	if len(art.Layers) == 0 {
		return fmt.Errorf("artifact has no layers")
	}

	a.mu.Lock()
	a.net = &art
	a.mu.Unlock()
	a.logger.Info("model artifact loaded", zap.String("path", a.path))
	return nil
}

// Watch hot-reloads the artifact when the file changes on disk. Blocks
// until ctx is cancelled. A reload failure keeps the previous weights.
func (a *Autoencoder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic renames replace the file
	// rather than writing it in place.
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(a.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(a.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := a.reload(); err != nil {
				a.logger.Warn("model reload failed, keeping previous weights", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

// Score runs the trailing window (oldest first, sequenceLen rows of
// featureDim values) through the autoencoder and returns the normalized
// mean squared reconstruction error. nil when no model is loaded or the
// window has the wrong shape.
func (a *Autoencoder) Score(window [][]float64) *float64 {
	a.mu.RLock()
	net := a.net
	a.mu.RUnlock()
	if net == nil {
		return nil
	}
	if len(window) != sequenceLen {
		return nil
	}

	input := make([]float64, 0, sequenceLen*featureDim)
	for _, row := range window {
		if len(row) != featureDim {
			return nil
		}
		input = append(input, row...)
	}

	output := input
	for _, l := range net.Layers {
		next, err := applyLayer(l, output)
		if err != nil {
			a.logger.Warn("reconstruction failed", zap.Error(err))
			return nil
		}
		output = next
	}
	if len(output) != len(input) {
		a.logger.Warn("artifact output shape mismatch",
			zap.Int("got", len(output)), zap.Int("want", len(input)))
		return nil
	}

	var mse float64
	for i := range input {
		d := output[i] - input[i]
		mse += d * d
	}
	mse /= float64(len(input))

	s := mse / mseReferenceScale
	if s > 1 {
		s = 1
	}
	return &s
}

func applyLayer(l layer, in []float64) ([]float64, error) {
	if len(l.Biases) != len(l.Weights) {
		return nil, fmt.Errorf("layer has %d bias terms for %d units", len(l.Biases), len(l.Weights))
	}
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		if len(row) != len(in) {
			return nil, fmt.Errorf("layer expects %d inputs, got %d", len(row), len(in))
		}
		sum := l.Biases[i]
		for j, w := range row {
			sum += w * in[j]
		}
		out[i] = activate(l.Activation, sum)
	}
	return out, nil
}

func activate(name string, x float64) float64 {
	switch name {
	case "relu":
		if x < 0 {
			return 0
		}
		return x
	case "tanh":
		return math.Tanh(x)
	case "sigmoid":
		return 1 / (1 + math.Exp(-x))
	default: // linear
		return x
	}
}
