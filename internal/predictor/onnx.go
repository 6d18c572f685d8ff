// Package predictor ships the engine's built-in Predictor implementations.
// The ensemble contract itself lives in internal/ensemble; anything that can
// produce a ModelOutput may join.
package predictor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/market"
)

const onnxFeatureCount = 6

var ortInitOnce sync.Once

func initializeORT() error {
	libPath := "/usr/lib/libonnxruntime.so"
	if runtime.GOOS == "windows" {
		libPath = "onnxruntime.dll"
	} else if runtime.GOOS == "darwin" {
		libPath = "libonnxruntime.dylib"
	}
	ort.SetSharedLibraryPath(libPath)
	return ort.InitializeEnvironment()
}

// ONNXPredictor runs a pre-trained classifier over per-tick features and
// emits a Q-value vector ordered [short, flat, long]. Training and export of
// the model file happen elsewhere; this only loads and serves it.
type ONNXPredictor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	ready   bool
}

// NewONNXPredictor loads the model at modelPath. The model is expected to
// take a (1, 6) feature tensor and return a (1, 3) action-value tensor.
func NewONNXPredictor(modelPath string) (*ONNXPredictor, error) {
	var initErr error
	ortInitOnce.Do(func() { initErr = initializeORT() })
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, onnxFeatureCount), make([]float32, onnxFeatureCount))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXPredictor{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		ready:   true,
	}, nil
}

func (p *ONNXPredictor) Name() string { return "onnx" }

func (p *ONNXPredictor) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Predict runs one inference pass. The session owns fixed tensors, so calls
// serialize on the predictor mutex.
func (p *ONNXPredictor) Predict(ctx context.Context, sample market.Sample) (ensemble.ModelOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, fmt.Errorf("onnx model not available")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := [onnxFeatureCount]float32{
		float32(sample.Price),
		float32(sample.ATR),
		float32(sample.RSI),
		float32(sample.Volume),
		float32(sample.EMA.Fast - sample.EMA.Slow),
		float32(sample.EMAAlignment),
	}
	copy(p.input.GetData(), features[:])

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := p.output.GetData()
	values := make([]float64, len(out))
	for i, v := range out {
		values[i] = float64(v)
	}

	return ensemble.QValueVector{Values: values, Confidence: spread(values)}, nil
}

// Close releases the ORT session and tensors.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	if p.session != nil {
		p.session.Destroy()
	}
	if p.input != nil {
		p.input.Destroy()
	}
	if p.output != nil {
		p.output.Destroy()
	}
}

// spread maps how decisively the best action value dominates the rest onto
// a [0.5, 1] confidence.
func spread(values []float64) float64 {
	if len(values) < 2 {
		return 0.3
	}
	max, sum := values[0], 0.0
	for _, v := range values {
		sum += v
		if v > max {
			max = v
		}
	}
	diff := max - (sum-max)/float64(len(values)-1)
	if diff > 1 {
		diff = 1
	}
	if diff < 0 {
		diff = 0
	}
	return 0.5 + diff/2
}
