// Package tflite runs the waste classification model in-process with the
// TensorFlow Lite C runtime.
package tflite

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/classifier"
)

// Options configures the interpreter.
type Options struct {
	ModelPath string
	InputSize int
	Threads   int
}

// Classifier wraps a TFLite interpreter. The interpreter is not safe for
// concurrent use, so Invoke is serialised.
type Classifier struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputSize   int
	logger      *zap.Logger
}

// Load reads the model from disk and allocates its tensors.
func Load(opts Options, logger *zap.Logger) (*Classifier, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = classifier.DefaultInputSize
	}
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}

	model := tflite.NewModelFromFile(opts.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("cannot load model %s", opts.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(opts.Threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}

	c := &Classifier{
		model:       model,
		options:     options,
		interpreter: interpreter,
		inputSize:   opts.InputSize,
		logger:      logger.Named("tflite"),
	}
	if err := c.checkShapes(); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Info("model loaded", zap.String("path", opts.ModelPath), zap.Int("threads", opts.Threads))
	return c, nil
}

func (c *Classifier) checkShapes() error {
	input := c.interpreter.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	if want := c.inputSize * c.inputSize * 3; len(input.Float32s()) != want {
		return fmt.Errorf("input tensor holds %d values, want %d", len(input.Float32s()), want)
	}
	output := c.interpreter.GetOutputTensor(0)
	if output == nil {
		return fmt.Errorf("cannot get output tensor")
	}
	if n := output.Dim(output.NumDims() - 1); n != classifier.NumLabels {
		return fmt.Errorf("model has %d outputs, want %d", n, classifier.NumLabels)
	}
	return nil
}

// Classify implements classifier.Classifier.
func (c *Classifier) Classify(ctx context.Context, imageBytes []byte) (classifier.Prediction, error) {
	tensor, err := classifier.Preprocess(imageBytes, c.inputSize)
	if err != nil {
		return classifier.Prediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return classifier.Prediction{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.interpreter.GetInputTensor(0).Float32s(), tensor)
	if status := c.interpreter.Invoke(); status != tflite.OK {
		return classifier.Prediction{}, fmt.Errorf("tensor invoke failed")
	}

	return classifier.PredictionFromScores(c.interpreter.GetOutputTensor(0).Float32s())
}

// Close releases the interpreter and model.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.options != nil {
		c.options.Delete()
		c.options = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}
