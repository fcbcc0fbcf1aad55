//go:build onnx

package segment

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	registerBackend(onnxBackend)
}

var ortInit struct {
	once sync.Once
	err  error
}

func initRuntime(libPath string) error {
	ortInit.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

func onnxBackend(libPath string) OpenFunc {
	return func(ctx context.Context, modelPath string) (Session, error) {
		if err := initRuntime(libPath); err != nil {
			return nil, fmt.Errorf("init onnxruntime: %w", err)
		}
		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("inspect model: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s has no inputs or outputs", modelPath)
		}
		s, err := ort.NewDynamicAdvancedSession(modelPath,
			[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return &onnxSession{s: s}, nil
	}
}

// onnxSession runs the first output of a single input model.
type onnxSession struct {
	mu sync.Mutex
	s  *ort.DynamicAdvancedSession
}

type runResult struct {
	out []float32
	err error
}

// Run blocks until inference ends or ctx is done. An abandoned inference
// finishes in the background and its result is dropped.
func (o *onnxSession) Run(ctx context.Context, input []float32, size int) ([]float32, error) {
	done := make(chan runResult, 1)
	go func() {
		out, err := o.run(input, size)
		done <- runResult{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *onnxSession) run(input []float32, size int) ([]float32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		return nil, fmt.Errorf("session closed")
	}
	s := int64(size)
	in, err := ort.NewTensor(ort.NewShape(1, 3, s, s), input)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer in.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, s, s))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer out.Destroy()
	if err := o.s.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return append([]float32(nil), out.GetData()...), nil
}

func (o *onnxSession) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		return nil
	}
	err := o.s.Destroy()
	o.s = nil
	return err
}
