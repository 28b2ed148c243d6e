package detector

import (
	"context"
	"fmt"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const acquireTimeout = 5 * time.Second

type session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// sessionPool bounds concurrent inference to a fixed set of sessions,
// each with pre-allocated input/output tensors.
type sessionPool struct {
	sessions chan *session
	all      []*session
}

func newSessionPool(modelPath string, inputSize, numClasses, size int) (*sessionPool, error) {
	pool := &sessionPool{
		sessions: make(chan *session, size),
	}

	for i := 0; i < size; i++ {
		s, err := newSession(modelPath, inputSize, numClasses)
		if err != nil {
			pool.destroy()
			return nil, fmt.Errorf("initialize session %d: %w", i, err)
		}
		pool.all = append(pool.all, s)
		pool.sessions <- s
	}

	return pool, nil
}

func newSession(modelPath string, inputSize, numClasses int) (*session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	outputShape := ort.NewShape(1, int64(4+numClasses), int64(anchorCount(inputSize)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session{
		session: sess,
		input:   inputTensor,
		output:  outputTensor,
	}, nil
}

// anchorCount is the number of prediction rows a YOLO head emits for a
// square input: one cell per position at strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	return (inputSize/8)*(inputSize/8) + (inputSize/16)*(inputSize/16) + (inputSize/32)*(inputSize/32)
}

func (p *sessionPool) acquire(ctx context.Context) (*session, error) {
	select {
	case s := <-p.sessions:
		return s, nil
	case <-time.After(acquireTimeout):
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *sessionPool) release(s *session) {
	p.sessions <- s
}

// destroy reclaims every session before freeing it, waiting for
// in-flight holders to release theirs.
func (p *sessionPool) destroy() {
	for range p.all {
		<-p.sessions
	}
	for _, s := range p.all {
		s.destroy()
	}
	p.all = nil
}
