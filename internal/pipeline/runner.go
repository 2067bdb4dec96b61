package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
)

// FlowRunner is what callers outside the pipeline need to run flows.
type FlowRunner interface {
	Run(ctx context.Context, flowID string) (*model.Questionnaire, error)
	Active(flowID string) bool
}

// Runner starts runs in the background and lets them be cancelled by flow id.
type Runner struct {
	runner FlowRunner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner over r.
func NewRunner(r FlowRunner) *Runner {
	return &Runner{runner: r, cancels: make(map[string]context.CancelFunc)}
}

// Start launches a run for flowID and returns immediately. It fails with
// ErrAlreadyRunning when the flow already has a run in this process.
func (r *Runner) Start(flowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cancels[flowID]; ok || r.runner.Active(flowID) {
		return eris.Wrapf(ErrAlreadyRunning, "flow %s", flowID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[flowID] = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, flowID)
			r.mu.Unlock()
			cancel()
		}()

		if _, err := r.runner.Run(ctx, flowID); err != nil {
			level := zap.ErrorLevel
			if errors.Is(err, ErrCancelled) {
				level = zap.InfoLevel
			}
			zap.L().Check(level, "pipeline: background run ended").Write(
				zap.String("flow_id", flowID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Cancel cancels the run of flowID. It reports whether a run was found.
func (r *Runner) Cancel(flowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[flowID]
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether flowID has a background run.
func (r *Runner) Running(flowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[flowID]
	return ok
}

// Shutdown cancels every run and waits for them to record their final
// status, or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: shutdown")
	}
}
