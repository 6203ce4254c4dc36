package robothand

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const defaultDepthTimeout = 30 * time.Second

// DepthProcessor resolves per-box depths for a saved frame. The worker owns
// the processor and closes it on shutdown.
type DepthProcessor interface {
	ProcessImageWithCleanup(ctx context.Context, imagePath string, objects []DetectedObject) ([]ObjectDepth, error)
	Close() error
}

type depthJob struct {
	imagePath string
	objects   []DetectedObject
}

// DepthWorker runs depth estimation in the background and keeps only the
// most recent completed result. Submissions never block: a pending job is
// replaced by a newer one. Readers see either nothing or a complete result.
type DepthWorker struct {
	processor DepthProcessor
	timeout   time.Duration
	logger    logging.Logger

	jobs   chan depthJob
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	latest    []ObjectDepth
	updatedAt time.Time
	has       bool
}

// NewDepthWorker starts the background worker. A zero timeout uses the
// default per-frame budget.
func NewDepthWorker(processor DepthProcessor, timeout time.Duration, logger logging.Logger) *DepthWorker {
	if timeout <= 0 {
		timeout = defaultDepthTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &DepthWorker{
		processor: processor,
		timeout:   timeout,
		logger:    logger,
		jobs:      make(chan depthJob, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	utils.PanicCapturingGo(func() { w.run(ctx) })
	return w
}

func (w *DepthWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			callCtx, cancelCall := context.WithTimeout(ctx, w.timeout)
			depths, err := w.processor.ProcessImageWithCleanup(callCtx, job.imagePath, job.objects)
			cancelCall()
			if err != nil {
				w.logger.Warnf("depth estimation failed: %v", err)
				continue
			}
			w.mu.Lock()
			w.latest = depths
			w.updatedAt = time.Now()
			w.has = true
			w.mu.Unlock()
		}
	}
}

// Submit queues a frame for depth estimation, replacing any job the worker
// has not started yet. Never blocks.
func (w *DepthWorker) Submit(imagePath string, objects []DetectedObject) {
	job := depthJob{
		imagePath: imagePath,
		objects:   make([]DetectedObject, len(objects)),
	}
	copy(job.objects, objects)

	select {
	case w.jobs <- job:
	default:
		// Drop the stale pending job, then queue the new one.
		select {
		case <-w.jobs:
		default:
		}
		select {
		case w.jobs <- job:
		default:
		}
	}
}

// Latest returns the most recent completed result and its completion time.
// ok is false until the first result lands.
func (w *DepthWorker) Latest() ([]ObjectDepth, time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.has {
		return nil, time.Time{}, false
	}
	out := make([]ObjectDepth, len(w.latest))
	copy(out, w.latest)
	return out, w.updatedAt, true
}

// WaitForResult polls for a result completed after since, giving up when ctx
// expires. Callers bound the wait with their own deadline; the slot itself
// is never locked for longer than a copy.
func (w *DepthWorker) WaitForResult(ctx context.Context, since time.Time) ([]ObjectDepth, bool) {
	for {
		if depths, at, ok := w.Latest(); ok && at.After(since) {
			return depths, true
		}
		if !utils.SelectContextOrWait(ctx, 50*time.Millisecond) {
			return nil, false
		}
	}
}

// Close stops the worker and shuts down the depth collaborator.
func (w *DepthWorker) Close() error {
	w.cancel()
	<-w.done
	return w.processor.Close()
}
