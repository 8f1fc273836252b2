package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

const (
	// writeTimeout bounds a single history write made from an engine callback.
	writeTimeout = 2 * time.Second

	defaultPruneInterval = time.Hour
)

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Repository receives the writes. Required.
	Repository *Repository

	// Retention prunes rows older than this. Zero keeps everything.
	Retention time.Duration

	// PruneInterval is how often pruning runs. Default: 1h.
	PruneInterval time.Duration

	Logger Logger
}

// Recorder persists node state changes and command outcomes.
//
// It is an autelis.Host (state changes) and an autelis.Observer (command
// outcomes). Both callbacks write synchronously on the engine loop, each
// bounded by writeTimeout. Write failures are logged, not returned, so a
// broken history store never fails a poll.
type Recorder struct {
	autelis.NopHost

	repo          *Repository
	retention     time.Duration
	pruneInterval time.Duration
	logger        Logger

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctxCancel context.CancelFunc
}

// NewRecorder creates a recorder. Call Start to enable retention pruning.
func NewRecorder(opts RecorderOptions) *Recorder {
	interval := opts.PruneInterval
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &Recorder{
		repo:          opts.Repository,
		retention:     opts.Retention,
		pruneInterval: interval,
		logger:        opts.Logger,
	}
}

// ReportNodeState records the new value.
func (r *Recorder) ReportNodeState(ctx context.Context, id string, class autelis.CapabilityClass, value autelis.Value) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.repo.RecordState(ctx, id, class, value); err != nil {
		r.logError("recording node state failed", err, "node_id", id)
	}
	return nil
}

// PollCompleted is a no-op; polls are not recorded.
func (r *Recorder) PollCompleted(time.Duration, error) {}

// CommandFinished records a command outcome.
func (r *Recorder) CommandFinished(nodeID, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.RecordCommand(ctx, nodeID, outcome); err != nil {
		r.logError("recording command outcome failed", err, "node_id", nodeID, "outcome", outcome)
	}
}

// Start runs retention pruning until Stop is called. It does nothing when
// retention is disabled.
func (r *Recorder) Start(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	ctx, r.ctxCancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.prune(ctx)

		ticker := time.NewTicker(r.pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.prune(ctx)
			}
		}
	}()
}

// Stop halts pruning and waits for it to finish.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.ctxCancel != nil {
			r.ctxCancel()
		}
		r.wg.Wait()
	})
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		r.logError("pruning history failed", err)
		return
	}
	if n > 0 && r.logger != nil {
		r.logger.Info("pruned history", "rows", n, "retention", r.retention)
	}
}

func (r *Recorder) logError(msg string, err error, keysAndValues ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
