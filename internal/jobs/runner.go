package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
)

const defaultPollInterval = 2 * time.Second

// Doctor reports whether the media tools are usable.
type Doctor interface {
	Get(ctx context.Context) (*media.Capabilities, error)
}

// Runner executes pending jobs one at a time, oldest first. It polls the
// ledger and can be woken early after an enqueue.
type Runner struct {
	service      *Service
	repo         Repository
	doctor       Doctor
	logger       *slog.Logger
	pollInterval time.Duration

	wake    chan struct{}
	active  atomic.Value // string: id of the job being executed
	running atomic.Bool
	paused  atomic.Bool
}

func NewRunner(service *Service, repo Repository, doctor Doctor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		service:      service,
		repo:         repo,
		doctor:       doctor,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: defaultPollInterval,
		wake:         make(chan struct{}, 1),
	}
	r.active.Store("")
	return r
}

// Start blocks until ctx is done. Calling it twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("job runner started", "poll_interval", r.pollInterval.String())
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			return
		case <-ticker.C:
		case <-r.wake:
		}
		for !r.paused.Load() && ctx.Err() == nil && r.processNextJob(ctx) {
		}
	}
}

// Wake asks a started runner to look for pending jobs now.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool { return r.paused.Load() }

func (r *Runner) IsRunning() bool { return r.running.Load() }

// ActiveJob returns the id of the job being executed, or "".
func (r *Runner) ActiveJob() string { return r.active.Load().(string) }

// processNextJob runs the oldest pending job and reports whether there was
// one.
func (r *Runner) processNextJob(ctx context.Context) bool {
	pending, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	job := pending[0]
	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("picked up job", "input", logging.SanitizePath(job.InputDir), "pending", len(pending)-1)

	if reason := r.checkTools(ctx); reason != "" {
		logger.Warn("job refused", "reason", reason)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, reason)
		return true
	}

	r.active.Store(job.ID)
	defer r.active.Store("")

	if _, err := r.service.Execute(ctx, job); err != nil {
		logger.Error("extraction job failed", "error", err)
	}
	return true
}

func (r *Runner) checkTools(ctx context.Context) string {
	if r.doctor == nil {
		return ""
	}
	caps, err := r.doctor.Get(ctx)
	if err != nil {
		return fmt.Sprintf("doctor probe failed: %v", err)
	}
	if !caps.CanExtract() {
		return "ffmpeg and ffprobe are required for extraction"
	}
	return ""
}
