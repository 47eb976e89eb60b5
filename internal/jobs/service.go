package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/extract"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/persist"
	"github.com/heimdex/heimdex-clipper/internal/publish"
)

var (
	ErrInputDir       = errors.New("input_dir must be an existing directory")
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidExt     = errors.New("ext must be a short alphanumeric extension")
)

type EnqueueRequest struct {
	InputDir   string `json:"input_dir"`
	OutputDir  string `json:"output_dir"`
	RecordName string `json:"record_name,omitempty"`
	Ext        string `json:"ext,omitempty"`
}

type ServiceConfig struct {
	Opener    media.SourceOpener
	Sinks     media.SinkFactory
	Publisher publish.Publisher
	Workers   int
	VideoDir  string

	// DefaultExt is used when a request names no extension.
	DefaultExt string
}

// Summary totals the outcome of one extraction run.
type Summary struct {
	Records  int `json:"records"`
	Skipped  int `json:"skipped"`
	Clips    int `json:"clips"`
	Failed   int `json:"failed"`
	Inverted int `json:"inverted"`
}

func (s Summary) Clean() bool { return s.Skipped == 0 && s.Failed == 0 }

func (s Summary) String() string {
	return fmt.Sprintf("%d records, %d clips written, %d clips failed, %d records skipped, %d inverted pairs",
		s.Records, s.Clips, s.Failed, s.Skipped, s.Inverted)
}

// Summarize folds extraction results and the number of unreadable record
// files into a Summary. Records with nothing to extract are not skips.
func Summarize(results []extract.RecordResult, parseFailures int) Summary {
	sum := Summary{Records: len(results), Skipped: parseFailures}
	for _, r := range results {
		sum.Inverted += len(r.Inverted)
		if r.Err != nil && !errors.Is(r.Err, extract.ErrNothingToExtract) {
			sum.Skipped++
		}
		for _, c := range r.Clips {
			if c.Err != nil {
				sum.Failed++
			} else {
				sum.Clips++
			}
		}
	}
	return sum
}

type Service struct {
	repo   Repository
	cfg    ServiceConfig
	logger *slog.Logger
}

func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Publisher == nil {
		cfg.Publisher = publish.Noop{}
	}
	if cfg.DefaultExt == "" {
		cfg.DefaultExt = "mp4"
	}
	return &Service{repo: repo, cfg: cfg, logger: logger}
}

// Enqueue validates req and stores a pending job for the runner.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	in, err := filepath.Abs(req.InputDir)
	if err != nil || strings.TrimSpace(req.InputDir) == "" {
		return nil, ErrInputDir
	}
	if info, err := os.Stat(in); err != nil || !info.IsDir() {
		return nil, ErrInputDir
	}

	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, fmt.Errorf("output_dir is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(req.OutputDir), "/") {
		if part == ".." {
			return nil, fmt.Errorf("output_dir cannot contain path traversal")
		}
	}
	out, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("invalid output_dir: %w", err)
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output_dir: %w", err)
	}
	if err := export.ValidateOutputDir(out); err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(strings.TrimSpace(req.Ext), ".")
	if ext == "" {
		ext = s.cfg.DefaultExt
	}
	if !export.ValidExt(ext) {
		return nil, ErrInvalidExt
	}

	now := time.Now()
	job := &Job{
		ID:         NewID(),
		Status:     JobStatusPending,
		InputDir:   in,
		OutputDir:  out,
		RecordName: req.RecordName,
		Ext:        ext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("extraction job created", "job_id", job.ID, "input", logging.SanitizePath(in), "record", req.RecordName)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) ListClips(ctx context.Context, jobID string) ([]*Clip, error) {
	return s.repo.ListClips(ctx, jobID)
}

// Execute runs job to completion. Ledger writes use a context detached from
// cancellation so clips finished after a cancel are still recorded.
func (s *Service) Execute(ctx context.Context, job *Job) (Summary, error) {
	logger := logging.WithJobID(s.logger, job.ID)
	ledger := context.WithoutCancel(ctx)

	s.repo.UpdateJobStatus(ledger, job.ID, JobStatusRunning, "")
	logger.Info("starting extraction", "input", logging.SanitizePath(job.InputDir), "output", logging.SanitizePath(job.OutputDir))

	recs, failed, err := s.loadRecords(ctx, job, logger)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "cancelled"
		}
		s.repo.UpdateJobStatus(ledger, job.ID, JobStatusFailed, msg)
		return Summary{}, err
	}

	total := len(recs)
	s.repo.UpdateJobProgress(ledger, job.ID, 0, total)

	var done atomic.Int32
	ex := extract.New(s.cfg.Opener, s.cfg.Sinks, extract.Config{
		OutputDir: job.OutputDir,
		Ext:       job.Ext,
		Workers:   s.cfg.Workers,
		VideoDir:  s.cfg.VideoDir,
		Logger:    logger,
		OnClip: func(record string, clip extract.ClipResult) {
			s.recordClip(ledger, job, record, clip, logger)
		},
		OnRecord: func(extract.RecordResult) {
			n := int(done.Add(1))
			s.repo.UpdateJobProgress(ledger, job.ID, n, total)
		},
	})

	results := ex.ExtractBatch(ctx, recs)
	sum := Summarize(results, failed)

	if err := ctx.Err(); err != nil {
		s.repo.UpdateJobStatus(ledger, job.ID, JobStatusFailed, "cancelled")
		logger.Info("extraction cancelled", "summary", sum.String())
		return sum, err
	}

	msg := ""
	if !sum.Clean() {
		msg = sum.String()
	}
	s.repo.UpdateJobStatus(ledger, job.ID, JobStatusCompleted, msg)
	logger.Info("extraction completed", "records", sum.Records, "clips", sum.Clips, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

func (s *Service) loadRecords(ctx context.Context, job *Job, logger *slog.Logger) ([]*annotation.Record, int, error) {
	res, err := persist.NewFileStore(job.InputDir, logger).LoadAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load records: %w", err)
	}
	if job.RecordName == "" {
		return res.Records, len(res.Failed), nil
	}
	rec, ok := res.ByName()[job.RecordName]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrRecordNotFound, job.RecordName)
	}
	return []*annotation.Record{rec}, 0, nil
}

func (s *Service) recordClip(ctx context.Context, job *Job, record string, res extract.ClipResult, logger *slog.Logger) {
	clip := &Clip{
		ID:         NewID(),
		JobID:      job.ID,
		RecordName: record,
		PairIndex:  res.Pair.Index,
		StartFrame: res.Pair.StartFrame,
		EndFrame:   res.Pair.EndFrame,
		Path:       res.Path,
		Frames:     res.Frames,
		Status:     ClipStatusOK,
		CreatedAt:  time.Now(),
	}
	if info, err := os.Stat(res.Path); err == nil {
		clip.Size = info.Size()
	}
	if res.Err != nil {
		clip.Error = res.Err.Error()
		clip.Status = ClipStatusFailed
		var readErr *extract.FrameReadError
		if errors.As(res.Err, &readErr) && res.Frames > 0 {
			clip.Status = ClipStatusPartial
		}
	}

	if err := s.repo.CreateClip(ctx, clip); err != nil {
		logger.Error("failed to record clip", "record", record, "pair", clip.PairIndex, "error", err)
		return
	}
	logger.Debug("clip recorded", "record", record, "pair", clip.PairIndex, "status", clip.Status, "size", humanize.Bytes(uint64(clip.Size)))

	if clip.Status != ClipStatusOK || !s.cfg.Publisher.Enabled() {
		return
	}
	key := job.ID + "/" + filepath.Base(clip.Path)
	remote, err := s.cfg.Publisher.Publish(ctx, clip.Path, key)
	if err != nil {
		logger.Warn("clip publish failed", "record", record, "pair", clip.PairIndex, "error", err)
		return
	}
	if err := s.repo.SetClipRemoteURL(ctx, clip.ID, remote); err != nil {
		logger.Error("failed to store clip url", "clip_id", clip.ID, "error", err)
	}
}
