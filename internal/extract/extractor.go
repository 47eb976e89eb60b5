// Package extract turns the complete start/end pairs of annotation records
// into clip files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
)

type Config struct {
	OutputDir string
	Ext       string // clip container extension without the dot
	Workers   int    // records extracted in parallel
	// VideoDir, when set, is searched for {name} if a record's path is gone.
	VideoDir string
	Logger   *slog.Logger
	// OnClip is called after every pair, from the worker handling the record.
	OnClip func(record string, clip ClipResult)
	// OnRecord is called by ExtractBatch once a record is finished.
	OnRecord func(result RecordResult)
}

// ClipResult is the outcome of one pair.
type ClipResult struct {
	Pair   annotation.Pair `json:"pair"`
	Path   string          `json:"path,omitempty"`
	Frames int             `json:"frames"`
	Err    error           `json:"-"`
}

// RecordResult is the outcome of one record. Err is set when the record was
// skipped as a whole.
type RecordResult struct {
	Name     string            `json:"name"`
	Clips    []ClipResult      `json:"clips"`
	Inverted []annotation.Pair `json:"inverted,omitempty"`
	Err      error             `json:"-"`
}

// Failed counts the pairs that did not produce a complete clip.
func (r RecordResult) Failed() int {
	n := 0
	for _, c := range r.Clips {
		if c.Err != nil {
			n++
		}
	}
	return n
}

type Extractor struct {
	opener media.SourceOpener
	sinks  media.SinkFactory
	cfg    Config
}

func New(opener media.SourceOpener, sinks media.SinkFactory, cfg Config) *Extractor {
	if cfg.Ext == "" {
		cfg.Ext = "mp4"
	}
	cfg.Ext = strings.TrimPrefix(cfg.Ext, ".")
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{opener: opener, sinks: sinks, cfg: cfg}
}

// ExtractBatch extracts every record, running up to Workers records at once.
// Results keep the order of recs.
func (e *Extractor) ExtractBatch(ctx context.Context, recs []*annotation.Record) []RecordResult {
	results := make([]RecordResult, len(recs))
	limit := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			results[i] = RecordResult{Name: rec.Name, Err: err}
			continue
		}
		limit <- struct{}{}
		wg.Add(1)
		go func(i int, rec *annotation.Record) {
			defer func() {
				<-limit
				wg.Done()
			}()
			results[i] = e.ExtractRecord(ctx, rec)
			if e.cfg.OnRecord != nil {
				e.cfg.OnRecord(results[i])
			}
		}(i, rec)
	}
	wg.Wait()
	return results
}

// ExtractRecord writes one clip per eligible pair of rec, in index order.
// Cancellation takes effect between pairs; a clip in progress is finished.
func (e *Extractor) ExtractRecord(ctx context.Context, rec *annotation.Record) RecordResult {
	logger := logging.WithRecord(e.cfg.Logger, rec.Name)
	store := annotation.NewStore(rec)
	result := RecordResult{Name: rec.Name, Inverted: store.InvertedPairs()}
	for _, p := range result.Inverted {
		logger.Warn("skipping inverted pair", "pair", p.Index, "start", p.StartFrame, "end", p.EndFrame)
	}

	// The video is opened first so a missing file is reported even for a
	// record with nothing to cut.
	work := context.WithoutCancel(ctx)
	path := e.videoPath(rec)
	src, err := e.opener.OpenSource(work, path)
	if err != nil {
		result.Err = &VideoOpenError{Record: rec.Name, Path: path, Err: err}
		logger.Error("failed to open video", "error", err)
		return result
	}
	defer src.Close()

	pairs := store.Pairs()
	if len(pairs) == 0 {
		logger.Info("no annotation pairs found")
		result.Err = ErrNothingToExtract
		return result
	}

	total := src.FrameCount()
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			result.Err = err
			logger.Info("extraction cancelled", "remaining_from_pair", p.Index)
			break
		}
		if total > 0 && p.EndFrame >= total {
			logger.Warn("pair extends past the reported frame count", "pair", p.Index, "end", p.EndFrame, "frames", total)
		}

		clip := e.extractPair(work, src, rec.Name, p)
		if clip.Err != nil {
			logger.Error("clip failed", "pair", p.Index, "frames", clip.Frames, "error", clip.Err)
		} else {
			logger.Info("exported clip", "pair", p.Index, "output", filepath.Base(clip.Path), "frames", clip.Frames)
		}
		result.Clips = append(result.Clips, clip)
		if e.cfg.OnClip != nil {
			e.cfg.OnClip(rec.Name, clip)
		}
	}
	return result
}

func (e *Extractor) extractPair(ctx context.Context, src media.FrameSource, name string, p annotation.Pair) ClipResult {
	out := filepath.Join(e.cfg.OutputDir, ClipName(name, p.StartFrame, p.EndFrame, e.cfg.Ext))
	clip := ClipResult{Pair: p, Path: out}

	if err := src.Seek(ctx, p.StartFrame); err != nil {
		clip.Err = &FrameReadError{Record: name, Pair: p, Frame: p.StartFrame, Err: err}
		return clip
	}

	sink, err := e.sinks.CreateSink(ctx, out, src.Info())
	if err != nil {
		clip.Err = &ClipWriteError{Record: name, Pair: p, Path: out, Err: err}
		return clip
	}

	for n := p.StartFrame; n <= p.EndFrame; n++ {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			clip.Err = &FrameReadError{Record: name, Pair: p, Frame: n, Written: clip.Frames, Err: err}
			break
		}
		if err := sink.WriteFrame(f); err != nil {
			clip.Err = &ClipWriteError{Record: name, Pair: p, Path: out, Err: err}
			break
		}
		clip.Frames++
	}

	if err := sink.Close(); err != nil && clip.Err == nil {
		clip.Err = &ClipWriteError{Record: name, Pair: p, Path: out, Err: err}
	}
	return clip
}

func (e *Extractor) videoPath(rec *annotation.Record) string {
	if e.cfg.VideoDir == "" {
		return rec.Path
	}
	if _, err := os.Stat(rec.Path); err == nil || !errors.Is(err, os.ErrNotExist) {
		return rec.Path
	}
	return filepath.Join(e.cfg.VideoDir, rec.Name)
}

// ClipName renders {name}_{start}_{end}.{ext}. Path separators and control
// characters in name become underscores.
func ClipName(name string, start, end int, ext string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("%s_%d_%d.%s", safe, start, end, strings.TrimPrefix(ext, "."))
}
