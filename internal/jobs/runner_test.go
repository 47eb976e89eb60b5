package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/persist"
	"github.com/heimdex/heimdex-clipper/internal/publish"
)

var testInfo = media.StreamInfo{Width: 2, Height: 2, FPS: 25}

type fakeSource struct {
	total int
	next  int
}

func (s *fakeSource) Info() media.StreamInfo { return testInfo }
func (s *fakeSource) FrameCount() int        { return s.total }

func (s *fakeSource) Seek(ctx context.Context, n int) error {
	s.next = n
	return nil
}

func (s *fakeSource) ReadFrame(ctx context.Context) (*media.Frame, error) {
	if s.next >= s.total {
		return nil, media.ErrEndOfStream
	}
	f := &media.Frame{Index: s.next, Width: 2, Height: 2, Pix: make([]byte, testInfo.FrameSize())}
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeOpener map[string]int

func (o fakeOpener) OpenSource(ctx context.Context, path string) (media.FrameSource, error) {
	n, ok := o[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return &fakeSource{total: n}, nil
}

// fileSinks writes every frame's pixels to the clip file.
type fileSinks struct{}

type fileSink struct{ f *os.File }

func (fileSinks) CreateSink(ctx context.Context, path string, info media.StreamInfo) (media.FrameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) WriteFrame(f *media.Frame) error {
	_, err := s.f.Write(f.Pix)
	return err
}

func (s *fileSink) Close() error { return s.f.Close() }

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Enabled() bool { return true }

func (p *fakePublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	p.keys = append(p.keys, key)
	if p.err != nil {
		return "", p.err
	}
	return "https://bucket.example.com/" + key, nil
}

type fakeDoctor struct {
	caps *media.Capabilities
	err  error
}

func (d *fakeDoctor) Get(ctx context.Context) (*media.Capabilities, error) {
	return d.caps, d.err
}

var readyCaps = &media.Capabilities{
	FFmpeg:   media.ToolInfo{Available: true, Version: "6.1"},
	FFprobe:  media.ToolInfo{Available: true, Version: "6.1"},
	ProbedAt: time.Now(),
}

type runnerFixture struct {
	runner    *Runner
	repo      Repository
	service   *Service
	publisher *fakePublisher
	inputDir  string
	outputDir string
}

func setupRunnerTest(t *testing.T, opener fakeOpener, doctor Doctor) *runnerFixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := NewRepository(database.Conn())
	pub := &fakePublisher{}
	svc := NewService(repo, ServiceConfig{
		Opener:    opener,
		Sinks:     fileSinks{},
		Publisher: pub,
		Workers:   2,
	}, logger)

	return &runnerFixture{
		runner:    NewRunner(svc, repo, doctor, logger),
		repo:      repo,
		service:   svc,
		publisher: pub,
		inputDir:  t.TempDir(),
		outputDir: t.TempDir(),
	}
}

// saveRecord persists a record whose pairs are given as start/end frames.
func saveRecord(t *testing.T, dir, name string, frames ...int) {
	t.Helper()
	rec := annotation.NewRecord(name, "/videos/"+name)
	store := annotation.NewStore(rec)
	for i := 0; i+1 < len(frames); i += 2 {
		idx := i/2 + 1
		if err := store.Add(annotation.StartKey(idx), 0.1, frames[i]); err != nil {
			t.Fatal(err)
		}
		if err := store.Add(annotation.EndKey(idx), 0.2, frames[i+1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := persist.NewFileStore(dir, nil).Save(context.Background(), rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
}

func (f *runnerFixture) enqueue(t *testing.T, record string) *Job {
	t.Helper()
	job, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		InputDir:   f.inputDir,
		OutputDir:  f.outputDir,
		RecordName: record,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return job
}

func TestProcessNextJob_ExtractsAllRecords(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{"/videos/a.mp4": 100}, &fakeDoctor{caps: readyCaps})
	saveRecord(t, f.inputDir, "a.mp4", 10, 19, 30, 39)
	saveRecord(t, f.inputDir, "b.mp4", 0, 5)
	os.WriteFile(filepath.Join(f.inputDir, "broken.json"), []byte("{"), 0644)

	job := f.enqueue(t, "")
	f.runner.processNextJob(context.Background())

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusCompleted {
		t.Fatalf("job status = %s, want %s (error %q)", updated.Status, JobStatusCompleted, updated.Error)
	}
	if updated.Progress != 100 || updated.RecordsDone != 2 || updated.RecordsTotal != 2 {
		t.Errorf("progress = %d (%d/%d), want 100 (2/2)", updated.Progress, updated.RecordsDone, updated.RecordsTotal)
	}
	if !strings.Contains(updated.Error, "2 records skipped") {
		t.Errorf("job error = %q, want the skipped records reported", updated.Error)
	}

	clips, err := f.repo.ListClips(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ListClips() error = %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("clips = %d, want 2", len(clips))
	}
	for i, c := range clips {
		if c.Status != ClipStatusOK || c.Frames != 10 {
			t.Errorf("clip %d status=%s frames=%d, want ok/10", i, c.Status, c.Frames)
		}
		if c.Size != int64(10*testInfo.FrameSize()) {
			t.Errorf("clip %d size = %d", i, c.Size)
		}
		if !strings.HasPrefix(c.RemoteURL, "https://bucket.example.com/"+job.ID+"/") {
			t.Errorf("clip %d remote url = %q", i, c.RemoteURL)
		}
	}
	if clips[0].Path != filepath.Join(f.outputDir, "a.mp4_10_19.mp4") {
		t.Errorf("first clip path = %s", clips[0].Path)
	}
	if len(f.publisher.keys) != 2 {
		t.Errorf("published %d clips, want 2", len(f.publisher.keys))
	}
}

func TestProcessNextJob_PartialClipNotPublished(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{"/videos/short.mp4": 25}, &fakeDoctor{caps: readyCaps})
	saveRecord(t, f.inputDir, "short.mp4", 10, 40)

	job := f.enqueue(t, "")
	f.runner.processNextJob(context.Background())

	clips, _ := f.repo.ListClips(context.Background(), job.ID)
	if len(clips) != 1 {
		t.Fatalf("clips = %d, want 1", len(clips))
	}
	if clips[0].Status != ClipStatusPartial || clips[0].Frames != 15 {
		t.Errorf("clip status=%s frames=%d, want partial/15", clips[0].Status, clips[0].Frames)
	}
	if clips[0].RemoteURL != "" || len(f.publisher.keys) != 0 {
		t.Error("partial clip should not be published")
	}

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusCompleted || !strings.Contains(updated.Error, "1 clips failed") {
		t.Errorf("job = %s %q", updated.Status, updated.Error)
	}
}

func TestProcessNextJob_PublishFailureKeepsClip(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{"/videos/a.mp4": 50}, nil)
	f.publisher.err = &publish.UploadError{Key: "k", StatusCode: 403, Err: errors.New("denied")}
	saveRecord(t, f.inputDir, "a.mp4", 0, 4)

	job := f.enqueue(t, "")
	f.runner.processNextJob(context.Background())

	clips, _ := f.repo.ListClips(context.Background(), job.ID)
	if len(clips) != 1 || clips[0].Status != ClipStatusOK || clips[0].RemoteURL != "" {
		t.Fatalf("clips = %+v, want one ok clip without url", clips)
	}
	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusCompleted || updated.Error != "" {
		t.Errorf("job = %s %q, want completed without error", updated.Status, updated.Error)
	}
}

func TestProcessNextJob_SingleRecord(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{"/videos/a.mp4": 50, "/videos/b.mp4": 50}, nil)
	saveRecord(t, f.inputDir, "a.mp4", 0, 4)
	saveRecord(t, f.inputDir, "b.mp4", 0, 4)

	job := f.enqueue(t, "b.mp4")
	f.runner.processNextJob(context.Background())

	clips, _ := f.repo.ListClips(context.Background(), job.ID)
	if len(clips) != 1 || clips[0].RecordName != "b.mp4" {
		t.Fatalf("clips = %+v, want only b.mp4", clips)
	}
}

func TestProcessNextJob_RecordNotFound(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, nil)
	saveRecord(t, f.inputDir, "a.mp4", 0, 4)

	job := f.enqueue(t, "zzz.mp4")
	f.runner.processNextJob(context.Background())

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusFailed || !strings.Contains(updated.Error, "record not found") {
		t.Errorf("job = %s %q, want failed record not found", updated.Status, updated.Error)
	}
}

func TestProcessNextJob_ToolsMissing(t *testing.T) {
	caps := &media.Capabilities{FFmpeg: media.ToolInfo{Available: true}}
	f := setupRunnerTest(t, fakeOpener{"/videos/a.mp4": 50}, &fakeDoctor{caps: caps})
	saveRecord(t, f.inputDir, "a.mp4", 0, 4)

	job := f.enqueue(t, "")
	f.runner.processNextJob(context.Background())

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusFailed {
		t.Errorf("job status = %s, want %s", updated.Status, JobStatusFailed)
	}
	clips, _ := f.repo.ListClips(context.Background(), job.ID)
	if len(clips) != 0 {
		t.Errorf("clips = %d, want 0", len(clips))
	}
}

func TestProcessNextJob_DoctorError(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, &fakeDoctor{err: errors.New("probe timed out")})
	job := f.enqueue(t, "")
	f.runner.processNextJob(context.Background())

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusFailed || !strings.Contains(updated.Error, "probe timed out") {
		t.Errorf("job = %s %q", updated.Status, updated.Error)
	}
}

func TestProcessNextJob_Cancelled(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{"/videos/a.mp4": 50}, nil)
	saveRecord(t, f.inputDir, "a.mp4", 0, 4, 10, 14)
	job := f.enqueue(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.service.Execute(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}

	updated, _ := f.repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusFailed || updated.Error != "cancelled" {
		t.Errorf("job = %s %q, want failed cancelled", updated.Status, updated.Error)
	}
}

func TestProcessNextJob_NoPending(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, nil)
	if f.runner.processNextJob(context.Background()) {
		t.Error("processNextJob() = true with an empty ledger")
	}
	if id := f.runner.ActiveJob(); id != "" {
		t.Errorf("ActiveJob() = %q, want empty", id)
	}
}

func TestRunner_WakeRunsPendingJobs(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, &fakeDoctor{caps: &media.Capabilities{}})
	f.runner.pollInterval = time.Hour

	first := f.enqueue(t, "")
	second := f.enqueue(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.runner.Start(ctx)

	for !f.runner.IsRunning() {
		time.Sleep(5 * time.Millisecond)
	}
	f.runner.Wake()

	deadline := time.Now().Add(2 * time.Second)
	for _, id := range []string{first.ID, second.ID} {
		for {
			job, _ := f.repo.GetJob(context.Background(), id)
			if job.Status == JobStatusFailed {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("job %s still %s after Wake()", id, job.Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestRunner_PauseResume(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, nil)
	if f.runner.IsPaused() {
		t.Fatal("runner should start unpaused")
	}
	f.runner.Pause()
	if !f.runner.IsPaused() {
		t.Error("IsPaused() = false after Pause()")
	}
	f.runner.Resume()
	if f.runner.IsPaused() {
		t.Error("IsPaused() = true after Resume()")
	}
}

func TestRunner_StartStops(t *testing.T) {
	f := setupRunnerTest(t, fakeOpener{}, nil)
	f.runner.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !f.runner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	if f.runner.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}
