package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

const (
	testClipFrames = 20
	testClipWidth  = 64
	testClipHeight = 48
)

// newTestFFmpeg returns a backend plus a 20 frame 64x48 testsrc clip at
// 10 fps. It skips when ffmpeg or ffprobe is not installed.
func newTestFFmpeg(t *testing.T) (*FFmpeg, string) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not on PATH", bin)
		}
	}

	cfg := DefaultConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg.Codec = "mpeg4"
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	clip := filepath.Join(t.TempDir(), "testsrc.mp4")
	gen := exec.Command(m.ffmpeg, "-v", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=10",
		"-frames:v", "20", "-c:v", "mpeg4", "-q:v", "2", "-pix_fmt", "yuv420p", clip)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("generate test clip: %v: %s", err, out)
	}
	return m, clip
}

func readAll(t *testing.T, ctx context.Context, src FrameSource) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		f, err := src.ReadFrame(ctx)
		if errors.Is(err, ErrEndOfStream) {
			return frames
		}
		if err != nil {
			t.Fatalf("ReadFrame error after %d frames: %v", len(frames), err)
		}
		frames = append(frames, f)
	}
}

func TestFFmpegSource_SequentialRead(t *testing.T) {
	m, clip := newTestFFmpeg(t)
	ctx := context.Background()

	src, err := m.OpenSource(ctx, clip)
	if err != nil {
		t.Fatalf("OpenSource error = %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.Width != testClipWidth || info.Height != testClipHeight || info.FPS != 10 {
		t.Errorf("Info() = %+v", info)
	}
	if src.FrameCount() != testClipFrames {
		t.Errorf("FrameCount() = %d, want %d", src.FrameCount(), testClipFrames)
	}

	frames := readAll(t, ctx, src)
	if len(frames) != testClipFrames {
		t.Fatalf("read %d frames, want %d", len(frames), testClipFrames)
	}
	for i, f := range frames {
		if f.Index != i || len(f.Pix) != info.FrameSize() {
			t.Errorf("frame %d: Index = %d, %d bytes", i, f.Index, len(f.Pix))
		}
	}

	// End of stream is sticky.
	if _, err := src.ReadFrame(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("ReadFrame after end = %v, want ErrEndOfStream", err)
	}
}

func TestFFmpegSource_SeekIsFrameAccurate(t *testing.T) {
	m, clip := newTestFFmpeg(t)
	ctx := context.Background()

	src, err := m.OpenSource(ctx, clip)
	if err != nil {
		t.Fatalf("OpenSource error = %v", err)
	}
	defer src.Close()
	reference := readAll(t, ctx, src)
	if len(reference) != testClipFrames {
		t.Fatalf("read %d frames, want %d", len(reference), testClipFrames)
	}
	if bytes.Equal(reference[7].Pix, reference[8].Pix) {
		t.Fatal("testsrc frames 7 and 8 are identical; seek cannot be verified")
	}

	for _, n := range []int{0, 1, 7, 13, 19} {
		if err := src.Seek(ctx, n); err != nil {
			t.Fatalf("Seek(%d) error = %v", n, err)
		}
		f, err := src.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame after Seek(%d) error = %v", n, err)
		}
		if f.Index != n {
			t.Errorf("Seek(%d): Index = %d", n, f.Index)
		}
		if !bytes.Equal(f.Pix, reference[n].Pix) {
			t.Errorf("Seek(%d): pixels differ from sequential frame %d", n, n)
		}
	}
}

func TestFFmpegSource_SeekNearEndStopsAtLastFrame(t *testing.T) {
	m, clip := newTestFFmpeg(t)
	ctx := context.Background()

	src, err := m.OpenSource(ctx, clip)
	if err != nil {
		t.Fatalf("OpenSource error = %v", err)
	}
	defer src.Close()

	// A pair 17..30 runs past the last frame: only 17, 18 and 19 exist.
	if err := src.Seek(ctx, 17); err != nil {
		t.Fatalf("Seek error = %v", err)
	}
	frames := readAll(t, ctx, src)
	if len(frames) != 3 {
		t.Fatalf("read %d frames after Seek(17), want 3", len(frames))
	}
	if frames[0].Index != 17 || frames[2].Index != 19 {
		t.Errorf("indices = %d..%d, want 17..19", frames[0].Index, frames[2].Index)
	}

	if err := src.Seek(ctx, -1); err == nil {
		t.Error("Seek(-1) should fail")
	}
}

func TestFFmpegSource_DecoderFailure(t *testing.T) {
	m, _ := newTestFFmpeg(t)
	ctx := context.Background()

	bad := filepath.Join(t.TempDir(), "bad.mp4")
	if err := os.WriteFile(bad, []byte("not a video"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenSource(ctx, bad); err == nil {
		t.Error("OpenSource(garbage) should fail at probe")
	}

	src := &ffmpegSource{m: m, path: bad, info: StreamInfo{Width: testClipWidth, Height: testClipHeight, FPS: 10}}
	defer src.Close()

	_, err := src.ReadFrame(ctx)
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("ReadFrame error = %v, want ProcessError", err)
	}
	if pe.Binary != "ffmpeg" || pe.ExitCode == 0 {
		t.Errorf("ProcessError = %+v", pe)
	}
}

func TestFFmpegSink_RoundTrip(t *testing.T) {
	m, clip := newTestFFmpeg(t)
	ctx := context.Background()

	src, err := m.OpenSource(ctx, clip)
	if err != nil {
		t.Fatalf("OpenSource error = %v", err)
	}
	defer src.Close()

	out := filepath.Join(t.TempDir(), "nested", "clip_1.mp4")
	sink, err := m.CreateSink(ctx, out, src.Info())
	if err != nil {
		t.Fatalf("CreateSink error = %v", err)
	}

	if err := src.Seek(ctx, 5); err != nil {
		t.Fatalf("Seek error = %v", err)
	}
	for i := 0; i < 6; i++ {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame error = %v", err)
		}
		if err := sink.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame error = %v", err)
		}
	}

	wrong := &Frame{Index: 99, Width: 2, Height: 2, Pix: make([]byte, 12)}
	if err := sink.WriteFrame(wrong); err == nil {
		t.Error("WriteFrame with wrong geometry should fail")
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if err := sink.WriteFrame(&Frame{}); err == nil {
		t.Error("WriteFrame after Close should fail")
	}

	info, err := m.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe(clip) error = %v", err)
	}
	if info.Frames != 6 || info.Width != testClipWidth || info.Height != testClipHeight {
		t.Errorf("clip info = %+v, want 6 frames at 64x48", info)
	}
}
