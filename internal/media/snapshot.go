package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// SnapshotWriter saves single frames as PNG files.
type SnapshotWriter struct {
	opener SourceOpener
}

func NewSnapshotWriter(opener SourceOpener) *SnapshotWriter {
	return &SnapshotWriter{opener: opener}
}

// Snapshot decodes frame n of videoPath and writes it to dest.
func (w *SnapshotWriter) Snapshot(ctx context.Context, videoPath string, n int, dest string) error {
	src, err := w.opener.OpenSource(ctx, videoPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := src.Seek(ctx, n); err != nil {
		return err
	}
	f, err := src.ReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("read frame %d: %w", n, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, ToImage(f)); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0644)
}

// ToImage converts a packed rgb24 frame into an opaque RGBA image.
func ToImage(f *Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
