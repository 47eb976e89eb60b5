package extract

import (
	"errors"
	"fmt"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
)

var ErrNothingToExtract = errors.New("nothing to extract")

// VideoOpenError means the record's source video could not be opened; the
// record is skipped.
type VideoOpenError struct {
	Record string
	Path   string
	Err    error
}

func (e *VideoOpenError) Error() string {
	return fmt.Sprintf("open video %q for %q: %v", e.Path, e.Record, e.Err)
}

func (e *VideoOpenError) Unwrap() error { return e.Err }

// FrameReadError means the source ran out or failed before the pair's end
// frame. The clip holds the Written frames read before the failure.
type FrameReadError struct {
	Record  string
	Pair    annotation.Pair
	Frame   int
	Written int
	Err     error
}

func (e *FrameReadError) Error() string {
	return fmt.Sprintf("read frame %d of %q (pair %d: %d-%d, %d written): %v",
		e.Frame, e.Record, e.Pair.Index, e.Pair.StartFrame, e.Pair.EndFrame, e.Written, e.Err)
}

func (e *FrameReadError) Unwrap() error { return e.Err }

// ClipWriteError means the output clip could not be created, written or
// finalized.
type ClipWriteError struct {
	Record string
	Pair   annotation.Pair
	Path   string
	Err    error
}

func (e *ClipWriteError) Error() string {
	return fmt.Sprintf("write clip %q for %q (pair %d): %v", e.Path, e.Record, e.Pair.Index, e.Err)
}

func (e *ClipWriteError) Unwrap() error { return e.Err }
