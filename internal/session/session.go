// Package session owns the interactive annotation state: the playlist, the
// record of the video being annotated and the key cursor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
)

var (
	ErrNoVideos        = errors.New("no videos to annotate")
	ErrInvalidPosition = errors.New("position must be within [0, 1]")
	ErrInvalidFrame    = errors.New("frame must not be negative")
)

// FrameSnapshotter writes a single decoded frame of a video as an image.
type FrameSnapshotter interface {
	Snapshot(ctx context.Context, videoPath string, frame int, dest string) error
}

type Options struct {
	Saver *Saver
	// Snapshotter and SnapshotDir enable frame snapshots on every mark.
	Snapshotter FrameSnapshotter
	SnapshotDir string
	Logger      *slog.Logger
}

// Context is one annotation session. It is not safe for concurrent use;
// callers serialize commands.
type Context struct {
	videos  []Video
	current int
	records map[string]*annotation.Record
	store   *annotation.Store
	seq     *annotation.Sequencer

	saver       *Saver
	snapshotter FrameSnapshotter
	snapshotDir string
	logger      *slog.Logger
}

// Status is a read-only view of the session.
type Status struct {
	Video    Video             `json:"video"`
	Position int               `json:"position"`
	Total    int               `json:"total"`
	Cursor   string            `json:"cursor"`
	Keys     []string          `json:"keys"`
	Unpaired []string          `json:"unpaired"`
	Missing  []string          `json:"missing"`
	Pairs    []annotation.Pair `json:"pairs"`
	Inverted []annotation.Pair `json:"inverted,omitempty"`
}

// Move describes the outcome of Next or Previous.
type Move struct {
	Moved   bool  `json:"moved"`
	Wrapped bool  `json:"wrapped"`
	Video   Video `json:"video"`
}

// New starts a session at the first video that has no record in loaded.
func New(videos []Video, loaded map[string]*annotation.Record, opts Options) (*Context, error) {
	if len(videos) == 0 {
		return nil, ErrNoVideos
	}

	c := &Context{
		videos:      videos,
		records:     make(map[string]*annotation.Record, len(loaded)),
		seq:         annotation.NewSequencer(),
		saver:       opts.Saver,
		snapshotter: opts.Snapshotter,
		snapshotDir: opts.SnapshotDir,
		logger:      opts.Logger,
	}
	for name, rec := range loaded {
		c.records[name] = rec
	}

	start := 0
	for i, v := range videos {
		if _, ok := c.records[v.Name]; !ok {
			start = i
			break
		}
	}
	c.open(start)
	return c, nil
}

func (c *Context) Videos() []Video { return c.videos }

func (c *Context) Current() Video { return c.videos[c.current] }

func (c *Context) Record() *annotation.Record { return c.store.Record() }

func (c *Context) Cursor() annotation.Key { return c.seq.Current() }

// Lookup returns the in-memory record for name, if the session has one.
func (c *Context) Lookup(name string) (*annotation.Record, bool) {
	rec, ok := c.records[name]
	return rec, ok
}

// Mark records the cursor key at the given playback position and advances
// the cursor. A duplicate key leaves both record and cursor untouched.
func (c *Context) Mark(ctx context.Context, position float64, frame int) (annotation.Key, error) {
	if math.IsNaN(position) || position < 0 || position > 1 {
		return annotation.Key{}, ErrInvalidPosition
	}
	if frame < 0 {
		return annotation.Key{}, ErrInvalidFrame
	}

	key := c.seq.Current()
	if err := c.store.Add(key, position, frame); err != nil {
		return annotation.Key{}, err
	}
	c.seq.Advance()

	if c.snapshotter != nil && c.snapshotDir != "" {
		dest := SnapshotPath(c.snapshotDir, key, c.Current().Name, position)
		if err := c.snapshotter.Snapshot(ctx, c.Current().Path, frame, dest); err != nil && c.logger != nil {
			c.logger.Warn("failed to write frame snapshot", "name", c.Current().Name, "key", key.String(), "error", err)
		}
	}
	return key, nil
}

// Undo removes the newest key and rewinds the cursor to re-offer it.
func (c *Context) Undo() (annotation.Key, bool) {
	key, ok := c.store.RemoveLast()
	if ok {
		c.seq.Regress()
	}
	return key, ok
}

func (c *Context) AdvanceCursor() annotation.Key {
	c.seq.Advance()
	return c.seq.Current()
}

func (c *Context) RegressCursor() annotation.Key {
	c.seq.Regress()
	return c.seq.Current()
}

func (c *Context) ResetCursor() annotation.Key {
	c.seq.Reset()
	return c.seq.Current()
}

func (c *Context) SeekCursor(k annotation.Key) error {
	return c.seq.Seek(k)
}

// Next saves the current record and opens the following video, wrapping to
// the first one after the last. It is refused while pairs are open.
func (c *Context) Next() (Move, error) {
	if err := c.leave(); err != nil {
		return Move{}, err
	}
	next := c.current + 1
	wrapped := next == len(c.videos)
	if wrapped {
		next = 0
	}
	c.open(next)
	return Move{Moved: true, Wrapped: wrapped, Video: c.Current()}, nil
}

// Previous is the mirror of Next without wrapping; at the first video it does
// nothing.
func (c *Context) Previous() (Move, error) {
	if c.current == 0 {
		return Move{Video: c.Current()}, nil
	}
	if err := c.leave(); err != nil {
		return Move{}, err
	}
	c.open(c.current - 1)
	return Move{Moved: true, Video: c.Current()}, nil
}

// Save queues the current record for persistence.
func (c *Context) Save(done func(error)) error {
	if c.saver == nil {
		return errors.New("session has no saver")
	}
	rec := c.store.Record()
	err := c.saver.Submit(rec, done)
	if err == nil {
		rec.MarkClean()
	}
	return err
}

// Close queues the current record when it has unsaved marks. Open pairs do
// not block it; the record is persisted as is.
func (c *Context) Close() error {
	if c.saver == nil || !c.store.Record().Dirty() {
		return nil
	}
	return c.Save(nil)
}

func (c *Context) Status() Status {
	rec := c.store.Record()
	st := Status{
		Video:    c.Current(),
		Position: c.current,
		Total:    len(c.videos),
		Cursor:   c.seq.Current().String(),
		Keys:     keyStrings(rec.Keys()),
		Unpaired: keyStrings(c.store.UnpairedKeys()),
		Missing:  keyStrings(c.store.MissingCompanions()),
		Pairs:    c.store.Pairs(),
		Inverted: c.store.InvertedPairs(),
	}
	return st
}

// UnpairedKeys lists the keys of the current record that lack a companion.
func (c *Context) UnpairedKeys() []annotation.Key { return c.store.UnpairedKeys() }

func (c *Context) Pairs() []annotation.Pair { return c.store.Pairs() }

func (c *Context) leave() error {
	if err := c.store.RequirePaired(); err != nil {
		return err
	}
	if c.saver != nil {
		if err := c.Save(nil); err != nil {
			return fmt.Errorf("save %q: %w", c.Current().Name, err)
		}
	}
	return nil
}

// open switches to video i and positions the cursor after the newest key of
// its record.
func (c *Context) open(i int) {
	c.current = i
	v := c.videos[i]

	rec, ok := c.records[v.Name]
	if !ok {
		rec = annotation.NewRecord(v.Name, v.Path)
		c.records[v.Name] = rec
	}
	c.store = annotation.NewStore(rec)

	c.seq.Reset()
	if last, ok := rec.Last(); ok {
		_ = c.seq.Seek(last)
		c.seq.Advance()
	}

	if c.logger != nil {
		c.logger.Info("video opened", "name", v.Name, "position", i, "keys", rec.Len(), "cursor", c.seq.Current().String())
	}
}

// SnapshotPath builds {dir}/{key}/{name}_{position}.png with every dot of the
// stem replaced by an underscore.
func SnapshotPath(dir string, key annotation.Key, name string, position float64) string {
	stem := name + "_" + strconv.FormatFloat(position, 'f', -1, 64)
	stem = strings.ReplaceAll(stem, ".", "_")
	return filepath.Join(dir, key.String(), stem+".png")
}

func keyStrings(keys []annotation.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
