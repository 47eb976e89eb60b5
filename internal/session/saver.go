package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/persist"
)

var ErrSaverClosed = errors.New("saver is closed")

type saveRequest struct {
	rec     *annotation.Record
	done    func(error)
	barrier chan struct{}
}

// Saver persists record snapshots off the interactive path. A single worker
// drains the queue, so saves land in submission order.
type Saver struct {
	adapter persist.Adapter
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan saveRequest
	wg     sync.WaitGroup
}

func NewSaver(adapter persist.Adapter, logger *slog.Logger, queueSize int) *Saver {
	if queueSize <= 0 {
		queueSize = 16
	}
	s := &Saver{
		adapter: adapter,
		logger:  logger,
		queue:   make(chan saveRequest, queueSize),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Submit queues an independent copy of rec. done, when non-nil, is called
// from the worker goroutine once the write finished.
func (s *Saver) Submit(rec *annotation.Record, done func(error)) error {
	return s.enqueue(saveRequest{rec: rec.Clone(), done: done})
}

// Flush waits until everything submitted before it has been written.
func (s *Saver) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := s.enqueue(saveRequest{barrier: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending saves and stops the worker.
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Saver) enqueue(req saveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSaverClosed
	}
	s.queue <- req
	return nil
}

func (s *Saver) loop() {
	defer s.wg.Done()
	for req := range s.queue {
		if req.barrier != nil {
			close(req.barrier)
			continue
		}

		err := s.adapter.Save(context.Background(), req.rec)
		if err != nil && s.logger != nil {
			s.logger.Error("failed to save annotation record", "name", req.rec.Name, "error", err)
		}
		if req.done != nil {
			req.done(err)
		}
	}
}
