// Package archive keeps an audit trail of finished selections. Nothing here is
// read back into a room; rooms live and die in memory.
package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

type Result struct {
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	Winners    []engine.Candidate `json:"winners"`
	Members    int                `json:"members"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// Recorder accepts results without blocking the caller.
type Recorder interface {
	Record(Result)
}

type Store interface {
	Save(ctx context.Context, r Result) error
	Recent(ctx context.Context, limit int) ([]Result, error)
}

type Nop struct{}

func (Nop) Record(Result) {}

// Writer hands results to a Store from its own goroutine, so a slow database
// never stalls the room that finished.
type Writer struct {
	store   Store
	queue   chan Result
	log     *zap.Logger
	timeout time.Duration
	done    chan struct{}
}

func NewWriter(store Store, log *zap.Logger) *Writer {
	w := &Writer{
		store:   store,
		queue:   make(chan Result, 32),
		log:     log,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) Record(r Result) {
	select {
	case w.queue <- r:
	default:
		w.log.Warn("archive queue full, dropping result", zap.String("room", r.Code))
	}
}

// Close drains queued results and stops the writer.
func (w *Writer) Close() {
	close(w.queue)
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for r := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.store.Save(ctx, r); err != nil {
			w.log.Error("archive save failed", zap.String("room", r.Code), zap.Error(err))
		} else {
			w.log.Info("selection archived", zap.String("room", r.Code), zap.Int("winners", len(r.Winners)))
		}
		cancel()
	}
}
