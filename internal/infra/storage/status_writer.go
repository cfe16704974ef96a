package storage

import (
	"log/slog"
	"sync"

	"crypto_feed/internal/domain"
)

type statusUpdate struct {
	connector string
	state     domain.State
	cause     error
}

// StatusWriter persists connector state changes off the caller's goroutine.
// Record never blocks; updates beyond the buffer are dropped and logged.
type StatusWriter struct {
	store   *Storage
	log     *slog.Logger
	updates chan statusUpdate
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewStatusWriter starts the background writer.
func NewStatusWriter(store *Storage, size int, log *slog.Logger) *StatusWriter {
	if log == nil {
		log = slog.Default()
	}
	w := &StatusWriter{
		store:   store,
		log:     log,
		updates: make(chan statusUpdate, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues a state change. It reports false when the update was dropped.
func (w *StatusWriter) Record(connector string, state domain.State, cause error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.updates <- statusUpdate{connector: connector, state: state, cause: cause}:
		return true
	default:
		w.log.Warn("status update dropped", slog.String("connector", connector), slog.String("state", state.String()))
		return false
	}
}

// Close stops accepting updates and waits until the queued ones are written.
func (w *StatusWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.updates)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

func (w *StatusWriter) run() {
	defer close(w.done)
	for u := range w.updates {
		if err := w.store.RecordStatus(u.connector, u.state, u.cause); err != nil {
			w.log.Warn("Failed to record connector status", slog.String("connector", u.connector), slog.Any("error", err))
		}
	}
}
