package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dealsignal/internal/storage"
)

const clickWriteTimeout = 5 * time.Second

// ClickRecorder writes clicks asynchronously so handlers never wait on the database.
type ClickRecorder struct {
	store  storage.ClickStore
	queue  chan storage.Click
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewClickRecorder starts a recorder with a queue of buffer clicks.
func NewClickRecorder(store storage.ClickStore, buffer int, logger zerolog.Logger) *ClickRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	r := &ClickRecorder{
		store:  store,
		queue:  make(chan storage.Click, buffer),
		logger: logger.With().Str("component", "click_recorder").Logger(),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues a click. It returns false when the queue is full or closed.
func (r *ClickRecorder) Record(click storage.Click) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- click:
		return true
	default:
		r.logger.Warn().Str("product_id", click.ProductID).Msg("click queue full, dropping click")
		return false
	}
}

// Close stops accepting clicks and waits for queued ones to be written.
func (r *ClickRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *ClickRecorder) loop() {
	defer close(r.done)
	for click := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), clickWriteTimeout)
		if err := r.store.InsertClick(ctx, click); err != nil {
			r.logger.Error().Err(err).Str("product_id", click.ProductID).Msg("failed to record click")
		}
		cancel()
	}
}
