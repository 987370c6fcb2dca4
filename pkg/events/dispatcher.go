package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/metrics"
	"github.com/AJM432/racing/pkg/retry"
)

// ErrClosed is returned by Submit after Shutdown
var ErrClosed = errors.New("event dispatcher is closed")

// Dispatcher fans events out to workers that publish them in batches
type Dispatcher struct {
	logger        *logger.Logger
	publisher     Publisher
	numWorkers    int
	batchSize     int
	flushInterval time.Duration
	retryOpts     retry.Options

	mu     sync.RWMutex
	closed bool
	input  chan Event
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher. Call Start before submitting.
func NewDispatcher(l *logger.Logger, p Publisher, numWorkers, batchSize int, flushInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:        l,
		publisher:     p,
		numWorkers:    numWorkers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retryOpts:     retry.DefaultOptions(),
		input:         make(chan Event, numWorkers*batchSize),
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.numWorkers; i++ {
		d.wg.Add(1)
		go d.runWorker(workerCtx, i)
	}
}

// Submit queues e, blocking while the queue is full
func (d *Dispatcher) Submit(ctx context.Context, e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.input <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()

	d.logger.Debug("event worker started", zap.Int("worker_id", id))

	buffer := NewBuffer(d.batchSize)
	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-d.input:
			if !ok {
				d.flush(context.Background(), buffer)
				return
			}
			if buffer.Add(e) {
				d.flush(ctx, buffer)
			}

		case <-ticker.C:
			if buffer.ShouldFlush(d.flushInterval) {
				d.flush(ctx, buffer)
			}

		case <-ctx.Done():
			d.flush(context.Background(), buffer)
			return
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context, buffer *Buffer) {
	batch := buffer.Flush()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	err := retry.Do(ctx, func(ctx context.Context) error {
		return d.publisher.Publish(ctx, batch)
	}, d.retryOpts)
	if err != nil {
		metrics.EventsFailedTotal.Add(float64(len(batch)))
		d.logger.Error("failed to publish events after retries", err, zap.Int("count", len(batch)))
		return
	}

	metrics.EventBatchLatency.Observe(time.Since(start).Seconds())
	metrics.EventsPublishedTotal.Add(float64(len(batch)))
	d.logger.Debug("events published", zap.Int("count", len(batch)))
}

// Shutdown stops accepting events, flushes what is queued and closes the publisher
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.input)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		return ctx.Err()
	}

	if d.cancel != nil {
		d.cancel()
	}
	return d.publisher.Close()
}
