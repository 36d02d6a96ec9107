package metrics

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sink receives drained batches for durable storage. The hand-off may
// fail; the flusher re-buffers on failure and retries on the next tick.
type Sink interface {
	WriteBatch(ctx context.Context, batch []Metric) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch []Metric) error

func (f SinkFunc) WriteBatch(ctx context.Context, batch []Metric) error {
	return f(ctx, batch)
}

// Flusher drains the collector on a timer or when the high-water mark
// fires, whichever comes first. All drains run on one goroutine, so two
// drains can never race on the same buffer generation.
type Flusher struct {
	collector *Collector
	sink      Sink
	interval  time.Duration

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	flushes int64
	mu      sync.Mutex
}

func NewFlusher(collector *Collector, sink Sink, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Flusher{
		collector: collector,
		sink:      sink,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the flush loop.
func (f *Flusher) Start() {
	go f.run()
}

func (f *Flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flushOnce()
		case <-f.collector.FlushSignal():
			f.flushOnce()
		case <-f.stop:
			return
		}
	}
}

// flushOnce drains one generation and hands it off exactly once. On sink
// failure the batch goes back to the buffer front instead of being lost.
func (f *Flusher) flushOnce() {
	batch := f.collector.Drain()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.sink.WriteBatch(ctx, batch); err != nil {
		log.Printf("metrics flush: persisting %d records failed, re-buffering: %v", len(batch), err)
		f.collector.Requeue(batch)
		return
	}

	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

// Flushes reports how many batches were persisted.
func (f *Flusher) Flushes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// Close stops the loop and runs one final best-effort flush so graceful
// shutdown does not silently drop buffered metrics.
func (f *Flusher) Close() {
	f.once.Do(func() {
		close(f.stop)
		<-f.done
		f.flushOnce()
	})
}
