// Package batch coalesces values queued in bursts and hands them to a
// Flusher on an interval or once enough have piled up.
package batch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

type Processor[K comparable, V any] struct {
	config  Config
	flusher Flusher[K, V]
	clock   clockwork.Clock

	// Internal state
	pending    map[K][]V
	size       int
	pendingMux sync.Mutex

	// Worker control
	ctx      context.Context
	cancel   context.CancelFunc
	workerWg sync.WaitGroup
	full     chan struct{}
	stopOnce sync.Once

	// Statistics
	stats    BatchStats
	statsMux sync.RWMutex
}

// NewProcessor creates a processor. A nil clock means the real clock.
func NewProcessor[K comparable, V any](config Config, flusher Flusher[K, V], clock clockwork.Clock) (*Processor[K, V], error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Processor[K, V]{
		config:  config,
		flusher: flusher,
		clock:   clock,
		pending: make(map[K][]V),
		ctx:     ctx,
		cancel:  cancel,
		full:    make(chan struct{}, 1),
	}, nil
}

// Add queues value under key.
func (p *Processor[K, V]) Add(key K, value V) error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}

	p.pendingMux.Lock()
	p.pending[key] = append(p.pending[key], value)
	p.size++
	full := p.size >= p.config.MaxBatchSize
	p.pendingMux.Unlock()

	if full {
		select {
		case p.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns how many values are waiting for the next flush.
func (p *Processor[K, V]) Pending() int {
	p.pendingMux.Lock()
	defer p.pendingMux.Unlock()
	return p.size
}

// Discard drops everything queued and returns how many values were dropped.
func (p *Processor[K, V]) Discard() int {
	p.pendingMux.Lock()
	defer p.pendingMux.Unlock()
	n := p.size
	p.pending = make(map[K][]V)
	p.size = 0
	return n
}

// ProcessBatch flushes the current batch, retrying with exponential backoff.
func (p *Processor[K, V]) ProcessBatch(ctx context.Context) error {
	p.pendingMux.Lock()
	batch, size := p.pending, p.size
	p.pending = make(map[K][]V)
	p.size = 0
	p.pendingMux.Unlock()

	if size == 0 {
		return nil
	}

	start := p.clock.Now()
	err := p.flushWithRetry(ctx, batch)
	p.updateStats(size, err != nil, p.clock.Since(start))
	return err
}

func (p *Processor[K, V]) flushWithRetry(ctx context.Context, batch map[K][]V) error {
	var err error
	for attempt := 0; attempt <= p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * p.config.RetryBackoff
			glog.V(1).Infof("batch: retrying flush after %v (attempt %d/%d)", backoff, attempt, p.config.RetryAttempts)

			select {
			case <-p.clock.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("batch processor stopped during retry: %w", ctx.Err())
			}
		}

		if err = p.flusher.Flush(ctx, batch); err == nil {
			return nil
		}
		glog.Warningf("batch: flush attempt %d failed: %v", attempt+1, err)
	}
	return fmt.Errorf("flush failed after %d attempts: %w", p.config.RetryAttempts+1, err)
}

// Start starts the batch processing worker
func (p *Processor[K, V]) Start() {
	p.workerWg.Add(1)
	go p.worker()
	glog.V(1).Infof("batch: processor started (interval: %v)", p.config.BatchInterval)
}

// Stop flushes what is left and waits for the worker. It is safe to call more than once.
func (p *Processor[K, V]) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.workerWg.Wait()
		glog.V(1).Infof("batch: processor stopped")
	})
}

func (p *Processor[K, V]) worker() {
	defer p.workerWg.Done()

	ticker := p.clock.NewTicker(p.config.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.full:
			if err := p.ProcessBatch(p.ctx); err != nil {
				glog.Warningf("batch: error processing full batch: %v", err)
			}

		case <-ticker.Chan():
			if err := p.ProcessBatch(p.ctx); err != nil {
				glog.Warningf("batch: error processing interval batch: %v", err)
			}

		case <-p.ctx.Done():
			// Flush what is left once, without retries.
			p.pendingMux.Lock()
			batch, size := p.pending, p.size
			p.pending = make(map[K][]V)
			p.size = 0
			p.pendingMux.Unlock()
			if size > 0 {
				err := p.flusher.Flush(context.Background(), batch)
				if err != nil {
					glog.Warningf("batch: error processing final batch: %v", err)
				}
				p.updateStats(size, err != nil, 0)
			}
			return
		}
	}
}

// GetBatchStats returns current batch processing statistics
func (p *Processor[K, V]) GetBatchStats() BatchStats {
	p.statsMux.RLock()
	defer p.statsMux.RUnlock()
	return p.stats
}

func (p *Processor[K, V]) updateStats(updateCount int, failed bool, processingTime time.Duration) {
	p.statsMux.Lock()
	defer p.statsMux.Unlock()

	p.stats.BatchesProcessed++
	p.stats.TotalUpdates += int64(updateCount)
	if failed {
		p.stats.FailedUpdates += int64(updateCount)
	}
	p.stats.LastProcessedAt = p.clock.Now()
	p.stats.ProcessingTime = processingTime

	p.stats.AverageSize = float64(p.stats.TotalUpdates) / float64(p.stats.BatchesProcessed)
	p.stats.ErrorRate = float64(p.stats.FailedUpdates) / float64(p.stats.TotalUpdates)
}
