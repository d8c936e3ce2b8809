package batch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Flusher receives every value queued since the last flush, grouped by key
// in arrival order. Keys it deletes from batch are not retried.
type Flusher[K comparable, V any] interface {
	Flush(ctx context.Context, batch map[K][]V) error
}

// FlushFunc adapts a function to Flusher.
type FlushFunc[K comparable, V any] func(ctx context.Context, batch map[K][]V) error

func (f FlushFunc[K, V]) Flush(ctx context.Context, batch map[K][]V) error {
	return f(ctx, batch)
}

// BatchStats provides statistics about batch processing
type BatchStats struct {
	BatchesProcessed int           `json:"batchesProcessed"`
	AverageSize      float64       `json:"averageSize"`
	ProcessingTime   time.Duration `json:"processingTime"`
	ErrorRate        float64       `json:"errorRate"`
	TotalUpdates     int64         `json:"totalUpdates"`
	FailedUpdates    int64         `json:"failedUpdates"`
	LastProcessedAt  time.Time     `json:"lastProcessedAt"`
}

var ErrStopped = errors.New("batch processor is stopped")

// Error definitions for batch processing
var (
	ErrInvalidBatchSize     = fmt.Errorf("invalid batch size: must be greater than 0")
	ErrInvalidBatchInterval = fmt.Errorf("invalid batch interval: must be greater than 0")
	ErrInvalidRetryAttempts = fmt.Errorf("invalid retry attempts: must be greater than or equal to 0")
	ErrInvalidRetryBackoff  = fmt.Errorf("invalid retry backoff: must be greater than or equal to 0")
)
