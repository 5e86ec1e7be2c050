package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kamar-Folarin/strava-sync/internal/config"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
)

// Progress reports how far a ProcessItems call has got
type Progress struct {
	TotalBatches     int
	ProcessedBatches int
	TotalItems       int
	ProcessedItems   int
	StartTime        time.Time
	LastUpdateTime   time.Time
	Errors           []error
}

// Processor splits items into batches and runs them on a bounded worker pool
type Processor[T any] struct {
	config     *config.BatchConfig
	statusChan chan *Progress
	mu         sync.Mutex
}

// NewProcessor creates a new batch processor
func NewProcessor[T any](cfg *config.BatchConfig) *Processor[T] {
	return &Processor[T]{
		config:     cfg,
		statusChan: make(chan *Progress, 1),
	}
}

// ProcessItems processes items in batches. The first batch failure is
// returned after in-flight batches finish; remaining batches are not started.
func (p *Processor[T]) ProcessItems(ctx context.Context, items []T, processFn func(ctx context.Context, batch []T) error) error {
	totalItems := len(items)
	if totalItems == 0 {
		return nil
	}

	batchSize := p.config.Size
	if batchSize <= 0 {
		batchSize = 100
	}
	workers := p.config.Workers
	if workers <= 0 {
		workers = 1
	}

	totalBatches := (totalItems + batchSize - 1) / batchSize
	progress := &Progress{
		TotalBatches:   totalBatches,
		TotalItems:     totalItems,
		StartTime:      time.Now(),
		LastUpdateTime: time.Now(),
	}
	p.updateProgress(progress)

	workerChan := make(chan int, workers)
	var wg sync.WaitGroup
	var processErr error
	var mu sync.Mutex

	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processErr != nil
	}

dispatch:
	for i := 0; i < totalBatches; i++ {
		if failed() {
			break
		}
		select {
		case <-ctx.Done():
			mu.Lock()
			if processErr == nil {
				processErr = ctx.Err()
			}
			mu.Unlock()
			break dispatch
		case workerChan <- i:
			wg.Add(1)
			go func(batchNum int) {
				defer wg.Done()
				defer func() { <-workerChan }()

				start := batchNum * batchSize
				end := start + batchSize
				if end > totalItems {
					end = totalItems
				}

				batch := items[start:end]
				err := p.processBatchWithRetry(ctx, batch, processFn)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if processErr == nil {
						processErr = err
					}
					progress.Errors = append(progress.Errors, err)
					return
				}
				progress.ProcessedBatches++
				progress.ProcessedItems += len(batch)
				progress.LastUpdateTime = time.Now()
				p.updateProgress(progress)
			}(i)
		}
	}

	wg.Wait()

	p.updateProgress(progress)
	return processErr
}

// GetProgress returns the current progress channel
func (p *Processor[T]) GetProgress() <-chan *Progress {
	return p.statusChan
}

// processBatchWithRetry processes a batch with retry logic. Invalid input is
// never retried.
func (p *Processor[T]) processBatchWithRetry(ctx context.Context, batch []T, processFn func(ctx context.Context, batch []T) error) error {
	var lastErr error
	for retry := 0; retry <= p.config.MaxRetries; retry++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := processFn(ctx, batch)
		if err == nil {
			return nil
		}
		if apperrors.IsValidationError(err) {
			return err
		}

		lastErr = err
		if retry < p.config.MaxRetries && p.config.BatchDelay > 0 {
			backoff := time.Duration(float64(p.config.BatchDelay) * float64(retry+1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("failed to process batch after %d retries: %w", p.config.MaxRetries, lastErr)
}

// updateProgress publishes a snapshot, replacing any unread one
func (p *Processor[T]) updateProgress(progress *Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := *progress
	snapshot.Errors = append([]error(nil), progress.Errors...)
	select {
	case p.statusChan <- &snapshot:
	default:
		select {
		case <-p.statusChan:
		default:
		}
		p.statusChan <- &snapshot
	}
}
