package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Handler runs one delivered job. A returned error hands the job to the retry policy.
type Handler func(ctx context.Context, delivery *Delivery) error

// WorkerPool runs a fixed number of workers, each processing one job at a time
type WorkerPool struct {
	queue   *BadgerManager
	handler Handler
	config  Config
	logger  arbor.ILogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *BadgerManager, handler Handler, config Config, logger arbor.ILogger) *WorkerPool {
	if config.Concurrency <= 0 {
		config.Concurrency = NewDefaultConfig().Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = NewDefaultConfig().PollInterval
	}
	return &WorkerPool{
		queue:   queue,
		handler: handler,
		config:  config,
		logger:  logger,
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.cancel != nil {
		return errors.New("worker pool already started")
	}

	ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	if cancel == nil {
		return
	}
	wp.logger.Info().Msg("Stopping worker pool")
	cancel()
	wp.wg.Wait()
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts across the poll interval
	stagger := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything visible before waiting for the next tick
		for {
			err := wp.processMessage(ctx, workerID)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNoMessage) && ctx.Err() == nil {
				wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Error processing message")
			}
			break
		}

		select {
		case <-ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(ctx context.Context, workerID int) error {
	delivery, err := wp.queue.Receive(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) {
			return err
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	wp.logger.Debug().
		Str("job_id", delivery.JobID).
		Str("source_id", delivery.SourceID).
		Int("attempt", delivery.Attempt).
		Int("worker_id", workerID).
		Msg("Processing job")

	stopHeartbeat := wp.heartbeat(ctx, delivery.JobID)
	start := time.Now()
	handlerErr := wp.invoke(ctx, delivery)
	stopHeartbeat()
	duration := time.Since(start)

	// Bookkeeping must land even when shutdown cancelled the run
	bookCtx := context.WithoutCancel(ctx)

	if handlerErr != nil {
		retrying, err := wp.queue.Nack(bookCtx, delivery.JobID, handlerErr)
		if err != nil {
			return fmt.Errorf("failed to record job failure: %w", err)
		}
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", delivery.JobID).
			Int("attempt", delivery.Attempt).
			Bool("retrying", retrying).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job failed")
		return nil
	}

	if err := wp.queue.Ack(bookCtx, delivery.JobID); err != nil {
		return fmt.Errorf("failed to acknowledge job: %w", err)
	}
	wp.logger.Info().
		Str("job_id", delivery.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")
	return nil
}

// invoke runs the handler, converting a panic into an error
func (wp *WorkerPool) invoke(ctx context.Context, delivery *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			wp.logger.Error().
				Str("job_id", delivery.JobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic in job handler")
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return wp.handler(ctx, delivery)
}

// heartbeat keeps a claimed message hidden while its job runs
func (wp *WorkerPool) heartbeat(ctx context.Context, jobID string) func() {
	interval := wp.queue.config.VisibilityTimeout / 3
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := wp.queue.Extend(hbCtx, jobID, wp.queue.config.VisibilityTimeout); err != nil {
					wp.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to extend job visibility")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
