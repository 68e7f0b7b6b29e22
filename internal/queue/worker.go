package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/metrics"
	"github.com/google/uuid"
)

// Handler processes jobs for one queue. Returning nil acks the job; a
// retryable error requeues it with backoff; a terminal coded error
// dead-letters it.
type Handler interface {
	Queue() enums.QueueName
	Handle(ctx context.Context, job *models.Job) error
}

// Pool runs the leased-job consume loops: per-queue worker goroutines plus a
// reclaim loop that returns expired leases to the queue.
type Pool struct {
	repo     Repository
	svc      Service
	handlers map[enums.QueueName]Handler
	cfg      config.QueuesConfig
	metrics  *metrics.QueueMetrics
	logg     *logger.Logger
	workerID string
}

// NewPool wires the worker pool. Every registered handler's queue gets at
// least one worker.
func NewPool(repo Repository, svc Service, handlers []Handler, cfg config.QueuesConfig, qm *metrics.QueueMetrics, logg *logger.Logger) (*Pool, error) {
	if repo == nil {
		return nil, fmt.Errorf("queue repository required")
	}
	if svc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one handler required")
	}

	byQueue := make(map[enums.QueueName]Handler, len(handlers))
	for _, h := range handlers {
		if !h.Queue().IsValid() {
			return nil, fmt.Errorf("handler registered for unknown queue %q", h.Queue())
		}
		if _, dup := byQueue[h.Queue()]; dup {
			return nil, fmt.Errorf("duplicate handler for queue %q", h.Queue())
		}
		byQueue[h.Queue()] = h
	}

	hostname, _ := os.Hostname()
	return &Pool{
		repo:     repo,
		svc:      svc,
		handlers: byQueue,
		cfg:      cfg,
		metrics:  qm,
		logg:     logg,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
	}, nil
}

// Run blocks until ctx is cancelled and every worker goroutine has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for queue, handler := range p.handlers {
		concurrency := p.concurrencyFor(queue)
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(h Handler, worker int) {
				defer wg.Done()
				p.consume(ctx, h, worker)
			}(handler, i)
		}

		wg.Add(1)
		go func(q enums.QueueName) {
			defer wg.Done()
			p.reclaim(ctx, q)
		}(queue)
	}

	wg.Wait()
}

func (p *Pool) concurrencyFor(queue enums.QueueName) int {
	var n int
	switch queue {
	case enums.QueueIngest:
		n = p.cfg.IngestConcurrency
	case enums.QueueOrderProcessing:
		n = p.cfg.OrderProcessingConcurrency
	case enums.QueueVendorRouting:
		n = p.cfg.VendorRoutingConcurrency
	case enums.QueueReply:
		n = p.cfg.ReplyConcurrency
	}
	if n <= 0 {
		n = 1
	}
	return n
}

func (p *Pool) consume(ctx context.Context, handler Handler, worker int) {
	queue := handler.Queue()
	workerID := fmt.Sprintf("%s-%s-%d", p.workerID, queue, worker)

	pollInterval := p.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	leaseTTL := p.cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = time.Minute
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.repo.Lease(ctx, queue, workerID, leaseTTL)
		if err != nil {
			if p.logg != nil {
				p.logg.Error(ctx, fmt.Sprintf("leasing from %s", queue), err)
			}
			p.sleep(ctx, pollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, pollInterval)
			continue
		}

		p.process(ctx, handler, job)
	}
}

func (p *Pool) process(ctx context.Context, handler Handler, job *models.Job) {
	logCtx := ctx
	if p.logg != nil {
		logCtx = p.logg.WithQueue(ctx, job.Queue.String())
		logCtx = p.logg.WithJobID(logCtx, job.ID.String())
	}

	started := time.Now()
	handleErr := p.handle(logCtx, handler, job)
	p.metrics.ObserveDuration(job.Queue.String(), time.Since(started))

	if err := p.svc.Settle(ctx, job, handleErr); err != nil && p.logg != nil {
		p.logg.Error(logCtx, "settling job", err)
	}
}

// handle converts handler panics into errors so one bad payload cannot take
// a worker down with it.
func (p *Pool) handle(ctx context.Context, handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

func (p *Pool) reclaim(ctx context.Context, queue enums.QueueName) {
	interval := p.cfg.ReclaimInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.repo.ReclaimStalled(ctx, queue)
			if err != nil {
				if p.logg != nil {
					p.logg.Error(ctx, fmt.Sprintf("reclaiming stalled leases on %s", queue), err)
				}
				continue
			}
			if reclaimed > 0 {
				p.metrics.AddStalls(queue.String(), int(reclaimed))
				if p.logg != nil {
					logCtx := p.logg.WithQueue(ctx, queue.String())
					p.logg.Warn(logCtx, fmt.Sprintf("reclaimed %d expired leases", reclaimed))
				}
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
