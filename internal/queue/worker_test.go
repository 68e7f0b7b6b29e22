package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/dukalink/dukalink-backend/pkg/retry"
)

// leaseScript hands out a fixed set of jobs one lease at a time.
type leaseScript struct {
	mu       sync.Mutex
	jobs     []*models.Job
	reclaims chan enums.QueueName
}

func (r *leaseScript) WithTx(tx *gorm.DB) Repository { return r }

func (r *leaseScript) Enqueue(ctx context.Context, job *models.Job) error { return nil }

func (r *leaseScript) Lease(ctx context.Context, queue enums.QueueName, workerID string, ttl time.Duration) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, job := range r.jobs {
		if job.Queue == queue {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			job.Status = enums.JobStatusLeased
			job.AttemptCount++
			return job, nil
		}
	}
	return nil, nil
}

func (r *leaseScript) Ack(ctx context.Context, jobID uuid.UUID) error { return nil }

func (r *leaseScript) Requeue(ctx context.Context, jobID uuid.UUID, attemptCount int, runAt time.Time, lastError string) error {
	return nil
}

func (r *leaseScript) MoveToDeadLetter(ctx context.Context, job *models.Job, reason enums.DeadLetterReason, detail string) error {
	return nil
}

func (r *leaseScript) ReclaimStalled(ctx context.Context, queue enums.QueueName) (int64, error) {
	if r.reclaims != nil {
		select {
		case r.reclaims <- queue:
		default:
		}
	}
	return 0, nil
}

func (r *leaseScript) FindJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return nil, nil
}

func (r *leaseScript) ListDeadLetters(ctx context.Context, queue enums.QueueName, limit int) ([]models.DeadLetterJob, error) {
	return nil, nil
}

func (r *leaseScript) CountPending(ctx context.Context, queue enums.QueueName) (int64, error) {
	return 0, nil
}

type settleOutcome struct {
	job *models.Job
	err error
}

// settleProbe replaces the settlement service so tests can observe what the
// pool decided for each job.
type settleProbe struct {
	outcomes chan settleOutcome
}

func (s *settleProbe) Enqueue(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload any, priority int) (*models.Job, error) {
	return nil, nil
}

func (s *settleProbe) Settle(ctx context.Context, job *models.Job, handleErr error) error {
	s.outcomes <- settleOutcome{job: job, err: handleErr}
	return nil
}

type scriptedHandler struct {
	queue    enums.QueueName
	handleFn func(ctx context.Context, job *models.Job) error
}

func (h *scriptedHandler) Queue() enums.QueueName { return h.queue }

func (h *scriptedHandler) Handle(ctx context.Context, job *models.Job) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, job)
	}
	return nil
}

func poolConfig() config.QueuesConfig {
	return config.QueuesConfig{
		PollInterval:    5 * time.Millisecond,
		LeaseTTL:        time.Minute,
		ReclaimInterval: time.Hour,
	}
}

func awaitOutcome(t *testing.T, outcomes chan settleOutcome) settleOutcome {
	t.Helper()
	select {
	case out := <-outcomes:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the pool to settle a job")
		return settleOutcome{}
	}
}

func TestNewPoolRejectsBadHandlerSets(t *testing.T) {
	repo := &leaseScript{}
	svc, err := NewService(&settleRecorder{}, retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}, 3, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := NewPool(repo, svc, nil, poolConfig(), nil, nil); err == nil {
		t.Fatal("expected error for empty handler set")
	}

	bogus := &scriptedHandler{queue: enums.QueueName("bogus")}
	if _, err := NewPool(repo, svc, []Handler{bogus}, poolConfig(), nil, nil); err == nil {
		t.Fatal("expected error for unknown queue")
	}

	a := &scriptedHandler{queue: enums.QueueIngest}
	b := &scriptedHandler{queue: enums.QueueIngest}
	if _, err := NewPool(repo, svc, []Handler{a, b}, poolConfig(), nil, nil); err == nil {
		t.Fatal("expected error for duplicate handlers")
	}
}

func TestPoolLeasesAndSettlesJobs(t *testing.T) {
	job1 := leasedJob(0)
	job2 := leasedJob(0)
	job1.Status = enums.JobStatusQueued
	job2.Status = enums.JobStatusQueued
	repo := &leaseScript{jobs: []*models.Job{job1, job2}}
	probe := &settleProbe{outcomes: make(chan settleOutcome, 4)}

	var mu sync.Mutex
	var handled []uuid.UUID
	handler := &scriptedHandler{
		queue: enums.QueueOrderProcessing,
		handleFn: func(ctx context.Context, job *models.Job) error {
			mu.Lock()
			handled = append(handled, job.ID)
			mu.Unlock()
			return nil
		},
	}

	pool, err := NewPool(repo, probe, []Handler{handler}, poolConfig(), nil, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	first := awaitOutcome(t, probe.outcomes)
	second := awaitOutcome(t, probe.outcomes)
	cancel()
	<-done

	if first.err != nil || second.err != nil {
		t.Fatalf("expected clean settles, got %v and %v", first.err, second.err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Fatalf("expected both jobs handled, got %d", len(handled))
	}
}

func TestPoolConvertsHandlerPanicIntoError(t *testing.T) {
	job := leasedJob(0)
	job.Status = enums.JobStatusQueued
	repo := &leaseScript{jobs: []*models.Job{job}}
	probe := &settleProbe{outcomes: make(chan settleOutcome, 1)}

	handler := &scriptedHandler{
		queue: enums.QueueOrderProcessing,
		handleFn: func(ctx context.Context, job *models.Job) error {
			panic("corrupt payload")
		},
	}

	pool, err := NewPool(repo, probe, []Handler{handler}, poolConfig(), nil, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	out := awaitOutcome(t, probe.outcomes)
	cancel()
	<-done

	if out.err == nil || !strings.Contains(out.err.Error(), "handler panic") {
		t.Fatalf("expected panic converted to error, got %v", out.err)
	}
}

func TestPoolRunsReclaimLoop(t *testing.T) {
	repo := &leaseScript{reclaims: make(chan enums.QueueName, 1)}
	probe := &settleProbe{outcomes: make(chan settleOutcome, 1)}
	handler := &scriptedHandler{queue: enums.QueueReply}

	cfg := poolConfig()
	cfg.ReclaimInterval = 5 * time.Millisecond

	pool, err := NewPool(repo, probe, []Handler{handler}, cfg, nil, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	select {
	case queue := <-repo.reclaims:
		if queue != enums.QueueReply {
			t.Fatalf("expected reclaim on reply queue, got %s", queue)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reclaim loop")
	}
	cancel()
	<-done
}
