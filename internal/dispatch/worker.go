package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

// CRMUpserter pushes a lead into the CRM.
type CRMUpserter interface {
	UpsertLead(ctx context.Context, lead *leads.Lead) error
}

// LeadNotifier alerts the sales queue about a new lead.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, lead *leads.Lead) error
}

// Worker consumes lead sync jobs from the queue, persists them, pushes
// qualified leads into the CRM, and fans notifications out to the sales
// queue. Downstream failures are logged and the job is still consumed;
// the chat flow never blocks on gateway health.
type Worker struct {
	queue    queueClient
	repo     leads.Repository
	crm      CRMUpserter
	notifier LeadNotifier
	logger   *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker creates a lead sync worker. repo, crm, and notifier may each be
// nil when the corresponding sink is not configured.
func NewWorker(queue queueClient, repo leads.Repository, crm CRMUpserter, notifier LeadNotifier, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		queue:    queue,
		repo:     repo,
		crm:      crm,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("lead worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("lead worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive lead jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode lead job", "error", err)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	w.logger.Info("worker processing lead job",
		"job_id", payload.ID,
		"kind", payload.Kind,
		"msg_id", msg.ID,
	)

	lead := payload.Lead

	if w.repo != nil {
		if _, err := w.repo.Create(ctx, &lead); err != nil {
			w.logger.Error("failed to persist lead", "error", err, "job_id", payload.ID, "email", lead.Email)
		}
	}

	if payload.Kind == jobTypeLeadUpsert && w.crm != nil {
		if err := w.crm.UpsertLead(ctx, &lead); err != nil {
			w.logger.Error("crm push failed", "error", err, "job_id", payload.ID, "email", lead.Email)
		}
	}

	if w.notifier != nil {
		if err := w.notifier.NotifyLead(ctx, &lead); err != nil {
			w.logger.Error("sales notification failed", "error", err, "job_id", payload.ID)
		}
	}

	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete lead job", "error", err)
	}
}
