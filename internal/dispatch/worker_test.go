package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type scriptedQueue struct {
	mu      sync.Mutex
	pending []queueMessage
	deleted int
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{}
}

func (q *scriptedQueue) enqueue(msg queueMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

func (q *scriptedQueue) Send(ctx context.Context, body string) error {
	q.enqueue(queueMessage{Body: body})
	return nil
}

func (q *scriptedQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return []queueMessage{msg}, nil
}

func (q *scriptedQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted++
	return nil
}

func (q *scriptedQueue) deleteCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

type recordingCRM struct {
	mu    sync.Mutex
	leads []leads.Lead
	err   error
}

func (c *recordingCRM) UpsertLead(ctx context.Context, lead *leads.Lead) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads = append(c.leads, *lead)
	return c.err
}

func (c *recordingCRM) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leads)
}

type recordingNotifier struct {
	mu    sync.Mutex
	leads []leads.Lead
}

func (n *recordingNotifier) NotifyLead(ctx context.Context, lead *leads.Lead) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leads = append(n.leads, *lead)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.leads)
}

func enqueueJob(t *testing.T, queue *scriptedQueue, kind jobType, lead leads.Lead) {
	t.Helper()
	payload := queuePayload{ID: "job-1", Kind: kind, Lead: lead}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	queue.enqueue(queueMessage{ID: "msg-1", Body: string(body), ReceiptHandle: "rh-1"})
}

func TestWorkerProcessesLeadUpsert(t *testing.T) {
	queue := newScriptedQueue()
	repo := leads.NewInMemoryRepository()
	crm := &recordingCRM{}
	notifier := &recordingNotifier{}
	worker := NewWorker(queue, repo, crm, notifier, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	enqueueJob(t, queue, jobTypeLeadUpsert, leads.Lead{
		Kind:  leads.KindQualified,
		Name:  "Asha",
		Email: "asha@biz.com",
		Score: 140,
	})

	waitFor(func() bool { return notifier.count() > 0 }, time.Second, t)

	cancel()
	worker.Wait()

	if crm.count() != 1 {
		t.Fatalf("expected 1 CRM upsert, got %d", crm.count())
	}
	stored, err := repo.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if len(stored) != 1 || stored[0].Email != "asha@biz.com" {
		t.Fatalf("expected persisted lead, got %#v", stored)
	}
	if queue.deleteCount() != 1 {
		t.Fatalf("expected delete to be invoked once, got %d", queue.deleteCount())
	}
}

func TestWorkerSalesHandoffSkipsCRM(t *testing.T) {
	queue := newScriptedQueue()
	crm := &recordingCRM{}
	notifier := &recordingNotifier{}
	worker := NewWorker(queue, leads.NewInMemoryRepository(), crm, notifier, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	enqueueJob(t, queue, jobTypeSalesHandoff, leads.Lead{
		Kind:  leads.KindSalesContact,
		Name:  "Ravi",
		Phone: "+919999",
	})

	waitFor(func() bool { return notifier.count() > 0 }, time.Second, t)

	cancel()
	worker.Wait()

	if crm.count() != 0 {
		t.Fatalf("expected no CRM push for sales handoff, got %d", crm.count())
	}
}

func TestWorkerConsumesJobDespiteCRMFailure(t *testing.T) {
	queue := newScriptedQueue()
	crm := &recordingCRM{err: errors.New("crm down")}
	notifier := &recordingNotifier{}
	worker := NewWorker(queue, nil, crm, notifier, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	enqueueJob(t, queue, jobTypeLeadUpsert, leads.Lead{Kind: leads.KindQualified, Name: "Asha", Email: "a@b.com"})

	waitFor(func() bool { return queue.deleteCount() > 0 }, time.Second, t)

	cancel()
	worker.Wait()

	// notification still happens after the CRM error
	if notifier.count() != 1 {
		t.Fatalf("expected notification despite CRM failure, got %d", notifier.count())
	}
}

func TestWorkerDropsMalformedJob(t *testing.T) {
	queue := newScriptedQueue()
	notifier := &recordingNotifier{}
	worker := NewWorker(queue, nil, nil, notifier, logging.Default(),
		WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "msg-bad", Body: "{not json", ReceiptHandle: "rh-bad"})

	waitFor(func() bool { return queue.deleteCount() > 0 }, time.Second, t)

	cancel()
	worker.Wait()

	if notifier.count() != 0 {
		t.Fatalf("expected no notification for malformed job, got %d", notifier.count())
	}
}
