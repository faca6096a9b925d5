// Package worker implements the Worker Loop (§4.H): the single logical
// consumer draining the ingest queue, running every enabled rule against
// each transaction, persisting the terminal outcome, and dispatching
// alerts.
//
// Grounded on the teacher's internal/scoring/worker.go Worker/processLoop
// shape (stopCh-gated loop, graceful Start/Stop, signal handling), cut
// down from its Concurrency-goroutine WorkerPool to the single consumer
// this system calls for, and rewired from the teacher's Redis Stream
// consume/ack cycle onto the in-memory queue.Queue polling loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/riskshield/txscore/internal/applog"
	"github.com/riskshield/txscore/internal/models"
	"github.com/riskshield/txscore/internal/queue"
	"github.com/riskshield/txscore/internal/repositories"
	"github.com/riskshield/txscore/internal/scoring"
)

// TransactionStore is the subset of the Transaction Store (§4.E) the
// worker needs: the defensive re-check and the insert that durably records
// the evaluated outcome for the first time (the ingest gate never persists
// the row — see DESIGN.md's insert-in-worker decision).
// *repositories.TransactionRepository satisfies this.
type TransactionStore interface {
	Exists(ctx context.Context, correlationID string) (bool, error)
	Insert(ctx context.Context, tx *models.Transaction) error
}

// RuleStore is the subset of the Rule Store (§4.D) the worker needs.
// *repositories.RuleRepository satisfies this.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]*models.Rule, error)
}

// HistoryProvider supplies the read-only snapshot the evaluator reads from
// (§4.C). *history.Provider satisfies this.
type HistoryProvider interface {
	Snapshot(ctx context.Context) ([]*models.Transaction, error)
}

// Notifier dispatches one fired reason to every registered channel
// (§4.I). *notify.Notifier satisfies this.
type Notifier interface {
	Dispatch(ctx context.Context, tx *models.Transaction, reason string)
}

// AuditPublisher mirrors a terminal outcome to the best-effort audit
// stream (§4.K). *audit.Stream satisfies this.
type AuditPublisher interface {
	Publish(ctx context.Context, tx *models.Transaction)
}

// Worker is the single logical consumer described in §4.H.
type Worker struct {
	queue    *queue.Queue
	txRepo   TransactionStore
	ruleRepo RuleStore
	history  HistoryProvider
	eval     *scoring.Evaluator
	notifier Notifier
	audit    AuditPublisher

	pollInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Worker.
func New(
	q *queue.Queue,
	txRepo TransactionStore,
	ruleRepo RuleStore,
	historyProvider HistoryProvider,
	notifier Notifier,
	auditStream AuditPublisher,
	pollInterval time.Duration,
) *Worker {
	return &Worker{
		queue:        q,
		txRepo:       txRepo,
		ruleRepo:     ruleRepo,
		history:      historyProvider,
		eval:         scoring.NewEvaluator(),
		notifier:     notifier,
		audit:        auditStream,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the poll loop on its own goroutine and returns
// immediately. It runs until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// run is the poll loop body; Start adds to wg before spawning it so Stop's
// Wait can never race ahead of a goroutine that hasn't registered yet.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// drain processes every transaction currently queued, one at a time, in
// FIFO order.
func (w *Worker) drain(ctx context.Context) {
	for {
		tx, ok := w.queue.Dequeue()
		if !ok {
			return
		}
		w.process(ctx, tx)
	}
}

// process runs the full §4.H algorithm for one dequeued transaction.
func (w *Worker) process(ctx context.Context, tx *models.Transaction) {
	exists, err := w.txRepo.Exists(ctx, tx.CorrelationID)
	if err != nil {
		applog.Log(applog.Event{Stage: "worker_error", Component: "worker", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
		return
	}
	if exists {
		applog.Log(applog.Event{Stage: "duplicate_skipped", Component: "worker", Tx: tx})
		return
	}

	rules, err := w.ruleRepo.ListEnabled(ctx)
	if err != nil {
		applog.Log(applog.Event{Stage: "worker_error", Component: "worker", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
		return
	}

	snapshot, err := w.history.Snapshot(ctx)
	if err != nil {
		applog.Log(applog.Event{Stage: "worker_error", Component: "worker", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
		return
	}

	var reasons []string
	for _, rule := range rules {
		spec, err := scoring.ParseSpec(rule.RuleType, rule.Params)
		if err != nil {
			applog.Log(applog.Event{Stage: "rule_error", Component: "worker", Tx: tx, Level: applog.Error,
				Extra: map[string]interface{}{"rule_id": rule.ID, "error": err.Error()}})
			continue
		}

		fired, reason, err := w.eval.Evaluate(spec, tx, snapshot)
		if err != nil {
			applog.Log(applog.Event{Stage: "rule_error", Component: "worker", Tx: tx, Level: applog.Error,
				Extra: map[string]interface{}{"rule_id": rule.ID, "error": err.Error()}})
			continue
		}
		if fired {
			reasons = append(reasons, reason)
		}
	}

	tx.Alerts = reasons
	if len(reasons) > 0 {
		tx.Status = models.StatusAlerted
	} else {
		tx.Status = models.StatusProcessed
	}

	if err := w.txRepo.Insert(ctx, tx); err != nil {
		if errors.Is(err, repositories.ErrDuplicateTransaction) {
			applog.Log(applog.Event{Stage: "duplicate_constraint_violation", Component: "worker", Tx: tx, Level: applog.Warn})
			return
		}
		applog.Log(applog.Event{Stage: "db_error", Component: "worker", Tx: tx, Level: applog.Error,
			Extra: map[string]interface{}{"error": err.Error()}})
		return
	}

	applog.Log(applog.Event{Stage: "db_commit", Component: "worker", Tx: tx})
	w.audit.Publish(ctx, tx)

	for _, reason := range reasons {
		w.notifier.Dispatch(ctx, tx, reason)
	}
}
