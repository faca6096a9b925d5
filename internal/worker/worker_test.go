package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riskshield/txscore/internal/models"
	"github.com/riskshield/txscore/internal/queue"
	"github.com/riskshield/txscore/internal/repositories"
)

type outcome struct {
	correlationID string
	status        models.TransactionStatus
	alerts        string
}

type fakeTxStore struct {
	mu        sync.Mutex
	exists    map[string]bool
	outcomes  []outcome
	insertErr error
}

// newFakeTxStore pre-seeds ids that should already be durably persisted —
// the defensive re-check's duplicate case, not the common path. Tests for
// the ordinary first-time evaluation start from an empty store.
func newFakeTxStore(existing ...string) *fakeTxStore {
	s := &fakeTxStore{exists: make(map[string]bool)}
	for _, id := range existing {
		s.exists[id] = true
	}
	return s
}

func (s *fakeTxStore) Exists(ctx context.Context, correlationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists[correlationID], nil
}

func (s *fakeTxStore) Insert(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.outcomes = append(s.outcomes, outcome{tx.CorrelationID, tx.Status, tx.AlertsJoined()})
	return nil
}

type fakeRuleStore struct {
	rules []*models.Rule
}

func (s *fakeRuleStore) ListEnabled(ctx context.Context) ([]*models.Rule, error) {
	return s.rules, nil
}

type fakeHistory struct {
	snapshot []*models.Transaction
}

func (h *fakeHistory) Snapshot(ctx context.Context) ([]*models.Transaction, error) {
	return h.snapshot, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatches []string
}

func (n *fakeNotifier) Dispatch(ctx context.Context, tx *models.Transaction, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatches = append(n.dispatches, tx.CorrelationID+":"+reason)
}

type fakeAudit struct {
	mu        sync.Mutex
	published []string
}

func (a *fakeAudit) Publish(ctx context.Context, tx *models.Transaction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.published = append(a.published, tx.CorrelationID)
}

func thresholdRule(id string, value float64) *models.Rule {
	return &models.Rule{
		ID: id, Name: id, RuleType: models.RuleThreshold, Enabled: true,
		Params: models.JSONB{"field": "amount", "operator": ">", "value": value},
	}
}

func newWorker(txStore TransactionStore, ruleStore RuleStore, history HistoryProvider, notifier Notifier, audit AuditPublisher) (*Worker, *queue.Queue) {
	q := queue.New()
	w := New(q, txStore, ruleStore, history, notifier, audit, time.Hour)
	return w, q
}

func queuedTx(id string, amount float64) *models.Transaction {
	return &models.Transaction{
		CorrelationID:   id,
		SenderAccount:   "SENDER001",
		ReceiverAccount: "RECEIVER01",
		Amount:          amount,
		TransactionType: models.TypePayment,
		Timestamp:       time.Now().UTC(),
		Status:          models.StatusQueued,
		Alerts:          []string{},
	}
}

// TestProcess_TerminalStatusAlerted is the spec's concrete scenario 1
// exercised through the full worker path.
func TestProcess_TerminalStatusAlerted(t *testing.T) {
	txStore := newFakeTxStore()
	ruleStore := &fakeRuleStore{rules: []*models.Rule{thresholdRule("r1", 1000)}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-1", 1500)
	w.process(context.Background(), tx)

	if tx.Status != models.StatusAlerted {
		t.Fatalf("status = %q, want alerted", tx.Status)
	}
	if len(txStore.outcomes) != 1 {
		t.Fatalf("expected exactly one persisted outcome, got %d", len(txStore.outcomes))
	}
	got := txStore.outcomes[0]
	if got.status != models.StatusAlerted {
		t.Errorf("persisted status = %q, want alerted", got.status)
	}
	if got.alerts != "amount 1500.0 > 1000" {
		t.Errorf("persisted alerts = %q", got.alerts)
	}
	if len(notifier.dispatches) != 1 {
		t.Fatalf("expected exactly one notification dispatch, got %d", len(notifier.dispatches))
	}
	if len(audit.published) != 1 {
		t.Errorf("expected one audit publish, got %d", len(audit.published))
	}
}

// TestProcess_TerminalStatusProcessed is the spec's concrete scenario 2.
func TestProcess_TerminalStatusProcessed(t *testing.T) {
	txStore := newFakeTxStore()
	ruleStore := &fakeRuleStore{rules: []*models.Rule{thresholdRule("r1", 1000)}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-2", 500)
	w.process(context.Background(), tx)

	if tx.Status != models.StatusProcessed {
		t.Fatalf("status = %q, want processed", tx.Status)
	}
	if txStore.outcomes[0].alerts != "" {
		t.Errorf("expected empty alerts, got %q", txStore.outcomes[0].alerts)
	}
	if len(notifier.dispatches) != 0 {
		t.Errorf("expected zero notifications, got %d", len(notifier.dispatches))
	}
}

// TestProcess_FaultIsolation verifies §7/§8's fault isolation invariant: a
// rule that cannot be parsed or evaluated never blocks the other rules,
// and never changes the terminal status away from what the surviving
// rules determine.
func TestProcess_FaultIsolation(t *testing.T) {
	txStore := newFakeTxStore()
	ruleStore := &fakeRuleStore{rules: []*models.Rule{
		{ID: "bad", Name: "bad", RuleType: models.RuleType("not_a_real_type"), Enabled: true, Params: models.JSONB{}},
		thresholdRule("good", 1000),
	}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-3", 1500)
	w.process(context.Background(), tx)

	if tx.Status != models.StatusAlerted {
		t.Fatalf("status = %q, want alerted despite the faulty rule", tx.Status)
	}
	if len(tx.Alerts) != 1 {
		t.Fatalf("expected exactly one surviving alert, got %v", tx.Alerts)
	}
	if len(notifier.dispatches) != 1 {
		t.Errorf("expected the good rule's alert to still dispatch, got %d", len(notifier.dispatches))
	}
}

// TestProcess_DuplicateSkipped covers the defensive re-check: if the row is
// already durably persisted by the time the worker dequeues it, the worker
// drops the item instead of re-evaluating, persisting, or notifying.
func TestProcess_DuplicateSkipped(t *testing.T) {
	txStore := newFakeTxStore("tx-4")
	ruleStore := &fakeRuleStore{rules: []*models.Rule{thresholdRule("r1", 1000)}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-4", 1500)
	w.process(context.Background(), tx)

	if len(txStore.outcomes) != 0 {
		t.Errorf("expected no persistence for an already-durable row")
	}
	if len(notifier.dispatches) != 0 {
		t.Errorf("expected no notification for a dropped duplicate")
	}
}

// TestProcess_UniqueConstraintViolationAbandonsNotification covers §4.H
// step 6/§7's store_unique_violation policy: persistence is abandoned and
// no notification fires.
func TestProcess_UniqueConstraintViolationAbandonsNotification(t *testing.T) {
	txStore := newFakeTxStore()
	txStore.insertErr = repositories.ErrDuplicateTransaction
	ruleStore := &fakeRuleStore{rules: []*models.Rule{thresholdRule("r1", 1000)}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-5", 1500)
	w.process(context.Background(), tx)

	if len(notifier.dispatches) != 0 {
		t.Errorf("expected no notification dispatch when persistence is abandoned")
	}
	if len(audit.published) != 0 {
		t.Errorf("expected no audit publish when persistence is abandoned")
	}
}

func TestProcess_OtherStoreErrorAbandonsNotification(t *testing.T) {
	txStore := newFakeTxStore()
	txStore.insertErr = errors.New("connection reset")
	ruleStore := &fakeRuleStore{rules: []*models.Rule{thresholdRule("r1", 1000)}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-6", 1500)
	w.process(context.Background(), tx)

	if len(notifier.dispatches) != 0 {
		t.Errorf("expected no notification dispatch on a store error")
	}
}

// TestDrain_FIFO is §8's FIFO invariant: transactions dequeue (and thus
// persist) in the order they were enqueued.
func TestDrain_FIFO(t *testing.T) {
	txStore := newFakeTxStore()
	ruleStore := &fakeRuleStore{}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, q := newWorker(txStore, ruleStore, history, notifier, audit)

	q.Enqueue(queuedTx("tx-a", 10))
	q.Enqueue(queuedTx("tx-b", 10))
	q.Enqueue(queuedTx("tx-c", 10))

	w.drain(context.Background())

	if len(txStore.outcomes) != 3 {
		t.Fatalf("expected 3 persisted outcomes, got %d", len(txStore.outcomes))
	}
	wantOrder := []string{"tx-a", "tx-b", "tx-c"}
	for i, want := range wantOrder {
		if txStore.outcomes[i].correlationID != want {
			t.Errorf("persist order[%d] = %q, want %q", i, txStore.outcomes[i].correlationID, want)
		}
	}
}

func TestProcess_EvaluationOrderPreservedInAlerts(t *testing.T) {
	txStore := newFakeTxStore()
	ruleStore := &fakeRuleStore{rules: []*models.Rule{
		thresholdRule("r-low", 100),
		thresholdRule("r-high", 200),
	}}
	history := &fakeHistory{}
	notifier := &fakeNotifier{}
	audit := &fakeAudit{}
	w, _ := newWorker(txStore, ruleStore, history, notifier, audit)

	tx := queuedTx("tx-7", 1000)
	w.process(context.Background(), tx)

	if len(tx.Alerts) != 2 {
		t.Fatalf("expected both rules to fire, got %v", tx.Alerts)
	}
	if tx.Alerts[0] != "amount 1000.0 > 100" || tx.Alerts[1] != "amount 1000.0 > 200" {
		t.Errorf("alerts out of order: %v", tx.Alerts)
	}
}
