package scoring

import (
	"testing"
	"time"

	"github.com/riskshield/txscore/internal/models"
)

func txAt(sender string, amount float64, ts time.Time) *models.Transaction {
	return &models.Transaction{
		CorrelationID:   "tx-" + sender + "-" + ts.Format(time.RFC3339Nano),
		SenderAccount:   sender,
		ReceiverAccount: "RECV00000",
		Amount:          amount,
		TransactionType: models.TypePayment,
		Timestamp:       ts,
		Status:          models.StatusQueued,
	}
}

// TestEvaluate_ThresholdFires is the spec's concrete scenario 1.
func TestEvaluate_ThresholdFires(t *testing.T) {
	e := NewEvaluator()
	spec := ThresholdSpec{Field: "amount", Operator: ">", Value: 1000}
	tx := txAt("SENDER001", 1500, time.Now().UTC())

	fired, reason, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatalf("expected rule to fire")
	}
	want := "amount 1500.0 > 1000"
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}

// TestEvaluate_ThresholdMisses is the spec's concrete scenario 2.
func TestEvaluate_ThresholdMisses(t *testing.T) {
	e := NewEvaluator()
	spec := ThresholdSpec{Field: "amount", Operator: ">", Value: 1000}
	tx := txAt("SENDER001", 500, time.Now().UTC())

	fired, _, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Fatalf("expected rule not to fire")
	}
}

func TestEvaluate_ThresholdOperators(t *testing.T) {
	tests := []struct {
		op     string
		amount float64
		value  float64
		fired  bool
	}{
		{">", 1500, 1000, true},
		{">", 1000, 1000, false},
		{">=", 1000, 1000, true},
		{"<", 500, 1000, true},
		{"<=", 1000, 1000, true},
		{"==", 1000, 1000, true},
		{"!=", 999, 1000, true},
		{"!=", 1000, 1000, false},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		spec := ThresholdSpec{Field: "amount", Operator: tt.op, Value: tt.value}
		tx := txAt("S", tt.amount, time.Now().UTC())
		fired, _, err := e.Evaluate(spec, tx, nil)
		if err != nil {
			t.Fatalf("operator %q: unexpected error: %v", tt.op, err)
		}
		if fired != tt.fired {
			t.Errorf("operator %q amount=%v value=%v: fired=%v, want %v", tt.op, tt.amount, tt.value, fired, tt.fired)
		}
	}
}

func TestEvaluate_ThresholdUnknownOperatorErrors(t *testing.T) {
	e := NewEvaluator()
	spec := ThresholdSpec{Field: "amount", Operator: "~=", Value: 1000}
	tx := txAt("S", 1500, time.Now().UTC())

	_, _, err := e.Evaluate(spec, tx, nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown operator")
	}
}

func TestEvaluate_ThresholdMissingFieldIsZero(t *testing.T) {
	e := NewEvaluator()
	spec := ThresholdSpec{Field: "nonexistent", Operator: ">", Value: -1}
	tx := txAt("S", 1500, time.Now().UTC())

	fired, _, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Errorf("expected 0 > -1 to fire for an unrecognized field")
	}
}

func TestEvaluate_ML(t *testing.T) {
	tests := []struct {
		name      string
		amount    float64
		threshold float64
		fired     bool
	}{
		{"below threshold", 100000, 0.8, false},
		{"above threshold", 180000, 0.8, true},
		{"capped at 1.0", 1000000, 0.99, true},
	}
	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := MLSpec{Threshold: tt.threshold}
			tx := txAt("S", tt.amount, time.Now().UTC())
			fired, _, err := e.Evaluate(spec, tx, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fired != tt.fired {
				t.Errorf("fired = %v, want %v", fired, tt.fired)
			}
		})
	}
}

// TestEvaluate_CompositeExpression is the spec's concrete scenario 4.
func TestEvaluate_CompositeExpression(t *testing.T) {
	e := NewEvaluator()
	now := time.Now().UTC()
	tx := txAt("SENDER001", 1500, now)

	t1 := ThresholdSpec{Field: "amount", Operator: ">", Value: 1000}
	p1 := PatternSpec{N: 100, Minutes: 5} // no history => never fires on its own
	p2 := PatternSpec{N: 100, Minutes: 5}

	spec := CompositeSpec{
		Expression: "t1 AND (p1 OR NOT p2)",
		Rules: map[string]RuleSpec{
			"t1": t1,
			"p1": p1,
			"p2": p2,
		},
	}

	fired, reason, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatalf("expected composite to fire")
	}

	_, t1Reason, _ := e.Evaluate(t1, tx, nil)
	_, p1Reason, _ := e.Evaluate(p1, tx, nil)
	_, p2Reason, _ := e.Evaluate(p2, tx, nil)
	want := "(" + t1Reason + ") AND ((" + p1Reason + ") OR (NOT (" + p2Reason + ")))"
	if reason != want {
		t.Errorf("reason = %q, want %q", reason, want)
	}
}

func TestEvaluate_CompositeExpressionUnknownSubRule(t *testing.T) {
	e := NewEvaluator()
	tx := txAt("S", 1500, time.Now().UTC())
	spec := CompositeSpec{
		Expression: "missing",
		Rules:      map[string]RuleSpec{},
	}
	fired, reason, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("composite must never propagate an error: %v", err)
	}
	if fired {
		t.Errorf("expected fired=false on error")
	}
	if reason == "" || reason[:len("Composite rule error")] != "Composite rule error" {
		t.Errorf("reason = %q, want a Composite rule error prefix", reason)
	}
}

func TestEvaluate_CompositeFallbackMode(t *testing.T) {
	e := NewEvaluator()
	now := time.Now().UTC()
	tx := txAt("SENDER001", 1500, now)
	history := []*models.Transaction{
		txAt("SENDER001", 10, now.Add(-1*time.Minute)),
		txAt("SENDER001", 10, now.Add(-2*time.Minute)),
		txAt("SENDER001", 10, now.Add(-3*time.Minute)),
	}

	threshold := ThresholdSpec{Field: "amount", Operator: ">", Value: 1000}
	pattern := PatternSpec{N: 3, Minutes: 5}
	spec := CompositeSpec{Threshold: &threshold, Pattern: &pattern}

	fired, reason, err := e.Evaluate(spec, tx, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatalf("expected both sub-rules to fire and the composite to fire")
	}
	const prefix = "Composite Alert: "
	if len(reason) < len(prefix) || reason[:len(prefix)] != prefix {
		t.Errorf("reason = %q, want prefix %q", reason, prefix)
	}
}

func TestEvaluate_CompositeFallbackRequiresBoth(t *testing.T) {
	e := NewEvaluator()
	now := time.Now().UTC()
	tx := txAt("SENDER001", 1500, now)

	threshold := ThresholdSpec{Field: "amount", Operator: ">", Value: 1000}
	pattern := PatternSpec{N: 3, Minutes: 5} // no history, never fires
	spec := CompositeSpec{Threshold: &threshold, Pattern: &pattern}

	fired, reason, err := e.Evaluate(spec, tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Errorf("expected composite not to fire when only one side fires")
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty when the composite does not fire", reason)
	}
}

func TestEvaluate_UnsupportedSpecErrors(t *testing.T) {
	e := NewEvaluator()
	tx := txAt("S", 1500, time.Now().UTC())
	_, _, err := e.Evaluate(nil, tx, nil)
	if err == nil {
		t.Fatalf("expected an error for a nil/unsupported spec")
	}
}
