// Package scoring implements the rule evaluation engine: the tagged-variant
// RuleSpec parser and the four rule families (threshold, pattern,
// composite, ml). The history snapshot they read is supplied by the caller
// (see package history).
//
// Grounded on the teacher's internal/scoring/rule_engine.go dispatch-tree
// shape (mutex-guarded rule slice, a single evaluateCondition-style
// dispatch), adapted to this system's exact four-family semantics instead
// of the teacher's hardcoded business rules.
package scoring

import (
	"fmt"
	"math"

	"github.com/riskshield/txscore/internal/models"
	"github.com/riskshield/txscore/internal/ruleparser"
)

// Evaluator evaluates one RuleSpec against a transaction and a history
// snapshot. It holds no state; a single instance is reused across the
// worker's lifetime.
type Evaluator struct{}

// NewEvaluator constructs an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate dispatches on the concrete RuleSpec type and returns whether the
// rule fired and its reason string. err is non-nil only for faults the
// caller (the worker loop) must log as rule_error and skip; composite rules
// never return an error here, since §4.A requires them to swallow internal
// faults into a reason string instead of propagating them.
func (e *Evaluator) Evaluate(spec RuleSpec, tx *models.Transaction, history []*models.Transaction) (fired bool, reason string, err error) {
	switch s := spec.(type) {
	case ThresholdSpec:
		return e.evaluateThreshold(s, tx)
	case PatternSpec:
		return e.evaluatePattern(s, tx, history)
	case MLSpec:
		return e.evaluateML(s, tx)
	case CompositeSpec:
		f, r := e.evaluateComposite(s, tx, history)
		return f, r, nil
	default:
		return false, "", fmt.Errorf("scoring: unsupported rule spec %T", spec)
	}
}

func (e *Evaluator) evaluateThreshold(s ThresholdSpec, tx *models.Transaction) (bool, string, error) {
	v := fieldValue(tx, s.Field)
	fired, err := compareOperator(v, s.Operator, s.Value)
	if err != nil {
		return false, "", err
	}
	reason := fmt.Sprintf("%s %s %s %s", s.Field, formatAmount(v), s.Operator, formatParam(s.Value))
	return fired, reason, nil
}

func fieldValue(tx *models.Transaction, field string) float64 {
	if field == "amount" {
		return tx.Amount
	}
	return 0
}

func compareOperator(v float64, op string, value float64) (bool, error) {
	switch op {
	case ">":
		return v > value, nil
	case ">=":
		return v >= value, nil
	case "<":
		return v < value, nil
	case "<=":
		return v <= value, nil
	case "==":
		return v == value, nil
	case "!=":
		return v != value, nil
	default:
		return false, fmt.Errorf("scoring: unknown operator %q", op)
	}
}

func (e *Evaluator) evaluateML(s MLSpec, tx *models.Transaction) (bool, string, error) {
	score := math.Min(tx.Amount/200000, 1.0)
	fired := score > s.Threshold
	reason := fmt.Sprintf("ML probability %.2f > %s", score, formatParam(s.Threshold))
	return fired, reason, nil
}

// evaluateComposite never returns an error: any internal fault (parser
// error, unknown sub-rule, malformed fallback params) becomes the fixed
// "Composite rule error: <msg>" reason with fired=false, per §4.A.
func (e *Evaluator) evaluateComposite(s CompositeSpec, tx *models.Transaction, history []*models.Transaction) (bool, string) {
	if s.Expression != "" {
		adapter := &compositeSubEvaluator{evaluator: e, rules: s.Rules, tx: tx, history: history}
		fired, reason, err := ruleparser.Evaluate(s.Expression, adapter)
		if err != nil {
			return false, fmt.Sprintf("Composite rule error: %s", err.Error())
		}
		return fired, reason
	}

	if s.Threshold == nil || s.Pattern == nil {
		return false, "Composite rule error: missing threshold/pattern parameters"
	}
	tFired, tReason, err := e.evaluateThreshold(*s.Threshold, tx)
	if err != nil {
		return false, fmt.Sprintf("Composite rule error: %s", err.Error())
	}
	pFired, pReason, err := e.evaluatePattern(*s.Pattern, tx, history)
	if err != nil {
		return false, fmt.Sprintf("Composite rule error: %s", err.Error())
	}
	if tFired && pFired {
		return true, fmt.Sprintf("Composite Alert: %s + %s", tReason, pReason)
	}
	return false, ""
}

// compositeSubEvaluator adapts a composite rule's own named sub-rule map to
// ruleparser.SubRuleEvaluator, recursing back into the Evaluator for each
// named identifier.
type compositeSubEvaluator struct {
	evaluator *Evaluator
	rules     map[string]RuleSpec
	tx        *models.Transaction
	history   []*models.Transaction
}

func (c *compositeSubEvaluator) EvaluateNamed(name string) (bool, string, error) {
	spec, ok := c.rules[name]
	if !ok {
		return false, "", fmt.Errorf("unknown rule %q", name)
	}
	return c.evaluator.Evaluate(spec, c.tx, c.history)
}
