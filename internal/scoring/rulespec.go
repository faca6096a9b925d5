package scoring

import (
	"fmt"

	"github.com/riskshield/txscore/internal/models"
)

// RuleSpec is the tagged-variant replacement for the source's loosely-typed
// params bag: each rule_type gets a concrete struct carrying exactly the
// fields it needs. A Rule's Params JSON is parsed into a RuleSpec exactly
// once, when the Rule Store loads it, not on every evaluation.
type RuleSpec interface {
	ruleSpec()
}

// ThresholdSpec is the parsed params for a threshold rule.
type ThresholdSpec struct {
	Field    string
	Operator string
	Value    float64
}

func (ThresholdSpec) ruleSpec() {}

// PatternSpec is the parsed params for a pattern rule, covering both the
// basic N-in-T-minutes check and the extended pattern_type sub-forms.
type PatternSpec struct {
	N       int
	Minutes float64

	PatternType string // "", "series", "aggregates", "micro_transactions", "burst", "round_amounts"

	SeriesWindowMinutes float64
	MaxIntervalMinutes  float64
	MinSeriesCount      int

	WindowMinutes   float64
	MinCount        int
	AmountThreshold float64
	AggregateFunc   string // sum | avg | median

	MaxAmount float64
	MinTotal  float64

	BurstWindowMinutes  float64
	BurstThreshold      int
	NormalWindowMinutes float64
	NormalMultiplier    float64

	RoundThreshold float64
}

func (PatternSpec) ruleSpec() {}

// MLSpec is the parsed params for the deterministic "ml" scoring rule.
type MLSpec struct {
	Threshold float64
}

func (MLSpec) ruleSpec() {}

// CompositeSpec is the parsed params for a composite rule: either
// expression mode (Expression + Rules) or fallback mode (Threshold +
// Pattern).
type CompositeSpec struct {
	Expression string
	Rules      map[string]RuleSpec

	Threshold *ThresholdSpec
	Pattern   *PatternSpec
}

func (CompositeSpec) ruleSpec() {}

// ParseSpec parses a Rule's raw params bag into a RuleSpec, dispatching on
// rule_type. It is the single place where the JSON bag is interpreted; the
// evaluator never touches raw JSON again.
func ParseSpec(ruleType models.RuleType, params models.JSONB) (RuleSpec, error) {
	switch ruleType {
	case models.RuleThreshold:
		return parseThresholdSpec(params), nil
	case models.RulePattern:
		return parsePatternSpec(params), nil
	case models.RuleML:
		return parseMLSpec(params), nil
	case models.RuleComposite:
		return parseCompositeSpec(params)
	default:
		return nil, fmt.Errorf("scoring: unknown rule_type %q", ruleType)
	}
}

func parseThresholdSpec(p models.JSONB) ThresholdSpec {
	return ThresholdSpec{
		Field:    getString(p, "field", "amount"),
		Operator: getString(p, "operator", ">"),
		Value:    getFloat(p, "value", 100000),
	}
}

func parsePatternSpec(p models.JSONB) PatternSpec {
	return PatternSpec{
		N:       getInt(p, "N", 3),
		Minutes: getFloat(p, "minutes", 5),

		PatternType: getString(p, "pattern_type", ""),

		SeriesWindowMinutes: getFloat(p, "series_window_minutes", 30),
		MaxIntervalMinutes:  getFloat(p, "max_interval_minutes", 5),
		MinSeriesCount:      getInt(p, "min_series_count", 3),

		WindowMinutes:   getFloat(p, "window_minutes", 60),
		MinCount:        getInt(p, "min_count", 3),
		AmountThreshold: getFloat(p, "amount_threshold", 100000),
		AggregateFunc:   getString(p, "aggregate", "sum"),

		MaxAmount: getFloat(p, "max_amount", 100),
		MinTotal:  getFloat(p, "min_total", 500),

		BurstWindowMinutes:  getFloat(p, "burst_window_minutes", 5),
		BurstThreshold:      getInt(p, "burst_threshold", 3),
		NormalWindowMinutes: getFloat(p, "normal_window_minutes", 60),
		NormalMultiplier:    getFloat(p, "normal_multiplier", 3),

		RoundThreshold: getFloat(p, "round_threshold", 0.5),
	}
}

func parseMLSpec(p models.JSONB) MLSpec {
	return MLSpec{Threshold: getFloat(p, "threshold", 0.8)}
}

func parseCompositeSpec(p models.JSONB) (CompositeSpec, error) {
	if expr, ok := p["expression"]; ok {
		exprStr, _ := expr.(string)
		rulesRaw, _ := p["rules"].(map[string]interface{})
		rules := make(map[string]RuleSpec, len(rulesRaw))
		for name, raw := range rulesRaw {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				return CompositeSpec{}, fmt.Errorf("scoring: sub-rule %q is not an object", name)
			}
			typeName, _ := entry["type"].(string)
			subParams, _ := entry["params"].(map[string]interface{})
			spec, err := ParseSpec(models.RuleType(typeName), models.JSONB(subParams))
			if err != nil {
				return CompositeSpec{}, fmt.Errorf("scoring: sub-rule %q: %w", name, err)
			}
			rules[name] = spec
		}
		return CompositeSpec{Expression: exprStr, Rules: rules}, nil
	}

	thresholdRaw, _ := p["threshold"].(map[string]interface{})
	patternRaw, _ := p["pattern"].(map[string]interface{})
	threshold := parseThresholdSpec(models.JSONB(thresholdRaw))
	pattern := parsePatternSpec(models.JSONB(patternRaw))
	return CompositeSpec{Threshold: &threshold, Pattern: &pattern}, nil
}

func getString(p models.JSONB, key, def string) string {
	if p == nil {
		return def
	}
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func getFloat(p models.JSONB, key string, def float64) float64 {
	if p == nil {
		return def
	}
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func getInt(p models.JSONB, key string, def int) int {
	return int(getFloat(p, key, float64(def)))
}
