package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/riskshield/txscore/internal/models"
)

// ErrRuleNotFound is returned by Update/Delete when the rule id is absent.
var ErrRuleNotFound = errors.New("rule not found")

// RuleRepository is the Rule Store (§4.D): CRUD over rule definitions with
// an atomic RuleHistory audit append on every mutation.
//
// Grounded on the teacher's internal/repositories/audit_repository.go
// Create/CreateBatch/scan idiom for the append-only history table, and on
// database.go's WithTransaction helper for the single-commit atomicity
// §4.D requires between a rule mutation and its history record.
type RuleRepository struct {
	db *Database
}

// NewRuleRepository constructs a RuleRepository.
func NewRuleRepository(db *Database) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListEnabled returns only enabled rules, in a deterministic (id) order.
// Disabled rules are invisible here but remain in the table for audit.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*models.Rule, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, rule_type, enabled, params
		FROM rules WHERE enabled = true ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Get retrieves one rule regardless of its enabled state, for admin edit
// forms and Update/Delete's pre-image.
func (r *RuleRepository) Get(ctx context.Context, id string) (*models.Rule, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, rule_type, enabled, params FROM rules WHERE id = $1
	`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// paramsForValue builds the params bag §4.D specifies for create/update:
// threshold rules get the full {field, operator, value} triple; every
// other rule_type gets the bare {value}.
func paramsForValue(ruleType models.RuleType, value float64) models.JSONB {
	if ruleType == models.RuleThreshold {
		return models.JSONB{"field": "amount", "operator": ">", "value": value}
	}
	return models.JSONB{"value": value}
}

// Create assigns a fresh id, persists an enabled rule, and appends a
// RuleHistory(action=create) record in the same commit.
func (r *RuleRepository) Create(ctx context.Context, name string, ruleType models.RuleType, value float64, changedBy string) (*models.Rule, error) {
	rule := &models.Rule{
		ID:       uuid.New().String(),
		Name:     name,
		RuleType: ruleType,
		Enabled:  true,
		Params:   paramsForValue(ruleType, value),
	}

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		paramsBytes, err := rule.Params.Value()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO rules (id, name, rule_type, enabled, params)
			VALUES ($1, $2, $3, $4, $5)
		`, rule.ID, rule.Name, rule.RuleType, rule.Enabled, paramsBytes); err != nil {
			return err
		}
		return insertRuleHistory(ctx, tx, rule.ID, models.ActionCreate, nil, &rule.Params, changedBy)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Update rewrites name/rule_type/params for an existing rule, recording
// both the pre- and post-image in the RuleHistory append.
func (r *RuleRepository) Update(ctx context.Context, id, name string, ruleType models.RuleType, value float64, changedBy string) (*models.Rule, error) {
	newParams := paramsForValue(ruleType, value)
	var updated *models.Rule

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		before, err := scanRule(tx.QueryRow(ctx, `
			SELECT id, name, rule_type, enabled, params FROM rules WHERE id = $1 FOR UPDATE
		`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}

		paramsBytes, err := newParams.Value()
		if err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `
			UPDATE rules SET name = $2, rule_type = $3, params = $4 WHERE id = $1
		`, id, name, ruleType, paramsBytes)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrRuleNotFound
		}

		updated = &models.Rule{ID: id, Name: name, RuleType: ruleType, Enabled: before.Enabled, Params: newParams}
		return insertRuleHistory(ctx, tx, id, models.ActionUpdate, &before.Params, &updated.Params, changedBy)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a rule, recording its pre-image in the RuleHistory append.
func (r *RuleRepository) Delete(ctx context.Context, id, changedBy string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		before, err := scanRule(tx.QueryRow(ctx, `
			SELECT id, name, rule_type, enabled, params FROM rules WHERE id = $1 FOR UPDATE
		`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrRuleNotFound
		}

		return insertRuleHistory(ctx, tx, id, models.ActionDelete, &before.Params, nil, changedBy)
	})
}

func insertRuleHistory(ctx context.Context, tx pgx.Tx, ruleID string, action models.RuleAction, oldValues, newValues *models.JSONB, changedBy string) error {
	var oldBytes, newBytes interface{}
	if oldValues != nil {
		v, err := oldValues.Value()
		if err != nil {
			return err
		}
		oldBytes = v
	}
	if newValues != nil {
		v, err := newValues.Value()
		if err != nil {
			return err
		}
		newBytes = v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO rule_history (rule_id, action, old_values, new_values, changed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ruleID, action, oldBytes, newBytes, changedByOrDefault(changedBy), time.Now().UTC())
	return err
}

func changedByOrDefault(changedBy string) string {
	if changedBy == "" {
		return "admin"
	}
	return changedBy
}

func scanRule(row rowScanner) (*models.Rule, error) {
	rule := &models.Rule{}
	if err := row.Scan(&rule.ID, &rule.Name, &rule.RuleType, &rule.Enabled, &rule.Params); err != nil {
		return nil, err
	}
	return rule, nil
}
