package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/riskshield/txscore/internal/models"
)

var (
	// ErrTransactionNotFound is returned when a correlation_id has no
	// matching row.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction is returned when Insert hits the unique
	// constraint on correlation_id.
	ErrDuplicateTransaction = errors.New("duplicate transaction (correlation_id exists)")
)

// TransactionListFilter narrows ListBy to a transaction status; empty
// matches all statuses.
type TransactionListFilter struct {
	Status models.TransactionStatus
}

// TransactionRepository is the Transaction Store (§4.E): insert/update of
// the persisted transaction record with a unique correlation_id
// constraint, plus the read paths admin views and the history provider
// need.
//
// Grounded on the teacher's internal/repositories/transaction_repository.go
// (pgx.Pool query/scan idiom, unique-constraint detection, paginated list
// queries); columns are this system's own schema, not the teacher's.
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository constructs a TransactionRepository.
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Exists reports whether a row with this correlation_id is already
// persisted.
func (r *TransactionRepository) Exists(ctx context.Context, correlationID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE correlation_id = $1)`,
		correlationID,
	).Scan(&exists)
	return exists, err
}

// Insert durably writes a new transaction row. A unique-constraint
// violation on correlation_id is surfaced as ErrDuplicateTransaction.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO transactions (
			correlation_id, sender_account, receiver_account, amount,
			transaction_type, timestamp, status, alerts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		tx.CorrelationID,
		tx.SenderAccount,
		tx.ReceiverAccount,
		tx.Amount,
		tx.TransactionType,
		tx.Timestamp,
		tx.Status,
		tx.AlertsJoined(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// Get retrieves a single transaction by correlation_id.
func (r *TransactionRepository) Get(ctx context.Context, correlationID string) (*models.Transaction, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT correlation_id, sender_account, receiver_account, amount,
			transaction_type, timestamp, status, alerts
		FROM transactions WHERE correlation_id = $1
	`, correlationID)
	return scanTransaction(row)
}

// ListSince returns every persisted, already-evaluated transaction with
// timestamp strictly after since, ordered chronologically. This is the
// bounded history-window query the Design Notes call for in place of the
// source's "load every transaction" behavior; sender filtering is left to
// the evaluator, per §4.C. status=queued rows are excluded: a transaction
// only ever reaches this table once the Worker Loop has evaluated and
// persisted its terminal outcome (see DESIGN.md's insert-in-worker
// decision), so the exclusion is belt-and-suspenders against a history
// snapshot ever counting a transaction against itself.
func (r *TransactionRepository) ListSince(ctx context.Context, since time.Time) ([]*models.Transaction, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT correlation_id, sender_account, receiver_account, amount,
			transaction_type, timestamp, status, alerts
		FROM transactions
		WHERE timestamp > $1 AND status != 'queued'
		ORDER BY timestamp ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListBy returns a page of transactions optionally filtered by status, for
// the admin list view.
func (r *TransactionRepository) ListBy(ctx context.Context, filter TransactionListFilter, page, perPage int) (*models.PaginatedTransactions, error) {
	offset := (page - 1) * perPage

	var total int
	if filter.Status == "" {
		if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
			return nil, err
		}
	} else {
		if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status = $1`, filter.Status).Scan(&total); err != nil {
			return nil, err
		}
	}

	var rows pgx.Rows
	var err error
	if filter.Status == "" {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT correlation_id, sender_account, receiver_account, amount,
				transaction_type, timestamp, status, alerts
			FROM transactions ORDER BY timestamp DESC LIMIT $1 OFFSET $2
		`, perPage, offset)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT correlation_id, sender_account, receiver_account, amount,
				transaction_type, timestamp, status, alerts
			FROM transactions WHERE status = $1 ORDER BY timestamp DESC LIMIT $2 OFFSET $3
		`, filter.Status, perPage, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return &models.PaginatedTransactions{Transactions: txs, Page: page, PerPage: perPage, Total: total}, nil
}

// ListAll returns every persisted transaction, for small admin/test
// deployments; admin pagination should prefer ListBy.
func (r *TransactionRepository) ListAll(ctx context.Context) ([]*models.Transaction, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT correlation_id, sender_account, receiver_account, amount,
			transaction_type, timestamp, status, alerts
		FROM transactions ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var alertsJoined string
	err := row.Scan(
		&tx.CorrelationID,
		&tx.SenderAccount,
		&tx.ReceiverAccount,
		&tx.Amount,
		&tx.TransactionType,
		&tx.Timestamp,
		&tx.Status,
		&alertsJoined,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	tx.Alerts = models.SplitAlerts(alertsJoined)
	return tx, nil
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	txs := make([]*models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
