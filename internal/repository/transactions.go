package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
)

const selectTransaction = `
	SELECT token, store_id, tendero_name, status, created_at, updated_at, expires_at,
		   client_data, store_validation, credit_result, review, version
	FROM credit_transactions
	WHERE token = ?
`

// GetTransaction retrieves a credit transaction by token.
func (r *SQLRepository) GetTransaction(ctx context.Context, token string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var status string
	var clientData, storeValidation, creditResult, review sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(selectTransaction), token).Scan(
		&tx.Token, &tx.StoreID, &tx.TenderoName, &status,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.ExpiresAt,
		&clientData, &storeValidation, &creditResult, &review,
		&tx.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}
	tx.Status = domain.TransactionStatus(status)

	columns := []struct {
		name string
		col  sql.NullString
		dst  any
	}{
		{"client_data", clientData, &tx.ClientData},
		{"store_validation", storeValidation, &tx.StoreValidation},
		{"credit_result", creditResult, &tx.CreditResult},
		{"review", review, &tx.Review},
	}
	for _, c := range columns {
		if !c.col.Valid || c.col.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.col.String), c.dst); err != nil {
			return nil, fmt.Errorf("failed to parse %s for %s: %w", c.name, token, err)
		}
	}

	return &tx, nil
}

// PutTransaction inserts a transaction or replaces an existing one.
func (r *SQLRepository) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Token == "" {
		return fmt.Errorf("%w: transaction token is required", domain.ErrInvalidInput)
	}

	cols, err := encodeTransaction(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credit_transactions (
			token, store_id, tendero_name, status, created_at, updated_at, expires_at,
			client_data, store_validation, credit_result, review, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			store_id = excluded.store_id,
			tendero_name = excluded.tendero_name,
			status = excluded.status,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at,
			client_data = excluded.client_data,
			store_validation = excluded.store_validation,
			credit_result = excluded.credit_result,
			review = excluded.review,
			version = excluded.version
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.Token, tx.StoreID, tx.TenderoName, string(tx.Status),
		tx.CreatedAt.UTC(), tx.UpdatedAt.UTC(), tx.ExpiresAt.UTC(),
		cols.clientData, cols.storeValidation, cols.creditResult, cols.review,
		tx.Version,
	)
	return err
}

// UpdateTransaction applies fn with optimistic concurrency: the row is only
// written if its version is unchanged since it was read. Lost races re-read
// and re-run fn, up to the configured number of attempts.
func (r *SQLRepository) UpdateTransaction(ctx context.Context, token string, fn domain.UpdateFunc) (*domain.Transaction, error) {
	query := `
		UPDATE credit_transactions
		SET status = ?, updated_at = ?, client_data = ?, store_validation = ?,
			credit_result = ?, review = ?, version = ?
		WHERE token = ? AND version = ?
	`

	for attempt := 0; attempt < r.retries; attempt++ {
		tx, err := r.GetTransaction(ctx, token)
		if err != nil {
			return nil, err
		}

		expected := tx.Version
		if err := fn(tx); err != nil {
			return nil, err
		}
		tx.Version = expected + 1

		cols, err := encodeTransaction(tx)
		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, r.rebind(query),
			string(tx.Status), tx.UpdatedAt.UTC(),
			cols.clientData, cols.storeValidation, cols.creditResult, cols.review,
			tx.Version, token, expected,
		)
		if err != nil {
			return nil, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return tx, nil
		}
	}

	return nil, fmt.Errorf("%w: transaction %s after %d attempts", domain.ErrConflict, token, r.retries)
}

type transactionColumns struct {
	clientData      sql.NullString
	storeValidation sql.NullString
	creditResult    sql.NullString
	review          sql.NullString
}

func encodeTransaction(tx *domain.Transaction) (transactionColumns, error) {
	var cols transactionColumns
	var err error

	if cols.clientData, err = nullJSON(tx.ClientData, tx.ClientData == nil); err != nil {
		return cols, fmt.Errorf("failed to encode client_data: %w", err)
	}
	if cols.storeValidation, err = nullJSON(tx.StoreValidation, tx.StoreValidation == nil); err != nil {
		return cols, fmt.Errorf("failed to encode store_validation: %w", err)
	}
	if cols.creditResult, err = nullJSON(tx.CreditResult, tx.CreditResult == nil); err != nil {
		return cols, fmt.Errorf("failed to encode credit_result: %w", err)
	}
	if cols.review, err = nullJSON(tx.Review, tx.Review == nil); err != nil {
		return cols, fmt.Errorf("failed to encode review: %w", err)
	}
	return cols, nil
}
