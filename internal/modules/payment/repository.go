package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Repository defines data access for the transaction ledger. The ledger is
// append/update-only: rows are never deleted and terminal rows never change.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByReferenceID(ctx context.Context, provider Provider, ref string) (*Transaction, error)
	// ApplyTerminal performs the single legal mutation: PENDING -> terminal.
	// It reports false without error when the row was already terminal, which
	// makes webhook replays no-ops at the storage layer.
	ApplyTerminal(ctx context.Context, id string, status TxStatus, referenceID string, webhookPayload interface{}) (bool, error)
}

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, tx *Transaction) error {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transactions
		  (id, user_id, provider, status, amount, currency, reference_id,
		   redirect_url, phone_number, description, metadata, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		tx.ID, tx.UserID, tx.Provider, tx.Status, tx.Amount, tx.Currency,
		nilIfEmpty(tx.ReferenceID), nilIfEmpty(tx.RedirectURL),
		nilIfEmpty(tx.PhoneNumber), nilIfEmpty(tx.Description), meta,
		nilIfEmpty(tx.LastError))
	return err
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*Transaction, error) {
	return r.scan(r.db.QueryRowContext(ctx, selectSQL+" WHERE id=$1", id))
}

func (r *postgresRepo) GetByReferenceID(ctx context.Context, provider Provider, ref string) (*Transaction, error) {
	return r.scan(r.db.QueryRowContext(ctx, selectSQL+" WHERE provider=$1 AND reference_id=$2", provider, ref))
}

func (r *postgresRepo) ApplyTerminal(ctx context.Context, id string, status TxStatus, referenceID string, webhookPayload interface{}) (bool, error) {
	payload, err := json.Marshal(webhookPayload)
	if err != nil {
		return false, err
	}
	now := time.Now()
	// The status guard in the WHERE clause is what makes concurrent and
	// replayed webhooks serialize correctly: only one update ever matches.
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status=$1, reference_id=COALESCE(NULLIF($2,''), reference_id),
		    webhook_received_at=$3, webhook_payload=$4, updated_at=$3
		WHERE id=$5 AND status=$6`,
		status, referenceID, now, payload, id, TxPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ── Scanner ───────────────────────────────────────────────────────────────────

const selectSQL = `
	SELECT id, user_id, provider, status, amount, currency, reference_id,
	       redirect_url, phone_number, description, metadata,
	       webhook_received_at, webhook_payload, last_error,
	       created_at, updated_at
	FROM transactions`

type rowScanner interface{ Scan(dest ...interface{}) error }

func (r *postgresRepo) scan(row rowScanner) (*Transaction, error) {
	tx := &Transaction{}
	var refID, redirectURL, phone, desc, lastErr sql.NullString
	var webhookAt sql.NullTime
	var metadata, webhookPayload []byte

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Provider, &tx.Status, &tx.Amount, &tx.Currency,
		&refID, &redirectURL, &phone, &desc, &metadata,
		&webhookAt, &webhookPayload, &lastErr,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if refID.Valid {
		tx.ReferenceID = refID.String
	}
	if redirectURL.Valid {
		tx.RedirectURL = redirectURL.String
	}
	if phone.Valid {
		tx.PhoneNumber = phone.String
	}
	if desc.Valid {
		tx.Description = desc.String
	}
	if lastErr.Valid {
		tx.LastError = lastErr.String
	}
	if webhookAt.Valid {
		tx.WebhookReceivedAt = &webhookAt.Time
	}
	if len(metadata) > 0 {
		var m map[string]interface{}
		_ = json.Unmarshal(metadata, &m)
		tx.Metadata = m
	}
	if len(webhookPayload) > 0 {
		var wp interface{}
		_ = json.Unmarshal(webhookPayload, &wp)
		tx.WebhookPayload = wp
	}
	return tx, nil
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
