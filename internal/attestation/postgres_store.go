package attestation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/pagination"
)

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 50

// PostgresStore persists attestation records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed attestation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the attestations table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attestations (
			simulated_tx_id  VARCHAR(64) PRIMARY KEY,
			tx_hash          TEXT NOT NULL,
			compliance_score INTEGER NOT NULL CHECK (compliance_score BETWEEN 0 AND 100),
			risk_level       VARCHAR(16) NOT NULL,
			wallet_key       VARCHAR(32) NOT NULL,
			wallet_address   VARCHAR(128) NOT NULL,
			payload_hash     VARCHAR(66) NOT NULL,
			signature        VARCHAR(132),
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_attestations_created_at ON attestations (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_attestations_tx_hash ON attestations (tx_hash);
	`)
	return err
}

// Create inserts rec. Re-inserting the same id is a no-op so retried writes
// stay idempotent.
func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attestations (
			simulated_tx_id, tx_hash, compliance_score, risk_level,
			wallet_key, wallet_address, payload_hash, signature, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (simulated_tx_id) DO NOTHING`,
		r.SimulatedTxID, r.TxHash, r.ComplianceScore, string(r.RiskLevel),
		r.WalletKey, r.WalletAddress, r.PayloadHash, nullString(r.Signature), r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT simulated_tx_id, tx_hash, compliance_score, risk_level,
		       wallet_key, wallet_address, payload_hash, signature, created_at
		FROM attestations WHERE simulated_tx_id = $1`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// List returns up to limit records, newest first.
func (p *PostgresStore) List(ctx context.Context, limit int, after *pagination.Cursor) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT simulated_tx_id, tx_hash, compliance_score, risk_level,
			       wallet_key, wallet_address, payload_hash, signature, created_at
			FROM attestations
			ORDER BY created_at DESC, simulated_tx_id DESC
			LIMIT $1`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT simulated_tx_id, tx_hash, compliance_score, risk_level,
			       wallet_key, wallet_address, payload_hash, signature, created_at
			FROM attestations
			WHERE (created_at, simulated_tx_id) < ($2, $3)
			ORDER BY created_at DESC, simulated_tx_id DESC
			LIMIT $1`, limit, after.CreatedAt, after.ID)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	r := &Record{}
	var (
		riskLevel string
		signature sql.NullString
	)
	err := sc.Scan(
		&r.SimulatedTxID, &r.TxHash, &r.ComplianceScore, &riskLevel,
		&r.WalletKey, &r.WalletAddress, &r.PayloadHash, &signature, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.RiskLevel = compliance.RiskLevel(riskLevel)
	r.Signature = signature.String
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
