package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"dotbeacon/internal/pairing"
)

// PostgresStore keeps the paired session and the transfer history in Postgres
type PostgresStore struct {
	db         Database
	sessionKey string
	ownsDB     bool
}

// NewPostgresStore migrates db and returns a store for the session under sessionKey
func NewPostgresStore(ctx context.Context, db Database, sessionKey string) (*PostgresStore, error) {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}
	if err := InitSchema(ctx, db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, sessionKey: sessionKey}, nil
}

// OpenPostgresStore connects with cfg and owns the connection
func OpenPostgresStore(ctx context.Context, cfg Config, sessionKey string) (*PostgresStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	db, err := New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	store, err := NewPostgresStore(ctx, db, sessionKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*pairing.AccountInfo, error) {
	var (
		account pairing.AccountInfo
		scopes  []byte
	)
	err := s.db.GetPool().QueryRow(ctx, `
		SELECT public_key, address, network, scopes, wallet_name, wallet_version, connected_at
		FROM pairing_sessions WHERE session_key = $1`, s.sessionKey,
	).Scan(&account.PublicKey, &account.Address, &account.Network, &scopes,
		&account.WalletName, &account.WalletVersion, &account.ConnectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if err := json.Unmarshal(scopes, &account.Scopes); err != nil {
		return nil, fmt.Errorf("decoding session scopes: %w", err)
	}
	return &account, nil
}

func (s *PostgresStore) Save(ctx context.Context, account *pairing.AccountInfo) error {
	scopes, err := json.Marshal(account.Scopes)
	if err != nil {
		return fmt.Errorf("encoding session scopes: %w", err)
	}
	_, err = s.db.GetPool().Exec(ctx, `
		INSERT INTO pairing_sessions
			(session_key, public_key, address, network, scopes, wallet_name, wallet_version, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_key) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			address = EXCLUDED.address,
			network = EXCLUDED.network,
			scopes = EXCLUDED.scopes,
			wallet_name = EXCLUDED.wallet_name,
			wallet_version = EXCLUDED.wallet_version,
			connected_at = EXCLUDED.connected_at,
			updated_at = NOW()`,
		s.sessionKey, account.PublicKey, account.Address, account.Network, scopes,
		account.WalletName, account.WalletVersion, account.ConnectedAt)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.GetPool().Exec(ctx, `DELETE FROM pairing_sessions WHERE session_key = $1`, s.sessionKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// RecordTransfer inserts t, or updates it when t.ID is set, and fills in its ID
// and timestamps
func (s *PostgresStore) RecordTransfer(ctx context.Context, t *Transfer) error {
	amount := pgtype.Numeric{Int: new(big.Int), Valid: true}
	if t.Amount != nil {
		amount.Int.Set(t.Amount)
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if t.ID == 0 {
			return tx.QueryRow(ctx, `
				INSERT INTO transfers (network, signer, sender, recipient, amount, tx_hash, block_hash, stage, error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id, created_at, updated_at`,
				t.Network, t.Signer, t.From, t.To, amount, t.TxHash, t.BlockHash, t.Stage, t.Error,
			).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		}

		err := tx.QueryRow(ctx, `
			UPDATE transfers SET tx_hash = $2, block_hash = $3, stage = $4, error = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at`,
			t.ID, t.TxHash, t.BlockHash, t.Stage, t.Error,
		).Scan(&t.CreatedAt, &t.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transfer %d not found", t.ID)
		}
		return err
	})
}

// ListTransfers returns up to limit transfers, newest first
func (s *PostgresStore) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.GetPool().Query(ctx, `
		SELECT id, network, signer, sender, recipient, amount::text, tx_hash, block_hash, stage, error, created_at, updated_at
		FROM transfers ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var (
			t      Transfer
			amount string
		)
		if err := rows.Scan(&t.ID, &t.Network, &t.Signer, &t.From, &t.To, &amount,
			&t.TxHash, &t.BlockHash, &t.Stage, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		t.Amount, _ = new(big.Int).SetString(amount, 10)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
