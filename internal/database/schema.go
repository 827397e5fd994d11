package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Schema holds the migrations in order. Applied migrations are never edited.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pairing_sessions (
		session_key TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		network TEXT NOT NULL DEFAULT '',
		scopes JSONB NOT NULL DEFAULT '[]'::jsonb,
		wallet_name TEXT NOT NULL DEFAULT '',
		wallet_version TEXT NOT NULL,
		connected_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS transfers (
		id BIGSERIAL PRIMARY KEY,
		network TEXT NOT NULL,
		signer TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount NUMERIC(39, 0) NOT NULL CHECK (amount >= 0),
		tx_hash TEXT NOT NULL DEFAULT '',
		block_hash TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transfers_created_at ON transfers(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender)`,
}

// InitSchema applies any migrations the database has not seen yet
func InitSchema(ctx context.Context, db Database) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_versions (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)
		`)
		if err != nil {
			return fmt.Errorf("failed to create schema versions table: %w", err)
		}

		var currentVersion int
		err = tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&currentVersion)
		if err != nil {
			return fmt.Errorf("failed to get current schema version: %w", err)
		}

		for version, migration := range Schema {
			version++ // 1-based versioning
			if version <= currentVersion {
				continue
			}
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", version, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_versions (version) VALUES ($1)", version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", version, err)
			}
		}

		return nil
	})
}
