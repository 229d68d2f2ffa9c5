package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS office_agent_history (
	user_name VARCHAR(64) PRIMARY KEY,
	chat_name VARCHAR(100) NOT NULL,
	input_file_path VARCHAR(500) NOT NULL,
	output_file_path VARCHAR(500) NOT NULL,
	query VARCHAR(10000) NOT NULL,
	remarks VARCHAR(10000) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSQL = `INSERT INTO office_agent_history
	(user_name, chat_name, input_file_path, output_file_path, query, remarks, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_name) DO UPDATE SET
	chat_name = EXCLUDED.chat_name,
	input_file_path = EXCLUDED.input_file_path,
	output_file_path = EXCLUDED.output_file_path,
	query = EXCLUDED.query,
	remarks = EXCLUDED.remarks,
	updated_at = now()`

// PostgresStore keeps each user's latest request in one row.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure history table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		rec.UserName, rec.ChatName, rec.InputFilePath, rec.OutputFilePath, rec.Query, rec.Remarks)
	if err != nil {
		return fmt.Errorf("upsert history record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
