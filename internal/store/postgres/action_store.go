package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

const defaultListLimit = 50

// ActionStore implements domain.ActionStore.
type ActionStore struct {
	pool *pgxpool.Pool
}

// NewActionStore creates an ActionStore backed by the given connection pool.
func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

var _ domain.ActionStore = (*ActionStore)(nil)

// Insert writes one action record. Re-inserting an id is a no-op.
func (s *ActionStore) Insert(ctx context.Context, rec domain.ActionRecord) error {
	logJSON, err := json.Marshal(nonNilStrings(rec.Log))
	if err != nil {
		return fmt.Errorf("postgres: marshal action log: %w", err)
	}

	ops := make([]string, len(rec.Operations))
	for i, op := range rec.Operations {
		ops[i] = string(op)
	}

	const q = `INSERT INTO bundle_actions
		(id, action, market_id, account, operations, status, log, tx_hashes, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.Action, string(rec.MarketID), rec.Account, ops, string(rec.Status),
		logJSON, nonNilStrings(rec.TxHashes), rec.Error, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert action %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns records newest first.
func (s *ActionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ActionRecord, error) {
	q, args := listRecentQuery(opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan action: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list actions rows: %w", err)
	}
	return out, nil
}

func listRecentQuery(opts domain.ListOpts) (string, []any) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := `SELECT id, action, market_id, account, operations, status, log, tx_hashes, error, started_at, finished_at
		FROM bundle_actions ORDER BY started_at DESC LIMIT $1`
	args := []any{limit}
	if opts.Offset > 0 {
		q += " OFFSET $2"
		args = append(args, opts.Offset)
	}
	return q, args
}

func scanAction(row pgx.Row) (domain.ActionRecord, error) {
	var (
		rec     domain.ActionRecord
		market  string
		status  string
		ops     []string
		logJSON []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.Action, &market, &rec.Account, &ops, &status,
		&logJSON, &rec.TxHashes, &rec.Error, &rec.StartedAt, &rec.FinishedAt,
	); err != nil {
		return domain.ActionRecord{}, err
	}
	rec.MarketID = domain.MarketID(market)
	rec.Status = domain.ActionStatus(status)
	rec.Operations = make([]domain.OperationType, len(ops))
	for i, op := range ops {
		rec.Operations[i] = domain.OperationType(op)
	}
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &rec.Log); err != nil {
			return domain.ActionRecord{}, fmt.Errorf("decode log: %w", err)
		}
	}
	return rec, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
