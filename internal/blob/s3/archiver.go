package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// Archiver implements domain.ActionArchiver by writing one JSON object per
// action record.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewArchiver creates an Archiver. prefix defaults to "actions".
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	if prefix == "" {
		prefix = "actions"
	}
	return &Archiver{writer: writer, prefix: prefix}
}

var _ domain.ActionArchiver = (*Archiver)(nil)

type archivedAction struct {
	ID         string                 `json:"id"`
	Action     string                 `json:"action"`
	MarketID   string                 `json:"market_id"`
	Account    string                 `json:"account,omitempty"`
	Operations []domain.OperationType `json:"operations"`
	Status     domain.ActionStatus    `json:"status"`
	Log        []string               `json:"log"`
	TxHashes   []string               `json:"tx_hashes,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Archive uploads rec to <prefix>/YYYY/MM/DD/<id>.json.
func (a *Archiver) Archive(ctx context.Context, rec domain.ActionRecord) error {
	body, err := json.Marshal(archivedAction{
		ID:         rec.ID,
		Action:     rec.Action,
		MarketID:   string(rec.MarketID),
		Account:    rec.Account,
		Operations: rec.Operations,
		Status:     rec.Status,
		Log:        rec.Log,
		TxHashes:   rec.TxHashes,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("s3blob: marshal action %s: %w", rec.ID, err)
	}
	key := a.Key(rec)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive action %s: %w", rec.ID, err)
	}
	return nil
}

// Key returns the object key for rec, partitioned by its UTC start day.
func (a *Archiver) Key(rec domain.ActionRecord) string {
	return path.Join(a.prefix, rec.StartedAt.UTC().Format("2006/01/02"), rec.ID+".json")
}
