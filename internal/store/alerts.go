package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// InsertAlertIfAbsent persists an alert keyed by its deterministic id.
// Returns false when the id was already present: the alert was routed by an
// earlier delivery (possibly before a crash) and must not fan out again.
func (s *Store) InsertAlertIfAbsent(ctx context.Context, a model.Alert) (bool, error) {
	var data []byte
	if a.Data != nil {
		var err error
		data, err = json.Marshal(a.Data)
		if err != nil {
			return false, fmt.Errorf("marshal alert data %s: %w", a.ID, err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, type, severity, token_address, message, data, timestamp, sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Type, string(a.Severity), a.TokenAddress, a.Message, data, a.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAlertSent records that the alert reached its sinks.
func (s *Store) MarkAlertSent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE alerts SET sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark alert sent %s: %w", id, err)
	}
	return nil
}
