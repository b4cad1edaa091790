package db

import (
	"context"
	"database/sql"
)

// RememberStore persists trigger/response pairs. It implements responder.Store.
type RememberStore struct{ DB *sql.DB }

// Load returns every stored trigger/response pair.
func (s *RememberStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT trigger, response FROM remembers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var trigger, response string
		if err := rows.Scan(&trigger, &response); err != nil {
			return nil, err
		}
		out[trigger] = response
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the response for trigger.
func (s *RememberStore) Upsert(ctx context.Context, trigger, response string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO remembers(trigger, response, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(trigger) DO UPDATE SET response=EXCLUDED.response, updated_at=NOW()`,
		trigger, response)
	return err
}

// Delete removes trigger; deleting an absent row is not an error.
func (s *RememberStore) Delete(ctx context.Context, trigger string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM remembers WHERE trigger=$1`, trigger)
	return err
}
