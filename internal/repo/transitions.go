package repo

import (
	"context"
	"database/sql"

	"planifica/internal/domain"
)

// AppendTransition writes one transition log entry and returns it with the
// assigned id.
func (r Repo) AppendTransition(ctx context.Context, tx *sql.Tx, t domain.Transition) (domain.Transition, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO record_transitions(record_id,from_state,to_state,actor_id,ts,comment) VALUES (?,?,?,?,?,?)`,
		t.RecordID, string(t.FromState), t.ToState, t.ActorID, t.TS, nullableStringPtr(t.Comment))
	if err != nil {
		return domain.Transition{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Transition{}, err
	}
	t.ID = id
	return t, nil
}

// ListTransitions returns the log for a record in insertion order.
func (r Repo) ListTransitions(ctx context.Context, recordID string) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,record_id,from_state,to_state,actor_id,ts,comment FROM record_transitions WHERE record_id=? ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func (r Repo) ListTransitionsTx(ctx context.Context, tx *sql.Tx, recordID string) ([]domain.Transition, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,record_id,from_state,to_state,actor_id,ts,comment FROM record_transitions WHERE record_id=? ORDER BY id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func collectTransitions(rows *sql.Rows) ([]domain.Transition, error) {
	var res []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var from string
		var comment sql.NullString
		if err := rows.Scan(&t.ID, &t.RecordID, &from, &t.ToState, &t.ActorID, &t.TS, &comment); err != nil {
			return nil, err
		}
		t.FromState = domain.RecordState(from)
		if comment.Valid {
			t.Comment = &comment.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
