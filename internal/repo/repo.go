package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"planifica/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const recordColumns = `id,owner_actor_id,community,period,tally_json,total,state,reviewer_actor_id,review_comments,revision_count,supersedes,created_at,updated_at`

func scanRecord(scan func(dest ...any) error) (domain.Record, error) {
	var rec domain.Record
	var reviewer, comments, supersedes sql.NullString
	err := scan(&rec.ID, &rec.OwnerActorID, &rec.Community, &rec.Period, &rec.TallyJSON, &rec.Total,
		&rec.State, &reviewer, &comments, &rec.RevisionCount, &supersedes, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if reviewer.Valid {
		rec.ReviewerActorID = &reviewer.String
	}
	if comments.Valid {
		rec.ReviewComments = &comments.String
	}
	if supersedes.Valid {
		rec.Supersedes = &supersedes.String
	}
	return rec, nil
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.OwnerActorID, rec.Community, rec.Period, rec.TallyJSON, rec.Total, rec.State,
		nullableStringPtr(rec.ReviewerActorID), nullableStringPtr(rec.ReviewComments), rec.RevisionCount,
		nullableStringPtr(rec.Supersedes), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) UpdateRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET tally_json=?, total=?, state=?, reviewer_actor_id=?, review_comments=?, revision_count=?, updated_at=? WHERE id=?`,
		rec.TallyJSON, rec.Total, rec.State, nullableStringPtr(rec.ReviewerActorID),
		nullableStringPtr(rec.ReviewComments), rec.RevisionCount, rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	return scanRecord(row.Scan)
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, id string) (domain.Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	return scanRecord(row.Scan)
}

// LatestOwnerPeriodRecord returns the most recent record an owner has for a
// period. A non-terminal result blocks resubmission; a terminal one is the
// supersedes target.
func (r Repo) LatestOwnerPeriodRecord(ctx context.Context, tx *sql.Tx, ownerActorID, period string) (domain.Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE owner_actor_id=? AND period=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		ownerActorID, period)
	return scanRecord(row.Scan)
}

type RecordFilters struct {
	OwnerActorID    string
	Community       string
	Communities     []string
	Period          string
	State           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// where renders the filters as a SQL clause shared by list and count queries.
func (f RecordFilters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.OwnerActorID != "" {
		clauses = append(clauses, "owner_actor_id=?")
		args = append(args, f.OwnerActorID)
	}
	if f.Community != "" {
		clauses = append(clauses, "community=?")
		args = append(args, f.Community)
	}
	if len(f.Communities) > 0 {
		placeholders := strings.Repeat("?,", len(f.Communities))
		clauses = append(clauses, fmt.Sprintf("community IN (%s)", placeholders[:len(placeholders)-1]))
		for _, c := range f.Communities {
			args = append(args, c)
		}
	}
	if f.Period != "" {
		clauses = append(clauses, "period=?")
		args = append(args, f.Period)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListRecords(ctx context.Context, f RecordFilters) ([]domain.Record, error) {
	where, args := f.where()
	query := `SELECT ` + recordColumns + ` FROM records ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountRecordsByState tallies records per state under the given filters.
func (r Repo) CountRecordsByState(ctx context.Context, f RecordFilters) (map[domain.RecordState]int, error) {
	where, args := f.where()
	query := `SELECT state, count(*) FROM records ` + where + ` GROUP BY state`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.RecordState]int{}
	for rows.Next() {
		var state domain.RecordState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

func (r Repo) UpsertMethodGoal(ctx context.Context, tx *sql.Tx, g domain.MethodGoal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO method_goals(method,period_year,target,updated_at) VALUES (?,?,?,?)
ON CONFLICT(method,period_year) DO UPDATE SET target=excluded.target, updated_at=excluded.updated_at`,
		g.Method, g.PeriodYear, g.Target, g.UpdatedAt)
	return err
}

func (r Repo) GetMethodGoal(ctx context.Context, tx *sql.Tx, method domain.Method, year int) (domain.MethodGoal, error) {
	var g domain.MethodGoal
	row := queryRow(ctx, r.DB, tx, `SELECT method,period_year,target,updated_at FROM method_goals WHERE method=? AND period_year=?`, method, year)
	err := row.Scan(&g.Method, &g.PeriodYear, &g.Target, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListMethodGoals(ctx context.Context, year int) ([]domain.MethodGoal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT method,period_year,target,updated_at FROM method_goals WHERE period_year=? ORDER BY method`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MethodGoal
	for rows.Next() {
		var g domain.MethodGoal
		if err := rows.Scan(&g.Method, &g.PeriodYear, &g.Target, &g.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCommunityGoal(ctx context.Context, tx *sql.Tx, g domain.CommunityGoal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO community_goals(community,period_year,target,mef_population,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(community,period_year) DO UPDATE SET target=excluded.target, mef_population=excluded.mef_population, updated_at=excluded.updated_at`,
		g.Community, g.PeriodYear, g.Target, g.MEFPopulation, g.UpdatedAt)
	return err
}

func (r Repo) GetCommunityGoal(ctx context.Context, tx *sql.Tx, community string, year int) (domain.CommunityGoal, error) {
	var g domain.CommunityGoal
	row := queryRow(ctx, r.DB, tx, `SELECT community,period_year,target,mef_population,updated_at FROM community_goals WHERE community=? AND period_year=?`, community, year)
	err := row.Scan(&g.Community, &g.PeriodYear, &g.Target, &g.MEFPopulation, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListCommunityGoals(ctx context.Context, year int) ([]domain.CommunityGoal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT community,period_year,target,mef_population,updated_at FROM community_goals WHERE period_year=? ORDER BY community`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommunityGoal
	for rows.Next() {
		var g domain.CommunityGoal
		if err := rows.Scan(&g.Community, &g.PeriodYear, &g.Target, &g.MEFPopulation, &g.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id greater than cursor, oldest first.
// The sync dispatcher drains the feed in insertion order.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the newest event id, 0 when the feed is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// queryRow runs against the transaction when one is open, the pool otherwise.
func queryRow(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return db.QueryRowContext(ctx, query, args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
