package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"manutenzioni/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const scadenzaColumns = `id,checklist_voce_id,civico,asset_id,asset_tipo,data_scadenza,frequenza,giorni_preavviso,stato,version,previous_id,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScadenza(row rowScanner) (domain.Scadenza, error) {
	var s domain.Scadenza
	var due, recurrence, state string
	var previousID, completedAt sql.NullString
	err := row.Scan(&s.ID, &s.ChecklistItemID, &s.Civico, &s.AssetID, &s.AssetType, &due, &recurrence,
		&s.LeadTimeDays, &state, &s.Version, &previousID, &s.CreatedAt, &s.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return s, domain.ErrInstanceNotFound
	}
	if err != nil {
		return s, err
	}
	s.DueDate, err = time.Parse(domain.DateLayout, due)
	if err != nil {
		return s, fmt.Errorf("scadenza %s: bad data_scadenza %q: %w", s.ID, due, err)
	}
	s.Recurrence = domain.Recurrence(recurrence)
	s.State = domain.State(state)
	if previousID.Valid {
		s.PreviousID = previousID.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	return s, nil
}

func (r Repo) InsertScadenza(ctx context.Context, tx *sql.Tx, s domain.Scadenza) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scadenze(`+scadenzaColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ChecklistItemID, s.Civico, s.AssetID, s.AssetType, s.DueDateString(), string(s.Recurrence),
		s.LeadTimeDays, string(s.State), s.Version, nullable(s.PreviousID), s.CreatedAt, s.UpdatedAt, nullableStringPtr(s.CompletedAt))
	return err
}

func (r Repo) GetScadenza(ctx context.Context, id string) (domain.Scadenza, error) {
	return getScadenza(ctx, r.DB, id)
}

func (r Repo) GetScadenzaTx(ctx context.Context, tx *sql.Tx, id string) (domain.Scadenza, error) {
	return getScadenza(ctx, tx, id)
}

func getScadenza(ctx context.Context, q queryer, id string) (domain.Scadenza, error) {
	s, err := scanScadenza(q.QueryRowContext(ctx, `SELECT `+scadenzaColumns+` FROM scadenze WHERE id=?`, id))
	if err == domain.ErrInstanceNotFound {
		return s, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return s, err
}

// ScadenzaFilter narrows ListScadenze. Zero fields do not filter.
type ScadenzaFilter struct {
	State           domain.State
	Civico          string
	AssetID         string
	DueDate         string
	ChecklistItemID string
	PreviousID      string
}

// ListScadenze returns matching rows ordered by due date, then insertion order.
func (r Repo) ListScadenze(ctx context.Context, f ScadenzaFilter) ([]domain.Scadenza, error) {
	return listScadenze(ctx, r.DB, f)
}

func (r Repo) ListScadenzeTx(ctx context.Context, tx *sql.Tx, f ScadenzaFilter) ([]domain.Scadenza, error) {
	return listScadenze(ctx, tx, f)
}

func listScadenze(ctx context.Context, q queryer, f ScadenzaFilter) ([]domain.Scadenza, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(col string, v string) {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	add("stato", string(f.State))
	add("civico", f.Civico)
	add("asset_id", f.AssetID)
	add("data_scadenza", f.DueDate)
	add("checklist_voce_id", f.ChecklistItemID)
	add("previous_id", f.PreviousID)
	query := `SELECT ` + scadenzaColumns + ` FROM scadenze`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY data_scadenza, created_at, rowid"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Scadenza
	for rows.Next() {
		s, err := scanScadenza(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListOpenByKey returns the scheduled members of the (civico, asset, date) group.
func (r Repo) ListOpenByKey(ctx context.Context, tx *sql.Tx, civico, assetID, dueDate string) ([]domain.Scadenza, error) {
	return listScadenze(ctx, tx, ScadenzaFilter{State: domain.StateScheduled, Civico: civico, AssetID: assetID, DueDate: dueDate})
}

// HasOpen reports whether the checklist item already has a scheduled
// instance on the asset.
func (r Repo) HasOpen(ctx context.Context, tx *sql.Tx, checklistItemID, assetID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM scadenze WHERE checklist_voce_id=? AND asset_id=? AND stato=? LIMIT 1`,
		checklistItemID, assetID, string(domain.StateScheduled)).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TransitionScadenza moves a row from (from, version) to the target state.
// It fails with ErrAlreadyCompleted when the row changed underneath.
func (r Repo) TransitionScadenza(ctx context.Context, tx *sql.Tx, id string, from domain.State, version int64, to domain.State, now string) (int64, error) {
	var completedAt any
	if to != domain.StateScheduled {
		completedAt = now
	}
	res, err := tx.ExecContext(ctx, `UPDATE scadenze SET stato=?, version=version+1, updated_at=?, completed_at=COALESCE(completed_at, ?)
WHERE id=? AND stato=? AND version=?`, string(to), now, completedAt, id, string(from), version)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, id)
	}
	return version + 1, nil
}

// DeleteScadenza removes a scheduled instance if it is still at version.
func (r Repo) DeleteScadenza(ctx context.Context, tx *sql.Tx, id string, version int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM scadenze WHERE id=? AND stato=? AND version=?`, id, string(domain.StateScheduled), version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, id)
	}
	return nil
}

func (r Repo) InsertEsecuzione(ctx context.Context, tx *sql.Tx, rec domain.ExecutionRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO esecuzioni(id,scadenza_id,operatore,eseguita_at,esito,eseguito,note) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.ScadenzaID, rec.Operator, rec.ExecutedAt, nullable(rec.Answer), rec.Done, nullable(rec.Notes))
	return err
}

// ListEsecuzioni returns the execution history of a scadenza, oldest first.
func (r Repo) ListEsecuzioni(ctx context.Context, scadenzaID string) ([]domain.ExecutionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,scadenza_id,operatore,eseguita_at,COALESCE(esito,''),eseguito,COALESCE(note,'')
FROM esecuzioni WHERE scadenza_id=? ORDER BY eseguita_at, id`, scadenzaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		if err := rows.Scan(&rec.ID, &rec.ScadenzaID, &rec.Operator, &rec.ExecutedAt, &rec.Answer, &rec.Done, &rec.Notes); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// MarkAlertRaised records that an alert of kind was raised for the scadenza.
// It returns false when the same alert had already been recorded.
func (r Repo) MarkAlertRaised(ctx context.Context, tx *sql.Tx, scadenzaID string, kind domain.AlertKind, at string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO alert_log(scadenza_id,kind,raised_at) VALUES (?,?,?)`, scadenzaID, string(kind), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountByState returns the number of scadenze per state.
func (r Repo) CountByState(ctx context.Context) (map[domain.State]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stato, COUNT(*) FROM scadenze GROUP BY stato`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.State]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		res[domain.State(state)] = n
	}
	return res, rows.Err()
}

// LatestEvents returns up to limit audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, entityKind, entityID string) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
