package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rota/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const processColumns = `id,applicant_id,applicant_name,activity_id,activity_name,status,created_at,updated_at,agency_deadline,applicant_deadline,answers_json,issuance_code`

// NextProtocolTx increments and returns the per-year protocol counter. Must
// run inside the same transaction as the insert so concurrent intakes never
// mint the same number.
func (r Repo) NextProtocolTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO protocol_counters(year,counter) VALUES (?,1)
ON CONFLICT(year) DO UPDATE SET counter=counter+1`, year); err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT counter FROM protocol_counters WHERE year=?`, year).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r Repo) InsertProcessTx(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	answers, err := marshalAnswers(p.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO processes(`+processColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ApplicantID, p.ApplicantName, p.ActivityID, p.ActivityName, string(p.Status),
		p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.AgencyDeadline), nullableStringPtr(p.ApplicantDeadline),
		answers, nullable(p.IssuanceCode))
	if err != nil {
		return err
	}
	for docID, received := range p.Documents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO process_documents(process_id,doc_id,received) VALUES (?,?,?)`,
			p.ID, docID, boolInt(received)); err != nil {
			return err
		}
	}
	for _, h := range p.History {
		if err := r.InsertHistoryTx(ctx, tx, p.ID, h); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProcessTx rewrites the mutable columns. Documents and history have
// their own operations; creation-time columns never change.
func (r Repo) UpdateProcessTx(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	answers, err := marshalAnswers(p.Answers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE processes SET status=?, updated_at=?, agency_deadline=?, applicant_deadline=?, answers_json=?, issuance_code=? WHERE id=?`,
		string(p.Status), p.UpdatedAt, nullableStringPtr(p.AgencyDeadline), nullableStringPtr(p.ApplicantDeadline),
		answers, nullable(p.IssuanceCode), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertHistoryTx(ctx context.Context, tx *sql.Tx, processID string, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO process_history(id,process_id,ts,action,actor,note) VALUES (?,?,?,?,?,?)`,
		h.ID, processID, h.Date, h.Action, h.Actor, nullable(h.Note))
	return err
}

// SetDocumentTx flips one checklist row. Unknown doc ids are ErrNotFound: the
// checklist is fixed at creation from the activity's requirements.
func (r Repo) SetDocumentTx(ctx context.Context, tx *sql.Tx, processID, docID string, received bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE process_documents SET received=? WHERE process_id=? AND doc_id=?`,
		boolInt(received), processID, docID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	p, err := scanProcess(r.DB.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	return r.attach(ctx, queryerDB{r.DB}, p)
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	p, err := scanProcess(tx.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	return r.attach(ctx, queryerTx{tx}, p)
}

type ProcessFilters struct {
	Status      string
	ApplicantID string
	ActivityID  string
	Limit       int
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]domain.Process, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ApplicantID != "" {
		clauses = append(clauses, "applicant_id=?")
		args = append(args, f.ApplicantID)
	}
	if f.ActivityID != "" {
		clauses = append(clauses, "activity_id=?")
		args = append(args, f.ActivityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + processColumns + ` FROM processes ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcessRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i], err = r.attach(ctx, queryerDB{r.DB}, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) ListHistory(ctx context.Context, processID string) ([]domain.HistoryEntry, error) {
	return listHistory(ctx, queryerDB{r.DB}, processID)
}

// LatestEvents returns the newest audit rows, optionally scoped to a process.
func (r Repo) LatestEvents(ctx context.Context, limit int, processID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if processID != "" {
		clauses = append(clauses, "process_id=?")
		args = append(args, processID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,process_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var processID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &processID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if processID.Valid {
			e.ProcessID = processID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (domain.Process, error) {
	var p domain.Process
	var agency, applicant, answers, issuance sql.NullString
	err := row.Scan(&p.ID, &p.ApplicantID, &p.ApplicantName, &p.ActivityID, &p.ActivityName, &p.Status,
		&p.CreatedAt, &p.UpdatedAt, &agency, &applicant, &answers, &issuance)
	if err != nil {
		return p, err
	}
	if agency.Valid {
		p.AgencyDeadline = &agency.String
	}
	if applicant.Valid {
		p.ApplicantDeadline = &applicant.String
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &p.Answers); err != nil {
			return p, fmt.Errorf("decode answers for %s: %w", p.ID, err)
		}
	}
	if issuance.Valid {
		p.IssuanceCode = issuance.String
	}
	return p, nil
}

func scanProcess(row *sql.Row) (domain.Process, error) {
	p, err := scanRow(row)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func scanProcessRows(rows *sql.Rows) (domain.Process, error) {
	return scanRow(rows)
}

// queryer abstracts *sql.DB vs *sql.Tx for the read helpers, so Get works the
// same inside and outside a mutation transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type queryerDB struct{ db *sql.DB }

func (q queryerDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, query, args...)
}

type queryerTx struct{ tx *sql.Tx }

func (q queryerTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.tx.QueryContext(ctx, query, args...)
}

func (r Repo) attach(ctx context.Context, q queryer, p domain.Process) (domain.Process, error) {
	docs, err := listDocuments(ctx, q, p.ID)
	if err != nil {
		return p, err
	}
	p.Documents = docs
	history, err := listHistory(ctx, q, p.ID)
	if err != nil {
		return p, err
	}
	p.History = history
	return p, nil
}

func listDocuments(ctx context.Context, q queryer, processID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT doc_id,received FROM process_documents WHERE process_id=?`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := map[string]bool{}
	for rows.Next() {
		var id string
		var received int
		if err := rows.Scan(&id, &received); err != nil {
			return nil, err
		}
		docs[id] = received != 0
	}
	return docs, rows.Err()
}

func listHistory(ctx context.Context, q queryer, processID string) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,ts,action,actor,COALESCE(note,'') FROM process_history WHERE process_id=? ORDER BY ts DESC, rowid DESC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.Date, &h.Action, &h.Actor, &h.Note); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func marshalAnswers(answers map[string]string) (any, error) {
	if len(answers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	return string(data), nil
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
