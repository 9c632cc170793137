package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"strategist/internal/config"
	"strategist/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

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

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// --- directives ---

const directiveColumns = `id,user_id,type,priority,status,title,description,reasoning,target,action_required,context_json,issued_at,executed_at,expires_at,result,impact_metrics_json`

type directiveScanner interface {
	Scan(dest ...any) error
}

func scanDirective(row directiveScanner) (domain.Directive, error) {
	var d domain.Directive
	var description, reasoning, target, actionRequired, contextJSON, executedAt, expiresAt, result, impact sql.NullString
	err := row.Scan(&d.ID, &d.UserID, &d.Type, &d.Priority, &d.Status, &d.Title, &description,
		&reasoning, &target, &actionRequired, &contextJSON, &d.IssuedAt, &executedAt, &expiresAt, &result, &impact)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if description.Valid {
		d.Description = description.String
	}
	if reasoning.Valid {
		d.Reasoning = &reasoning.String
	}
	if target.Valid {
		d.Target = &target.String
	}
	if actionRequired.Valid {
		d.ActionRequired = &actionRequired.String
	}
	if contextJSON.Valid {
		d.ContextJSON = &contextJSON.String
	}
	if executedAt.Valid {
		d.ExecutedAt = &executedAt.String
	}
	if expiresAt.Valid {
		d.ExpiresAt = &expiresAt.String
	}
	if result.Valid {
		d.Result = &result.String
	}
	if impact.Valid {
		d.ImpactJSON = &impact.String
	}
	return d, nil
}

func (r Repo) InsertDirectiveTx(ctx context.Context, tx *sql.Tx, d domain.Directive) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO directives(`+directiveColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.Type, d.Priority, d.Status, d.Title, nullable(d.Description),
		nullableStringPtr(d.Reasoning), nullableStringPtr(d.Target), nullableStringPtr(d.ActionRequired),
		nullableStringPtr(d.ContextJSON), d.IssuedAt, nullableStringPtr(d.ExecutedAt),
		nullableStringPtr(d.ExpiresAt), nullableStringPtr(d.Result), nullableStringPtr(d.ImpactJSON))
	return err
}

func (r Repo) UpdateDirectiveTx(ctx context.Context, tx *sql.Tx, d domain.Directive) error {
	res, err := tx.ExecContext(ctx, `UPDATE directives SET priority=?, status=?, title=?, description=?, reasoning=?, target=?, action_required=?, context_json=?, executed_at=?, expires_at=?, result=?, impact_metrics_json=? WHERE id=?`,
		d.Priority, d.Status, d.Title, nullable(d.Description), nullableStringPtr(d.Reasoning),
		nullableStringPtr(d.Target), nullableStringPtr(d.ActionRequired), nullableStringPtr(d.ContextJSON),
		nullableStringPtr(d.ExecutedAt), nullableStringPtr(d.ExpiresAt), nullableStringPtr(d.Result),
		nullableStringPtr(d.ImpactJSON), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDirective(ctx context.Context, id string) (domain.Directive, error) {
	return scanDirective(r.DB.QueryRowContext(ctx, `SELECT `+directiveColumns+` FROM directives WHERE id=?`, id))
}

func (r Repo) GetDirectiveTx(ctx context.Context, tx *sql.Tx, id string) (domain.Directive, error) {
	return scanDirective(tx.QueryRowContext(ctx, `SELECT `+directiveColumns+` FROM directives WHERE id=?`, id))
}

// ListOpenDirectivesTx returns pending/active directives for (user, type)
// inside the caller's transaction, for supersession.
func (r Repo) ListOpenDirectivesTx(ctx context.Context, tx *sql.Tx, userID, dtype string) ([]domain.Directive, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+directiveColumns+` FROM directives WHERE user_id=? AND type=? AND status IN (?,?)`,
		userID, dtype, domain.DirectivePending, domain.DirectiveActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

type DirectiveFilters struct {
	UserID      string
	Type        string
	Target      string
	Statuses    []string
	MinPriority string
	// NotExpiredAt filters out rows whose expires_at has passed this
	// RFC3339 instant. Expiry is logical; rows are never deleted.
	NotExpiredAt   string
	Limit          int
	CursorIssuedAt string
	CursorID       string
}

func (r Repo) ListDirectives(ctx context.Context, f DirectiveFilters) ([]domain.Directive, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Target != "" {
		clauses = append(clauses, "target=?")
		args = append(args, f.Target)
	}
	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.MinPriority != "" {
		clauses = append(clauses, priorityRankSQL+" >= ?")
		args = append(args, domain.SeverityRank(f.MinPriority))
	}
	if f.NotExpiredAt != "" {
		clauses = append(clauses, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, f.NotExpiredAt)
	}
	if f.CursorIssuedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(issued_at < ? OR (issued_at = ? AND id < ?))")
		args = append(args, f.CursorIssuedAt, f.CursorIssuedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + directiveColumns + ` FROM directives ` + where + ` ORDER BY ` + priorityRankSQL + ` DESC, issued_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

const priorityRankSQL = `CASE priority WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// ListExpiredOpenDirectives returns pending/active directives whose
// expires_at has passed, for the reconciliation sweep.
func (r Repo) ListExpiredOpenDirectives(ctx context.Context, userID, now string) ([]domain.Directive, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+directiveColumns+` FROM directives WHERE user_id=? AND status IN (?,?) AND expires_at IS NOT NULL AND expires_at <= ?`,
		userID, domain.DirectivePending, domain.DirectiveActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- execution logs ---

const executionLogColumns = `id,directive_id,executed_by,execution_status,logs,error_message,execution_time_ms,started_at,completed_at`

func scanExecutionLog(row directiveScanner) (domain.ExecutionLog, error) {
	var l domain.ExecutionLog
	var logs, errMsg, completedAt sql.NullString
	var execMS sql.NullInt64
	err := row.Scan(&l.ID, &l.DirectiveID, &l.ExecutedBy, &l.ExecutionStatus, &logs, &errMsg, &execMS, &l.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if logs.Valid {
		l.Logs = &logs.String
	}
	if errMsg.Valid {
		l.ErrorMessage = &errMsg.String
	}
	if execMS.Valid {
		l.ExecutionTimeMS = &execMS.Int64
	}
	if completedAt.Valid {
		l.CompletedAt = &completedAt.String
	}
	return l, nil
}

func (r Repo) InsertExecutionLogTx(ctx context.Context, tx *sql.Tx, l domain.ExecutionLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO directive_execution_logs(`+executionLogColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.DirectiveID, l.ExecutedBy, l.ExecutionStatus, nullableStringPtr(l.Logs),
		nullableStringPtr(l.ErrorMessage), nullableInt64Ptr(l.ExecutionTimeMS), l.StartedAt, nullableStringPtr(l.CompletedAt))
	return err
}

func (r Repo) UpdateExecutionLogTx(ctx context.Context, tx *sql.Tx, l domain.ExecutionLog) error {
	res, err := tx.ExecContext(ctx, `UPDATE directive_execution_logs SET execution_status=?, logs=?, error_message=?, execution_time_ms=?, completed_at=? WHERE id=?`,
		l.ExecutionStatus, nullableStringPtr(l.Logs), nullableStringPtr(l.ErrorMessage),
		nullableInt64Ptr(l.ExecutionTimeMS), nullableStringPtr(l.CompletedAt), l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetExecutionLog(ctx context.Context, id string) (domain.ExecutionLog, error) {
	return scanExecutionLog(r.DB.QueryRowContext(ctx, `SELECT `+executionLogColumns+` FROM directive_execution_logs WHERE id=?`, id))
}

func (r Repo) GetExecutionLogTx(ctx context.Context, tx *sql.Tx, id string) (domain.ExecutionLog, error) {
	return scanExecutionLog(tx.QueryRowContext(ctx, `SELECT `+executionLogColumns+` FROM directive_execution_logs WHERE id=?`, id))
}

func (r Repo) ListExecutionLogs(ctx context.Context, directiveID string) ([]domain.ExecutionLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionLogColumns+` FROM directive_execution_logs WHERE directive_id=? ORDER BY started_at DESC, id DESC`, directiveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionLog
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// HasRunningExecutionTx reports whether an open execution attempt exists
// for the directive, inside the caller's transaction.
func (r Repo) HasRunningExecutionTx(ctx context.Context, tx *sql.Tx, directiveID string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT 1 FROM directive_execution_logs WHERE directive_id=? AND execution_status=? LIMIT 1`,
		directiveID, domain.ExecutionRunning)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// --- runs ---

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id,user_id,status,patterns,decisions,directives_issued,notes,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.UserID, run.Status, run.Patterns, run.Decisions, run.DirectivesIssued,
		nullableStringPtr(run.Notes), run.StartedAt, nullableStringPtr(run.FinishedAt))
	return err
}

func (r Repo) FinishRun(ctx context.Context, run domain.Run) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?, patterns=?, decisions=?, directives_issued=?, notes=?, finished_at=? WHERE id=?`,
		run.Status, run.Patterns, run.Decisions, run.DirectivesIssued, nullableStringPtr(run.Notes),
		nullableStringPtr(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRuns(ctx context.Context, userID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,status,patterns,decisions,directives_issued,notes,started_at,finished_at FROM runs WHERE user_id=? ORDER BY started_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		var notes, finishedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.UserID, &run.Status, &run.Patterns, &run.Decisions, &run.DirectivesIssued, &notes, &run.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if notes.Valid {
			run.Notes = &notes.String
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.String
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// --- user config ---

func (r Repo) UpsertUserConfig(ctx context.Context, userID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.User.ID = userID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO user_configs(user_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, userID, string(payload), now, now)
	return err
}

func (r Repo) GetUserConfig(ctx context.Context, userID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM user_configs WHERE user_id=?`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.User.ID == "" {
		cfg.User.ID = userID
	}
	return &cfg, cfg.Validate()
}

// SingleConfiguredUser returns the user id when exactly one user config
// exists, ErrNotFound otherwise.
func (r Repo) SingleConfiguredUser(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM user_configs LIMIT 2`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, userID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, userID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, userID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
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
	query := fmt.Sprintf(`SELECT id,ts,type,user_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var uid, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &uid, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if uid.Valid {
			e.UserID = uid.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
