package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"strategist/internal/domain"
)

// Activity records are owned by upstream ingestion; the engine only reads
// them. Insert helpers exist for seeding and tests.

const applicationColumns = `id,user_id,company,role,platform,status,feedback,applied_at,last_activity_at,created_at,updated_at`

func scanApplication(row directiveScanner) (domain.Application, error) {
	var a domain.Application
	var platform, feedback, lastActivity sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Company, &a.Role, &platform, &a.Status, &feedback,
		&a.AppliedAt, &lastActivity, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if platform.Valid {
		a.Platform = platform.String
	}
	if feedback.Valid {
		a.Feedback = feedback.String
	}
	if lastActivity.Valid {
		a.LastActivityAt = &lastActivity.String
	}
	return a, nil
}

func (r Repo) InsertApplication(ctx context.Context, a domain.Application) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.Company, a.Role, nullable(a.Platform), a.Status, nullable(a.Feedback),
		a.AppliedAt, nullableStringPtr(a.LastActivityAt), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

type ActivityFilters struct {
	UserID string
	Status string
	// Since/Until bound created_at as [Since, Until).
	Since string
	Until string
	Limit int
}

func (f ActivityFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	return clauses, args
}

func whereOf(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

func (r Repo) ListApplications(ctx context.Context, f ActivityFilters) ([]domain.Application, error) {
	clauses, args := f.clauses()
	query := `SELECT ` + applicationColumns + ` FROM applications ` + whereOf(clauses) + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const interviewColumns = `id,user_id,application_id,kind,status,score,feedback,skill_gaps_json,scheduled_at,completed_at,created_at,updated_at`

func scanInterview(row directiveScanner) (domain.Interview, error) {
	var iv domain.Interview
	var appID, kind, feedback, gapsJSON, scheduledAt, completedAt sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&iv.ID, &iv.UserID, &appID, &kind, &iv.Status, &score, &feedback,
		&gapsJSON, &scheduledAt, &completedAt, &iv.CreatedAt, &iv.UpdatedAt)
	if err == sql.ErrNoRows {
		return iv, ErrNotFound
	}
	if err != nil {
		return iv, err
	}
	if appID.Valid {
		iv.ApplicationID = &appID.String
	}
	if kind.Valid {
		iv.Kind = kind.String
	}
	if score.Valid {
		iv.Score = &score.Float64
	}
	if feedback.Valid {
		iv.Feedback = feedback.String
	}
	if gapsJSON.Valid && gapsJSON.String != "" {
		_ = json.Unmarshal([]byte(gapsJSON.String), &iv.SkillGaps)
	}
	if scheduledAt.Valid {
		iv.ScheduledAt = &scheduledAt.String
	}
	if completedAt.Valid {
		iv.CompletedAt = &completedAt.String
	}
	return iv, nil
}

func (r Repo) InsertInterview(ctx context.Context, iv domain.Interview) error {
	var gapsJSON any
	if len(iv.SkillGaps) > 0 {
		b, err := json.Marshal(iv.SkillGaps)
		if err != nil {
			return err
		}
		gapsJSON = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO interviews(`+interviewColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		iv.ID, iv.UserID, nullableStringPtr(iv.ApplicationID), nullable(iv.Kind), iv.Status,
		nullableFloatPtr(iv.Score), nullable(iv.Feedback), gapsJSON,
		nullableStringPtr(iv.ScheduledAt), nullableStringPtr(iv.CompletedAt), iv.CreatedAt, iv.UpdatedAt)
	return err
}

func (r Repo) ListInterviews(ctx context.Context, f ActivityFilters) ([]domain.Interview, error) {
	clauses, args := f.clauses()
	query := `SELECT ` + interviewColumns + ` FROM interviews ` + whereOf(clauses) + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, iv)
	}
	return res, rows.Err()
}

const verificationColumns = `id,user_id,kind,skill,status,verified_at,created_at,updated_at`

func scanVerification(row directiveScanner) (domain.SkillVerification, error) {
	var v domain.SkillVerification
	var verifiedAt sql.NullString
	err := row.Scan(&v.ID, &v.UserID, &v.Kind, &v.Skill, &v.Status, &verifiedAt, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.String
	}
	return v, nil
}

func (r Repo) InsertVerification(ctx context.Context, v domain.SkillVerification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO skill_verifications(`+verificationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		v.ID, v.UserID, v.Kind, v.Skill, v.Status, nullableStringPtr(v.VerifiedAt), v.CreatedAt, v.UpdatedAt)
	return err
}

type VerificationFilters struct {
	ActivityFilters
	Kind string
}

func (r Repo) ListVerifications(ctx context.Context, f VerificationFilters) ([]domain.SkillVerification, error) {
	clauses, args := f.ActivityFilters.clauses()
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	query := `SELECT ` + verificationColumns + ` FROM skill_verifications ` + whereOf(clauses) + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SkillVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountVerifications counts records of a kind and status up to the given
// instant, for milestone checkpoint crossing.
func (r Repo) CountVerifications(ctx context.Context, userID, kind, status, until string) (int, error) {
	clauses := []string{"user_id=?", "kind=?", "status=?"}
	args := []any{userID, kind, status}
	if until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, until)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM skill_verifications WHERE `+strings.Join(clauses, " AND "), args...).Scan(&n)
	return n, err
}
