package activity

import (
	"context"
	"time"

	"strategist/internal/domain"
	"strategist/internal/repo"
)

// Window bounds a query as [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Days() int {
	return int(w.To.Sub(w.From).Hours() / 24)
}

// Store is the read-only view over persisted activity records. Ingestion
// is owned upstream; detectors and trackers only ever query.
type Store interface {
	Applications(ctx context.Context, userID string, w Window) ([]domain.Application, error)
	Interviews(ctx context.Context, userID string, w Window) ([]domain.Interview, error)
	Verifications(ctx context.Context, userID, kind string, w Window) ([]domain.SkillVerification, error)
	// CountVerified returns the running count of verified records of a
	// kind created before the given instant.
	CountVerified(ctx context.Context, userID, kind string, before time.Time) (int, error)
}

// SQLStore serves the Store interface from the sqlite repo.
type SQLStore struct {
	Repo repo.Repo
}

var _ Store = SQLStore{}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s SQLStore) Applications(ctx context.Context, userID string, w Window) ([]domain.Application, error) {
	return s.Repo.ListApplications(ctx, repo.ActivityFilters{UserID: userID, Since: ts(w.From), Until: ts(w.To)})
}

func (s SQLStore) Interviews(ctx context.Context, userID string, w Window) ([]domain.Interview, error) {
	return s.Repo.ListInterviews(ctx, repo.ActivityFilters{UserID: userID, Since: ts(w.From), Until: ts(w.To)})
}

func (s SQLStore) Verifications(ctx context.Context, userID, kind string, w Window) ([]domain.SkillVerification, error) {
	return s.Repo.ListVerifications(ctx, repo.VerificationFilters{
		ActivityFilters: repo.ActivityFilters{UserID: userID, Since: ts(w.From), Until: ts(w.To)},
		Kind:            kind,
	})
}

func (s SQLStore) CountVerified(ctx context.Context, userID, kind string, before time.Time) (int, error) {
	return s.Repo.CountVerifications(ctx, userID, kind, domain.VerificationStatusVerified, ts(before))
}
