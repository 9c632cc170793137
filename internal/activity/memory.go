package activity

import (
	"context"
	"sync"
	"time"

	"strategist/internal/domain"
)

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu            sync.RWMutex
	applications  []domain.Application
	interviews    []domain.Interview
	verifications []domain.SkillVerification

	// Errs forces query failures per record kind, for fault-isolation tests.
	Errs struct {
		Applications  error
		Interviews    error
		Verifications error
	}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AddApplication(a domain.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications = append(m.applications, a)
}

func (m *MemoryStore) AddInterview(iv domain.Interview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interviews = append(m.interviews, iv)
}

func (m *MemoryStore) AddVerification(v domain.SkillVerification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, v)
}

func inWindow(createdAt string, w Window) bool {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return false
	}
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

func (m *MemoryStore) Applications(_ context.Context, userID string, w Window) ([]domain.Application, error) {
	if m.Errs.Applications != nil {
		return nil, m.Errs.Applications
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Application
	for _, a := range m.applications {
		if a.UserID == userID && inWindow(a.CreatedAt, w) {
			res = append(res, a)
		}
	}
	return res, nil
}

func (m *MemoryStore) Interviews(_ context.Context, userID string, w Window) ([]domain.Interview, error) {
	if m.Errs.Interviews != nil {
		return nil, m.Errs.Interviews
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Interview
	for _, iv := range m.interviews {
		if iv.UserID == userID && inWindow(iv.CreatedAt, w) {
			res = append(res, iv)
		}
	}
	return res, nil
}

func (m *MemoryStore) Verifications(_ context.Context, userID, kind string, w Window) ([]domain.SkillVerification, error) {
	if m.Errs.Verifications != nil {
		return nil, m.Errs.Verifications
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.SkillVerification
	for _, v := range m.verifications {
		if v.UserID == userID && (kind == "" || v.Kind == kind) && inWindow(v.CreatedAt, w) {
			res = append(res, v)
		}
	}
	return res, nil
}

func (m *MemoryStore) CountVerified(_ context.Context, userID, kind string, before time.Time) (int, error) {
	if m.Errs.Verifications != nil {
		return 0, m.Errs.Verifications
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, v := range m.verifications {
		if v.UserID != userID || v.Kind != kind || v.Status != domain.VerificationStatusVerified {
			continue
		}
		t, err := time.Parse(time.RFC3339, v.CreatedAt)
		if err != nil {
			continue
		}
		if before.IsZero() || t.Before(before) {
			n++
		}
	}
	return n, nil
}
