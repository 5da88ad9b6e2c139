package memory

import (
	"context"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type UserRepository struct {
	s *Store
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repo.ErrDuplicate
		}
	}
	user.ID = r.s.nextID()
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	return &u, nil
}

// 無ければ nil, nil
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return repo.ErrUserNotFound
	}
	u.LastLoginAt = &at
	r.s.users[userID] = u
	return nil
}

type AuditLogRepository struct {
	s *Store
	j *journal
}

func (r *AuditLogRepository) Create(ctx context.Context, log model.AuditLog) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	log.ID = r.s.nextID()
	r.s.audits = append(r.s.audits, log)
	n := len(r.s.audits)
	r.j.add(func() { r.s.audits = r.s.audits[:n-1] })
	return nil
}
