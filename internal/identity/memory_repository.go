package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	users    map[string]User    // keyed by id
	profiles map[string]Profile // keyed by user id
	roles    map[string]map[string]bool
}

// NewMemoryRepository builds an in-memory identity store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:    make(map[string]User),
		profiles: make(map[string]Profile),
		roles:    make(map[string]map[string]bool),
	}
}

func (r *memoryRepository) Create(_ context.Context, user User, profile Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return errors.New("email already registered")
		}
	}
	r.users[user.ID] = user
	profile.UserID = user.ID
	r.profiles[user.ID] = profile
	return nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TokenVersion = version
	r.users[id] = u
	return nil
}

func (r *memoryRepository) TouchLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLogin = time.Now().UTC()
	r.users[id] = u
	return nil
}

func (r *memoryRepository) Profile(_ context.Context, userID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryRepository) SetVerified(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	t := at.UTC()
	p.IdentityVerified = true
	p.IdentityVerifiedAt = &t
	r.profiles[userID] = p
	return nil
}

func (r *memoryRepository) ClearVerified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil
	}
	p.IdentityVerified = false
	p.IdentityVerifiedAt = nil
	r.profiles[userID] = p
	return nil
}

func (r *memoryRepository) HasRole(_ context.Context, userID, role string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[userID][role], nil
}

func (r *memoryRepository) GrantRole(_ context.Context, userID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[userID] == nil {
		r.roles[userID] = make(map[string]bool)
	}
	r.roles[userID][role] = true
	return nil
}
