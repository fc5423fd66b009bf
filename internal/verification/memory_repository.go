package verification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
}

// NewMemoryRepository builds an in-memory attempt store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{attempts: make(map[string]Attempt)}
}

func (r *memoryRepository) Create(_ context.Context, a Attempt) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Result = cloneResult(a.Result)
	r.attempts[a.ID] = a
	return a, nil
}

func (r *memoryRepository) Update(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.attempts[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.CreatedAt = stored.CreatedAt
	a.Result = cloneResult(a.Result)
	r.attempts[a.ID] = a
	return nil
}

func (r *memoryRepository) LatestByUser(_ context.Context, userID string) (Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		latest Attempt
		found  bool
	)
	for _, a := range r.attempts {
		if a.UserID != userID || userID == "" {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	if !found {
		return Attempt{}, ErrNotFound
	}
	return latest, nil
}

func (r *memoryRepository) BySession(_ context.Context, sessionID string) (Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.attempts {
		if a.SessionID() == sessionID {
			return a, nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (r *memoryRepository) RegistrationByToken(_ context.Context, token string) (Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Linear scan, mirroring the store query: registration attempts are rare
	// and short-lived.
	for _, a := range r.attempts {
		if a.Type == TypeRegistration && a.RegistrationToken() == token {
			return a, nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (r *memoryRepository) ListActive(_ context.Context) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Attempt
	for _, a := range r.attempts {
		if a.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[id]; !ok {
		return ErrNotFound
	}
	delete(r.attempts, id)
	return nil
}
