package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryUserRepository is an in-process UserRepository for tests and local runs.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]User)}
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.Email]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	u.Revision = 1
	u.CreatedAt = now
	u.UpdatedAt = now
	r.users[u.Email] = *u
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[u.Email]
	if !ok {
		return ErrNotFound
	}
	if current.Revision != u.Revision {
		return ErrConflict
	}
	u.Revision++
	u.UpdatedAt = time.Now().UTC()
	u.CreatedAt = current.CreatedAt
	r.users[u.Email] = *u
	return nil
}

// MemoryVerificationRepository is an in-process VerificationRepository.
type MemoryVerificationRepository struct {
	mu      sync.Mutex
	pending map[string]Verification
}

func NewMemoryVerificationRepository() *MemoryVerificationRepository {
	return &MemoryVerificationRepository{pending: make(map[string]Verification)}
}

func (r *MemoryVerificationRepository) Issue(_ context.Context, v *Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[verificationKey(v.Email, v.Purpose)] = *v
	return nil
}

func (r *MemoryVerificationRepository) Consume(_ context.Context, email string, purpose Purpose, codeHash string, now time.Time) (*Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := verificationKey(email, purpose)
	v, ok := r.pending[key]
	if !ok || v.CodeHash != codeHash || v.Expired(now) {
		return nil, nil
	}
	delete(r.pending, key)
	return &v, nil
}

func (r *MemoryVerificationRepository) Withdraw(_ context.Context, email string, purpose Purpose, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := verificationKey(email, purpose)
	if v, ok := r.pending[key]; ok && v.CodeHash == codeHash {
		delete(r.pending, key)
	}
	return nil
}

func (r *MemoryVerificationRepository) Reinstate(_ context.Context, v *Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := verificationKey(v.Email, v.Purpose)
	if _, ok := r.pending[key]; !ok {
		r.pending[key] = *v
	}
	return nil
}
