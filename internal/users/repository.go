package users

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")

	// ErrMultipleUsers is returned by FindBy when a lookup matches more than one user.
	ErrMultipleUsers = errors.New("lookup matches more than one user")

	// ErrDuplicateUsername is returned when saving a user whose username is taken.
	ErrDuplicateUsername = errors.New("username already exists")
)

// Repository persists local users. Implementations return copies; changes to a
// returned *User take effect only through Save.
type Repository interface {
	// Get returns the user with the given ID.
	Get(ctx context.Context, id uuid.UUID) (*User, error)

	// FindBy returns the single user whose fields equal every lookup value.
	FindBy(ctx context.Context, lookup map[string]any) (*User, error)

	// List returns all users ordered by username.
	List(ctx context.Context) ([]*User, error)

	// Save inserts the user, or updates it when its ID already exists.
	Save(ctx context.Context, user *User) error

	// Delete removes the user with the given ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryRepository is a Repository held in process memory.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewInMemoryRepository returns an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[uuid.UUID]*User)}
}

func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return user.Clone(), nil
}

func (r *InMemoryRepository) FindBy(_ context.Context, lookup map[string]any) (*User, error) {
	normalized, err := normalizeLookup(lookup)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *User
	for _, user := range r.users {
		if !user.matches(normalized) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrMultipleUsers, describeLookup(normalized))
		}
		found = user
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, describeLookup(normalized))
	}
	return found.Clone(), nil
}

func (r *InMemoryRepository) List(_ context.Context) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user.Clone())
	}
	slices.SortFunc(users, func(a, b *User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (r *InMemoryRepository) Save(_ context.Context, user *User) error {
	if user.ID == uuid.Nil {
		return errors.New("user ID must be set")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.users {
		if id != user.ID && existing.Username == user.Username {
			return fmt.Errorf("%w: %q", ErrDuplicateUsername, user.Username)
		}
	}

	r.users[user.ID] = user.Clone()
	return nil
}

func (r *InMemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.users, id)
	return nil
}

// describeLookup renders a lookup as "field=value,..." in field order, omitting
// passwords.
func describeLookup(lookup map[string]any) string {
	parts := make([]string, 0, len(lookup))
	for _, name := range slices.Sorted(maps.Keys(lookup)) {
		value := lookup[name]
		if name == FieldPassword {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, value))
	}
	return strings.Join(parts, ",")
}
