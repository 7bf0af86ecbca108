package users

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/password"
)

const logSubsystem = logging.SubsystemUsers

// Service implements account operations on top of a Repository.
type Service struct {
	repo   Repository
	hasher password.Hasher
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHasher sets the hasher used for local password checks.
func WithHasher(hasher password.Hasher) Option {
	return func(s *Service) { s.hasher = hasher }
}

// WithClock sets the time source used for join and sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service storing users in repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		hasher: password.NewBcryptHasher(0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user with the given ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users ordered by username.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

// UpdateOrCreate finds the user whose lookup fields equal the values in data and
// applies the remaining fields to it, creating the user when none matches. A lookup
// field missing from data is matched as "". New users are active and joined now;
// every call stamps LastSynced.
func (s *Service) UpdateOrCreate(ctx context.Context, lookupFields []string, data map[string]any) (*User, bool, error) {
	if len(lookupFields) == 0 {
		return nil, false, errors.New("at least one lookup field is required")
	}

	lookup := make(map[string]any, len(lookupFields))
	defaults := maps.Clone(data)
	for _, field := range lookupFields {
		lookup[field] = ""
		if value, ok := data[field]; ok {
			lookup[field] = value
		}
		delete(defaults, field)
	}

	now := s.now().UTC()
	created := false

	user, err := s.repo.FindBy(ctx, lookup)
	switch {
	case errors.Is(err, ErrNotFound):
		user = &User{
			ID:         uuid.New(),
			IsActive:   true,
			DateJoined: now,
		}
		for _, field := range slices.Sorted(maps.Keys(lookup)) {
			if err := user.SetField(field, lookup[field]); err != nil {
				return nil, false, err
			}
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("looking up local user: %w", err)
	}

	err = s.save(ctx, user, defaults, now)
	if created && errors.Is(err, ErrDuplicateUsername) {
		// A concurrent call created the user between lookup and save.
		existing, findErr := s.repo.FindBy(ctx, lookup)
		if findErr == nil {
			user, created = existing, false
			err = s.save(ctx, user, defaults, now)
		}
	}
	if err != nil {
		return nil, false, err
	}

	logging.SubsystemDebug(ctx, logSubsystem, "Local user saved", map[string]any{
		"user_id":  user.ID.String(),
		"username": user.Username,
		"created":  created,
	})

	return user, created, nil
}

func (s *Service) save(ctx context.Context, user *User, defaults map[string]any, now time.Time) error {
	for _, field := range slices.Sorted(maps.Keys(defaults)) {
		if err := user.SetField(field, defaults[field]); err != nil {
			return err
		}
	}
	user.LastSynced = now

	if err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("saving local user %q: %w", user.Username, err)
	}
	return nil
}

// CheckPassword reports whether plain is the local password of an active user.
// Users mirrored from the directory have unusable passwords and always fail.
func (s *Service) CheckPassword(user *User, plain string) bool {
	if user == nil || !user.IsActive {
		return false
	}
	return s.hasher.Verify(plain, user.Password)
}

// Promote makes the named user staff and superuser.
func (s *Service) Promote(ctx context.Context, username string) (*User, error) {
	user, err := s.repo.FindBy(ctx, map[string]any{FieldUsername: username})
	if err != nil {
		return nil, err
	}

	user.IsStaff = true
	user.IsSuperuser = true

	if err := s.repo.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("saving local user %q: %w", username, err)
	}

	logging.SubsystemInfo(ctx, logSubsystem, "User promoted to superuser", map[string]any{
		"username": username,
	})
	return user, nil
}

// CleanResult counts the outcome of Clean.
type CleanResult struct {
	Checked     int
	Deactivated int
	Deleted     int
}

// KeepFunc reports whether a local user still has a directory entry.
type KeepFunc func(ctx context.Context, user *User) (bool, error)

// Clean removes directory-backed users that keep rejects: they are deleted when purge
// is set and deactivated otherwise. Users with a usable local password are never
// touched, and inactive users are only checked when purging.
func (s *Service) Clean(ctx context.Context, keep KeepFunc, purge bool) (CleanResult, error) {
	var result CleanResult

	users, err := s.repo.List(ctx)
	if err != nil {
		return result, err
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if user.HasUsablePassword() || (!purge && !user.IsActive) {
			continue
		}

		result.Checked++

		ok, err := keep(ctx, user)
		if err != nil {
			return result, fmt.Errorf("checking user %q: %w", user.Username, err)
		}
		if ok {
			continue
		}

		if purge {
			if err := s.repo.Delete(ctx, user.ID); err != nil {
				return result, fmt.Errorf("deleting user %q: %w", user.Username, err)
			}
			result.Deleted++
			logging.SubsystemInfo(ctx, logSubsystem, "Deleted user missing from directory", map[string]any{
				"username": user.Username,
			})
			continue
		}

		user.IsActive = false
		if err := s.repo.Save(ctx, user); err != nil {
			return result, fmt.Errorf("deactivating user %q: %w", user.Username, err)
		}
		result.Deactivated++
		logging.SubsystemInfo(ctx, logSubsystem, "Deactivated user missing from directory", map[string]any{
			"username": user.Username,
		})
	}

	return result, nil
}
