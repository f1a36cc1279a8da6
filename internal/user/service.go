package user

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const profileCacheSize = 10000

// Service fronts the repository with a cache-aside LRU for profile lookups.
// The directory is small and mostly read, so hot identities stay in memory.
type Service struct {
	repo   Repository
	cache  *lru.Cache[string, *User]
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	cache, _ := lru.New[string, *User](profileCacheSize)
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) Create(ctx context.Context, u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return err
	}
	s.cache.Add(u.Email, u)
	s.logger.Info("user created", "user_id", u.ID, "email", u.Email)
	return nil
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	if cached, ok := s.cache.Get(email); ok {
		return cached, nil
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	s.cache.Add(email, u)
	return u, nil
}

// StatusOf reads the stored presence row. Never cached: staleness here is
// user-visible immediately.
func (s *Service) StatusOf(ctx context.Context, userID string) (*StatusEntry, error) {
	return s.repo.StatusOf(ctx, userID)
}
