package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

var (
	accessCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stitchdesk_access_cache_hits_total",
		Help: "Visibility/owner lookups served from the in-process cache.",
	})
	accessCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stitchdesk_access_cache_misses_total",
		Help: "Visibility/owner lookups that went to the status store.",
	})
)

type accessEntry struct {
	visibility model.Visibility
	owner      string
}

// AccessService answers who may read or change a file. Lookups are cached
// per instance for a short TTL; writes through this service invalidate.
type AccessService struct {
	repo    repository.StatusRepository
	storage storage.Storage
	cache   *expirable.LRU[string, accessEntry]
}

func NewAccessService(repo repository.StatusRepository, storage storage.Storage, size int, ttl time.Duration) *AccessService {
	if size <= 0 {
		size = 1024
	}
	return &AccessService{
		repo:    repo,
		storage: storage,
		cache:   expirable.NewLRU[string, accessEntry](size, nil, ttl),
	}
}

func (s *AccessService) lookup(ctx context.Context, url string) (accessEntry, error) {
	if e, ok := s.cache.Get(url); ok {
		accessCacheHits.Inc()
		return e, nil
	}
	accessCacheMisses.Inc()

	visibility, err := s.repo.GetVisibility(ctx, url)
	if err != nil {
		return accessEntry{}, err
	}
	owner, err := s.repo.GetOwner(ctx, url)
	if err != nil {
		return accessEntry{}, err
	}
	e := accessEntry{visibility: visibility, owner: owner}
	s.cache.Add(url, e)
	return e, nil
}

func (s *AccessService) Invalidate(url string) {
	s.cache.Remove(url)
}

// ResolveURL returns where caller should be redirected to fetch url: anyone
// for public files, the owner or an admin for private ones.
func (s *AccessService) ResolveURL(ctx context.Context, caller *model.Caller, url string) (string, error) {
	e, err := s.lookup(ctx, url)
	if err != nil {
		return "", err
	}
	if e.visibility != model.VisibilityPublic {
		if caller.IsGuest() {
			return "", ErrNotOwner
		}
		if !caller.IsAdmin() && e.owner != caller.Username {
			return "", ErrNotOwner
		}
	}

	path, ok := s.storage.PathFromURL(url)
	if !ok {
		// outputs the conversion service hosts itself
		return url, nil
	}
	return s.storage.AccessURL(ctx, path, e.visibility)
}

// RequireOwner allows the recorded owner and admins. Files without an owner
// are admin-only.
func (s *AccessService) RequireOwner(ctx context.Context, caller *model.Caller, url string) error {
	if caller.IsGuest() {
		return ErrAuthRequired
	}
	if caller.IsAdmin() {
		return nil
	}
	e, err := s.lookup(ctx, url)
	if err != nil {
		return err
	}
	if e.owner == "" || e.owner != caller.Username {
		return ErrNotOwner
	}
	return nil
}
