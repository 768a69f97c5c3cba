package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"snaplink/internal/cache"
	"snaplink/internal/model"
	"snaplink/internal/repository"
	"snaplink/internal/shortcode"
)

var (
	// ErrInvalidURL rejects targets that are not absolute http/https URLs
	ErrInvalidURL = errors.New("service: invalid target URL")
	// ErrNotFound is the normal negative result for missing or expired codes
	ErrNotFound = errors.New("service: short link not found")
	// ErrGenerationExhausted means no unique code could be produced; the
	// space is large enough that this indicates a systemic problem
	ErrGenerationExhausted = errors.New("service: short code generation exhausted")
)

const (
	// createRetries bounds re-inserts after losing a duplicate-key race.
	// The pre-generation uniqueness probe is only an optimization; the
	// store's unique key decides.
	createRetries = 3

	detailsWindowDays = 7
	topReferrerLimit  = 10
)

// LinkStore is the durable mapping store consumed by the engine
type LinkStore interface {
	Create(ctx context.Context, link *model.ShortLink) error
	GetByCode(ctx context.Context, shortCode string) (*model.ShortLink, error)
	CodeExists(ctx context.Context, shortCode string) (bool, error)
	Deactivate(ctx context.Context, shortCode string) error
	SoftDeleteByOwner(ctx context.Context, shortCode, ownerID string) (bool, error)
	UpdateTitle(ctx context.Context, shortCode, title string) error
	TouchAccess(ctx context.Context, shortCode string, at time.Time) error
	ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]model.ShortLink, int64, error)
	AllCodes(ctx context.Context) ([]string, error)
}

// ClickStore is the append-only click event log
type ClickStore interface {
	Append(ctx context.Context, event *model.ClickEvent) error
	DailyCounts(ctx context.Context, shortCode string, since time.Time) ([]model.DailyCount, error)
	TopReferrers(ctx context.Context, shortCode string, n int) ([]model.ReferrerCount, error)
}

// LinkCache is the volatile entry cache in front of the store
type LinkCache interface {
	Lookup(ctx context.Context, shortCode string) cache.Result
	SetIfAbsent(ctx context.Context, shortCode string, entry cache.Entry, ttl time.Duration) error
	Remove(ctx context.Context, shortCode string) error
}

// CodeFilter answers "definitely unused" for candidate codes
type CodeFilter interface {
	Add(code string)
	MayExist(code string) bool
	Warm(codes []string)
}

// Details bundles a mapping with its click aggregates
type Details struct {
	Link         *model.ShortLink      `json:"link"`
	DailyCounts  []model.DailyCount    `json:"daily_counts"`
	TopReferrers []model.ReferrerCount `json:"top_referrers"`
}

// LinkService orchestrates code generation, the cache-first read path and
// fire-and-forget click accounting.
type LinkService struct {
	store  LinkStore
	clicks ClickStore
	cache  LinkCache
	codes  CodeFilter
	gen    *shortcode.Generator
	titles *TitleFetcher
	queue  *taskQueue
	logger *zap.Logger
}

// NewLinkService creates the link service. titles may be nil to disable
// page title enrichment.
func NewLinkService(store LinkStore, clicks ClickStore, linkCache LinkCache, codes CodeFilter,
	gen *shortcode.Generator, titles *TitleFetcher, logger *zap.Logger) *LinkService {
	return &LinkService{
		store:  store,
		clicks: clicks,
		cache:  linkCache,
		codes:  codes,
		gen:    gen,
		titles: titles,
		queue:  newTaskQueue(defaultWorkers, defaultQueueDepth, logger),
		logger: logger,
	}
}

// Close drains the background task queue
func (s *LinkService) Close() {
	s.queue.close()
}

// WarmCodeFilter seeds the code filter with every issued code, used at startup
func (s *LinkService) WarmCodeFilter(ctx context.Context) error {
	codes, err := s.store.AllCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm code filter: %w", err)
	}
	s.codes.Warm(codes)
	s.logger.Info("code filter warmed", zap.Int("codes", len(codes)))
	return nil
}

// Create validates the target, assigns a unique code and persists the
// mapping. The cache is warmed only after the durable write succeeds.
func (s *LinkService) Create(ctx context.Context, targetURL, ownerID, alias string, expiresAt *time.Time) (*model.ShortLink, error) {
	if err := validateTargetURL(targetURL); err != nil {
		return nil, err
	}

	// Codes that already lost an insert race are taken no matter what the
	// probe says; without this a retry would repeat the same deterministic
	// candidate.
	burned := make(map[string]struct{})
	taken := s.codeTaken(ctx)
	probe := func(code string) bool {
		if _, ok := burned[code]; ok {
			return true
		}
		return taken(code)
	}

	var link *model.ShortLink
	for attempt := 0; ; attempt++ {
		code, err := s.gen.Generate(targetURL, alias, probe)
		if err != nil {
			if errors.Is(err, shortcode.ErrExhausted) {
				return nil, ErrGenerationExhausted
			}
			return nil, err
		}

		link = &model.ShortLink{
			ShortCode: code,
			TargetURL: targetURL,
			OwnerID:   ownerID,
			ExpiresAt: expiresAt,
			Active:    true,
		}

		err = s.store.Create(ctx, link)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateCode) && attempt < createRetries {
			// Lost the unique-key race; generate a fresh code and retry.
			burned[code] = struct{}{}
			s.logger.Info("duplicate short code on insert, retrying",
				zap.String("short_code", code))
			continue
		}
		return nil, err
	}

	s.codes.Add(link.ShortCode)

	// Title enrichment is best effort and runs off the request path.
	if s.titles != nil {
		code, target := link.ShortCode, link.TargetURL
		s.queue.enqueue("title_enrichment", func(ctx context.Context) error {
			return s.store.UpdateTitle(ctx, code, s.titles.Fetch(ctx, target))
		})
	}

	entry := cache.Entry{
		TargetURL: link.TargetURL,
		OwnerID:   link.OwnerID,
		ExpiresAt: link.ExpiresAt,
	}
	if err := s.cache.SetIfAbsent(ctx, link.ShortCode, entry, cacheTTL(link.ExpiresAt)); err != nil {
		s.logger.Warn("failed to warm cache after create",
			zap.String("short_code", link.ShortCode), zap.Error(err))
	}

	s.logger.Info("short link created",
		zap.String("short_code", link.ShortCode),
		zap.String("target_url", link.TargetURL))
	return link, nil
}

// Resolve returns the target URL for a short code. Cache first; on miss the
// store is consulted, the cache refilled and the access counters bumped off
// the request path.
func (s *LinkService) Resolve(ctx context.Context, shortCode string) (string, error) {
	res := s.cache.Lookup(ctx, shortCode)
	if res.State == cache.Hit {
		if res.Entry.ExpiresAt != nil && time.Now().After(*res.Entry.ExpiresAt) {
			// Stale entry written before expiry; evict and consult the store.
			if err := s.cache.Remove(ctx, shortCode); err != nil {
				s.logger.Warn("failed to evict expired cache entry",
					zap.String("short_code", shortCode), zap.Error(err))
			}
		} else {
			return res.Entry.TargetURL, nil
		}
	}

	link, err := s.store.GetByCode(ctx, shortCode)
	if err != nil {
		return "", err
	}
	if link == nil || !link.Active {
		return "", ErrNotFound
	}
	if link.IsExpired() {
		// Readers must treat expired mappings as absent; make it durable.
		if err := s.store.Deactivate(ctx, shortCode); err != nil {
			s.logger.Warn("failed to deactivate expired short link",
				zap.String("short_code", shortCode), zap.Error(err))
		}
		return "", ErrNotFound
	}

	s.queue.enqueue("access_bump", func(ctx context.Context) error {
		return s.store.TouchAccess(ctx, shortCode, time.Now().UTC())
	})

	entry := cache.Entry{
		TargetURL: link.TargetURL,
		OwnerID:   link.OwnerID,
		ExpiresAt: link.ExpiresAt,
	}
	if err := s.cache.SetIfAbsent(ctx, shortCode, entry, cacheTTL(link.ExpiresAt)); err != nil {
		s.logger.Warn("failed to refill cache",
			zap.String("short_code", shortCode), zap.Error(err))
	}

	return link.TargetURL, nil
}

// Delete soft-deletes a mapping when it belongs to ownerID and evicts the
// cache entry. A missing or foreign mapping returns false, not an error.
func (s *LinkService) Delete(ctx context.Context, shortCode, ownerID string) (bool, error) {
	ok, err := s.store.SoftDeleteByOwner(ctx, shortCode, ownerID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.cache.Remove(ctx, shortCode); err != nil {
		s.logger.Warn("failed to evict cache entry on delete",
			zap.String("short_code", shortCode), zap.Error(err))
	}
	s.logger.Info("short link deleted",
		zap.String("short_code", shortCode), zap.String("owner_id", ownerID))
	return true, nil
}

// ListByOwner returns the owner's active mappings, newest first
func (s *LinkService) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]model.ShortLink, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.store.ListByOwner(ctx, ownerID, page, pageSize)
}

// Details returns a mapping with its recent daily counts and top referrers.
// Expired and soft-deleted mappings still report their history.
func (s *LinkService) Details(ctx context.Context, shortCode string) (*Details, error) {
	link, err := s.store.GetByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrNotFound
	}

	since := time.Now().UTC().AddDate(0, 0, -detailsWindowDays)
	daily, err := s.clicks.DailyCounts(ctx, shortCode, since)
	if err != nil {
		return nil, err
	}
	referrers, err := s.clicks.TopReferrers(ctx, shortCode, topReferrerLimit)
	if err != nil {
		return nil, err
	}

	return &Details{Link: link, DailyCounts: daily, TopReferrers: referrers}, nil
}

// codeTaken builds the uniqueness probe handed to the generator. A code
// absent from the store but still cached counts as taken. Probe failures
// report "free" so the unique-key constraint makes the final call.
func (s *LinkService) codeTaken(ctx context.Context) shortcode.TakenFunc {
	return func(code string) bool {
		if !s.codes.MayExist(code) {
			return false
		}
		exists, err := s.store.CodeExists(ctx, code)
		if err != nil {
			s.logger.Warn("uniqueness probe failed, deferring to insert",
				zap.String("short_code", code), zap.Error(err))
			return false
		}
		if exists {
			return true
		}
		return s.cache.Lookup(ctx, code).State == cache.Hit
	}
}

// cacheTTL bounds the cache entry lifetime by the mapping's expiry,
// defaulting to the 24h horizon for mappings that never expire.
func cacheTTL(expiresAt *time.Time) time.Duration {
	if expiresAt == nil {
		return cache.DefaultTTL
	}
	remaining := time.Until(*expiresAt)
	if remaining <= 0 || remaining > cache.DefaultTTL {
		return cache.DefaultTTL
	}
	return remaining
}

// validateTargetURL accepts only absolute http/https URLs with a host
func validateTargetURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidURL
	}
	if parsed.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
