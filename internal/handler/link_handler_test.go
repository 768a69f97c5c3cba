package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snaplink/internal/cache"
	"snaplink/internal/model"
	"snaplink/internal/repository"
	"snaplink/internal/service"
	"snaplink/internal/shortcode"
)

type memStore struct {
	mu    sync.Mutex
	links map[string]*model.ShortLink
}

func newMemStore() *memStore {
	return &memStore{links: map[string]*model.ShortLink{}}
}

func (s *memStore) Create(ctx context.Context, link *model.ShortLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.ShortCode]; ok {
		return repository.ErrDuplicateCode
	}
	cp := *link
	s.links[link.ShortCode] = &cp
	return nil
}

func (s *memStore) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[code]
	if !ok {
		return nil, nil
	}
	cp := *link
	return &cp, nil
}

func (s *memStore) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[code]
	return ok, nil
}

func (s *memStore) Deactivate(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.links[code]; ok {
		link.Active = false
	}
	return nil
}

func (s *memStore) SoftDeleteByOwner(ctx context.Context, code, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[code]
	if !ok || !link.Active || link.OwnerID != ownerID {
		return false, nil
	}
	link.Active = false
	return true, nil
}

func (s *memStore) UpdateTitle(ctx context.Context, code, title string) error { return nil }

func (s *memStore) TouchAccess(ctx context.Context, code string, at time.Time) error { return nil }

func (s *memStore) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]model.ShortLink, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.ShortLink
	for _, link := range s.links {
		if link.OwnerID == ownerID && link.Active {
			items = append(items, *link)
		}
	}
	return items, int64(len(items)), nil
}

func (s *memStore) AllCodes(ctx context.Context) ([]string, error) { return nil, nil }

type memClicks struct {
	mu     sync.Mutex
	events []model.ClickEvent
}

func (c *memClicks) Append(ctx context.Context, event *model.ClickEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return nil
}

func (c *memClicks) DailyCounts(ctx context.Context, code string, since time.Time) ([]model.DailyCount, error) {
	return nil, nil
}

func (c *memClicks) TopReferrers(ctx context.Context, code string, n int) ([]model.ReferrerCount, error) {
	return nil, nil
}

type noopCache struct{}

func (noopCache) Lookup(ctx context.Context, code string) cache.Result {
	return cache.Result{State: cache.Miss}
}

func (noopCache) SetIfAbsent(ctx context.Context, code string, entry cache.Entry, ttl time.Duration) error {
	return nil
}

func (noopCache) Remove(ctx context.Context, code string) error { return nil }

type memFilter struct {
	mu    sync.Mutex
	codes map[string]struct{}
}

func newMemFilter() *memFilter { return &memFilter{codes: map[string]struct{}{}} }

func (f *memFilter) Add(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = struct{}{}
}

func (f *memFilter) MayExist(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.codes[code]
	return ok
}

func (f *memFilter) Warm(codes []string) {
	for _, code := range codes {
		f.Add(code)
	}
}

func setupAPI(t *testing.T) (*gin.Engine, *memStore, *memClicks) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	clicks := &memClicks{}
	svc := service.NewLinkService(store, clicks, noopCache{}, newMemFilter(),
		shortcode.NewGenerator(nil), nil, zap.NewNop())
	t.Cleanup(svc.Close)

	h := NewLinkHandler(svc, "http://localhost:8080")

	router := gin.New()
	router.GET("/health", h.HealthCheck)
	router.GET("/:code", h.Redirect)
	api := router.Group("/api/v1")
	{
		api.POST("/links", h.CreateLink)
		api.GET("/links", h.ListLinks)
		api.GET("/links/:code", h.GetLinkDetails)
		api.DELETE("/links/:code", h.DeleteLink)
	}
	return router, store, clicks
}

func createLink(t *testing.T, router *gin.Engine, body string) CreateLinkResponse {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(OwnerHeader, "owner-1")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data CreateLinkResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestCreateLinkReturnsShortURL(t *testing.T) {
	router, _, _ := setupAPI(t)

	created := createLink(t, router, `{"url":"https://example.com/path"}`)
	assert.NotEmpty(t, created.ShortCode)
	assert.Equal(t, "http://localhost:8080/"+created.ShortCode, created.ShortURL)
	assert.Equal(t, "https://example.com/path", created.TargetURL)
}

func TestCreateLinkRejectsBadBody(t *testing.T) {
	router, _, _ := setupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(`{"alias":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateLinkRejectsInvalidTarget(t *testing.T) {
	router, _, _ := setupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/links", strings.NewReader(`{"url":"ftp://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "absolute http or https URL")
}

func TestRedirectFollowsShortCode(t *testing.T) {
	router, _, clicks := setupAPI(t)

	created := createLink(t, router, `{"url":"https://example.com/target"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+created.ShortCode, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone)")
	req.Header.Set("Referer", "https://ref.example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/target", w.Header().Get("Location"))

	// Give the background queue a moment, then check the click landed.
	assert.Eventually(t, func() bool {
		clicks.mu.Lock()
		defer clicks.mu.Unlock()
		return len(clicks.events) == 1
	}, time.Second, 10*time.Millisecond)

	clicks.mu.Lock()
	defer clicks.mu.Unlock()
	assert.Equal(t, created.ShortCode, clicks.events[0].ShortCode)
	assert.Equal(t, "mobile", clicks.events[0].DeviceType)
	assert.Equal(t, "https://ref.example.com", clicks.events[0].Referrer)
}

func TestRedirectUnknownCode(t *testing.T) {
	router, _, _ := setupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/zzz9999", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRedirectRejectsMalformedCode(t *testing.T) {
	router, _, _ := setupAPI(t)

	// Too short for a code; must 404 without consulting the service.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ab", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteLinkRequiresOwnerHeader(t *testing.T) {
	router, _, _ := setupAPI(t)

	created := createLink(t, router, `{"url":"https://example.com"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/links/"+created.ShortCode, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteLinkLifecycle(t *testing.T) {
	router, _, _ := setupAPI(t)

	created := createLink(t, router, `{"url":"https://example.com"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/links/"+created.ShortCode, nil)
	req.Header.Set(OwnerHeader, "owner-1")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Second delete finds nothing.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/links/"+created.ShortCode, nil)
	req.Header.Set(OwnerHeader, "owner-1")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// And the redirect is gone.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/"+created.ShortCode, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListLinksReturnsOwnersActiveLinks(t *testing.T) {
	router, _, _ := setupAPI(t)

	for i := 0; i < 3; i++ {
		createLink(t, router, fmt.Sprintf(`{"url":"https://example.com/%d"}`, i))
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/links", nil)
	req.Header.Set(OwnerHeader, "owner-1")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data ListLinksResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp.Data.Total)
	assert.Len(t, resp.Data.Items, 3)
}

func TestGetLinkDetails(t *testing.T) {
	router, _, _ := setupAPI(t)

	created := createLink(t, router, `{"url":"https://example.com"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/links/"+created.ShortCode, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data service.Details `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data.Link)
	assert.Equal(t, created.ShortCode, resp.Data.Link.ShortCode)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/links/missing1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := setupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "OK")
}
