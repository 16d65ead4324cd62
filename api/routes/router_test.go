package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystonerealty/keystone-backend/internal/commissions"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/internal/security"
	pkgAuth "github.com/keystonerealty/keystone-backend/pkg/auth"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/db/models"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	"github.com/keystonerealty/keystone-backend/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessions struct{ revoked map[string]bool }

func (s *stubSessions) HasSession(_ context.Context, sessionID string) (bool, error) {
	return !s.revoked[sessionID], nil
}

func (s *stubSessions) Revoke(_ context.Context, sessionID string) error {
	s.revoked[sessionID] = true
	return nil
}

type fakeCache struct {
	data   map[string]string
	counts map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, counts: map[string]int64{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeCache) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	return true, nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("idem:%s:%s", scope, id)
}

func (f *fakeCache) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

type nopAlerts struct{}

func (nopAlerts) Report(context.Context, security.Alert) {}

type stubListingService struct {
	created int
	listed  []listing.ListParams
}

func (s *stubListingService) Create(_ context.Context, ownerID uuid.UUID, form listing.FormValues) (*listing.Listing, error) {
	s.created++
	return &listing.Listing{ID: uuid.New(), UserID: ownerID, Title: form.Title, Status: enums.ListingStatusDraft}, nil
}

func (s *stubListingService) Update(context.Context, uuid.UUID, uuid.UUID, listing.Patch) (*listing.Listing, error) {
	return nil, nil
}

func (s *stubListingService) Get(_ context.Context, id uuid.UUID) (*listing.Listing, error) {
	return &listing.Listing{ID: id, UserID: uuid.New(), Status: enums.ListingStatusActive}, nil
}

func (s *stubListingService) GetForm(context.Context, uuid.UUID, uuid.UUID) (*listing.FormValues, error) {
	return &listing.FormValues{}, nil
}

func (s *stubListingService) List(_ context.Context, params listing.ListParams) (*listing.ListResult, error) {
	s.listed = append(s.listed, params)
	return &listing.ListResult{Items: []listing.ListItem{}}, nil
}

func (s *stubListingService) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (s *stubListingService) AttachImage(context.Context, uuid.UUID, uuid.UUID, listing.ImageUpload) (*listing.Image, error) {
	return &listing.Image{ID: uuid.New()}, nil
}

func (s *stubListingService) DeleteImage(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

func (s *stubListingService) SetFeaturedImage(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (*listing.Listing, error) {
	return nil, nil
}

func (s *stubListingService) AttachDocument(context.Context, uuid.UUID, uuid.UUID, listing.DocumentUpload) (*listing.Document, error) {
	return &listing.Document{ID: uuid.New()}, nil
}

func (s *stubListingService) DeleteDocument(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

func (s *stubListingService) Import(context.Context, uuid.UUID, listing.Shape, [][]byte) (*listing.ImportResult, error) {
	return &listing.ImportResult{}, nil
}

func (s *stubListingService) MigrateShape(context.Context, listing.Shape, int) (*listing.ImportResult, error) {
	return &listing.ImportResult{}, nil
}

type stubCommissionService struct{}

func (stubCommissionService) Attach(context.Context, uuid.UUID, uuid.UUID, commissions.AttachInput) (*models.Commission, error) {
	return &models.Commission{ID: uuid.New()}, nil
}

func (stubCommissionService) Get(_ context.Context, listingID uuid.UUID, _ commissions.Viewer) (*models.Commission, error) {
	return &models.Commission{ID: uuid.New(), ListingID: listingID}, nil
}

func (stubCommissionService) SetVisibility(context.Context, uuid.UUID, uuid.UUID, enums.CommissionVisibility) (*models.Commission, error) {
	return &models.Commission{}, nil
}

func (stubCommissionService) Sign(context.Context, uuid.UUID, commissions.Viewer) (*models.Commission, error) {
	return &models.Commission{}, nil
}

func (stubCommissionService) Lock(context.Context, uuid.UUID, uuid.UUID) (*models.Commission, error) {
	return &models.Commission{}, nil
}

func (stubCommissionService) UpdateTerms(context.Context, uuid.UUID, uuid.UUID, commissions.UpdateTermsInput) (*models.Commission, error) {
	return &models.Commission{}, nil
}

type stubPlaces struct{}

func (stubPlaces) Lookup(context.Context, string) (*location.Place, error) {
	return &location.Place{Location: location.Location{Lat: 30.26, Lng: -97.74}}, nil
}

func (stubPlaces) LookupPlace(context.Context, string) (*location.Place, error) {
	return &location.Place{Location: location.Location{Lat: 30.26, Lng: -97.74}}, nil
}

func (stubPlaces) Suggest(context.Context, string) ([]location.Suggestion, error) {
	return []location.Suggestion{}, nil
}

type routerFixture struct {
	handler  http.Handler
	cfg      *config.Config
	listings *stubListingService
	sessions *stubSessions
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Env: "test"},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "keystone", ExpirationMinutes: 5},
		Security: config.SecurityConfig{GeocodePerMinute: 1},
	}
	listings := &stubListingService{}
	sessions := &stubSessions{revoked: map[string]bool{}}
	handler := NewRouter(cfg, nil, stubPinger{}, newFakeCache(), stubPinger{}, sessions, nopAlerts{},
		listings, stubCommissionService{}, stubPlaces{}, metrics.Handler(nil))
	return routerFixture{handler: handler, cfg: cfg, listings: listings, sessions: sessions}
}

func (f routerFixture) token(t *testing.T, userID uuid.UUID) (string, string) {
	t.Helper()
	sessionID := uuid.NewString()
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID, SessionID: sessionID})
	require.NoError(t, err)
	return token, sessionID
}

func (f routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutesArePublic(t *testing.T) {
	f := newRouterFixture(t)

	live := f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, live.Code)
	assert.Equal(t, "test", live.Header().Get("X-Keystone-Env"))

	ready := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.NotEmpty(t, ready.Header().Get("X-Request-Id"))
}

func TestMetricsRouteIsServed(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/listings/mine", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/mine", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.listings.listed)
}

func TestMyListingsScopesToCaller(t *testing.T) {
	f := newRouterFixture(t)
	userID := uuid.New()
	token, _ := f.token(t, userID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/mine?status=draft", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.listings.listed, 1)
	require.NotNil(t, f.listings.listed[0].OwnerID)
	assert.Equal(t, userID, *f.listings.listed[0].OwnerID)
	assert.Equal(t, enums.ListingStatusDraft, f.listings.listed[0].Status)
}

func TestCreateListingRequiresIdempotencyKey(t *testing.T) {
	f := newRouterFixture(t)
	token, _ := f.token(t, uuid.New())
	body := `{"title":"Loft"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/listings", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.listings.created)

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/listings", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "create-1")
		rec = f.do(req)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	assert.Equal(t, 1, f.listings.created)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newRouterFixture(t)
	token, sessionID := f.token(t, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.sessions.revoked[sessionID])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/listings/mine", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGeocodeIsRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	token, _ := f.token(t, uuid.New())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/geocode", strings.NewReader(`{"query":"123 Test St, Austin, TX"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		codes = append(codes, f.do(req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCommissionRoutesAreMounted(t *testing.T) {
	f := newRouterFixture(t)
	token, _ := f.token(t, uuid.New())
	commissionID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commissions/"+commissionID.String()+"/lock", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/commissions/"+commissionID.String()+"/visibility", strings.NewReader(`{"visibility":"public"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}
