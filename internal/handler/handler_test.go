package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/auth"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
	"auctionhouse/internal/txn"
)

// stubRepo covers the calls the routes under test make. Anything else
// panics through the nil embedded interface.
type stubRepo struct {
	repository.Repository

	mu       sync.Mutex
	auctions map[uuid.UUID]models.AuctionRecord
	settings map[string]models.SystemSetting
	hub      *changefeed.Hub
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		auctions: map[uuid.UUID]models.AuctionRecord{},
		settings: map[string]models.SystemSetting{},
		hub:      changefeed.NewHub(),
	}
}

func (s *stubRepo) Subscribe(filter changefeed.Filter, fn func(changefeed.Event)) func() {
	return s.hub.Subscribe(filter, fn)
}

// put stores rec and announces the change.
func (s *stubRepo) put(rec models.AuctionRecord) {
	s.mu.Lock()
	s.auctions[rec.ID] = rec
	s.mu.Unlock()
	s.hub.Publish(changefeed.Event{Kind: changefeed.Updated, AuctionID: rec.ID, Status: rec.Status})
}

func (s *stubRepo) GetAuction(_ context.Context, id uuid.UUID) (*models.AuctionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.auctions[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *stubRepo) ListAuctions(_ context.Context, params repository.ListAuctionsParams) ([]models.AuctionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuctionRecord
	for _, rec := range s.auctions {
		for _, st := range params.Statuses {
			if rec.Status == st {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *stubRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *stubRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[item.Key] = *item
	return nil
}

var (
	testJWT   = auth.JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	adminAddr = chain.MustID("0xad")
	userAddr  = chain.MustID("0xb0b")
)

func token(t *testing.T, addr chain.Address, role string) string {
	t.Helper()
	tok, _, err := testJWT.Sign(auth.Claims{Address: addr.String(), Role: role})
	require.NoError(t, err)
	return tok
}

func newTestRouter(repo *stubRepo, limiter *RateLimiter) *gin.Engine {
	m := &service.Machine{
		Repo:     repo,
		Settings: &service.SystemSettingsService{Repo: repo},
		Config:   service.Config{AdminAddress: adminAddr},
	}
	return NewRouter(Deps{
		Repo:         repo,
		Machine:      m,
		Projector:    &service.Projector{Machine: m, QueuePreview: 2},
		Settings:     m.Settings,
		JWT:          testJWT,
		Limiter:      limiter,
		LiveInterval: time.Hour,
	})
}

func do(r http.Handler, method, path, tok, body string) (*httptest.ResponseRecorder, apiResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestGetAuction(t *testing.T) {
	repo := newStubRepo()
	id := uuid.New()
	repo.auctions[id] = models.AuctionRecord{ID: id, Status: models.StatusPending, Name: "Capy #1"}
	r := newTestRouter(repo, nil)

	w, _ := do(r, http.MethodGet, "/api/v1/auctions/"+id.String(), "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Capy #1")

	w, resp := do(r, http.MethodGet, "/api/v1/auctions/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "validation", resp.Meta["class"])

	w, _ = do(r, http.MethodGet, "/api/v1/auctions/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	repo := newStubRepo()
	r := newTestRouter(repo, nil)

	w, _ := do(r, http.MethodGet, "/api/v1/admin/queue", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/admin/queue", token(t, userAddr, auth.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/admin/queue", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminQueueIsOrdered(t *testing.T) {
	repo := newStubRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, second, prio := uuid.New(), uuid.New(), uuid.New()
	repo.auctions[first] = models.AuctionRecord{ID: first, Status: models.StatusQueued, CreatedAt: base}
	repo.auctions[second] = models.AuctionRecord{ID: second, Status: models.StatusQueued, CreatedAt: base.Add(time.Minute)}
	repo.auctions[prio] = models.AuctionRecord{ID: prio, Status: models.StatusQueued, CreatedAt: base.Add(time.Hour), IsPriority: true}
	repo.auctions[uuid.New()] = models.AuctionRecord{Status: models.StatusPending, CreatedAt: base}
	r := newTestRouter(repo, nil)

	w, _ := do(r, http.MethodGet, "/api/v1/admin/queue", token(t, adminAddr, auth.RoleAdmin), "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.AuctionRecord `json:"data"`
		Meta map[string]any         `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, prio, body.Data[0].ID)
	assert.Equal(t, first, body.Data[1].ID)
	assert.Equal(t, second, body.Data[2].ID)
	assert.EqualValues(t, 3, body.Meta["total"])
}

func TestSystemSwitches(t *testing.T) {
	repo := newStubRepo()
	r := newTestRouter(repo, nil)
	admin := token(t, adminAddr, auth.RoleAdmin)

	w, _ := do(r, http.MethodPut, "/api/v1/admin/system-settings/switches/bogus", admin, `{"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodPut, "/api/v1/admin/system-settings/switches/auto_activate", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(r, http.MethodPut, "/api/v1/admin/system-settings/switches/auto_activate", admin, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	settings := &service.SystemSettingsService{Repo: repo}
	assert.True(t, settings.IsEnabled(context.Background(), service.FeatureAutoActivate, false))

	w, _ = do(r, http.MethodGet, "/api/v1/admin/system-settings/switches", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"feature.auto_activate","name":"auto_activate"`)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	repo := newStubRepo()
	limiter := NewRateLimiter(0.001, 2)
	r := newTestRouter(repo, limiter)

	for i := 0; i < 2; i++ {
		w, _ := do(r, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := do(r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", resp.Message)

	// A signed-in caller gets its own bucket.
	w, _ = do(r, http.MethodGet, "/healthz", token(t, userAddr, auth.RoleUser), "")
	assert.Equal(t, http.StatusOK, w.Code)

	limiter.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 2, limiter.Prune(time.Minute))
}

func TestFailMapsErrorClasses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		class  string
	}{
		{service.ErrUnauthorized, http.StatusForbidden, "validation"},
		{auth.ErrLoginRejected, http.StatusUnauthorized, "validation"},
		{fmt.Errorf("load: %w", service.ErrNotFound), http.StatusNotFound, "validation"},
		{service.ErrSlotBusy, http.StatusConflict, "validation"},
		{service.ErrCooldown, http.StatusConflict, "validation"},
		{service.ErrBidTooLow, http.StatusBadRequest, "validation"},
		{&txn.ExecutionError{Action: "place_bid", Digest: "d1", Reason: "abort"}, http.StatusUnprocessableEntity, "ledger"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Fail(c, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		var resp apiResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tc.class, resp.Meta["class"], tc.err.Error())
	}
}

func TestOutcomeReportsDivergence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Outcome(c, &service.Outcome{Record: &models.AuctionRecord{ID: uuid.New()}, Digest: "abc", Divergent: true})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp.Meta["divergence"])
	assert.Equal(t, false, resp.Meta["skipped"])
	assert.Equal(t, "abc", resp.Meta["digest"])
}
