package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/pokefav/internal/domain"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/mw"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

// fakeStore keeps favorites in memory and counts calls so tests can check
// that rejected requests never reach storage.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.FavoriteRecord
	calls  int
	err    error
	clock  time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeStore) List(_ context.Context, username string) ([]domain.FavoriteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.FavoriteRecord{}
	for _, r := range f.rows {
		if r.Username == username {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) InsertIfAbsent(_ context.Context, fav domain.NewFavorite) (domain.InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.InsertResult{}, f.err
	}
	for _, r := range f.rows {
		if r.Username == fav.Username && r.PokemonID == fav.PokemonID {
			return domain.InsertResult{ID: r.ID, Existed: true}, nil
		}
	}
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	f.rows = append(f.rows, domain.FavoriteRecord{
		ID:          f.nextID,
		Username:    fav.Username,
		PokemonID:   fav.PokemonID,
		PokemonName: fav.PokemonName,
		PokemonData: fav.PokemonData,
		CreatedAt:   f.clock,
	})
	return domain.InsertResult{ID: f.nextID}, nil
}

func (f *fakeStore) Delete(_ context.Context, key domain.FavoriteKey) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	for i, r := range f.rows {
		if r.Username == key.Username && r.PokemonID == key.PokemonID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDeps(store *fakeStore) deps.Deps {
	return deps.Deps{
		Logger:       logger.NewNop(),
		StartTime:    time.Now(),
		Version:      "test",
		Store:        store,
		MaxBodyBytes: 1 << 10,
		ReadyChecks: []deps.ReadyCheck{
			{Name: "postgres", Ping: store.Ping},
		},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,DELETE,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

type addResp struct {
	OK      bool  `json:"ok"`
	ID      int64 `json:"id"`
	Existed bool  `json:"existed"`
}

type listItem struct {
	ID          int64           `json:"id"`
	PokemonID   int64           `json:"pokemon_id"`
	PokemonName string          `json:"pokemon_name"`
	PokemonData json.RawMessage `json:"pokemon_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

func TestFavoritesScenario(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	rec := do(t, h, http.MethodPost, "/api/favorites", `{"user":"ash","pokemon_id":25,"pokemon_name":"pikachu"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assertCORS(t, rec)
	first := decode[addResp](t, rec)
	assert.True(t, first.OK)
	assert.False(t, first.Existed)

	rec = do(t, h, http.MethodPost, "/api/favorites", `{"user":"ash","pokemon_id":25,"pokemon_name":"pikachu"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[addResp](t, rec)
	assert.Equal(t, addResp{OK: true, ID: first.ID, Existed: true}, second)

	rec = do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	list := decode[[]listItem](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, int64(25), list[0].PokemonID)
	assert.Equal(t, "pikachu", list[0].PokemonName)
	assert.JSONEq(t, `{}`, string(list[0].PokemonData))
	assert.False(t, list[0].CreatedAt.IsZero())
	assert.NotContains(t, rec.Body.String(), "username")

	rec = do(t, h, http.MethodDelete, "/api/favorites", `{"user":"ash","pokemon_id":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAddFavoriteKeepsPayload(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	rec := do(t, h, http.MethodPost, "/api/favorites",
		`{"user":"misty","pokemon_id":"121","pokemon_data":{"types":["water","psychic"]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/favorites?user=misty", "")
	list := decode[[]listItem](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, int64(121), list[0].PokemonID)
	assert.Equal(t, "", list[0].PokemonName)
	assert.JSONEq(t, `{"types":["water","psychic"]}`, string(list[0].PokemonData))
}

func TestListOrdersNewestFirst(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	for _, id := range []string{"1", "4", "7"} {
		rec := do(t, h, http.MethodPost, "/api/favorites", `{"user":"brock","pokemon_id":`+id+`}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	list := decode[[]listItem](t, do(t, h, http.MethodGet, "/api/favorites?user=brock", ""))
	require.Len(t, list, 3)
	assert.Equal(t, []int64{7, 4, 1}, []int64{list[0].PokemonID, list[1].PokemonID, list[2].PokemonID})
}

func TestDeleteMissingLeavesStorage(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	do(t, h, http.MethodPost, "/api/favorites", `{"user":"gary","pokemon_id":1}`)
	do(t, h, http.MethodPost, "/api/favorites", `{"user":"gary","pokemon_id":4}`)

	rec := do(t, h, http.MethodDelete, "/api/favorites", `{"user":"gary","pokemon_id":150}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":0}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/favorites", `{"user":"gary","pokemon_id":1}`)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	list := decode[[]listItem](t, do(t, h, http.MethodGet, "/api/favorites?user=gary", ""))
	require.Len(t, list, 1)
	assert.Equal(t, int64(4), list[0].PokemonID)
}

func TestValidationNeverTouchesStorage(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		wantMsg string
	}{
		{name: "get without user", method: http.MethodGet, target: "/api/favorites", wantMsg: "user required"},
		{name: "get with empty user", method: http.MethodGet, target: "/api/favorites?user=", wantMsg: "user required"},
		{name: "post without body", method: http.MethodPost, target: "/api/favorites", wantMsg: "user and pokemon_id required"},
		{name: "post without pokemon_id", method: http.MethodPost, target: "/api/favorites", body: `{"user":"ash"}`, wantMsg: "user and pokemon_id required"},
		{name: "post without user", method: http.MethodPost, target: "/api/favorites", body: `{"pokemon_id":25}`, wantMsg: "user and pokemon_id required"},
		{name: "post with zero id", method: http.MethodPost, target: "/api/favorites", body: `{"user":"ash","pokemon_id":0}`, wantMsg: "user and pokemon_id required"},
		{name: "post with fractional id", method: http.MethodPost, target: "/api/favorites", body: `{"user":"ash","pokemon_id":2.5}`, wantMsg: "pokemon_id must be a positive integer"},
		{name: "post with word id", method: http.MethodPost, target: "/api/favorites", body: `{"user":"ash","pokemon_id":"pika"}`, wantMsg: "pokemon_id must be a positive integer"},
		{name: "delete without pokemon_id", method: http.MethodDelete, target: "/api/favorites", body: `{"user":"ash"}`, wantMsg: "user and pokemon_id required"},
		{name: "delete with negative id", method: http.MethodDelete, target: "/api/favorites", body: `{"user":"ash","pokemon_id":-3}`, wantMsg: "pokemon_id must be a positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			h := NewRouter(testDeps(store))

			rec := do(t, h, tt.method, tt.target, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.wantMsg+`"}`, rec.Body.String())
			assertCORS(t, rec)
			assert.Zero(t, store.callCount())
		})
	}
}

func TestUnknownRoutesAreNotFound(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodGet, "/", ""},
		{http.MethodGet, "/api/pokemon", ""},
		{http.MethodPut, "/api/favorites", ""},
		{http.MethodPatch, "/api/favorites", ""},
		{http.MethodGet, "/api/favorites/25", ""},
		{http.MethodGet, "/api/favorites/?user=ash", ""},
		{http.MethodPost, "/api/favorites/", `{"user":"ash","pokemon_id":25}`},
		{http.MethodDelete, "/api/favorites/", `{"user":"ash","pokemon_id":25}`},
	} {
		rec := do(t, h, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.target)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "Not Found", rec.Body.String())
		assertCORS(t, rec)
	}
	assert.Zero(t, store.callCount())
}

func TestPreflightOnAnyPath(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	for _, target := range []string{"/api/favorites", "/anything/at/all"} {
		rec := do(t, h, http.MethodOptions, target, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assertCORS(t, rec)
	}
	assert.Zero(t, store.callCount())
}

func TestMalformedJSONIsServerError(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		rec := do(t, h, method, "/api/favorites", `{"user":"ash",`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode[map[string]string](t, rec)
		assert.NotEmpty(t, body["error"])
	}
	assert.Zero(t, store.callCount())
}

func TestBodyTooLarge(t *testing.T) {
	store := newFakeStore()
	h := NewRouter(testDeps(store))

	big := `{"user":"ash","pokemon_id":25,"pokemon_data":"` + strings.Repeat("x", 2048) + `"}`
	rec := do(t, h, http.MethodPost, "/api/favorites", big)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())
	assert.Zero(t, store.callCount())
}

func TestStorageErrorHidesCause(t *testing.T) {
	store := newFakeStore()
	store.err = domain.NewStorageError("insert favorite", errors.New("pq: password authentication failed"))
	h := NewRouter(testDeps(store))

	rec := do(t, h, http.MethodPost, "/api/favorites", `{"user":"ash","pokemon_id":25}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"db_error: insert favorite failed"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingStore struct{ fakeStore }

func (p *panickingStore) List(context.Context, string) ([]domain.FavoriteRecord, error) {
	panic("boom")
}

func TestPanicBecomesInternalError(t *testing.T) {
	d := testDeps(newFakeStore())
	d.Store = &panickingStore{}
	h := NewRouter(d)

	rec := do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assertCORS(t, rec)
}

func TestHealthz(t *testing.T) {
	store := newFakeStore()
	d := testDeps(store)
	d.StartTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	h := NewRouter(d)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "2024-06-01T10:00:00Z", body["started_at"])
	assert.Greater(t, body["uptime_seconds"], float64(0))
	assert.Zero(t, store.callCount(), "liveness never touches storage")
}

func TestReadyz(t *testing.T) {
	store := newFakeStore()
	d := testDeps(store)
	var redisErr error
	d.ReadyChecks = append(d.ReadyChecks, deps.ReadyCheck{
		Name: "redis",
		Ping: func(context.Context) error { return redisErr },
	})
	h := NewRouter(d)

	rec := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"components":{"postgres":{"ok":true},"redis":{"ok":true}}}`, rec.Body.String())

	redisErr = errors.New("dial tcp: connection refused")
	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false,"components":{"postgres":{"ok":true},"redis":{"ok":false,"error":"unavailable"}}}`, rec.Body.String())
}

func TestReadyzRestrictedByCIDR(t *testing.T) {
	d := testDeps(newFakeStore())
	d.AllowedCIDRS = []string{"10.0.0.0/8"}
	h := NewRouter(d)

	rec := do(t, h, http.MethodGet, "/readyz", "") // httptest RemoteAddr is 192.0.2.1
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitOnAPI(t *testing.T) {
	d := testDeps(newFakeStore())
	d.Limiter = mw.NewMemoryLimiter(mw.RateLimitConfig{Burst: 2, RefillPerIPPerMin: 1})
	h := NewRouter(d)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do(t, h, http.MethodGet, "/api/favorites?user=ash", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assertCORS(t, rec)

	// health endpoints and preflights are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodOptions, "/api/favorites", "").Code)
}
