package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/provider"
	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	// Suppress gin debug output in tests.
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeStore is an in-memory storage.Store. The *Err fields make the matching
// operation fail without touching data.
type fakeStore struct {
	mu     sync.Mutex
	stops  []storage.StopRecord
	favs   []storage.FavoriteEntry
	nextID int64

	searchQuery string

	listStopsErr error
	insertErr    error
	listFavErr   error
	addErr       error
	clearErr     error
}

func (f *fakeStore) ListStops(_ context.Context) ([]storage.StopRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listStopsErr != nil {
		return nil, f.listStopsErr
	}
	return append([]storage.StopRecord(nil), f.stops...), nil
}

func (f *fakeStore) SearchStops(ctx context.Context, q string) ([]storage.StopRecord, error) {
	f.mu.Lock()
	f.searchQuery = q
	f.mu.Unlock()
	all, err := f.ListStops(ctx)
	if err != nil || len(all) == 0 {
		return all, err
	}
	return all[:1], nil
}

func (f *fakeStore) CountStops(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops), nil
}

func (f *fakeStore) InsertStops(_ context.Context, records []storage.StopRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.stops = append(f.stops, records...)
	return len(records), nil
}

func (f *fakeStore) ListFavorites(_ context.Context) ([]storage.FavoriteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFavErr != nil {
		return nil, f.listFavErr
	}
	return append([]storage.FavoriteEntry{}, f.favs...), nil
}

func (f *fakeStore) AddFavorite(_ context.Context, e storage.FavoriteEntry) (*storage.FavoriteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.nextID++
	e.ID = f.nextID
	e.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.favs = append(f.favs, e)
	return &e, nil
}

func (f *fakeStore) DeleteFavorite(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, fav := range f.favs {
		if fav.ID == id {
			f.favs = append(f.favs[:i], f.favs[i+1:]...)
			return nil
		}
	}
	return storage.ErrFavoriteNotFound
}

func (f *fakeStore) DeleteAllFavorites(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return 0, f.clearErr
	}
	n := len(f.favs)
	f.favs = nil
	return n, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeFetcher struct {
	records []storage.StopRecord
	err     error
}

func (f *fakeFetcher) FetchInitialStops(_ context.Context) ([]storage.StopRecord, error) {
	return f.records, f.err
}

// slowFetcher blocks until its context ends.
type slowFetcher struct{}

func (slowFetcher) FetchInitialStops(ctx context.Context) ([]storage.StopRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func strPtr(s string) *string { return &s }

// newTestRouter wires a Handler over store and fetcher, runs the startup
// check and returns an engine with the routes mounted.
func newTestRouter(t *testing.T, store *fakeStore, fetcher service.StopFetcher) *gin.Engine {
	t.Helper()
	return newTimedRouter(t, store, fetcher, 5*time.Second, 5*time.Second)
}

// newTimedRouter is newTestRouter with explicit route timeouts.
func newTimedRouter(t *testing.T, store *fakeStore, fetcher service.StopFetcher, requestTimeout, fetchTimeout time.Duration) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()
	favSvc := service.NewFavoritesService(store, logger, nil)
	boot := service.NewBootstrapper(store, fetcher, logger, nil)
	if _, err := boot.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	h := New(favSvc, store, boot, logger)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"), requestTimeout, fetchTimeout)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type favoritesBody struct {
	Favorites []favoriteJSON `json:"favorites"`
	Message   string         `json:"message"`
}

func decodeFavorites(t *testing.T, w *httptest.ResponseRecorder) favoritesBody {
	t.Helper()
	var body favoritesBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode favorites: %v (body %s)", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func TestListFavorites_EmptyHasMessage(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	w := do(r, http.MethodGet, "/api/v1/favorites", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeFavorites(t, w)
	if body.Favorites == nil || len(body.Favorites) != 0 {
		t.Errorf("favorites = %v, want empty array", body.Favorites)
	}
	if body.Message != emptyFavoritesMessage {
		t.Errorf("message = %q", body.Message)
	}
}

func TestListFavorites_Labels(t *testing.T) {
	store := &fakeStore{favs: []storage.FavoriteEntry{
		{ID: 1, BusStopID: 10, BusStopName: strPtr("Central"), NextBusStop: strPtr("Museum")},
		{ID: 2, BusStopID: 11, BusStopName: strPtr("Harbor")},
		{ID: 3, BusStopID: 12},
	}}
	r := newTestRouter(t, store, &fakeFetcher{})

	body := decodeFavorites(t, do(r, http.MethodGet, "/api/v1/favorites", ""))
	want := []string{"Central (Museum)", unknownLabel, unknownLabel}
	if len(body.Favorites) != len(want) {
		t.Fatalf("got %d favorites, want %d", len(body.Favorites), len(want))
	}
	for i, f := range body.Favorites {
		if f.Label != want[i] {
			t.Errorf("favorites[%d].label = %q, want %q", i, f.Label, want[i])
		}
	}
	if body.Message != "" {
		t.Errorf("message = %q, want none for a non-empty list", body.Message)
	}
}

func TestListFavorites_StorageError(t *testing.T) {
	r := newTestRouter(t, &fakeStore{listFavErr: errors.New("disk gone")}, &fakeFetcher{})

	if w := do(r, http.MethodGet, "/api/v1/favorites", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestAddFavorite(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		addErr     error
		wantStatus int
	}{
		{"full entry", `{"bus_stop_id":7,"bus_stop_name":"Central","next_bus_stop":"Museum"}`, nil, http.StatusCreated},
		{"id only", `{"bus_stop_id":7}`, nil, http.StatusCreated},
		{"missing id", `{"bus_stop_name":"Central"}`, nil, http.StatusBadRequest},
		{"negative id", `{"bus_stop_id":-1}`, nil, http.StatusBadRequest},
		{"malformed", `{"bus_stop_id":`, nil, http.StatusBadRequest},
		{"storage error", `{"bus_stop_id":7}`, &storage.PersistenceError{Op: "AddFavorite", Err: errors.New("locked")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &fakeStore{addErr: tt.addErr}, &fakeFetcher{})
			w := do(r, http.MethodPost, "/api/v1/favorites", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAddFavorite_ReturnsLabel(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	w := do(r, http.MethodPost, "/api/v1/favorites", `{"bus_stop_id":7}`)
	var got favoriteJSON
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID == 0 || got.BusStopID != 7 || got.Label != unknownLabel {
		t.Errorf("got %+v", got)
	}
	if got.BusStopName != nil {
		t.Errorf("bus_stop_name = %v, want null", *got.BusStopName)
	}
}

func TestRemoveFavorite(t *testing.T) {
	store := &fakeStore{favs: []storage.FavoriteEntry{{ID: 1, BusStopID: 10}, {ID: 2, BusStopID: 11}}}
	r := newTestRouter(t, store, &fakeFetcher{})

	if w := do(r, http.MethodDelete, "/api/v1/favorites/1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	body := decodeFavorites(t, do(r, http.MethodGet, "/api/v1/favorites", ""))
	if len(body.Favorites) != 1 || body.Favorites[0].ID != 2 {
		t.Errorf("remaining = %+v, want only id 2", body.Favorites)
	}
}

func TestRemoveFavorite_Errors(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/api/v1/favorites/99", http.StatusNotFound},
		{"/api/v1/favorites/abc", http.StatusBadRequest},
		{"/api/v1/favorites/0", http.StatusBadRequest},
	} {
		if w := do(r, http.MethodDelete, tc.path, ""); w.Code != tc.want {
			t.Errorf("DELETE %s = %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func TestClearFavorites(t *testing.T) {
	store := &fakeStore{favs: []storage.FavoriteEntry{{ID: 1}, {ID: 2}, {ID: 3}}}
	r := newTestRouter(t, store, &fakeFetcher{})

	w := do(r, http.MethodDelete, "/api/v1/favorites", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got struct{ Deleted int }
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", got.Deleted)
	}

	body := decodeFavorites(t, do(r, http.MethodGet, "/api/v1/favorites", ""))
	if len(body.Favorites) != 0 {
		t.Errorf("favorites after clear = %v", body.Favorites)
	}
}

func TestClearFavorites_FailureKeepsList(t *testing.T) {
	store := &fakeStore{
		favs:     []storage.FavoriteEntry{{ID: 1}, {ID: 2}},
		clearErr: &storage.PersistenceError{Op: "DeleteAllFavorites", Err: errors.New("aborted")},
	}
	r := newTestRouter(t, store, &fakeFetcher{})

	if w := do(r, http.MethodDelete, "/api/v1/favorites", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	store.clearErr = nil
	body := decodeFavorites(t, do(r, http.MethodGet, "/api/v1/favorites", ""))
	if len(body.Favorites) != 2 {
		t.Errorf("favorites after failed clear = %d, want 2", len(body.Favorites))
	}
}

// ---------------------------------------------------------------------------
// Stops
// ---------------------------------------------------------------------------

func TestListStops(t *testing.T) {
	store := &fakeStore{stops: []storage.StopRecord{
		{StopID: 1, StopName: "Central", NextStop: strPtr("Museum")},
		{StopID: 2, StopName: "Museum"},
	}}
	r := newTestRouter(t, store, &fakeFetcher{})

	w := do(r, http.MethodGet, "/api/v1/stops", "")
	var got []stopJSON
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].NextStop == nil || got[1].NextStop != nil {
		t.Errorf("got %+v", got)
	}

	w = do(r, http.MethodGet, "/api/v1/stops?q=cent", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	if store.searchQuery != "cent" {
		t.Errorf("search query = %q, want cent", store.searchQuery)
	}
}

func TestListStops_EmptyIsArray(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	w := do(r, http.MethodGet, "/api/v1/stops", "")
	if w.Body.String() != "[]" {
		t.Errorf("body = %s, want []", w.Body.String())
	}
}

func TestListStops_StorageError(t *testing.T) {
	r := newTestRouter(t, &fakeStore{listStopsErr: errors.New("boom")}, &fakeFetcher{})

	if w := do(r, http.MethodGet, "/api/v1/stops", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func decodeBootstrap(t *testing.T, w *httptest.ResponseRecorder) bootstrapJSON {
	t.Helper()
	var got bootstrapJSON
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode bootstrap: %v", err)
	}
	return got
}

func TestGetBootstrap_PendingShowsPrompt(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	got := decodeBootstrap(t, do(r, http.MethodGet, "/api/v1/bootstrap", ""))
	if !got.Needed || got.State != string(service.StatePending) || got.Prompt != service.Prompt {
		t.Errorf("got %+v", got)
	}
}

func TestAnswerBootstrap_Confirm(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{records: []storage.StopRecord{{StopID: 1, StopName: "Central"}, {StopID: 2, StopName: "Museum"}}}
	r := newTestRouter(t, store, fetcher)

	w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	got := decodeBootstrap(t, w)
	if got.State != string(service.StateCompleted) || got.Needed || got.Inserted != 2 || got.Prompt != "" {
		t.Errorf("got %+v", got)
	}

	// A second answer is a conflict.
	if w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`); w.Code != http.StatusConflict {
		t.Errorf("second confirm = %d, want 409", w.Code)
	}
}

func TestAnswerBootstrap_DeclineThenFavoritesWork(t *testing.T) {
	r := newTestRouter(t, &fakeStore{}, &fakeFetcher{})

	w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decodeBootstrap(t, w); got.State != string(service.StateDeclined) {
		t.Errorf("state = %q, want declined", got.State)
	}

	w = do(r, http.MethodGet, "/api/v1/favorites", "")
	if w.Code != http.StatusOK {
		t.Fatalf("favorites status = %d", w.Code)
	}
	if body := decodeFavorites(t, w); len(body.Favorites) != 0 {
		t.Errorf("favorites = %v, want empty", body.Favorites)
	}
}

func TestAnswerBootstrap_Errors(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		fetcher    *fakeFetcher
		body       string
		wantStatus int
	}{
		{
			name:       "missing confirm",
			store:      &fakeStore{},
			fetcher:    &fakeFetcher{},
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not needed",
			store:      &fakeStore{stops: []storage.StopRecord{{StopID: 1, StopName: "Central"}}},
			fetcher:    &fakeFetcher{},
			body:       `{"confirm":true}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "provider failure",
			store:      &fakeStore{},
			fetcher:    &fakeFetcher{err: errors.New("connection refused")},
			body:       `{"confirm":true}`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "empty dataset",
			store:      &fakeStore{},
			fetcher:    &fakeFetcher{},
			body:       `{"confirm":true}`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "breaker open",
			store:      &fakeStore{},
			fetcher:    &fakeFetcher{err: provider.ErrProviderUnavailable},
			body:       `{"confirm":true}`,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "insert failure",
			store:      &fakeStore{insertErr: &storage.PersistenceError{Op: "InsertStops", Err: errors.New("constraint")}},
			fetcher:    &fakeFetcher{records: []storage.StopRecord{{StopID: 1, StopName: "Central"}}},
			body:       `{"confirm":true}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.store, tt.fetcher)
			w := do(r, http.MethodPost, "/api/v1/bootstrap", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAnswerBootstrap_FailureCanBeRetried(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{err: errors.New("timeout")}
	r := newTestRouter(t, store, fetcher)

	w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	got := decodeBootstrap(t, do(r, http.MethodGet, "/api/v1/bootstrap", ""))
	if got.State != string(service.StateFailed) || got.LastError == "" || got.Prompt == "" {
		t.Errorf("after failure got %+v", got)
	}
	if len(store.stops) != 0 {
		t.Errorf("stops = %d after failed fetch, want 0", len(store.stops))
	}

	fetcher.err = nil
	fetcher.records = []storage.StopRecord{{StopID: 5, StopName: "Depot"}}
	if w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`); w.Code != http.StatusOK {
		t.Errorf("retry status = %d, want 200", w.Code)
	}
}

func TestFavoriteLabel(t *testing.T) {
	tests := []struct {
		name string
		in   storage.FavoriteEntry
		want string
	}{
		{"both", storage.FavoriteEntry{BusStopName: strPtr("A"), NextBusStop: strPtr("B")}, "A (B)"},
		{"no next", storage.FavoriteEntry{BusStopName: strPtr("A")}, unknownLabel},
		{"no name", storage.FavoriteEntry{NextBusStop: strPtr("B")}, unknownLabel},
		{"empty name", storage.FavoriteEntry{BusStopName: strPtr(""), NextBusStop: strPtr("B")}, unknownLabel},
		{"neither", storage.FavoriteEntry{}, unknownLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := favoriteLabel(tt.in); got != tt.want {
				t.Errorf("favoriteLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnswerBootstrap_FetchTimeout(t *testing.T) {
	store := &fakeStore{}
	r := newTimedRouter(t, store, slowFetcher{}, 5*time.Second, 20*time.Millisecond)

	w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", w.Code, w.Body.String())
	}
	var body struct {
		Error     string        `json:"error"`
		Bootstrap bootstrapJSON `json:"bootstrap"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "request timed out" {
		t.Errorf("error = %q", body.Error)
	}
	if body.Bootstrap.State != string(service.StateFailed) || !body.Bootstrap.Needed {
		t.Errorf("bootstrap = %+v, want failed and still needed", body.Bootstrap)
	}
	if len(store.stops) != 0 {
		t.Errorf("stops = %d after timed-out fetch, want 0", len(store.stops))
	}
}

func TestRoutes_FetchTimeoutOnlyAppliesToBootstrap(t *testing.T) {
	// A tiny request timeout would cut off the fetch if it applied to POST
	// /bootstrap; the fetch budget is separate.
	fetcher := &fakeFetcher{records: []storage.StopRecord{{StopID: 1, StopName: "Central"}}}
	r := newTimedRouter(t, &fakeStore{}, fetcher, time.Nanosecond, 5*time.Second)

	if w := do(r, http.MethodPost, "/api/v1/bootstrap", `{"confirm":true}`); w.Code != http.StatusOK {
		t.Errorf("bootstrap status = %d, want 200", w.Code)
	}
}
