package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reqtrail/reqtrail/internal/api"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/store"
)

func requestRouter(requests *mockRequestRepo, changes *mockChangeRepo) *gin.Engine {
	h := api.NewRequestHandler(requests, changes, testLogger())

	r := gin.New()
	r.GET("/requests", h.List)
	r.GET("/requests/:id", h.Get)

	return r
}

func TestRequestList_FiltersPassedThrough(t *testing.T) {
	var gotOpts models.RequestQueryOpts

	requests := &mockRequestRepo{
		queryFn: func(_ context.Context, opts models.RequestQueryOpts) ([]models.RequestRecord, bool, error) {
			gotOpts = opts
			return []models.RequestRecord{{ID: 1, Method: "POST"}}, true, nil
		},
	}
	r := requestRouter(requests, &mockChangeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/requests?method=POST&user_id=u-1&status=201&limit=10&offset=5&since=2026-01-01T00:00:00Z", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if gotOpts.Method != "POST" || gotOpts.UserID != "u-1" || gotOpts.StatusCode != 201 {
		t.Errorf("opts = %+v", gotOpts)
	}
	if gotOpts.Limit != 10 || gotOpts.Offset != 5 {
		t.Errorf("pagination = %d/%d", gotOpts.Limit, gotOpts.Offset)
	}
	if gotOpts.Since == nil || !gotOpts.Since.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", gotOpts.Since)
	}

	body := decodeBody(t, w)
	if body["has_more"] != true {
		t.Error("has_more not propagated")
	}
}

func TestRequestList_InvalidSince(t *testing.T) {
	r := requestRouter(&mockRequestRepo{}, &mockChangeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests?since=yesterday", http.NoBody))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRequestGet_IncludesLinkedChanges(t *testing.T) {
	requests := &mockRequestRepo{
		getFn: func(_ context.Context, id int64) (*models.RequestRecord, error) {
			return &models.RequestRecord{ID: id, Method: "POST", StatusCode: 201}, nil
		},
	}
	changes := &mockChangeRepo{
		queryFn: func(_ context.Context, opts models.ChangeQueryOpts) ([]models.ChangeRecord, bool, error) {
			if opts.RequestID == nil || *opts.RequestID != 7 {
				t.Errorf("change query opts = %+v, want request id filter", opts)
			}
			return []models.ChangeRecord{{ID: 41}, {ID: 42}}, false, nil
		},
	}
	r := requestRouter(requests, changes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/7", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["request"] == nil {
		t.Error("request record missing from response")
	}
	linked, ok := body["changes"].([]any)
	if !ok || len(linked) != 2 {
		t.Errorf("changes = %v, want two linked records", body["changes"])
	}
}

func TestRequestGet_NotFound(t *testing.T) {
	requests := &mockRequestRepo{
		getFn: func(context.Context, int64) (*models.RequestRecord, error) {
			return nil, store.ErrRequestNotFound
		},
	}
	r := requestRouter(requests, &mockChangeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/99", http.NoBody))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRequestGet_InvalidID(t *testing.T) {
	r := requestRouter(&mockRequestRepo{}, &mockChangeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/abc", http.NoBody))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRequestList_StoreError(t *testing.T) {
	requests := &mockRequestRepo{
		queryFn: func(context.Context, models.RequestQueryOpts) ([]models.RequestRecord, bool, error) {
			return nil, false, errors.New("db down")
		},
	}
	r := requestRouter(requests, &mockChangeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
