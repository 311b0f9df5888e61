package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/model"
)

func newTestClient(t *testing.T, h http.Handler, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:      srv.URL + "/api",
		Token:        "secret",
		PageSize:     2,
		MaxAttempts:  3,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "base url required")

	_, err = New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err, "only http(s)")

	_, err = New(Config{BaseURL: "https://example.com", PageSize: 5000})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, c.pageSize)
	assert.Equal(t, uint(DefaultMaxAttempts), c.attempts)
}

func TestFetchTrainers_Pages(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/trainers", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		assert.Equal(t, "2", req.URL.Query().Get("limit"))
		switch req.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `[{"id":"T1","userId":"U1","name":"Ada","specializations":["yoga"]},{"_id":2,"fullName":"Grace"}]`)
		case "2":
			fmt.Fprint(w, `[{"id":"T3"}]`)
		default:
			t.Errorf("unexpected page %s", req.URL.Query().Get("page"))
		}
	})
	c := newTestClient(t, r)

	got, err := c.FetchTrainers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "T1", got[0].ID)
	assert.Equal(t, "U1", got[0].UserID)
	assert.Equal(t, []string{"yoga"}, got[0].Specializations)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "Grace", got[1].Name)
	assert.False(t, got[2].HasSpecializations)
}

func TestFetchTrainers_EnvelopeWithMeta(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/trainers", func(w http.ResponseWriter, req *http.Request) {
		page, _ := strconv.Atoi(req.URL.Query().Get("page"))
		fmt.Fprintf(w, `{"data":[{"id":"T%d"},{"name":"no id"}],"meta":{"totalPages":2}}`, page)
	})
	c := newTestClient(t, r)

	got, err := c.FetchTrainers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "items without id are skipped")
	assert.Equal(t, "T1", got[0].ID)
	assert.Equal(t, "T2", got[1].ID)
}

func TestFetchTrainers_ServerIgnoresPage(t *testing.T) {
	var requests atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/trainers", func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `[{"id":"T1"},{"id":"T2"}]`)
	})
	c := newTestClient(t, r)

	got, err := c.FetchTrainers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "the repeated page is not appended")
	assert.Equal(t, int32(2), requests.Load(), "stops at the first repeated page")
}

func TestFetchPendingCertifications(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/certifications", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "PENDING", req.URL.Query().Get("status"))
		fmt.Fprint(w, `{"certifications":[
			{"id":"C1","trainerId":"T1","name":"CPR","issueDate":"2024-05-01"},
			{"certificationId":"C2","trainer":{"userId":"U2"}},
			{"id":"C3"}
		],"hasMore":false}`)
	})
	c := newTestClient(t, r)

	got, err := c.FetchPendingCertifications(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "record without trainer is skipped")
	assert.Equal(t, "C1", got[0].Key)
	assert.Equal(t, model.StatusPending, got[0].Status)
	require.NotNil(t, got[0].IssueDate)
	assert.Equal(t, "U2", got[1].TrainerKey)
}

func TestFetchTrainerByID(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/trainers/{id}", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `{"trainer":{"id":%q,"specializations":"yoga, pilates"}}`, chi.URLParam(req, "id"))
	})
	c := newTestClient(t, r)

	got, err := c.FetchTrainerByID(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)
	assert.True(t, got.HasSpecializations)
	assert.Equal(t, []string{"yoga", "pilates"}, got.Specializations)
}

func TestRecomputeSpecializations_SpecsOnlyResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/trainers/{id}/specializations/recompute", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"specializations":["strength"]}}`)
	})
	c := newTestClient(t, r)

	got, err := c.RecomputeSpecializations(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)
	assert.Equal(t, []string{"strength"}, got.Specializations)
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/trainers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"T1","specializations":[]}`)
	})
	c := newTestClient(t, r)

	got, err := c.FetchTrainerByID(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/trainers/{id}/specializations/recompute", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newTestClient(t, r)

	_, err := c.RecomputeSpecializations(context.Background(), "T1")
	require.Error(t, err)
	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusInternalServerError, herr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/trainers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	})
	c := newTestClient(t, r)

	_, err := c.FetchTrainerByID(context.Background(), "T404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedListResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/trainers", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"unexpected":true}`)
	})
	c := newTestClient(t, r)

	_, err := c.FetchTrainers(context.Background())
	assert.ErrorIs(t, err, model.ErrMalformedPayload)
}

func TestEndpointEscapesSegments(t *testing.T) {
	c, err := New(Config{BaseURL: "https://example.com/api/"})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/api/trainers/a%2Fb", c.endpoint(nil, "trainers", "a/b"))
}
