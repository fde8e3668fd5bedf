package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-service/internal/backup"
	"contact-service/internal/models"
)

func TestBuildQuery(t *testing.T) {
	_, err := BuildQuery("   ", 10, 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	q, err := BuildQuery(" devis ", 0, -3)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, q["size"])
	assert.Equal(t, 0, q["from"])
	mm := q["query"].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "devis", mm["query"])

	q, err = BuildQuery("x", 1000, 40)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, q["size"])
	assert.Equal(t, 40, q["from"])
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	bulk     string
}

func (f *fakeCluster) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.bodies = append(f.bodies, string(body))
		bulk := f.bulk
		f.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/contact-submissions/_doc/"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_bulk"):
			if bulk == "" {
				bulk = `{"errors":false,"items":[]}`
			}
			_, _ = w.Write([]byte(bulk))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_score":2.5,"_source":{"id":"form_1","name":"Alice","email":"alice@example.com","message":"devis","language":"fr","created_at":"2026-01-02T03:04:05Z"}}]}}`))
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"bad_request","reason":"unexpected"}}`))
		}
	})
}

func newTestIndex(t *testing.T) (*Index, *fakeCluster) {
	t.Helper()
	fc := &fakeCluster{}
	srv := httptest.NewServer(fc.handler(t))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndex(es, "contact-submissions"), fc
}

func TestIndexSubmission(t *testing.T) {
	idx, fc := newTestIndex(t)
	sub := models.Submission{Name: "Alice", Email: "alice@example.com", Message: "devis", Language: "fr", Consent: true}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, idx.IndexSubmission(context.Background(), "form_1", "203.0.113.5", sub, at))
	require.Len(t, fc.requests, 1)
	assert.Equal(t, "PUT /contact-submissions/_doc/form_1", fc.requests[0])

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(fc.bodies[0]), &doc))
	want := Document{ID: "form_1", Name: "Alice", Email: "alice@example.com", Message: "devis", Language: "fr", Consent: true, IP: "203.0.113.5", CreatedAt: at}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("indexed document mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	idx, fc := newTestIndex(t)

	res, err := idx.Search(context.Background(), "devis", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "form_1", res.Hits[0].ID)
	assert.Equal(t, 2.5, res.Hits[0].Score)
	assert.Contains(t, fc.bodies[0], `"multi_match"`)

	_, err = idx.Search(context.Background(), "", 5, 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	idx, fc := newTestIndex(t)
	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, fc.requests, 2)
	assert.Equal(t, "HEAD /contact-submissions", fc.requests[0])
	assert.Equal(t, "PUT /contact-submissions", fc.requests[1])
	assert.Contains(t, fc.bodies[1], `"created_at"`)
}

func TestDeleteSubmissions(t *testing.T) {
	idx, fc := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.DeleteSubmissions(ctx))
	assert.Empty(t, fc.requests, "no ids means no request")

	require.NoError(t, idx.DeleteSubmissions(ctx, "form_1", "form_2"))
	require.Len(t, fc.requests, 1)
	assert.Equal(t, "POST /contact-submissions/_bulk", fc.requests[0])
	assert.Equal(t, "{\"delete\":{\"_id\":\"form_1\"}}\n{\"delete\":{\"_id\":\"form_2\"}}\n", fc.bodies[0])
}

func TestDeleteSubmissions_ItemFailures(t *testing.T) {
	idx, fc := newTestIndex(t)
	ctx := context.Background()

	fc.bulk = `{"errors":true,"items":[{"delete":{"_id":"form_1","status":404}},{"delete":{"_id":"form_2","status":200}}]}`
	assert.NoError(t, idx.DeleteSubmissions(ctx, "form_1", "form_2"), "missing documents are already gone")

	fc.bulk = `{"errors":true,"items":[{"delete":{"_id":"form_1","status":200}},{"delete":{"_id":"form_2","status":503}}]}`
	err := idx.DeleteSubmissions(ctx, "form_1", "form_2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "form_2")
	assert.NotContains(t, err.Error(), "form_1")
}

func TestExpiredBackupsLeaveTheIndex(t *testing.T) {
	idx, fc := newTestIndex(t)
	ctx := context.Background()

	store, err := backup.NewStore(filepath.Join(t.TempDir(), "forms"), backup.WithPurgeHook(idx.DeleteSubmissions))
	require.NoError(t, err)

	sub := models.Submission{Name: "Alice", Email: "alice@example.com", Message: "devis", Language: "fr"}
	id, err := store.Save(ctx, "203.0.113.5", sub)
	require.NoError(t, err)
	require.NoError(t, idx.IndexSubmission(ctx, id, "203.0.113.5", sub, time.Now()))

	matches, err := filepath.Glob(filepath.Join(store.Root(), "*", id+".json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(matches[0], old, old))

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.Len(t, fc.requests, 2)
	assert.Equal(t, "PUT /contact-submissions/_doc/"+id, fc.requests[0])
	assert.Equal(t, "POST /contact-submissions/_bulk", fc.requests[1])
	assert.Contains(t, fc.bodies[1], `"_id":"`+id+`"`)
}
