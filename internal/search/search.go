// Package search indexes accepted submissions into Elasticsearch so the
// admin API can run full-text queries over them.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"contact-service/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrEmptyQuery = errors.New("search query is empty")

// Document is the indexed shape of a submission.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Language  string    `json:"language"`
	Consent   bool      `json:"consent"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is one search result.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// Result is a page of hits and the total match count.
type Result struct {
	Total int   `json:"total"`
	Hits  []Hit `json:"hits"`
}

// Index wraps an Elasticsearch client bound to one index.
type Index struct {
	es   *elasticsearch.Client
	name string
}

func NewIndex(es *elasticsearch.Client, name string) *Index {
	return &Index{es: es, name: name}
}

func (i *Index) Name() string {
	return i.name
}

// EnsureIndex creates the index with its mapping when missing.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.name}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.es.Indices.Create(i.name,
		i.es.Indices.Create.WithContext(ctx),
		i.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	return parseResponse(res, nil)
}

// IndexSubmission stores an accepted submission under its backup id.
func (i *Index) IndexSubmission(ctx context.Context, id, ip string, sub models.Submission, at time.Time) error {
	doc := Document{
		ID:        id,
		Name:      sub.Name,
		Email:     sub.Email,
		Message:   sub.Message,
		Language:  sub.Language,
		Consent:   sub.Consent,
		IP:        ip,
		CreatedAt: at.UTC(),
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	res, err := i.es.Index(i.name, &buf,
		i.es.Index.WithContext(ctx),
		i.es.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("error indexing document: %w", err)
	}
	return parseResponse(res, nil)
}

// DeleteSubmissions removes the documents with the given backup ids in one
// bulk request. Ids that were never indexed are not an error.
func (i *Index) DeleteSubmissions(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		action := map[string]any{"delete": map[string]string{"_id": id}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("error encoding bulk action: %w", err)
		}
	}

	res, err := i.es.Bulk(&buf,
		i.es.Bulk.WithContext(ctx),
		i.es.Bulk.WithIndex(i.name),
	)
	if err != nil {
		return fmt.Errorf("error deleting documents: %w", err)
	}

	var raw bulkResponse
	if err := parseResponse(res, &raw); err != nil {
		return err
	}
	if !raw.Errors {
		return nil
	}

	var failed []string
	for _, item := range raw.Items {
		for _, r := range item {
			if r.Status == http.StatusNotFound || r.Status < 300 {
				continue
			}
			failed = append(failed, r.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("elasticsearch bulk delete failed for %d of %d documents: %s",
			len(failed), len(ids), strings.Join(failed, ", "))
	}
	return nil
}

// Search runs a full-text query over name, email and message.
func (i *Index) Search(ctx context.Context, q string, limit, offset int) (*Result, error) {
	body, err := BuildQuery(q, limit, offset)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.name),
		i.es.Search.WithBody(&buf),
		i.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}

	var raw searchResponse
	if err := parseResponse(res, &raw); err != nil {
		return nil, err
	}

	out := &Result{Total: raw.Hits.Total.Value, Hits: make([]Hit, 0, len(raw.Hits.Hits))}
	for _, h := range raw.Hits.Hits {
		out.Hits = append(out.Hits, Hit{Document: h.Source, Score: h.Score})
	}
	return out, nil
}

// BuildQuery returns the request body for Search.
func BuildQuery(q string, limit, offset int) (map[string]any, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	return map[string]any{
		"from": offset,
		"size": limit,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"name^2", "email^2", "message"},
			},
		},
		"sort": []any{
			map[string]any{"_score": "desc"},
			map[string]any{"created_at": "desc"},
		},
	}, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score  float64  `json:"_score"`
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
	} `json:"items"`
}

func parseResponse(res *esapi.Response, target any) error {
	defer res.Body.Close()

	if res.IsError() {
		var e struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return fmt.Errorf("elasticsearch error: %s", res.Status())
		}
		return fmt.Errorf("elasticsearch error: [%s] %s: %s", res.Status(), e.Error.Type, e.Error.Reason)
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

const mapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "name":       {"type": "text"},
      "email":      {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "message":    {"type": "text"},
      "language":   {"type": "keyword"},
      "consent":    {"type": "boolean"},
      "ip":         {"type": "ip", "ignore_malformed": true},
      "created_at": {"type": "date"}
    }
  }
}`
