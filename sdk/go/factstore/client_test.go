package factstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates an httptest server that mimics the fact store API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func ptr[T any](v T) *T { return &v }

func TestNewClientValidation(t *testing.T) {
	c, err := NewClient(Config{})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "BaseURL is required")

	c, err = NewClient(Config{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.Equal(t, "factstore-go", c.userAgent)
}

func TestAddFact(t *testing.T) {
	org := uuid.New()
	factID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/facts": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "factstore-go", r.Header.Get("User-Agent"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "organization", body["entity_type"])
			assert.Equal(t, org.String(), body["entity_id"])
			assert.Equal(t, "mrr", body["key"])
			assert.Equal(t, 0.9, body["confidence"])
			_, hasSourceID := body["source_id"]
			assert.False(t, hasSourceID, "unset optional fields are omitted")

			writeJSON(w, http.StatusCreated, map[string]any{
				"data": map[string]any{
					"success":                true,
					"fact_id":                factID,
					"classification":         "NEW",
					"resolution":             "new",
					"requires_manual_review": false,
				},
			})
		},
	})

	resp, err := newTestClient(t, srv.URL).AddFact(context.Background(), AddFactRequest{
		EntityType: EntityOrganization,
		EntityID:   org,
		FactType:   "metric",
		Key:        "mrr",
		Value:      "50000",
		SourceType: "attio",
		Confidence: ptr(0.9),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, ClassificationNew, resp.Classification)
	assert.Equal(t, ResolutionNew, resp.Resolution)
	require.NotNil(t, resp.FactID)
	assert.Equal(t, factID, *resp.FactID)
}

func TestAddFact_ConflictIsAResult(t *testing.T) {
	org := uuid.New()
	existing := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/facts": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"data": map[string]any{
					"success":                false,
					"classification":         "CONFLICT",
					"resolution":             "escalated",
					"requires_manual_review": true,
					"conflict": map[string]any{
						"slot": map[string]any{
							"subject":   map[string]any{"type": "organization", "id": org},
							"fact_type": "metric",
							"key":       "mrr",
						},
						"existing": map[string]any{
							"id":          existing,
							"value":       "50000",
							"source_type": "attio",
							"confidence":  0.9,
						},
						"incoming_value":       "61000",
						"incoming_source_type": "gmail",
						"incoming_confidence":  0.9,
						"reason":               "different_source_not_more_confident",
					},
				},
			})
		},
	})

	resp, err := newTestClient(t, srv.URL).AddFact(context.Background(), AddFactRequest{
		EntityType: EntityOrganization, EntityID: org, FactType: "metric", Key: "mrr",
		Value: "61000", SourceType: "gmail", Confidence: ptr(0.9),
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresManualReview)
	assert.Equal(t, ClassificationConflict, resp.Classification)
	assert.Nil(t, resp.FactID)
	require.NotNil(t, resp.Conflict)
	require.NotNil(t, resp.Conflict.Existing)
	assert.Equal(t, existing, resp.Conflict.Existing.ID)
	assert.Equal(t, "50000", resp.Conflict.Existing.Value)
	assert.Equal(t, "61000", resp.Conflict.IncomingValue)
	assert.Equal(t, org, resp.Conflict.Slot.Subject.ID)
}

func TestAddFact_ValidationError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/facts": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{
					"code":    "INVALID_INPUT",
					"message": "confidence must be between 0 and 1",
					"details": map[string]any{"field": "confidence"},
				},
			})
		},
	})

	_, err := newTestClient(t, srv.URL).AddFact(context.Background(), AddFactRequest{Confidence: ptr(1.5)})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_INPUT", apiErr.Code)
	assert.Equal(t, "confidence", apiErr.Field)
	assert.Contains(t, apiErr.Error(), "confidence must be between 0 and 1")
}

func TestAddFactsBatch(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/facts/batch": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Facts []map[string]any `json:"facts"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Facts, 2)

			writeJSON(w, http.StatusOK, map[string]any{
				"data": []map[string]any{
					{"index": 0, "status": 201, "result": map[string]any{"success": true, "classification": "NEW", "resolution": "new"}},
					{"index": 1, "status": 400, "error": map[string]any{"code": "INVALID_INPUT", "message": "key is required", "details": map[string]any{"field": "key"}}},
				},
			})
		},
	})

	client := newTestClient(t, srv.URL)
	results, err := client.AddFactsBatch(context.Background(), []AddFactRequest{
		{EntityType: EntityPerson, EntityID: uuid.New(), FactType: "profile", Key: "title", Value: "CEO", SourceType: "manual"},
		{EntityType: EntityPerson, EntityID: uuid.New(), FactType: "profile", Value: "CTO", SourceType: "manual"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, http.StatusCreated, results[0].Status)
	require.NotNil(t, results[0].Result)
	assert.Equal(t, ClassificationNew, results[0].Result.Classification)
	assert.Nil(t, results[1].Result)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "key", results[1].Error.Details["field"])
}

func TestAddFactsBatch_ClientSideLimits(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.AddFactsBatch(context.Background(), nil)
	assert.ErrorContains(t, err, "batch is empty")

	_, err = client.AddFactsBatch(context.Background(), make([]AddFactRequest, MaxBatchSize+1))
	assert.ErrorContains(t, err, "exceeds the limit")
}

func TestGetFacts(t *testing.T) {
	person := uuid.New()
	current := uuid.New()
	old := uuid.New()
	until := time.Now().UTC().Truncate(time.Second)

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/facts": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "person", q.Get("entity_type"))
			assert.Equal(t, person.String(), q.Get("entity_id"))
			assert.Equal(t, "profile", q.Get("fact_type"))
			assert.Equal(t, "true", q.Get("include_historical"))
			assert.Empty(t, q.Get("key"))

			subject := map[string]any{"type": "person", "id": person}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"subject":            subject,
					"include_historical": true,
					"facts": map[string]any{
						"profile": map[string]any{
							"title": []map[string]any{
								{"id": current, "subject": subject, "fact_type": "profile", "key": "title", "value": "CEO", "source_type": "attio", "confidence": 1.0},
								{"id": old, "subject": subject, "fact_type": "profile", "key": "title", "value": "CTO", "source_type": "attio", "confidence": 1.0, "valid_until": until},
							},
						},
					},
				},
			})
		},
	})

	resp, err := newTestClient(t, srv.URL).GetFacts(context.Background(), EntityPerson, person, &GetFactsOptions{
		FactType:          "profile",
		IncludeHistorical: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.IncludeHistorical)
	require.Len(t, resp.Facts["profile"]["title"], 2)

	f, ok := resp.Current("profile", "title")
	require.True(t, ok)
	assert.Equal(t, current, f.ID)
	assert.Equal(t, "CEO", f.Value)

	require.NotNil(t, resp.Facts["profile"]["title"][1].ValidUntil)
	assert.True(t, until.Equal(*resp.Facts["profile"]["title"][1].ValidUntil))

	_, ok = resp.Current("profile", "location")
	assert.False(t, ok)
}

func TestGetFactsNilOptions(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/facts": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Empty(t, q.Get("fact_type"))
			assert.Empty(t, q.Get("include_historical"))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"facts": map[string]any{}},
			})
		},
	})

	resp, err := newTestClient(t, srv.URL).GetFacts(context.Background(), EntityDeal, uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Facts)
}

func TestHistory(t *testing.T) {
	deal := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/facts/history": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "deal", q.Get("entity_type"))
			assert.Equal(t, "status", q.Get("fact_type"))
			assert.Equal(t, "stage", q.Get("key"))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"slot": map[string]any{"subject": map[string]any{"type": "deal", "id": deal}, "fact_type": "status", "key": "stage"},
					"facts": []map[string]any{
						{"id": uuid.New(), "value": "term-sheet"},
						{"id": uuid.New(), "value": "diligence"},
					},
				},
			})
		},
	})

	resp, err := newTestClient(t, srv.URL).History(context.Background(), EntityDeal, deal, "status", "stage")
	require.NoError(t, err)
	assert.Equal(t, deal, resp.Slot.Subject.ID)
	require.Len(t, resp.Facts, 2)
	assert.Equal(t, "term-sheet", resp.Facts[0].Value)
}

func TestResolvePerson(t *testing.T) {
	id := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/entities/people/resolve": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Jane", body["first_name"])
			assert.Equal(t, true, body["dry_run"])
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"match":         "key",
					"canonical_key": "person:jane@acme.com",
					"person":        map[string]any{"id": id, "first_name": "Jane", "last_name": "Doe", "canonical_key": "person:jane@acme.com"},
				},
			})
		},
	})

	m, err := newTestClient(t, srv.URL).ResolvePerson(context.Background(), ResolvePersonRequest{
		Email: "Jane@Acme.com", FirstName: "Jane", LastName: "Doe", DryRun: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "key", m.Match)
	assert.Equal(t, "person:jane@acme.com", m.CanonicalKey)
	require.NotNil(t, m.Person)
	assert.Equal(t, id, m.Person.ID)
}

func TestResolveOrganization(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/entities/organizations/resolve": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://www.acme.com/about", body["website"])
			_, hasDomain := body["domain"]
			assert.False(t, hasDomain)
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": map[string]any{
					"match":         "created",
					"canonical_key": "org:acme.com",
					"organization":  map[string]any{"id": uuid.New(), "name": "Acme", "canonical_key": "org:acme.com"},
				},
			})
		},
	})

	m, err := newTestClient(t, srv.URL).ResolveOrganization(context.Background(), ResolveOrganizationRequest{
		Name: "Acme", Website: "https://www.acme.com/about",
	})
	require.NoError(t, err)
	assert.Equal(t, "created", m.Match)
	assert.Equal(t, "org:acme.com", m.CanonicalKey)
	require.NotNil(t, m.Organization)
	assert.Equal(t, "Acme", m.Organization.Name)
}

func TestHealth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{
					Status:        "healthy",
					Version:       "v0.1.0",
					Storage:       "postgres",
					Database:      "connected",
					UptimeSeconds: 3600,
				},
			})
		},
	})

	health, err := newTestClient(t, srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "postgres", health.Storage)
	assert.Equal(t, int64(3600), health.UptimeSeconds)
}

func TestHealthUnavailable(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"data": HealthResponse{Status: "unhealthy", Database: "disconnected"},
			})
		},
	})

	_, err := newTestClient(t, srv.URL).Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestErrorTypesMapCorrectly(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusBadRequest, IsInvalidInput},
		{http.StatusNotFound, IsNotFound},
		{http.StatusRequestEntityTooLarge, IsTooLarge},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusServiceUnavailable, IsUnavailable},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := mockServer(t, map[string]http.HandlerFunc{
				"GET /v1/facts/history": func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tc.status, map[string]any{
						"error": map[string]any{"code": "X", "message": "boom"},
					})
				},
			})
			_, err := newTestClient(t, srv.URL).History(context.Background(), EntityPerson, uuid.New(), "profile", "title")
			require.Error(t, err)
			assert.True(t, tc.check(err))
		})
	}

	assert.False(t, IsRateLimited(nil))
	assert.False(t, IsNotFound(fmt.Errorf("plain")))
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		},
	})

	_, err := newTestClient(t, srv.URL).Health(context.Background())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestTimeoutHandling(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		},
	})

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	require.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	org := uuid.New()
	factID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fact, _ := json.Marshal(map[string]any{
				"slot":           map[string]any{"subject": map[string]any{"type": "organization", "id": org}, "fact_type": "metric", "key": "mrr"},
				"fact_id":        factID,
				"classification": "NEW",
				"resolution":     "new",
			})
			conflict, _ := json.Marshal(map[string]any{
				"classification": "CONFLICT",
				"resolution":     "escalated",
				"conflict":       map[string]any{"incoming_value": "61000", "reason": "concurrent_write"},
			})
			_, _ = fmt.Fprintf(w, "retry: 3000\n\n")
			_, _ = fmt.Fprintf(w, ": keepalive\n\n")
			_, _ = fmt.Fprintf(w, "event: factstore_facts\ndata: %s\n\n", fact)
			_, _ = fmt.Fprintf(w, "event: factstore_facts\ndata: not-json\n\n")
			_, _ = fmt.Fprintf(w, "event: factstore_conflicts\ndata: %s\n\n", conflict)
		},
	})

	var events []Event
	err := newTestClient(t, srv.URL).Subscribe(context.Background(), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err, "a stream closed by the server ends cleanly")
	require.Len(t, events, 2)

	assert.Equal(t, ChannelFacts, events[0].Channel)
	assert.Equal(t, ClassificationNew, events[0].Classification)
	require.NotNil(t, events[0].FactID)
	assert.Equal(t, factID, *events[0].FactID)
	assert.Equal(t, org, events[0].Slot.Subject.ID)

	assert.Equal(t, ChannelConflicts, events[1].Channel)
	require.NotNil(t, events[1].Conflict)
	assert.Equal(t, "concurrent_write", events[1].Conflict.Reason)
}

func TestSubscribe_ChannelFilter(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, ChannelConflicts, r.URL.Query().Get("channels"))
			w.WriteHeader(http.StatusOK)
		},
	})
	err := newTestClient(t, srv.URL).Subscribe(context.Background(), func(Event) error { return nil }, ChannelConflicts)
	require.NoError(t, err)
}

func TestSubscribe_CallbackErrorStops(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			for i := 0; i < 3; i++ {
				_, _ = fmt.Fprintf(w, "event: factstore_facts\ndata: {\"classification\":\"NEW\"}\n\n")
			}
		},
	})

	stop := errors.New("stop")
	var n int
	err := newTestClient(t, srv.URL).Subscribe(context.Background(), func(Event) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestSubscribe_Unavailable(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"code": "INTERNAL_ERROR", "message": "event stream not available"},
			})
		},
	})

	err := newTestClient(t, srv.URL).Subscribe(context.Background(), func(Event) error { return nil })
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestSubscribe_ContextCancel(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := newTestClient(t, srv.URL).Subscribe(ctx, func(Event) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadEventsMultilineData(t *testing.T) {
	stream := "event: factstore_facts\ndata: {\"classification\":\ndata: \"UPDATE\"}\n\n"
	var got []Event
	require.NoError(t, readEvents(strings.NewReader(stream), func(ev Event) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, ClassificationUpdate, got[0].Classification)
}
