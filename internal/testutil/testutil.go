// Package testutil provides common test helpers for SalesPipe tests: seeded
// stores and HTTP assertions.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// TB is the subset of testing.TB the helpers use.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Seedable is a store the catalog and flow definitions can be installed into.
type Seedable interface {
	catalog.Writer
	flow.DefinitionSaver
}

// SeedTestData installs the built-in catalog and lead-capture definitions.
func SeedTestData(t TB, st Seedable) {
	t.Helper()
	entries, err := catalog.DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() error = %v", err)
	}
	if err := catalog.Install(st, entries); err != nil {
		t.Fatalf("catalog.Install() error = %v", err)
	}
	defs, err := flow.DefaultDefinitions()
	if err != nil {
		t.Fatalf("DefaultDefinitions() error = %v", err)
	}
	v, err := flow.NewDefinitionValidator()
	if err != nil {
		t.Fatalf("NewDefinitionValidator() error = %v", err)
	}
	if err := flow.InstallDefinitions(st, v, defs); err != nil {
		t.Fatalf("InstallDefinitions() error = %v", err)
	}
}

// NewSeededStore returns an in-memory store holding the built-in catalog and
// definitions.
func NewSeededStore(t TB) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	SeedTestData(t, st)
	return st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the JSON response and validates the status field.
// It returns nil when the body is not JSON.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Errorf("failed to decode JSON response: %v", err)
		return nil
	}
	if status, ok := response["status"].(string); !ok {
		t.Errorf("response missing or invalid 'status' field")
	} else if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t TB, method, url string, body any) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		reqBody.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// AssertOutboxCount checks how many messages the store has queued.
func AssertOutboxCount(t TB, st *store.InMemoryStore, expected int, context string) {
	t.Helper()
	if got := len(st.OutboxMessages()); got != expected {
		t.Errorf("%s: expected %d outbox messages, got %d", context, expected, got)
	}
}

// MustMarshalJSON marshals an object to JSON and fails the test on error.
func MustMarshalJSON(t TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails the test on error.
func MustUnmarshalJSON(t TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
