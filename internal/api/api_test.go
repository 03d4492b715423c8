package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/genai"
	"github.com/BTreeMap/SalesPipe/internal/links"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/BTreeMap/SalesPipe/internal/testutil"
)

const testCustomer = "5215550001111"

type fixture struct {
	st      *store.InMemoryStore
	tracker *links.MemoryTracker
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := testutil.NewSeededStore(t)
	tracker := links.NewMemoryTracker(links.WithBaseURL("https://l.test"))
	index := catalog.NewIndex(st)
	engine := flow.NewEngine(st, index, genai.NewKeywordClassifier(),
		flow.WithLinkTracker(tracker),
		flow.WithStorefrontURL("https://tienda.test"),
	)
	validator, err := flow.NewDefinitionValidator()
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithLinkResolver(tracker)}, opts...)
	srv := NewServer(engine, st, index, validator, opts...)
	return &fixture{st: st, tracker: tracker, handler: srv.Handler()}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t)
	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]any)
	if result["catalog_readable"] != true {
		t.Errorf("result = %v", result)
	}
	if n, _ := result["catalog_entries"].(float64); n == 0 {
		t.Errorf("catalog_entries = %v", result["catalog_entries"])
	}
}

func TestMessageHandlerRunsTurn(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"id": "api-1", "from": "+52 1 555 000 1111", "body": "hola"}

	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", body))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "first message")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]any)
	if result["customer_id"] != testCustomer {
		t.Errorf("customer_id = %v", result["customer_id"])
	}
	if text, _ := result["text"].(string); text == "" {
		t.Error("empty reply text")
	}
	testutil.AssertOutboxCount(t, f.st, 1, "after first message")

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", body))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "redelivery")
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	result, _ = resp["result"].(map[string]any)
	if result["duplicate"] != true {
		t.Errorf("redelivery result = %v", result)
	}
	testutil.AssertOutboxCount(t, f.st, 1, "after redelivery")
}

func TestMessageHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{"from":`},
		{"bad sender", `{"from":"abc","body":"hola"}`},
		{"empty body", `{"from":"5215550001111","body":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(tt.body))
			rr := f.do(req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
	testutil.AssertOutboxCount(t, f.st, 0, "after rejected input")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/messages", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /messages")
}

func TestSessionHandlers(t *testing.T) {
	f := newFixture(t)
	path := "/sessions/" + testCustomer

	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "before any turn")

	f.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{"from": testCustomer, "body": "hola"}))

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "after a turn")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]any)
	if result["customer_id"] != testCustomer {
		t.Errorf("session = %v", result)
	}

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodDelete, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reset")
	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "after reset")

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/abc", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad id")
}

func TestInvalidateCatalogHandler(t *testing.T) {
	f := newFixture(t)
	if err := f.st.UpsertCatalogEntry(models.CatalogEntry{ID: "extra-1", Name: "Malla extra", Family: string(models.FlowRollo), Sellable: true, Active: true}); err != nil {
		t.Fatal(err)
	}
	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/catalog/invalidate", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "invalidate")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, _ := resp["result"].(map[string]any)
	entries, _ := catalog.DefaultSeed()
	if n, _ := result["entries"].(float64); int(n) != len(entries)+1 {
		t.Errorf("entries = %v, want %d", result["entries"], len(entries)+1)
	}
}

const uploadYAML = `key: encuesta
name: Encuesta rápida
steps:
  - id: nombre
    message: "¿Cómo te llamas?"
    collect_as: nombre
    input: text
    next: confirma
  - id: confirma
    message: "¿Te contactamos por este medio?"
    collect_as: ok
    input: confirm
on_complete:
  action: message
  message: "¡Gracias!"
`

func TestFlowHandlers(t *testing.T) {
	f := newFixture(t)

	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/flows", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if defs, _ := resp["result"].([]any); len(defs) != 2 {
		t.Errorf("listed %d definitions, want 2", len(defs))
	}

	rr = f.do(httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(uploadYAML)))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "upload")
	def, err := f.st.GetFlowDefinition("encuesta")
	if err != nil || def == nil || len(def.Steps) != 2 {
		t.Fatalf("stored definition = %+v, err = %v", def, err)
	}

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/flows/encuesta", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get")
	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/flows/missing", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get missing")

	broken := strings.Replace(uploadYAML, "next: confirma", "next: nowhere", 1)
	rr = f.do(httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader(broken)))
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "dangling next")

	rr = f.do(httptest.NewRequest(http.MethodPost, "/flows", strings.NewReader("key: x\nbogus_field: 1\n")))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown field")
}

func TestLinkRedirect(t *testing.T) {
	f := newFixture(t)
	short, err := f.tracker.MakeTrackedLink(context.Background(), testCustomer, "https://tienda.test/p/conf-4x5", nil)
	if err != nil {
		t.Fatal(err)
	}
	code := short[strings.LastIndex(short, "/")+1:]

	rr := f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/l/"+code, nil))
	testutil.AssertHTTPStatus(t, http.StatusFound, rr.Code, "redirect")
	if loc := rr.Header().Get("Location"); loc != "https://tienda.test/p/conf-4x5" {
		t.Errorf("Location = %q", loc)
	}
	if n, _ := f.tracker.Clicks(context.Background(), code); n != 1 {
		t.Errorf("clicks = %d", n)
	}

	rr = f.do(testutil.CreateHTTPRequest(t, http.MethodGet, "/l/nope", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown code")
}

func TestTwilioWebhookMounted(t *testing.T) {
	var called bool
	f := newFixture(t, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := f.do(httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("")))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if !called {
		t.Error("webhook handler not called")
	}

	f = newFixture(t)
	rr = f.do(httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("")))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without channel")
}
