package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

const testCustomer = "5215550001111"

type fakeRenderer struct {
	text string
	err  error
}

func (r fakeRenderer) Render(context.Context, string, map[string]any) (string, error) {
	return r.text, r.err
}

type engineFixture struct {
	store    *store.InMemoryStore
	engine   *Engine
	notifier *recordingNotifier
	clock    *testClock
}

func newEngineFixture(t *testing.T, classifier Classifier, extra ...Option) *engineFixture {
	t.Helper()
	st := seededStore(t)
	clock := newTestClock()
	notifier := &recordingNotifier{}
	opts := append([]Option{
		WithClock(clock.Now),
		WithNotifier(notifier),
		WithLinkTracker(stubLinks{}),
		WithStorefrontURL("https://tienda.test"),
	}, extra...)
	return &engineFixture{
		store:    st,
		engine:   NewEngine(st, catalog.NewIndex(st), classifier, opts...),
		notifier: notifier,
		clock:    clock,
	}
}

func (f *engineFixture) inbound(t *testing.T, id, body string, campaign *models.CampaignContext) *Result {
	t.Helper()
	res, err := f.engine.HandleInbound(context.Background(), models.InboundMessage{
		ID: id, From: testCustomer, Body: body, Campaign: campaign,
	})
	if err != nil {
		t.Fatalf("HandleInbound(%q) error = %v", body, err)
	}
	return res
}

func TestEngineHandleInboundQueuesReply(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: unknown()})

	res := f.inbound(t, "wamid.1", "necesito 4x5", nil)
	if !strings.Contains(res.Text, "$649") || !strings.Contains(res.Text, "https://l.test/conf-4x5") {
		t.Fatalf("text = %q, want templated quote", res.Text)
	}
	if res.Reply == nil || res.Reply.RenderTag != TagQuote {
		t.Errorf("reply = %+v", res.Reply)
	}

	out := f.store.OutboxMessages()
	if len(out) != 1 {
		t.Fatalf("outbox has %d messages, want 1", len(out))
	}
	if out[0].Kind != store.OutboxKindReply || out[0].DedupeKey != "reply:wamid.1" {
		t.Errorf("outbox message = %+v", out[0])
	}
	p, err := store.DecodeOutboxPayload(out[0])
	if err != nil {
		t.Fatalf("DecodeOutboxPayload() error = %v", err)
	}
	if p.To != testCustomer || p.Body != res.Text {
		t.Errorf("payload = %+v", p)
	}

	sess, err := f.engine.Sessions().Peek(testCustomer)
	if err != nil || sess == nil {
		t.Fatalf("Peek() = %v, %v", sess, err)
	}
	if !sess.State.Is(models.StateQuoted, models.FlowConfeccionada) {
		t.Errorf("saved state = %+v", sess.State)
	}
}

func TestEngineDropsDuplicateMessages(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: unknown()})
	f.inbound(t, "wamid.7", "necesito 4x5", nil)

	res := f.inbound(t, "wamid.7", "necesito 4x5", nil)
	if !res.Duplicate || res.Reply != nil {
		t.Fatalf("result = %+v, want duplicate without reply", res)
	}
	if n := len(f.store.OutboxMessages()); n != 1 {
		t.Errorf("outbox has %d messages, want 1", n)
	}
}

func TestEngineRejectsInvalidMessages(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: unknown()})
	_, err := f.engine.HandleInbound(context.Background(), models.InboundMessage{From: testCustomer, Body: "  "})
	if !errors.Is(err, models.ErrEmptyBody) {
		t.Fatalf("HandleInbound() error = %v, want ErrEmptyBody", err)
	}
	_, err = f.engine.HandleInbound(context.Background(), models.InboundMessage{Body: "hola"})
	if !errors.Is(err, models.ErrEmptySender) {
		t.Fatalf("HandleInbound() error = %v, want ErrEmptySender", err)
	}
}

func TestEngineClassifierFallback(t *testing.T) {
	tests := []struct {
		name     string
		fallback Classifier
		want     string
	}{
		{"fallback answers", staticClassifier{result: models.Classification{Intent: models.IntentHours}}, "lunes a sábado"},
		{"no fallback degrades to unknown", nil, defaultIntro},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var extra []Option
			if tt.fallback != nil {
				extra = append(extra, WithFallbackClassifier(tt.fallback))
			}
			f := newEngineFixture(t, staticClassifier{err: errors.New("timeout")}, extra...)
			res := f.inbound(t, "", "hola", nil)
			if !strings.Contains(res.Text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", res.Text, tt.want)
			}
		})
	}
}

func TestEngineSilentReplyQueuesNothing(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: models.Classification{Intent: models.IntentSpam}})
	res := f.inbound(t, "wamid.9", "gana dinero rápido", nil)
	if res.Text != "" || res.Reply == nil || !res.Reply.Silent {
		t.Fatalf("result = %+v, want silent reply", res)
	}
	if n := len(f.store.OutboxMessages()); n != 0 {
		t.Errorf("outbox has %d messages, want 0", n)
	}
}

func TestEngineRender(t *testing.T) {
	tagged := &models.Reply{RenderTag: TagWholesaleAck, Facts: map[string]any{"product": "Borde", "quantity": 30}}
	tests := []struct {
		name     string
		renderer Renderer
		reply    *models.Reply
		want     string
	}{
		{"plain text", nil, &models.Reply{Text: "hola"}, "hola"},
		{"silent", nil, &models.Reply{Silent: true, Text: "x"}, ""},
		{"untagged empty", nil, &models.Reply{}, models.FallbackReplyText},
		{"renderer voice", fakeRenderer{text: "¡Va! 30 bordes a mayoreo."}, tagged, "¡Va! 30 bordes a mayoreo."},
		{"renderer error uses template", fakeRenderer{err: errors.New("quota")}, tagged, "Por 30 piezas de Borde te toca precio de mayoreo"},
		{"unknown tag", nil, &models.Reply{RenderTag: "nope"}, models.FallbackReplyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var extra []Option
			if tt.renderer != nil {
				extra = append(extra, WithRenderer(tt.renderer))
			}
			f := newEngineFixture(t, nil, extra...)
			got := f.engine.render(context.Background(), tt.reply)
			if tt.want == "" {
				if got != "" {
					t.Errorf("render() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("render() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestEngineSchedulesAbandonForLeadRuns(t *testing.T) {
	f := newEngineFixture(t, staticClassifier{result: unknown()}, WithRunTimeout(time.Hour))
	campaign := &models.CampaignContext{LeadScenario: models.LeadScenarioB2B}

	res := f.inbound(t, "wamid.20", "hola, vengo del anuncio", campaign)
	if !strings.Contains(res.Text, "nombre de tu empresa") {
		t.Fatalf("text = %q, want first lead question", res.Text)
	}
	jobs, err := f.store.ClaimDueJobs(testNow.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != JobKindAbandonFlowRun {
		t.Fatalf("jobs = %+v, want one abandon job", jobs)
	}
	if !jobs[0].RunAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("runAt = %v, want %v", jobs[0].RunAt, testNow.Add(time.Hour))
	}
}

func TestEngineHandleMessageNilSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.HandleMessage(context.Background(), "hola", testCustomer, nil, unknown(), models.ChannelContext{}, nil)
	if !errors.Is(err, ErrNilSession) {
		t.Fatalf("HandleMessage() error = %v, want ErrNilSession", err)
	}
}
