package eventbus

import (
	"strings"
	"testing"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

func TestEncodeHealthSnapshot_FieldsPresent(t *testing.T) {
	snap := domain.HealthSnapshot{
		Score: 72,
		Components: []domain.ComponentStatus{
			{Component: "fleet", Healthy: true, ActiveIncident: 0, WorstSeverity: domain.SeverityInfo},
			{Component: "orchestrator", Healthy: false, ActiveIncident: 2, WorstSeverity: domain.SeverityCritical},
		},
		TakenAt: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}

	out := string(EncodeHealthSnapshot(snap))
	for _, want := range []string{`"score":72`, `"component":"fleet"`, `"component":"orchestrator"`, `"worst_severity":"Critical"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected encoded snapshot to contain %q, got %s", want, out)
		}
	}
}

func TestEncodeIncident_OmitsExtraEvidence(t *testing.T) {
	inc := domain.Incident{
		ID: "inc-1", Subject: "D1", Kind: domain.IssuePressureAnomaly,
		Severity: domain.SeverityCritical, Confidence: 0.9,
		ObservedAt: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		AutoRecoverable: true,
		Evidence:        domain.Evidence{Extra: map[string]interface{}{"probe_blob": "raw"}},
	}

	out := string(EncodeIncident(inc))
	for _, want := range []string{`"id":"inc-1"`, `"subject":"D1"`, `"kind":"PressureAnomaly"`, `"auto_recoverable":true`, `"resolved":false`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected encoded incident to contain %q, got %s", want, out)
		}
	}
	if strings.Contains(out, "probe_blob") {
		t.Fatalf("expected Evidence.Extra to be omitted, got %s", out)
	}
}

func TestPublishIncidentsJSON_DeliversOneArrayPerPublish(t *testing.T) {
	bus := New()
	bus.DeclareTopic("incidents.json", 2, DropOldest)
	ch, unsubscribe := bus.Subscribe("incidents.json")
	defer unsubscribe()

	bus.PublishIncidentsJSON("incidents.json", []domain.Incident{
		{ID: "a", Subject: "D1", Kind: domain.IssueSensorMalfunction},
		{ID: "b", Subject: "D2", Kind: domain.IssueTemperatureAnomaly},
	})

	env := <-ch
	payload, ok := env.Payload.([]byte)
	if !ok {
		t.Fatalf("expected []byte payload, got %T", env.Payload)
	}
	s := string(payload)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		t.Fatalf("expected a JSON array, got %s", s)
	}
	if !strings.Contains(s, `"id":"a"`) || !strings.Contains(s, `"id":"b"`) {
		t.Fatalf("expected both incidents encoded, got %s", s)
	}
}
