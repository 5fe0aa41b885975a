package eventbus

import (
	"github.com/go-faster/jx"

	"github.com/hankooktire/control-plane/internal/domain"
)

// EncodeHealthSnapshot fast-encodes a HealthSnapshot for dashboard fan-out
// . The
// push-stream transport edge itself is external; this produces the bytes
// it would forward.
func EncodeHealthSnapshot(snap domain.HealthSnapshot) []byte {
	var e jx.Encoder
	writeHealthSnapshot(&e, snap)
	return append([]byte(nil), e.Bytes()...)
}

func writeHealthSnapshot(e *jx.Encoder, snap domain.HealthSnapshot) {
	e.ObjStart()
	e.FieldStart("score")
	e.Int(snap.Score)
	e.FieldStart("taken_at")
	e.Str(snap.TakenAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	e.FieldStart("components")
	e.ArrStart()
	for _, c := range snap.Components {
		e.ObjStart()
		e.FieldStart("component")
		e.Str(c.Component)
		e.FieldStart("healthy")
		e.Bool(c.Healthy)
		e.FieldStart("active_incidents")
		e.Int(c.ActiveIncident)
		e.FieldStart("worst_severity")
		e.Str(c.WorstSeverity.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// EncodeIncident fast-encodes an Incident for the same dashboard fan-out
// path, omitting Evidence.Extra (opaque diagnostic payloads the dashboard
// surface does not need).
func EncodeIncident(inc domain.Incident) []byte {
	var e jx.Encoder
	writeIncident(&e, inc)
	return append([]byte(nil), e.Bytes()...)
}

func writeIncident(e *jx.Encoder, inc domain.Incident) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(inc.ID)
	e.FieldStart("subject")
	e.Str(inc.Subject)
	e.FieldStart("kind")
	e.Str(string(inc.Kind))
	e.FieldStart("severity")
	e.Str(inc.Severity.String())
	e.FieldStart("confidence")
	e.Float64(inc.Confidence)
	e.FieldStart("observed_at")
	e.Str(inc.ObservedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	e.FieldStart("auto_recoverable")
	e.Bool(inc.AutoRecoverable)
	e.FieldStart("resolved")
	e.Bool(inc.ResolvedAt != nil)
	e.ObjEnd()
}

// PublishSnapshotJSON encodes snap with EncodeHealthSnapshot and publishes
// the raw bytes to topic, for subscribers that forward straight to a wire
// transport without touching the Go struct (e.g. a websocket fan-out).
func (b *Bus) PublishSnapshotJSON(topic string, snap domain.HealthSnapshot) {
	b.Publish(topic, EncodeHealthSnapshot(snap))
}

// PublishIncidentsJSON encodes incidents as a single JSON array and
// publishes the raw bytes to topic.
func (b *Bus) PublishIncidentsJSON(topic string, incidents []domain.Incident) {
	var e jx.Encoder
	e.ArrStart()
	for _, inc := range incidents {
		writeIncident(&e, inc)
	}
	e.ArrEnd()
	b.Publish(topic, append([]byte(nil), e.Bytes()...))
}
