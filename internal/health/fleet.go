package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/hankooktire/control-plane/internal/domain"
)

// DeviceRegistry reports the device fleet's total/offline counts , grounded on check_sensor_connectivity's
// total_sensors/offline_sensors fields.
type DeviceRegistry interface {
	FetchStatusJSON(ctx context.Context) ([]byte, error)
}

var (
	totalSensorsQuery, _   = gojq.Parse(".total_sensors // 0")
	offlineSensorsQuery, _ = gojq.Parse(".offline_sensors // 0")
)

// FleetProbe is the fleet-wide connectivity health probe. Offline-fraction
// thresholds and the "physical sensor issues are not auto-recoverable"
// rule are both grounded on check_sensor_connectivity.
type FleetProbe struct {
	component string
	registry  DeviceRegistry
}

func NewFleetProbe(component string, registry DeviceRegistry) *FleetProbe {
	return &FleetProbe{component: component, registry: registry}
}

func (p *FleetProbe) Component() string { return p.component }

func (p *FleetProbe) Check(ctx context.Context) ProbeResult {
	now := time.Now()
	raw, err := p.registry.FetchStatusJSON(ctx)
	if err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncident(p.component, now, err.Error())},
			Err:       err,
		}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ProbeResult{Component: p.component, Err: fmt.Errorf("fleet probe: decode status: %w", err)}
	}

	total := extractOne(totalSensorsQuery, doc)
	offline := extractOne(offlineSensorsQuery, doc)

	metrics := map[string]float64{"total_sensors": total, "offline_sensors": offline}
	if total <= 0 {
		return ProbeResult{Component: p.component, Metrics: metrics}
	}

	offlineRate := offline / total
	metrics["offline_rate"] = offlineRate

	var incidents []domain.Incident
	if offlineRate > 0.3 {
		severity := domain.SeverityWarning
		if offlineRate > 0.5 {
			severity = domain.SeverityCritical
		}
		incidents = append(incidents, domain.Incident{
			Subject: p.component, Kind: domain.IssueCommunicationIssue, Severity: severity,
			Confidence: 1.0, ObservedAt: now,
			AutoRecoverable:     false, // physical sensor issues are not auto-recoverable.
			RecommendedActions:  []domain.RecoveryAction{domain.ActionRestartTarget, domain.ActionFailover},
			CooldownSeconds:     1800,
			Evidence:            domain.Evidence{Metrics: metrics},
		})
	}

	return ProbeResult{Component: p.component, Metrics: metrics, Incidents: incidents}
}

func extractOne(query *gojq.Query, doc interface{}) float64 {
	if query == nil {
		return 0
	}
	iter := query.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return 0
	}
	n, _ := v.(float64)
	return n
}
