package health

import (
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

// BuildSnapshot folds probe results into a HealthSnapshot : per-component status derived from each component's
// worst active incident, plus a system-wide score from the full incident
// set.
func BuildSnapshot(results []ProbeResult, takenAt time.Time) domain.HealthSnapshot {
	var allIncidents []domain.Incident
	components := make([]domain.ComponentStatus, 0, len(results))

	for _, r := range results {
		allIncidents = append(allIncidents, r.Incidents...)

		worst := domain.SeverityInfo
		for _, inc := range r.Incidents {
			if inc.Severity > worst {
				worst = inc.Severity
			}
		}
		components = append(components, domain.ComponentStatus{
			Component:      r.Component,
			Healthy:        len(r.Incidents) == 0,
			ActiveIncident: len(r.Incidents),
			WorstSeverity:  worst,
		})
	}

	return domain.HealthSnapshot{
		Score:      domain.ComputeHealthScore(allIncidents),
		Components: components,
		TakenAt:    takenAt,
	}
}
