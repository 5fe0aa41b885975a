package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itchyny/gojq"
	"github.com/sony/gobreaker"

	"github.com/hankooktire/control-plane/internal/domain"
)

// ServiceMetricsSource fetches a JSON metrics blob from a subsystem's
// health endpoint .
type ServiceMetricsSource interface {
	FetchMetricsJSON(ctx context.Context) ([]byte, error)
}

// HTTPMetricsSource is the real ServiceMetricsSource, wrapped in a circuit
// breaker so a wedged dependency fails fast instead of piling up retries
// .
type HTTPMetricsSource struct {
	URL     string
	Client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPMetricsSource builds a breaker-wrapped HTTP metrics source.
func NewHTTPMetricsSource(url string, client *http.Client) *HTTPMetricsSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMetricsSource{
		URL:    url,
		Client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "service-probe:" + url,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures > 3 },
		}),
	}
}

func (h *HTTPMetricsSource) FetchMetricsJSON(ctx context.Context) ([]byte, error) {
	result, err := h.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := h.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("service probe: unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// serviceExtractors names the gojq programs used to pull numeric fields
// out of an arbitrary service metrics blob without a bespoke struct per
// deployment .
var serviceExtractors = map[string]string{
	"response_time_ms": ".response_time_ms // 0",
	"error_rate":       ".error_rate // 0",
	"request_rate":     ".request_rate // 0",
}

// DefaultServiceRules is the rule table for the Service probe , grounded on check_api_health's threshold/action pairing.
var DefaultServiceRules = []Rule{
	{
		Name:            "high_error_rate",
		Condition:       func(m map[string]float64) bool { return m["error_rate"] > 0.1 },
		IssueKind:       domain.IssueCommunicationIssue,
		Severity:        domain.SeverityError,
		Actions:         []domain.RecoveryAction{domain.ActionRestartTarget, domain.ActionFailover},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
	{
		Name:            "slow_response",
		Condition:       func(m map[string]float64) bool { return m["response_time_ms"] > 2000 },
		IssueKind:       domain.IssueCommunicationIssue,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionScaleUp},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
}

// ServiceProbe is the service-level health probe.
type ServiceProbe struct {
	component string
	source    ServiceMetricsSource
	rules     []Rule
}

// NewServiceProbe builds a probe for component fetching metrics via source,
// evaluated against rules (DefaultServiceRules if nil).
func NewServiceProbe(component string, source ServiceMetricsSource, rules []Rule) *ServiceProbe {
	if rules == nil {
		rules = DefaultServiceRules
	}
	return &ServiceProbe{component: component, source: source, rules: rules}
}

func (p *ServiceProbe) Component() string { return p.component }

func (p *ServiceProbe) Check(ctx context.Context) ProbeResult {
	raw, err := p.source.FetchMetricsJSON(ctx)
	if err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncident(p.component, time.Now(), err.Error())},
			Err:       err,
		}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ProbeResult{Component: p.component, Err: fmt.Errorf("service probe: decode metrics: %w", err)}
	}

	metrics := make(map[string]float64, len(serviceExtractors))
	for field, program := range serviceExtractors {
		query, err := gojq.Parse(program)
		if err != nil {
			continue
		}
		iter := query.Run(doc)
		if v, ok := iter.Next(); ok {
			if n, ok := v.(float64); ok {
				metrics[field] = n
			}
		}
	}

	now := time.Now()
	return ProbeResult{
		Component: p.component,
		Metrics:   metrics,
		Incidents: evaluate(p.component, metrics, p.rules, now),
	}
}
