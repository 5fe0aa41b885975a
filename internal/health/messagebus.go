package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

// MessageBusChecker is the narrow capability the probe depends on:
// connect-test the broker, optionally scrape its metrics exporter
// .
type MessageBusChecker interface {
	Dial(ctx context.Context) error
	ScrapeMetrics(ctx context.Context) (map[string]float64, error)
}

// TCPMessageBusChecker dials a broker's TCP endpoint directly and, when
// Source is set, scrapes a JSON metrics blob through it. ExporterURL is
// not read by this checker.
type TCPMessageBusChecker struct {
	Address         string
	ExporterURL     string
	Source          ServiceMetricsSource // reused: JSON-blob-over-HTTP is identical to the Service probe's
}

func NewTCPMessageBusChecker(address string, source ServiceMetricsSource) *TCPMessageBusChecker {
	return &TCPMessageBusChecker{Address: address, Source: source}
}

func (c *TCPMessageBusChecker) Dial(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return fmt.Errorf("message bus: dial %s: %w", c.Address, err)
	}
	return conn.Close()
}

func (c *TCPMessageBusChecker) ScrapeMetrics(ctx context.Context) (map[string]float64, error) {
	if c.Source == nil {
		return nil, nil
	}
	raw, err := c.Source.FetchMetricsJSON(ctx)
	if err != nil {
		return nil, err
	}
	var flat map[string]float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("message bus: decode metrics: %w", err)
	}
	return flat, nil
}

// DefaultMessageBusRules is the Message-bus probe's rule table, grounded
// on check_mqtt_health's recovery_rules lookup.
var DefaultMessageBusRules = []Rule{
	{
		Name:            "queue_depth_high",
		Condition:       func(m map[string]float64) bool { return m["queue_depth"] > 10000 },
		IssueKind:       domain.IssueCommunicationIssue,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionScaleUp},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
	{
		Name:            "connected_clients_dropped",
		Condition:       func(m map[string]float64) bool { return m["connected_clients"] == 0 },
		IssueKind:       domain.IssueCommunicationIssue,
		Severity:        domain.SeverityError,
		Actions:         []domain.RecoveryAction{domain.ActionRestartTarget},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
}

// MessageBusProbe is the message-bus health probe.
type MessageBusProbe struct {
	component string
	checker   MessageBusChecker
	rules     []Rule
}

func NewMessageBusProbe(component string, checker MessageBusChecker, rules []Rule) *MessageBusProbe {
	if rules == nil {
		rules = DefaultMessageBusRules
	}
	return &MessageBusProbe{component: component, checker: checker, rules: rules}
}

func (p *MessageBusProbe) Component() string { return p.component }

func (p *MessageBusProbe) Check(ctx context.Context) ProbeResult {
	now := time.Now()
	if err := p.checker.Dial(ctx); err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncident(p.component, now, err.Error())},
			Err:       err,
		}
	}

	metrics, err := p.checker.ScrapeMetrics(ctx)
	if err != nil {
		// A reachable broker with an unreachable exporter is a Warning, not
		// Critical — the bus itself is up (check_mqtt_health: metrics_error
		// is Severity.WARNING, not CRITICAL).
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{{
				Subject: p.component, Kind: domain.IssueCommunicationIssue,
				Severity: domain.SeverityWarning, Confidence: 1.0, ObservedAt: now,
				AutoRecoverable: true, RecommendedActions: []domain.RecoveryAction{domain.ActionRestartTarget},
				CooldownSeconds: 300,
			}},
		}
	}

	return ProbeResult{
		Component: p.component,
		Metrics:   metrics,
		Incidents: evaluate(p.component, metrics, p.rules, now),
	}
}
