package health

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/hankooktire/control-plane/internal/domain"
)

// RelationalSnapshot is the calibrated-query result set the Relational-
// store probe reads , grounded on
// check_database_health's pg_stat_activity/pg_stat_database queries.
type RelationalSnapshot struct {
	ActiveConnections float64
	DeadlocksDelta    float64
	DatabaseSizeBytes float64
	SlowQueries       float64
}

// RelationalStore is the narrow capability the probe depends on.
type RelationalStore interface {
	Snapshot(ctx context.Context) (RelationalSnapshot, error)
}

// SQLRelationalStore runs the real calibrated queries through sqlx/lib-pq.
type SQLRelationalStore struct {
	db       *sqlx.DB
	database string
}

// NewSQLRelationalStore wraps an open *sqlx.DB scoped to database.
func NewSQLRelationalStore(db *sqlx.DB, database string) *SQLRelationalStore {
	return &SQLRelationalStore{db: db, database: database}
}

func (s *SQLRelationalStore) Snapshot(ctx context.Context) (RelationalSnapshot, error) {
	var snap RelationalSnapshot

	if err := s.db.GetContext(ctx, &snap.ActiveConnections,
		`SELECT count(*) FROM pg_stat_activity`); err != nil {
		return snap, err
	}
	if err := s.db.GetContext(ctx, &snap.DeadlocksDelta,
		`SELECT deadlocks FROM pg_stat_database WHERE datname = $1`, s.database); err != nil {
		return snap, err
	}
	if err := s.db.GetContext(ctx, &snap.DatabaseSizeBytes,
		`SELECT pg_database_size($1)`, s.database); err != nil {
		return snap, err
	}
	if err := s.db.GetContext(ctx, &snap.SlowQueries,
		`SELECT count(*) FROM pg_stat_statements WHERE mean_exec_time > 1000`); err != nil {
		snap.SlowQueries = 0 // pg_stat_statements extension may be absent; not fatal.
	}
	return snap, nil
}

// DefaultRelationalRules is the Relational-store probe's rule table,
// grounded on check_database_health's recovery_rules lookup.
var DefaultRelationalRules = []Rule{
	{
		Name:            "connection_pool_exhaustion",
		Condition:       func(m map[string]float64) bool { return m["active_connections"] > 180 },
		IssueKind:       domain.IssueCommunicationIssue,
		Severity:        domain.SeverityError,
		Actions:         []domain.RecoveryAction{domain.ActionRestartTarget},
		CooldownSeconds: 600,
		AutoRecoverable: true,
	},
	{
		Name:            "deadlocks_detected",
		Condition:       func(m map[string]float64) bool { return m["deadlocks_delta"] > 0 },
		IssueKind:       domain.IssueDataQualityDrop,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionUpdateConfig},
		CooldownSeconds: 600,
		AutoRecoverable: true,
	},
	{
		Name:            "disk_usage_high",
		Condition:       func(m map[string]float64) bool { return m["database_size_bytes"] > 100*1024*1024*1024 },
		IssueKind:       domain.IssueDataQualityDrop,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionCleanupResources, domain.ActionRotateLogs},
		CooldownSeconds: 3600,
		AutoRecoverable: true,
	},
	{
		Name:            "slow_queries_high",
		Condition:       func(m map[string]float64) bool { return m["slow_queries"] > 20 },
		IssueKind:       domain.IssueDataQualityDrop,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionUpdateConfig},
		CooldownSeconds: 600,
		AutoRecoverable: true,
	},
}

// RelationalProbe is the relational-store health probe.
type RelationalProbe struct {
	component string
	store     RelationalStore
	rules     []Rule
}

// NewRelationalProbe builds a probe over store, evaluated against rules
// (DefaultRelationalRules if nil).
func NewRelationalProbe(component string, store RelationalStore, rules []Rule) *RelationalProbe {
	if rules == nil {
		rules = DefaultRelationalRules
	}
	return &RelationalProbe{component: component, store: store, rules: rules}
}

func (p *RelationalProbe) Component() string { return p.component }

func (p *RelationalProbe) Check(ctx context.Context) ProbeResult {
	snap, err := p.store.Snapshot(ctx)
	now := time.Now()
	if err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncident(p.component, now, err.Error())},
			Err:       err,
		}
	}

	metrics := map[string]float64{
		"active_connections":  snap.ActiveConnections,
		"deadlocks_delta":     snap.DeadlocksDelta,
		"database_size_bytes": snap.DatabaseSizeBytes,
		"slow_queries":        snap.SlowQueries,
	}
	return ProbeResult{
		Component: p.component,
		Metrics:   metrics,
		Incidents: evaluate(p.component, metrics, p.rules, now),
	}
}
