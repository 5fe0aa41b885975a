package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hankooktire/control-plane/internal/domain"
)

// CacheSnapshot is the metrics the Cache probe reads ,
// grounded on check_redis_health's info()-derived metrics map.
type CacheSnapshot struct {
	UsedMemoryBytes    float64
	MaxMemoryBytes     float64
	ConnectedClients   float64
	KeyspaceHitRatio   float64
}

// CacheStore is the narrow capability the probe depends on.
type CacheStore interface {
	Snapshot(ctx context.Context) (CacheSnapshot, error)
}

// RedisStore is the real CacheStore backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Snapshot(ctx context.Context) (CacheSnapshot, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return CacheSnapshot{}, err
	}
	info, err := r.client.Info(ctx, "memory", "clients", "stats").Result()
	if err != nil {
		return CacheSnapshot{}, err
	}
	return parseRedisInfo(info), nil
}

func parseRedisInfo(info string) CacheSnapshot {
	fields := map[string]string{
		"used_memory":       "",
		"maxmemory":         "",
		"connected_clients": "",
		"keyspace_hits":     "",
		"keyspace_misses":   "",
	}
	for _, line := range splitLines(info) {
		for key := range fields {
			if v, ok := matchRedisField(line, key); ok {
				fields[key] = v
			}
		}
	}
	used := parseFloatOr(fields["used_memory"], 0)
	maxMem := parseFloatOr(fields["maxmemory"], 0)
	hits := parseFloatOr(fields["keyspace_hits"], 0)
	misses := parseFloatOr(fields["keyspace_misses"], 0)

	snap := CacheSnapshot{
		UsedMemoryBytes:  used,
		MaxMemoryBytes:   maxMem,
		ConnectedClients: parseFloatOr(fields["connected_clients"], 0),
	}
	if hits+misses > 0 {
		snap.KeyspaceHitRatio = hits / (hits + misses)
	}
	return snap
}

// DefaultCacheRules is the Cache probe's rule table, grounded on
// check_redis_health's memory_usage_percent threshold.
var DefaultCacheRules = []Rule{
	{
		Name: "memory_pressure",
		Condition: func(m map[string]float64) bool {
			return m["max_memory_bytes"] > 0 && m["used_memory_bytes"]/m["max_memory_bytes"] > 0.9
		},
		IssueKind:       domain.IssueDataQualityDrop,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionClearCache},
		CooldownSeconds: 600,
		AutoRecoverable: true,
	},
	{
		Name:            "low_hit_ratio",
		Condition:       func(m map[string]float64) bool { return m["keyspace_hit_ratio"] > 0 && m["keyspace_hit_ratio"] < 0.5 },
		IssueKind:       domain.IssueDataQualityDrop,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionUpdateConfig},
		CooldownSeconds: 600,
		AutoRecoverable: true,
	},
}

// CacheProbe is the cache health probe.
type CacheProbe struct {
	component string
	store     CacheStore
	rules     []Rule
}

// NewCacheProbe builds a probe over store, evaluated against rules
// (DefaultCacheRules if nil).
func NewCacheProbe(component string, store CacheStore, rules []Rule) *CacheProbe {
	if rules == nil {
		rules = DefaultCacheRules
	}
	return &CacheProbe{component: component, store: store, rules: rules}
}

func (p *CacheProbe) Component() string { return p.component }

func (p *CacheProbe) Check(ctx context.Context) ProbeResult {
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
		"used_memory_bytes":  snap.UsedMemoryBytes,
		"max_memory_bytes":   snap.MaxMemoryBytes,
		"connected_clients":  snap.ConnectedClients,
		"keyspace_hit_ratio": snap.KeyspaceHitRatio,
	}
	return ProbeResult{
		Component: p.component,
		Metrics:   metrics,
		Incidents: evaluate(p.component, metrics, p.rules, now),
	}
}
