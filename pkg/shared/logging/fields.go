// Package logging provides a small chainable field-builder used to attach
// structured context to zap/logrus log lines across the control plane.
package logging

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Fields is a set of structured log attributes held in a map, so the order
// in which they are emitted is not defined. Methods return the
// same map (mutated and returned) so calls chain:
// NewFields().Component(c).Operation(o).Duration(d).
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

// Resource tags the fields with a resource type and, if non-empty, a name.
func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error sets the error field; a nil error leaves the field set unchanged.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

func (f Fields) UserID(id string) Fields {
	if id == "" {
		return f
	}
	f["user_id"] = id
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// Subject tags the incident/recovery subject (device or component id).
func (f Fields) Subject(subject string) Fields {
	f["subject"] = subject
	return f
}

// IssueKind tags the anomaly/incident classification.
func (f Fields) IssueKind(kind string) Fields {
	f["issue_kind"] = kind
	return f
}

// ToLogrus converts the field set to logrus.Fields for packages (like the
// metrics HTTP server) that are still wired to logrus rather than zap.
func (f Fields) ToLogrus() logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Zap converts the field set into a zap.Field slice.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// KeysAndValues converts the field set into the alternating key/value slice
// expected by logr.Logger.Info/Error.
func (f Fields) KeysAndValues() []interface{} {
	out := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}

// DatabaseFields is a convenience constructor for storage-capability logs.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields is a convenience constructor for outbound health-probe HTTP calls.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// WorkflowFields is a convenience constructor for recovery-action logs.
func WorkflowFields(operation, workflowID string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", workflowID)
}

// KubernetesFields is a convenience constructor for orchestrator-capability logs.
func KubernetesFields(operation, resourceType, resourceName, namespace string) Fields {
	f := NewFields().Component("kubernetes").Operation(operation).Resource(resourceType, resourceName)
	if namespace != "" {
		f["namespace"] = namespace
	}
	return f
}

// AIFields is a convenience constructor for scorer-adapter logs; "model"
// here names the scorer implementation (e.g. "outlier-tree"), not an LLM.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields is a convenience constructor for metric-bus publish logs.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields is a convenience constructor for SecurityBreach incident logs.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Subject(subject)
}

// PerformanceFields is a convenience constructor for cycle-timing logs.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}

// NewZapLogger builds the process-wide zap logger; format and level come
// from the logging section of the configuration surface.
func NewZapLogger(level string, jsonFormat bool) (*zap.Logger, error) {
	var cfg zap.Config
	if jsonFormat {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	return cfg.Build()
}

// NewLogrLogger bridges a zap logger to logr.Logger for capability adapters
// (k8s client-go plumbing) that expect the logr interface.
func NewLogrLogger(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
