// Package config loads and validates the control plane's configuration
// surface : scheduler tick period, per-probe deadlines,
// per-issue-kind cooldowns, scaler thresholds, fusion parameters, and the
// ambient server/kubernetes/logging/actions sections.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	cperrors "github.com/hankooktire/control-plane/pkg/shared/errors"
)

var structValidator = validator.New()

// ServerConfig controls the ambient metrics/health HTTP server (not the
// device/dashboard REST surface, which is out of scope).
type ServerConfig struct {
	MetricsPort string `yaml:"metrics_port"`
	HealthPort  string `yaml:"health_port"`
}

// SchedulerConfig controls the tick cadence driving the worker supervisor.
type SchedulerConfig struct {
	TickPeriod time.Duration `yaml:"tick_period" validate:"required,gt=0"`
}

// ProbeConfig is a single health probe's declared deadline.
type ProbeConfig struct {
	Name     string        `yaml:"name"`
	Deadline time.Duration `yaml:"deadline"`
}

// ScalerConfig bounds and parameterizes the predictive scaler.
type ScalerConfig struct {
	Deployments     []string           `yaml:"deployments"`
	MinReplicas     map[string]int     `yaml:"min_replicas"`
	MaxReplicas     map[string]int     `yaml:"max_replicas"`
	PeakHours       []int              `yaml:"peak_hours"`
	ScaleThresholds map[string]float64 `yaml:"scale_thresholds"`
	MinHold         time.Duration      `yaml:"min_hold"`
}

// FusionConfig parameterizes anomaly fusion and ranking.
type FusionConfig struct {
	MinAgreementForLift float64            `yaml:"min_agreement_for_lift" validate:"gte=0,lte=1"`
	SeverityWeights     map[string]float64 `yaml:"severity_weights"`
}

// WindowConfig bounds the feature pipeline's rolling window.
type WindowConfig struct {
	K int           `yaml:"k"`
	T time.Duration `yaml:"t"`
}

// ChaosConfig gates the chaos injector.
type ChaosConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MaintenanceConfig gates the maintenance-mode toggle: while Enabled,
// the recovery engine dry-runs every incident (no auto-dispatch) and the
// chaos injector refuses to inject.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RetentionConfig bounds how long readings/incidents are kept.
type RetentionConfig struct {
	Days int `yaml:"days" validate:"gte=0"`
}

// KubernetesConfig addresses the Orchestrator capability's target cluster.
type KubernetesConfig struct {
	Context    string `yaml:"context"`
	Namespace  string `yaml:"namespace" validate:"required"`
	Kubeconfig string `yaml:"kubeconfig"`
}

// DatabaseConfig addresses the Storage capability's Postgres connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig addresses the Cache capability's connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NotificationsConfig addresses the Notifier capability's Slack webhook.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// EndpointsConfig addresses the HTTP/TCP capabilities behind the Service,
// Message-bus, Fleet, and Host probes .
type EndpointsConfig struct {
	ServiceMetricsURL string `yaml:"service_metrics_url"`
	MessageBusAddress string `yaml:"message_bus_address"`
	FleetRegistryURL  string `yaml:"fleet_registry_url"`
	HostNodeName      string `yaml:"host_node_name"`
}

// ActionsConfig bounds the Recovery engine's dispatch behavior.
type ActionsConfig struct {
	DryRun        bool `yaml:"dry_run"`
	MaxConcurrent int  `yaml:"max_concurrent" validate:"required,gt=0"`
}

// LoggingConfig controls the process-wide zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the whole of the control plane's configuration surface.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Scheduler  SchedulerConfig      `yaml:"scheduler"`
	Probes     []ProbeConfig        `yaml:"probes"`
	Cooldowns  map[string]time.Duration `yaml:"cooldowns"`
	Scaler     ScalerConfig         `yaml:"scaler"`
	Fusion     FusionConfig         `yaml:"fusion"`
	Window     WindowConfig         `yaml:"window"`
	Chaos      ChaosConfig          `yaml:"chaos"`
	Maintenance MaintenanceConfig   `yaml:"maintenance"`
	Retention  RetentionConfig      `yaml:"retention"`
	Kubernetes KubernetesConfig     `yaml:"kubernetes"`
	Actions    ActionsConfig        `yaml:"actions"`
	Logging    LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Endpoints      EndpointsConfig      `yaml:"endpoints"`
}

func applyDefaults(c *Config) {
	if c.Kubernetes.Namespace == "" {
		c.Kubernetes.Namespace = "default"
	}
	if c.Scheduler.TickPeriod == 0 {
		c.Scheduler.TickPeriod = 30 * time.Second
	}
	if c.Actions.MaxConcurrent == 0 {
		c.Actions.MaxConcurrent = 5
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Endpoints.HostNodeName == "" {
		c.Endpoints.HostNodeName = os.Getenv("NODE_NAME")
	}
}

// Load reads, parses, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := loadFromEnv(&config); err != nil {
		return nil, cperrors.FailedTo("load config from environment", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate enforces the invariants a Config must satisfy before the
// supervisor starts any worker. Field-specific checks come first so
// callers see the plain-English messages below; structValidator.Struct
// is then run as a second, mechanical pass (go-playground/validator struct
// tags) catching anything a hand check above missed.
func validate(config *Config) error {
	if config.Kubernetes.Namespace == "" {
		return fmt.Errorf("Kubernetes namespace is required")
	}
	if config.Actions.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent actions must be greater than 0")
	}
	if config.Fusion.MinAgreementForLift < 0 || config.Fusion.MinAgreementForLift > 1 {
		return fmt.Errorf("fusion min agreement must be between 0.0 and 1.0")
	}
	if config.Scheduler.TickPeriod <= 0 {
		return fmt.Errorf("scheduler tick period must be greater than 0")
	}
	if config.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	for name, min := range config.Scaler.MinReplicas {
		if max, ok := config.Scaler.MaxReplicas[name]; ok && min > max {
			return fmt.Errorf("scaler: min_replicas[%s]=%d exceeds max_replicas[%s]=%d", name, min, name, max)
		}
	}

	if err := structValidator.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// loadFromEnv overlays a small set of operational overrides read from the
// environment, taking precedence over the YAML file. Unset variables leave
// the corresponding field untouched.
func loadFromEnv(config *Config) error {
	if v := os.Getenv("METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		config.Server.HealthPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("KUBE_NAMESPACE"); v != "" {
		config.Kubernetes.Namespace = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DRY_RUN value %q: %w", v, err)
		}
		config.Actions.DryRun = b
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Redis.Addr = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		config.Notifications.SlackWebhookURL = v
	}
	return nil
}

// Watcher reloads the configuration file whenever it changes on disk,
// publishing each successfully-reloaded Config on Changes. The scaler
// thresholds, cooldowns, and probe deadlines — every tunable the control
// plane exposes in one configuration object — are all eligible
// for this hot reload; callers still restart workers that can't safely
// pick up a change mid-cycle (e.g. a changed Kubernetes context).
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan *Config
	errs    chan error
}

// WatchFile starts watching path for writes and returns a Watcher. Call
// Close when done to release the underlying inotify/kqueue handle.
func WatchFile(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw, changes: make(chan *Config, 1), errs: make(chan error, 1)}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			select {
			case w.changes <- cfg:
			default:
				// Drop the stale pending reload in favor of the newer one.
				select {
				case <-w.changes:
				default:
				}
				w.changes <- cfg
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// Changes yields a freshly-loaded, validated Config each time the watched
// file changes and reparses cleanly.
func (w *Watcher) Changes() <-chan *Config { return w.changes }

// Errors yields read/parse/validate failures encountered while reloading;
// the previous Config remains in effect until a valid reload arrives.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching and releases the underlying OS handle.
func (w *Watcher) Close() error { return w.watcher.Close() }
