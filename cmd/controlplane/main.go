// Command controlplane is the tire-telemetry control plane's process
// entrypoint: it loads configuration, wires every capability and
// pipeline stage this control plane defines, and runs the worker set under
// one supervised errgroup until SIGINT/SIGTERM, then drains the metrics
// server within a fixed 5-second deadline. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// top-level main()/continuous_health_monitoring wiring, restructured onto
// this core's capability/supervisor boundary.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/hankooktire/control-plane/internal/capability"
	"github.com/hankooktire/control-plane/internal/chaos"
	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/config"
	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/eventbus"
	"github.com/hankooktire/control-plane/internal/feature"
	"github.com/hankooktire/control-plane/internal/fusion"
	"github.com/hankooktire/control-plane/internal/health"
	"github.com/hankooktire/control-plane/internal/ingest"
	"github.com/hankooktire/control-plane/internal/recovery"
	"github.com/hankooktire/control-plane/internal/scaler"
	"github.com/hankooktire/control-plane/internal/scorer"
	"github.com/hankooktire/control-plane/internal/supervisor"
	pkgmetrics "github.com/hankooktire/control-plane/pkg/metrics"
	cplogging "github.com/hankooktire/control-plane/pkg/shared/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONTROLPLANE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLog, err := cplogging.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format == "json")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLog.Sync() //nolint:errcheck
	logrusLog := newLogrusLogger(cfg.Logging.Level)

	clk := clock.Real{}
	ledger := clock.NewLedger(clk)
	bus := eventbus.New()
	declareTopics(bus)

	storage, err := wireStorage(cfg)
	if err != nil {
		return fmt.Errorf("wire storage: %w", err)
	}
	if storage != nil {
		if err := capability.Migrate(storage.DB()); err != nil {
			return fmt.Errorf("run history migrations: %w", err)
		}
	}

	cache := wireCache(cfg)
	k8sClient, metricsClient, err := wireKubernetesClients(cfg)
	if err != nil {
		return fmt.Errorf("wire kubernetes clients: %w", err)
	}
	orchestrator := capability.NewClientGoOrchestrator(k8sClient, cfg.Kubernetes.Namespace)
	notifier := wireNotifier(cfg)

	runner, err := wireHealthRunner(cfg, cache, storage, k8sClient, metricsClient)
	if err != nil {
		return fmt.Errorf("wire health runner: %w", err)
	}

	registry, err := wireScorerRegistry(cfg)
	if err != nil {
		return fmt.Errorf("wire scorer registry: %w", err)
	}

	metricsServer := pkgmetrics.NewServer(cfg.Server.MetricsPort, logrusLog)
	metricsServer.StartAsync()

	onDispatch := func(action domain.RecoveryAction, duration time.Duration, success bool) {
		pkgmetrics.RecordAction(string(action), duration)
		if !success {
			pkgmetrics.RecordActionError(string(action), "verification_failed")
		}
	}
	metricsHook := func(phase string) { zapLog.Debug("tick phase complete", zap.String("phase", phase)) }

	executors := wireExecutors(orchestrator, cache, storage, zapLog)
	engine := recovery.NewEngine(ledger, clk, executors, nil, recovery.Config{
		MaxConcurrentActions: cfg.Actions.MaxConcurrent,
		OnDispatch:           onDispatch,
	})

	sc := wireScaler(cfg, orchestrator, ledger, clk)

	notifyHook := func(incidents []domain.Incident, records []domain.RecoveryRecord) {
		for range incidents {
			pkgmetrics.RecordAlert()
		}
		dispatchNotifications(notifier, incidents, records, storage, zapLog)
	}

	sup := supervisor.New(supervisor.Config{
		TickInterval: cfg.Scheduler.TickPeriod,
		ErrorBackoff: 2 * cfg.Scheduler.TickPeriod,
	}, clk, runner, engine, sc, bus, metricsHook, notifyHook)

	windows := ingest.NewWindows(cfg.Window.K, cfg.Window.T)
	ingestWorker := ingest.NewIngestWorker(bus, windows, clk, func(_ domain.Reading, reason string) {
		pkgmetrics.RecordFilteredAlert(reason)
	})
	inferenceWorker := ingest.NewInferenceWorker(windows, feature.NewScaler(), registry, fusion.Config{
		MinAgreementForLift: cfg.Fusion.MinAgreementForLift,
	}, clk, cfg.Scheduler.TickPeriod, bus, func(incidents []domain.Incident) {
		if len(incidents) == 0 {
			return
		}
		plan := engine.Plan(incidents)
		if len(plan) == 0 {
			return
		}
		records := engine.Dispatch(context.Background(), plan)
		dispatchNotifications(notifier, incidents, records, storage, zapLog)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := supervisor.NewGroup(ctx)
	group.Go(func() error { return sup.Run(groupCtx, nil) })
	group.Go(func() error { return ingestWorker.Run(groupCtx) })
	group.Go(func() error { return inferenceWorker.Run(groupCtx) })

	var chaosController *chaos.Controller
	if cfg.Chaos.Enabled {
		lister := chaos.NewClientGoCandidateLister(k8sClient, cfg.Kubernetes.Namespace, "hankook-")
		chaosController = chaos.NewController(chaos.Config{
			Enabled:     true,
			Windows:     []int{2, 14},
			SettleDelay: 30 * time.Second,
		}, chaos.RealInjector{Killer: orchestratorPodKiller{orchestrator}}, lister, runner, engine)
		group.Go(func() error {
			return runChaosLoop(groupCtx, chaosController, clk, notifier, storage, zapLog)
		})
	}

	sup.SetMaintenanceMode(cfg.Maintenance.Enabled)
	if chaosController != nil {
		chaosController.SetMaintenanceMode(cfg.Maintenance.Enabled)
	}
	if watcher, err := config.WatchFile(configPath); err == nil {
		group.Go(func() error { return runConfigWatchLoop(groupCtx, watcher, sup, chaosController) })
	} else {
		zapLog.Warn("config hot-reload disabled", zap.Error(err))
	}

	if storage != nil {
		group.Go(func() error { return runMaintenanceLoop(groupCtx, storage, clk, cfg.Retention.Days) })
	}

	runErr := group.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(drainCtx); err != nil {
		zapLog.Warn("metrics server shutdown", zap.Error(err))
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

func newLogrusLogger(level string) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func declareTopics(bus *eventbus.Bus) {
	bus.DeclareTopic(supervisor.TopicHealthSnapshot, 8, eventbus.DropOldest)
	bus.DeclareTopic(supervisor.TopicHealthSnapshotJSON, 8, eventbus.DropOldest)
	bus.DeclareTopic(supervisor.TopicIncidentsJSON, 32, eventbus.DropOldest)
	bus.DeclareTopic(supervisor.TopicRecoveryRecords, 32, eventbus.Block)
	bus.DeclareTopic(supervisor.TopicScaleResults, 8, eventbus.DropOldest)
	bus.DeclareTopic(ingest.TopicReadings, 256, eventbus.DropOldest)
	bus.DeclareTopic(ingest.TopicIncidents, 32, eventbus.DropOldest)
}

func wireStorage(cfg *config.Config) (*capability.SQLStorage, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	return capability.NewSQLStorageFromDSN(cfg.Database.DSN)
}

func wireCache(cfg *config.Config) *capability.RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return capability.NewRedisCache(client)
}

func wireKubernetesClients(cfg *config.Config) (k8sclient.Interface, metricsclientset.Interface, error) {
	restCfg, err := buildRestConfig(cfg.Kubernetes.Context, cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, nil, err
	}
	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	metricsClient, err := metricsclientset.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build metrics clientset: %w", err)
	}
	return clientset, metricsClient, nil
}

func buildRestConfig(kubeContext, kubeconfig string) (*rest.Config, error) {
	if restCfg, err := rest.InClusterConfig(); err == nil {
		return restCfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func wireNotifier(cfg *config.Config) capability.Notifier {
	if cfg.Notifications.SlackWebhookURL == "" {
		return nil
	}
	return capability.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
}

func wireHealthRunner(cfg *config.Config, cache *capability.RedisCache, storage *capability.SQLStorage, k8sClient k8sclient.Interface, metricsClient metricsclientset.Interface) (*health.Runner, error) {
	_ = cache // the Cache health probe dials its own client below; RedisCache serves the ClearCache executor instead.
	metricsSource := health.NewHTTPMetricsSource(cfg.Endpoints.ServiceMetricsURL, http.DefaultClient)

	probes := []health.Probe{
		health.NewServiceProbe("service", metricsSource, nil),
		health.NewCacheProbe("cache", health.NewRedisStore(redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})), nil),
		health.NewMessageBusProbe("message-bus", health.NewTCPMessageBusChecker(cfg.Endpoints.MessageBusAddress, metricsSource), nil),
		health.NewOrchestratorProbe("orchestrator", cfg.Kubernetes.Namespace, health.NewClientGoWorkloadEnumerator(k8sClient, "hankook-")),
		health.NewHostProbe("host", &health.K8sMetricsHostResourceSource{
			NodeUsageFunc: health.NewK8sNodeUsageFunc(k8sClient, metricsClient),
			NodeName:      cfg.Endpoints.HostNodeName,
		}, nil),
		health.NewFleetProbe("fleet", fleetRegistry{url: cfg.Endpoints.FleetRegistryURL}),
	}

	if cfg.Database.DSN != "" {
		// The Relational-store probe opens its own lib/pq connection
		// rather than sharing Storage's pgx pool: it runs one calibrated
		// query a tick and gains nothing from pgx's binary protocol (see
		// internal/capability/storage.go's NewSQLStorageFromDSN).
		relationalDB, err := sqlx.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open relational probe connection: %w", err)
		}
		probes = append(probes, health.NewRelationalProbe("relational", health.NewSQLRelationalStore(relationalDB, "controlplane"), nil))
	}

	deadlines := make(map[string]time.Duration, len(cfg.Probes))
	for _, p := range cfg.Probes {
		deadlines[p.Name] = p.Deadline
	}
	return health.NewRunner(probes, 5*time.Second, deadlines), nil
}

// fleetRegistry is a thin DeviceRegistry over the configured fleet status
// endpoint, grounded on check_sensor_connectivity's HTTP-fetched device
// registry snapshot.
type fleetRegistry struct{ url string }

func (f fleetRegistry) FetchStatusJSON(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func wireScorerRegistry(cfg *config.Config) (*scorer.Registry, error) {
	_ = cfg
	ruleScorer, err := scorer.NewRuleScorer(context.Background(), scorer.DefaultRuleModule)
	if err != nil {
		return nil, err
	}
	// A statistical EWMA/trend scorer runs per numeric channel; the
	// outlier-tree and sequence-prediction adapters are registered
	// unloaded so Registry.ScoreAll simply treats them as unavailable
	// until a trained Model/Predictor is wired in.
	return scorer.NewRegistry(
		ruleScorer,
		scorer.NewStatisticalScorer(domain.ChannelTemperature, 0.3),
		scorer.NewStatisticalScorer(domain.ChannelPressure, 0.3),
		scorer.NewStatisticalScorer(domain.ChannelBatteryVoltage, 0.1),
		scorer.NewOutlierTreeScorer(nil),
		scorer.NewSequencePredictionScorer(nil, domain.ChannelAccelerationMag, 0.2),
	), nil
}

func wireExecutors(orchestrator *capability.ClientGoOrchestrator, cache *capability.RedisCache, storage *capability.SQLStorage, zapLog *zap.Logger) map[domain.RecoveryAction]recovery.Executor {
	executors := map[domain.RecoveryAction]recovery.Executor{
		domain.ActionRestartTarget: &recovery.RestartExecutor{Orchestrator: orchestrator},
		domain.ActionScaleUp: &recovery.ScaleExecutor{
			Orchestrator: orchestrator, Delta: 1, MinReplicas: 1, MaxReplicas: 10,
		},
		domain.ActionScaleDown: &recovery.ScaleExecutor{
			Orchestrator: orchestrator, Delta: -1, MinReplicas: 1, MaxReplicas: 10,
		},
		domain.ActionClearCache:       &recovery.ClearCacheExecutor{Cache: cache},
		domain.ActionCircuitBreak:     recovery.NewCircuitBreakExecutor(),
		domain.ActionRebalanceLoad:    &recovery.RebalanceLoadExecutor{Orchestrator: orchestrator},
		domain.ActionUpdateConfig:     &recovery.UpdateConfigExecutor{Patcher: &capability.LoggingConfigPatcher{Logger: zapLog}},
		domain.ActionFailover:         &recovery.FailoverExecutor{Router: &capability.LoggingFailoverRouter{Logger: zapLog}},
		domain.ActionCleanupResources: &recovery.CleanupExecutor{Cleaner: &capability.LoggingResourceCleaner{Logger: zapLog}},
	}
	if storage != nil {
		executors[domain.ActionRotateLogs] = &recovery.RotateLogsExecutor{Rotator: storageLogRotator{storage}, OlderThan: 7 * 24 * time.Hour}
	}
	return executors
}

// storageLogRotator adapts Storage.RotateLogs to recovery.LogRotator.
type storageLogRotator struct{ s *capability.SQLStorage }

func (r storageLogRotator) RotateLogs(ctx context.Context, target string, olderThan time.Duration) (int, error) {
	return r.s.RotateLogs(ctx, target, olderThan)
}

func wireScaler(cfg *config.Config, orchestrator *capability.ClientGoOrchestrator, ledger *clock.Ledger, clk clock.Clock) *scaler.Scaler {
	return scaler.NewScaler(scaler.Config{
		Deployments: cfg.Scaler.Deployments, MinReplicas: cfg.Scaler.MinReplicas,
		MaxReplicas: cfg.Scaler.MaxReplicas, PeakHours: cfg.Scaler.PeakHours,
		ScaleUpThreshold:   cfg.Scaler.ScaleThresholds["up"],
		ScaleDownThreshold: cfg.Scaler.ScaleThresholds["down"],
		MinHold:            cfg.Scaler.MinHold,
	}, nil, orchestrator, ledger, clk.WallNow)
}

// orchestratorPodKiller adapts the Orchestrator capability's clientset to
// chaos's PodKiller boundary — the chaos test deletes the target pod
// outright rather than performing a graceful rolling restart.
type orchestratorPodKiller struct{ o *capability.ClientGoOrchestrator }

func (p orchestratorPodKiller) KillWorkload(ctx context.Context, target string) error {
	return p.o.Clientset.CoreV1().Pods(p.o.Namespace).Delete(ctx, target, metav1.DeleteOptions{})
}

func runChaosLoop(ctx context.Context, c *chaos.Controller, clk clock.Clock, notifier capability.Notifier, storage *capability.SQLStorage, zapLog *zap.Logger) error {
	sleep := func(ctx context.Context, d time.Duration) error {
		timer := clk.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		run, injected, recovered, records, emergency := c.RunCycle(ctx, clk.WallNow(), sleep)
		if injected {
			zapLog.Info("chaos cycle complete",
				zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)),
				zap.String("target", run.Target), zap.Bool("recovered", recovered))
		}
		if emergency != nil {
			dispatchNotifications(notifier, []domain.Incident{*emergency}, records, storage, zapLog)
		} else if len(records) > 0 {
			dispatchNotifications(notifier, nil, records, storage, zapLog)
		}
		if err := sleep(ctx, time.Hour); err != nil {
			return err
		}
	}
}

// runConfigWatchLoop reloads config.yaml on change and pushes the
// maintenance-mode toggle to the supervisor and chaos controller; every
// other setting requires a process restart to take effect.
func runConfigWatchLoop(ctx context.Context, watcher *config.Watcher, sup *supervisor.Supervisor, chaosController *chaos.Controller) error {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-watcher.Changes():
			if !ok {
				return nil
			}
			sup.SetMaintenanceMode(cfg.Maintenance.Enabled)
			if chaosController != nil {
				chaosController.SetMaintenanceMode(cfg.Maintenance.Enabled)
			}
		case <-watcher.Errors():
		}
	}
}

func runMaintenanceLoop(ctx context.Context, storage *capability.SQLStorage, clk clock.Clock, retentionDays int) error {
	retain := time.Duration(retentionDays) * 24 * time.Hour
	for {
		timer := clk.NewTimer(6 * time.Hour)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
			if _, err := storage.RunMaintenance(ctx, retain); err != nil {
				return fmt.Errorf("run maintenance: %w", err)
			}
		}
	}
}

// dispatchNotifications persists incidents and recovery records to
// Storage for post-incident review and sends every recovery record to the
// Notifier capability. Incidents themselves are not sent to the Notifier,
// whatever their severity.
func dispatchNotifications(notifier capability.Notifier, incidents []domain.Incident, records []domain.RecoveryRecord, storage *capability.SQLStorage, zapLog *zap.Logger) {
	ctx := context.Background()
	if storage != nil {
		for _, inc := range incidents {
			if err := storage.AppendIncident(ctx, inc); err != nil {
				zapLog.Warn("append incident", zap.Error(err))
			}
		}
		for _, rec := range records {
			if err := storage.AppendRecoveryRecord(ctx, rec); err != nil {
				zapLog.Warn("append recovery record", zap.Error(err))
			}
		}
	}
	if notifier == nil {
		return
	}
	for _, rec := range records {
		if err := notifier.NotifyRecovery(ctx, rec); err != nil {
			zapLog.Warn("notify recovery", zap.Error(err))
		}
	}
}
