package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  metrics_port: "9090"
  health_port: "9091"

scheduler:
  tick_period: "30s"

probes:
  - name: "fleet"
    deadline: "5s"
  - name: "relational_store"
    deadline: "3s"

cooldowns:
  thermal_runaway: "10m"
  pressure_drop: "5m"

scaler:
  deployments:
    - "hankook-api"
    - "hankook-frontend"
  min_replicas:
    hankook-api: 2
  max_replicas:
    hankook-api: 10
  peak_hours:
    - 9
    - 10
    - 11
  scale_thresholds:
    cpu_high: 0.8

fusion:
  min_agreement_for_lift: 0.5
  severity_weights:
    thermal_runaway: 3.0

window:
  k: 5
  t: "1m"

chaos:
  enabled: false

retention:
  days: 30

kubernetes:
  context: "test-context"
  namespace: "default"

actions:
  dry_run: false
  max_concurrent: 5

logging:
  level: "info"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.MetricsPort).To(Equal("9090"))
				Expect(config.Server.HealthPort).To(Equal("9091"))

				Expect(config.Scheduler.TickPeriod).To(Equal(30 * time.Second))

				Expect(config.Probes).To(HaveLen(2))
				Expect(config.Probes[0].Name).To(Equal("fleet"))
				Expect(config.Probes[0].Deadline).To(Equal(5 * time.Second))

				Expect(config.Cooldowns["thermal_runaway"]).To(Equal(10 * time.Minute))
				Expect(config.Cooldowns["pressure_drop"]).To(Equal(5 * time.Minute))

				Expect(config.Scaler.Deployments).To(ContainElements("hankook-api", "hankook-frontend"))
				Expect(config.Scaler.MinReplicas["hankook-api"]).To(Equal(2))
				Expect(config.Scaler.MaxReplicas["hankook-api"]).To(Equal(10))
				Expect(config.Scaler.PeakHours).To(ContainElements(9, 10, 11))

				Expect(config.Fusion.MinAgreementForLift).To(Equal(0.5))
				Expect(config.Fusion.SeverityWeights["thermal_runaway"]).To(Equal(3.0))

				Expect(config.Window.K).To(Equal(5))
				Expect(config.Window.T).To(Equal(time.Minute))

				Expect(config.Chaos.Enabled).To(BeFalse())
				Expect(config.Retention.Days).To(Equal(30))

				Expect(config.Kubernetes.Context).To(Equal("test-context"))
				Expect(config.Kubernetes.Namespace).To(Equal("default"))

				Expect(config.Actions.DryRun).To(BeFalse())
				Expect(config.Actions.MaxConcurrent).To(Equal(5))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  metrics_port: "9090"

kubernetes:
  context: "test-context"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.MetricsPort).To(Equal("9090"))
				Expect(config.Kubernetes.Context).To(Equal("test-context"))

				Expect(config.Kubernetes.Namespace).To(Equal("default"))
				Expect(config.Scheduler.TickPeriod).To(Equal(30 * time.Second))
				Expect(config.Actions.MaxConcurrent).To(Equal(5))
				Expect(config.Retention.Days).To(Equal(30))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  metrics_port: "9090"
  invalid_yaml: [
scheduler:
  tick_period: "30s"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
server:
  metrics_port: "9090"

scheduler:
  tick_period: "not-a-duration"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{
					MetricsPort: "9090",
					HealthPort:  "9091",
				},
				Scheduler: SchedulerConfig{
					TickPeriod: 30 * time.Second,
				},
				Kubernetes: KubernetesConfig{
					Context:   "test-context",
					Namespace: "default",
				},
				Actions: ActionsConfig{
					DryRun:        false,
					MaxConcurrent: 5,
				},
				Fusion: FusionConfig{
					MinAgreementForLift: 0.5,
				},
				Retention: RetentionConfig{
					Days: 30,
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when Kubernetes namespace is empty", func() {
			BeforeEach(func() {
				config.Kubernetes.Namespace = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("Kubernetes namespace is required"))
			})
		})

		Context("when max concurrent actions is invalid", func() {
			BeforeEach(func() {
				config.Actions.MaxConcurrent = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent actions must be greater than 0"))
			})
		})

		Context("when max concurrent actions is negative", func() {
			BeforeEach(func() {
				config.Actions.MaxConcurrent = -1
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent actions must be greater than 0"))
			})
		})

		Context("when fusion agreement factor is out of range", func() {
			BeforeEach(func() {
				config.Fusion.MinAgreementForLift = 1.5
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("fusion min agreement must be between 0.0 and 1.0"))
			})
		})

		Context("when tick period is zero", func() {
			BeforeEach(func() {
				config.Scheduler.TickPeriod = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("scheduler tick period must be greater than 0"))
			})
		})

		Context("when retention days is negative", func() {
			BeforeEach(func() {
				config.Retention.Days = -1
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("retention days must not be negative"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("HEALTH_PORT", "9998")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("DRY_RUN", "true")
				os.Setenv("KUBE_NAMESPACE", "tires")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.MetricsPort).To(Equal("9999"))
				Expect(config.Server.HealthPort).To(Equal("9998"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Actions.DryRun).To(BeTrue())
				Expect(config.Kubernetes.Namespace).To(Equal("tires"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})
})
