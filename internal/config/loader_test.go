package config_test

import (
	"errors"
	"os"
	"runtime"
	"testing"

	"github.com/okian/barrace/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1_024)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
				convey.So(cfg.VisibleBarCount, convey.ShouldEqual, 12)
				convey.So(cfg.SubSteps, convey.ShouldEqual, 10)
				convey.So(cfg.TransitionDurationMS, convey.ShouldEqual, 250)
				convey.So(cfg.DuplicatePolicy, convey.ShouldEqual, "last")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("BARRACE_ADDR", ":8080")
			_ = os.Setenv("BARRACE_QUEUE_SIZE", "64")
			_ = os.Setenv("BARRACE_WORKER_COUNT", "3")
			_ = os.Setenv("BARRACE_VISIBLE_BAR_COUNT", "5")
			_ = os.Setenv("BARRACE_SUB_STEPS", "4")
			_ = os.Setenv("BARRACE_DUPLICATE_POLICY", "sum")
			_ = os.Setenv("BARRACE_DATE_LAYOUTS", "2006-01-02, 02.01.2006")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.VisibleBarCount, convey.ShouldEqual, 5)
				convey.So(cfg.SubSteps, convey.ShouldEqual, 4)
				convey.So(cfg.DuplicatePolicy, convey.ShouldEqual, "sum")
			})

			convey.Convey("And list values replace the default layouts", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.DateLayouts, convey.ShouldResemble, []string{"2006-01-02", "02.01.2006"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
queue_size: 300
worker_count: 2
log_format: json
sub_steps: 20
transition_duration_ms: 100
ticker_layout: "Jan 2006"
store_path: /tmp/races.db
date_layouts:
  - "2006-01"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BARRACE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.SubSteps, convey.ShouldEqual, 20)
				convey.So(cfg.StorePath, convey.ShouldEqual, "/tmp/races.db")
				convey.So(cfg.DateLayouts, convey.ShouldResemble, []string{"2006-01"})
			})

			convey.Convey("And race options are derived from it", func() {
				o := cfg.RaceOptions()
				convey.So(o.SubStepsPerInterval, convey.ShouldEqual, 20)
				convey.So(o.TransitionDuration.Milliseconds(), convey.ShouldEqual, 100)
				convey.So(o.TickerLayout, convey.ShouldEqual, "Jan 2006")
				convey.So(o.DateLayouts, convey.ShouldResemble, []string{"2006-01"})
			})
		})

		convey.Convey("When loading metrics settings from YAML and env", func() {
			yamlContent := `
metrics_enabled: false
metrics_namespace: races
metrics_buckets_ms: [1, 5, 25]
metrics_refresh_ms: 2500
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BARRACE_CONFIG", tmpFile)
			_ = os.Setenv("BARRACE_METRICS_SUBSYSTEM", "api")
			_ = os.Setenv("BARRACE_METRICS_LABELS", "env=prod, region = eu")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then every metrics key is read", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.MetricsEnabled, convey.ShouldBeFalse)
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "races")
				convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "api")
				convey.So(cfg.MetricsBucketsMS, convey.ShouldResemble, []float64{1, 5, 25})
				convey.So(cfg.MetricsRefreshMS, convey.ShouldEqual, 2500)

				labels, err := cfg.ConstLabels()
				convey.So(err, convey.ShouldBeNil)
				convey.So(labels, convey.ShouldResemble, map[string]string{"env": "prod", "region": "eu"})
				convey.So(cfg.MetricsOptions(), convey.ShouldHaveLength, 6)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
queue_size: 300
worker_count: 2
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("BARRACE_CONFIG", tmpFile)
			_ = os.Setenv("BARRACE_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile("addr: [unclosed")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("BARRACE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("BARRACE_CONFIG", "/non/existent/barrace.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("BARRACE_QUEUE_SIZE", "lots")
			defer clearConfigEnvVars()

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigLoaderValidation(t *testing.T) {
	convey.Convey("Given invalid values", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		cases := map[string]string{
			"BARRACE_ADDR":               "",
			"BARRACE_WORKER_COUNT":       "0",
			"BARRACE_QUEUE_SIZE":         "-1",
			"BARRACE_VISIBLE_BAR_COUNT":  "0",
			"BARRACE_SUB_STEPS":          "0",
			"BARRACE_DUPLICATE_POLICY":   "mean",
			"BARRACE_LOG_FORMAT":         "xml",
			"BARRACE_MAX_ROWS":           "0",
			"BARRACE_METRICS_NAMESPACE":  "bar-race",
			"BARRACE_METRICS_LABELS":     "env",
			"BARRACE_METRICS_REFRESH_MS": "0",
			"BARRACE_METRICS_BUCKETS_MS": "5,1",
		}

		for key, val := range cases {
			convey.Convey("When "+key+" is "+val, func() {
				_ = os.Setenv(key, val)
				cfg, err := config.Load()

				convey.Convey("Then it should return a validation error", func() {
					convey.So(cfg, convey.ShouldBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"BARRACE_CONFIG",
		"BARRACE_ADDR",
		"BARRACE_QUEUE_SIZE",
		"BARRACE_WORKER_COUNT",
		"BARRACE_VISIBLE_BAR_COUNT",
		"BARRACE_SUB_STEPS",
		"BARRACE_DUPLICATE_POLICY",
		"BARRACE_DATE_LAYOUTS",
		"BARRACE_LOG_FORMAT",
		"BARRACE_MAX_ROWS",
		"BARRACE_METRICS_ENABLED",
		"BARRACE_METRICS_NAMESPACE",
		"BARRACE_METRICS_SUBSYSTEM",
		"BARRACE_METRICS_LABELS",
		"BARRACE_METRICS_BUCKETS_MS",
		"BARRACE_METRICS_REFRESH_MS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "barrace-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
