package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-arcade/arcade/internal/dataflow/config"
	"github.com/go-arcade/arcade/internal/dataflow/examplemod"
	"github.com/go-arcade/arcade/internal/dataflow/graph"
	"github.com/go-arcade/arcade/internal/dataflow/port"
	"github.com/go-arcade/arcade/pkg/conf"
	arcadectx "github.com/go-arcade/arcade/pkg/ctx"
	"github.com/go-arcade/arcade/pkg/log"
	"github.com/go-arcade/arcade/pkg/metrics"
	"github.com/go-arcade/arcade/pkg/trace"
	"github.com/go-arcade/arcade/pkg/version"
)

/**
 * @author: gagral.x@gmail.com
 * @file: main.go
 * @description: graphctl builds and runs a processing graph from a YAML document
 */

var confDir string
var runGroupID, runID, templateID, storageRoot string
var testRun bool
var metricsEnable bool
var metricsPort int
var traceEnable bool
var traceExporter, traceEndpoint string

var rootCmd = &cobra.Command{
	Use:   "graphctl",
	Short: "graphctl builds and runs processing graphs",
	Long:  "graphctl builds and runs processing graphs",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			return
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "build, start, and run a graph until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := trace.Init(trace.Config{
			Enabled: traceEnable, ExporterType: traceExporter, Endpoint: traceEndpoint, Insecure: true,
		}, "graphctl"); err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		defer func() { _ = trace.Shutdown(context.Background()) }()

		var metricsSrv *metrics.Server
		if metricsEnable {
			metricsSrv = metrics.NewServer(metrics.MetricsConfig{Enable: true, Port: metricsPort})
		}

		g, zlog, err := buildGraph(metricsSrv)
		if err != nil {
			return err
		}

		if metricsSrv != nil {
			if err := metricsSrv.Start(); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			defer func() { _ = metricsSrv.Stop(context.Background()) }()
		}

		opts := graph.StartOptions{RunGroupID: runGroupID, RunID: runID, TemplateID: templateID, Test: testRun, StorageRoot: storageRoot}
		if err := g.StartProcessing(opts, nil); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		zlog.Infow("graph processing started", "run_group", runGroupID, "run_id", runID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		zlog.Infow("signal received, stopping graph")
		if err := g.Stop(); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
		return g.Destroy()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "build a graph and tear it down without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, zlog, err := buildGraph(nil)
		if err != nil {
			return err
		}
		zlog.Infow("graph built successfully", "state", g.State())
		return g.Destroy()
	},
}

func buildGraph(metricsSrv *metrics.Server) (*graph.Graph, *zap.SugaredLogger, error) {
	logConf := log.SetDefaults()
	zapLogger, err := log.NewLog(logConf)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	sugar := zapLogger.Sugar()

	cfg, err := config.LoadGraphFile(confDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load graph: %w", err)
	}

	globalCtx := arcadectx.NewContext(arcadectx.ProvideBaseContext(), sugar)
	g := graph.New(globalCtx)
	if metricsSrv != nil {
		g.SetSlotMetrics(port.NewPrometheusSlotMetrics(metricsSrv.GetRegistry()))
	}
	if err := g.Build(cfg, examplemod.Factories()); err != nil {
		return nil, nil, fmt.Errorf("build: %w", err)
	}
	return g, sugar, nil
}

func init() {
	rootCmd.AddCommand(version.VersionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.PersistentFlags().StringVarP(&confDir, "config", "c", ".", "directory containing graph.yaml")

	// Defaults for the run-identifying flags come from the environment
	// when set (RUN_GROUP, RUN_ID, TEMPLATE_ID, STORAGE_ROOT, via
	// viper.AutomaticEnv in pkg/conf, which sets no prefix), the same
	// override path the teacher's services use for
	// container-orchestrated deployments where flags aren't convenient to
	// template.
	runCmd.Flags().StringVar(&runGroupID, "run-group", conf.GetString("run_group"), "run group id this run belongs to")
	runCmd.Flags().StringVar(&runID, "run-id", conf.GetString("run_id"), "unique id for this run")
	runCmd.Flags().StringVar(&templateID, "template", conf.GetString("template_id"), "template id to seed storage context from")
	runCmd.Flags().StringVar(&storageRoot, "storage-root", conf.GetString("storage_root"), "filesystem root for run storage contexts (default: working directory)")
	runCmd.Flags().BoolVar(&testRun, "test", conf.GetBool("test_run"), "mark this run as a test run")
	runCmd.Flags().BoolVar(&metricsEnable, "metrics", conf.GetBool("metrics_enable"), "expose a Prometheus metrics endpoint while running")
	runCmd.Flags().IntVar(&metricsPort, "metrics-port", 8082, "port for the metrics endpoint")
	runCmd.Flags().BoolVar(&traceEnable, "trace", conf.GetBool("trace_enable"), "export engine lifecycle spans via OpenTelemetry")
	runCmd.Flags().StringVar(&traceExporter, "trace-exporter", conf.GetString("trace_exporter"), "otlp-grpc or otlp-http")
	runCmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", conf.GetString("trace_endpoint"), "collector endpoint for the trace exporter")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
