// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/go-arcade/arcade/pkg/log"
)

// Config selects how Init exports spans for a graphctl run.
type Config struct {
	Enabled bool
	// ExporterType is "otlp-grpc", "otlp-http", or "none".
	ExporterType string
	Endpoint     string
	Insecure     bool
}

func (c *Config) setDefaults() {
	if c.ExporterType == "" {
		c.ExporterType = "none"
	}
}

var (
	tracerProvider *sdktrace.TracerProvider
	shutdownFunc   func(context.Context) error
)

// Init sets the global tracer provider for the process. A disabled or
// "none" config installs a noop provider so StartSpan calls remain cheap
// no-ops rather than needing a feature-flag check at every call site.
func Init(cfg Config, serviceName string) error {
	cfg.setDefaults()

	if !cfg.Enabled || cfg.ExporterType == "none" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return fmt.Errorf("trace: resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.ExporterType {
	case "otlp-grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	default:
		return fmt.Errorf("trace: unsupported exporter type %q", cfg.ExporterType)
	}
	if err != nil {
		return fmt.Errorf("trace: exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	shutdownFunc = tracerProvider.Shutdown

	log.Infow("tracing initialized", "exporter", cfg.ExporterType, "endpoint", cfg.Endpoint)
	return nil
}

// Shutdown flushes and stops the tracer provider installed by Init, if any.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}
