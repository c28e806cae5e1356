/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package tracing wraps span creation for the session state machine and
// the upstream pool, modeled on the teacher's util/tracing package shape
// (NewSpan/SpanFromContext/SetTracer) but built on the maintained
// go.opentelemetry.io/otel v1 API rather than its pinned pre-1.0 one.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Name returns the tracer name registered with the global provider.
func Name(appName, appVersion string) string {
	return fmt.Sprintf("%s/%s", appName, appVersion)
}

// SetTracer installs a TracerProvider that writes spans to w as they
// complete, and returns a shutdown func the caller must invoke before
// exit to flush any buffered spans. Passing a nil w disables tracing
// entirely: the global no-op tracer is left in place and shutdown is a
// no-op.
func SetTracer(w io.Writer) (shutdown func(context.Context) error, err error) {
	if w == nil {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// NewSpan starts a span named name as a child of any span already in ctx,
// under the tracer named tracerName.
func NewSpan(ctx context.Context, tracerName, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanFromContext returns the span currently active in ctx, or a no-op
// span if none was ever started.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
