package memory

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	memoryMetricsOnce sync.Once
	memoryWrites      otelmetric.Int64Counter
	memorySearches    otelmetric.Int64Counter
	memoryPruned      otelmetric.Int64Counter
	memorySearchTime  otelmetric.Float64Histogram
)

func initMemoryMetrics() {
	meter := otel.Meter("boardroom/memory")
	var err error
	memoryWrites, err = meter.Int64Counter(
		"memory_writes_total",
		otelmetric.WithDescription("Memories written, by backend and outcome"),
	)
	if err != nil {
		log.Printf("memory metrics init: memory_writes_total: %v", err)
	}
	memorySearches, err = meter.Int64Counter(
		"memory_searches_total",
		otelmetric.WithDescription("Memory searches, by backend and outcome"),
	)
	if err != nil {
		log.Printf("memory metrics init: memory_searches_total: %v", err)
	}
	memoryPruned, err = meter.Int64Counter(
		"memory_pruned_total",
		otelmetric.WithDescription("Memories removed by the janitor"),
	)
	if err != nil {
		log.Printf("memory metrics init: memory_pruned_total: %v", err)
	}
	memorySearchTime, err = meter.Float64Histogram(
		"memory_search_seconds",
		otelmetric.WithDescription("Latency of memory searches"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("memory metrics init: memory_search_seconds: %v", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func recordWrite(ctx context.Context, backend string, err error) {
	memoryMetricsOnce.Do(initMemoryMetrics)
	if memoryWrites == nil {
		return
	}
	memoryWrites.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome(err)),
	))
}

func recordSearch(ctx context.Context, backend string, started time.Time, err error) {
	memoryMetricsOnce.Do(initMemoryMetrics)
	attrs := otelmetric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome(err)),
	)
	if memorySearches != nil {
		memorySearches.Add(contextOrBackground(ctx), 1, attrs)
	}
	if memorySearchTime != nil {
		memorySearchTime.Record(contextOrBackground(ctx), time.Since(started).Seconds(), attrs)
	}
}

func recordPruned(ctx context.Context, backend string, n int) {
	if n <= 0 {
		return
	}
	memoryMetricsOnce.Do(initMemoryMetrics)
	if memoryPruned == nil {
		return
	}
	memoryPruned.Add(contextOrBackground(ctx), int64(n), otelmetric.WithAttributes(attribute.String("backend", backend)))
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
