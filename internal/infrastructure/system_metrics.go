package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RegisterRuntimeMetrics exposes goroutine count and heap usage as
// observable gauges on meter.
func RegisterRuntimeMetrics(meter metric.Meter) error {
	goroutines, err := meter.Int64ObservableGauge("tradeetl_goroutines",
		metric.WithDescription("Number of active goroutines"))
	if err != nil {
		return fmt.Errorf("failed to create goroutine gauge: %w", err)
	}
	heap, err := meter.Int64ObservableGauge("tradeetl_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"))
	if err != nil {
		return fmt.Errorf("failed to create heap gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		o.ObserveInt64(heap, int64(m.HeapAlloc))
		return nil
	}, goroutines, heap)
	return err
}

// LogResourceUsage logs memory and goroutine usage every interval until ctx
// is done.
func LogResourceUsage(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			logger.InfoContext(ctx, "Resource usage",
				slog.Uint64("memory_alloc_mb", m.Alloc/1024/1024),
				slog.Uint64("memory_sys_mb", m.Sys/1024/1024),
				slog.Int("goroutines", runtime.NumGoroutine()))
		}
	}
}
