package voice

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// initMetrics exposes gauges for loaded voices and shared model handles.
// Metric failures are logged and otherwise ignored; the registry works
// without them.
func (r *Registry) initMetrics() {
	meter := otel.Meter("github.com/cantorlabs/cantor/voice")

	voiceGauge, err := meter.Int64ObservableGauge("cantor.voices.loaded",
		metric.WithDescription("Number of loaded voices"))
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	modelGauge, err := meter.Int64ObservableGauge("cantor.voices.models",
		metric.WithDescription("Number of shared acoustic model handles"))
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		voices, models := r.snapshotCounts()
		obs.ObserveInt64(voiceGauge, voices)
		obs.ObserveInt64(modelGauge, models)
		return nil
	}, voiceGauge, modelGauge)
	if err != nil {
		r.log.Warn("failed to register metric callback", slog.String("error", err.Error()))
	}
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.loaded)), int64(len(r.models))
}
