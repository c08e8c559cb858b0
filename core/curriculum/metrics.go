package curriculum

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("studyboard-curriculum")

var (
	promotionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curriculum",
		Subsystem: "promotion",
		Name:      "runs_total",
		Help:      "Total number of curriculum promotion runs broken down by final status.",
	}, []string{"status"})

	promotionTopicWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curriculum",
		Subsystem: "promotion",
		Name:      "topic_writes_total",
		Help:      "Total number of production topic writes broken down by kind.",
	}, []string{"kind"})

	promotionCleanup = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curriculum",
		Subsystem: "promotion",
		Name:      "cleanup_total",
		Help:      "Total number of removed-topic cleanup decisions broken down by outcome.",
	}, []string{"outcome"})

	promotionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "curriculum",
		Subsystem: "promotion",
		Name:      "duration_seconds",
		Help:      "Wall time of curriculum promotion runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func recordRun(status RunStatus, seconds float64) {
	promotionRuns.WithLabelValues(string(status)).Inc()
	promotionDuration.Observe(seconds)
}

func recordTopicWrites(kind string, n int) {
	if n <= 0 {
		return
	}
	promotionTopicWrites.WithLabelValues(kind).Add(float64(n))
}

func recordCleanup(res CleanupResult) {
	promotionCleanup.WithLabelValues("deleted").Add(float64(res.DeletedRemoved))
	promotionCleanup.WithLabelValues("kept").Add(float64(res.KeptRemoved))
	promotionCleanup.WithLabelValues("warning").Add(float64(len(res.Warnings)))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "curriculum."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
