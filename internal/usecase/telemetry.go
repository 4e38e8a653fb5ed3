package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"talkpartner/internal/domain"
)

const scopeName = "talkpartner/internal/usecase"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	tokenCounter, _ = meter.Int64Counter(
		"talkpartner.llm.tokens",
		metric.WithDescription("Tokens consumed by language-model calls"),
		metric.WithUnit("{token}"),
	)
)

func recordUsage(ctx context.Context, step string, usage domain.Usage) {
	if tokenCounter == nil {
		return
	}
	tokenCounter.Add(ctx, int64(usage.Input), metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("direction", "input"),
	))
	tokenCounter.Add(ctx, int64(usage.Output), metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("direction", "output"),
	))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
