package observer

import (
	"context"
	"time"

	"github.com/corpusworks/stratum"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedExtractor wraps a stratum.Extractor with OTEL instrumentation.
type ObservedExtractor struct {
	inner         stratum.Extractor
	inst          *Instruments
	knowledgeType string
}

// WrapExtractor returns an instrumented extractor for the given knowledge type.
func WrapExtractor(inner stratum.Extractor, knowledgeType string, inst *Instruments) *ObservedExtractor {
	return &ObservedExtractor{inner: inner, inst: inst, knowledgeType: knowledgeType}
}

func (o *ObservedExtractor) Extract(ctx context.Context, contextText string) ([]stratum.Payload, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "extraction.extract", trace.WithAttributes(
		AttrKnowledgeType.String(o.knowledgeType),
	))
	defer span.End()
	start := time.Now()

	payloads, err := o.inner.Extract(ctx, contextText)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrExtractStatus.String(status),
		AttrPayloadCount.Int(len(payloads)),
	)

	o.inst.Extractions.Add(ctx, 1, metric.WithAttributes(
		AttrKnowledgeType.String(o.knowledgeType),
		AttrExtractStatus.String(status),
	))
	o.inst.ExtractDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrKnowledgeType.String(o.knowledgeType),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("extraction completed"))
	rec.AddAttributes(
		otellog.String("extraction.knowledge_type", o.knowledgeType),
		otellog.String("extraction.status", status),
		otellog.Int("extraction.payload_count", len(payloads)),
		otellog.Float64("extraction.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return payloads, err
}

var _ stratum.Extractor = (*ObservedExtractor)(nil)
