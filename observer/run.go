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

// RunSource executes one orchestrator run inside a span and records run-level
// metrics and a summary log. run is the orchestrator call itself.
func (i *Instruments) RunSource(ctx context.Context, projectID, sourceID string, run func(context.Context) (stratum.Outcome, error)) (stratum.Outcome, error) {
	ctx, span := i.Tracer.Start(ctx, "extraction.run", trace.WithAttributes(
		AttrProjectID.String(projectID),
		AttrSourceID.String(sourceID),
	))
	defer span.End()
	start := time.Now()

	outcome, err := run(ctx)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(outcome.Failures) > 0:
		status = "partial"
	}

	span.SetAttributes(
		AttrRecordCount.Int(len(outcome.Records)),
		AttrFailureCount.Int(len(outcome.Failures)),
	)

	i.RunExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrProjectID.String(projectID),
		AttrExtractStatus.String(status),
	))
	i.RunDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrProjectID.String(projectID),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if status == "error" {
		rec.SetSeverity(otellog.SeverityError)
	}
	rec.SetBody(otellog.StringValue("extraction run completed"))
	rec.AddAttributes(
		otellog.String("run.project_id", projectID),
		otellog.String("run.source_id", sourceID),
		otellog.Int("run.record_count", len(outcome.Records)),
		otellog.Int("run.failure_count", len(outcome.Failures)),
		otellog.Float64("run.duration_ms", durationMs),
		otellog.String("status", status),
	)
	i.Logger.Emit(ctx, rec)

	return outcome, err
}
