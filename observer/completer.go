package observer

import (
	"context"
	"time"

	"github.com/corpusworks/stratum"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedCompleter wraps a stratum.Completer with OTEL instrumentation.
//
// The completion API does not report token usage, so input and output tokens
// are estimated from the text itself. Cost figures derived from them are
// approximate.
type ObservedCompleter struct {
	inner stratum.Completer
	inst  *Instruments
	model string
}

// WrapCompleter returns an instrumented completer that emits traces, metrics, and logs.
func WrapCompleter(inner stratum.Completer, model string, inst *Instruments) *ObservedCompleter {
	return &ObservedCompleter{inner: inner, inst: inst, model: model}
}

func (o *ObservedCompleter) Name() string { return o.inner.Name() }

func (o *ObservedCompleter) Complete(ctx context.Context, prompt, content string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	out, err := o.inner.Complete(ctx, prompt, content)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	inputTokens := stratum.EstimateTokens(prompt) + stratum.EstimateTokens(content)
	outputTokens := stratum.EstimateTokens(out)
	cost := o.inst.Cost.Calculate(o.model, inputTokens, outputTokens)

	span.SetAttributes(
		AttrTokensInput.Int(inputTokens),
		AttrTokensOutput.Int(outputTokens),
		AttrCostUSD.Float64(cost),
	)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	)

	o.inst.TokenUsage.Add(ctx, int64(inputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(outputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("llm.tokens.input", inputTokens),
		otellog.Int("llm.tokens.output", outputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return out, err
}

var _ stratum.Completer = (*ObservedCompleter)(nil)
