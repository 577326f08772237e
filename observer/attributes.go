package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for extraction pipeline spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrKnowledgeType = attribute.Key("extraction.knowledge_type")
	AttrPayloadCount  = attribute.Key("extraction.payload_count")
	AttrExtractStatus = attribute.Key("extraction.status")

	AttrProjectID    = attribute.Key("run.project_id")
	AttrSourceID     = attribute.Key("run.source_id")
	AttrRecordCount  = attribute.Key("run.record_count")
	AttrFailureCount = attribute.Key("run.failure_count")
)
