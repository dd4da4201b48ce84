package plc

// Well-known metadata keys used in the plc wire protocol.
// These appear as custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaMessageType     = "plc.message_type"
	MetaProtocolVersion = "plc.protocol_version"
	MetaRequestID       = "plc.request_id"
	MetaFunction        = "plc.function"
	MetaSource          = "plc.source"
	MetaArgTypes        = "plc.arg_types"
	MetaReturnType      = "plc.return_type"
	MetaReturnsSet      = "plc.returns_set"
	MetaResultTypes     = "plc.result_types"
	MetaLogLevel        = "plc.log_level"
	MetaLogMessage      = "plc.log_message"
	MetaLogExtra        = "plc.log_extra"
	MetaQuery           = "plc.query"

	// MetaTracePrefix prefixes trace context entries (traceparent,
	// tracestate) carried on call batches.
	MetaTracePrefix = "plc.trace."

	ProtocolVersion = "1"
)
