package metrics

import "marketdash/logger"

// DropMetric identifies the metric name emitted when a push message is discarded.
type DropMetric string

const (
	// DropMetricThrottled records messages rejected by the throttle gate.
	DropMetricThrottled DropMetric = "stream_messages_throttled"
	// DropMetricMalformed records messages that failed to parse.
	DropMetricMalformed DropMetric = "stream_messages_malformed"
	// DropMetricStopped records messages that arrived after the stream was stopped.
	DropMetricStopped DropMetric = "stream_messages_after_stop"
	// DropMetricStale records kline messages older than the in-progress candle.
	DropMetricStale DropMetric = "stream_messages_stale"
	// DropMetricMailboxFull records presentation tasks dropped on a full mailbox.
	DropMetricMailboxFull DropMetric = "presentation_tasks_dropped"
)

// EmitDropMetric emits one dropped-message event. The value is always one so
// callers invoke it for each discarded message. Empty metadata is omitted.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol, stream, stage string) {
	if !IsFeatureEnabled(FeatureStreams) {
		return
	}

	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stream != "" {
		fields["stream"] = stream
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "stream_drops", string(metric), 1, "counter", fields)
}

// EmitStreamMessage emits one received-message event for stream.
func EmitStreamMessage(log *logger.Log, symbol, stream string, size int) {
	if !IsFeatureEnabled(FeatureStreams) {
		return
	}
	EmitMetric(log, "stream", "stream_messages_received", 1, "counter", logger.Fields{
		"symbol": symbol,
		"stream": stream,
		"bytes":  size,
	})
}

// EmitRestAttempt emits one REST attempt with its outcome ("success" or "failure").
func EmitRestAttempt(log *logger.Log, path, outcome string, attempt int) {
	EmitMetric(log, "rest_client", "rest_requests", 1, "counter", logger.Fields{
		"path":    path,
		"outcome": outcome,
		"attempt": attempt,
	})
}
