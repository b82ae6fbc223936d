package metrics

import "mdfeed/logger"

// DropMetric names a point where a non-blocking send can drop a message.
type DropMetric string

const (
	DropMetricRawFrame DropMetric = "raw_frames_dropped"
	DropMetricPublish  DropMetric = "publish_messages_dropped"
)

// EmitDropMetric counts one dropped message. The metric event is only
// emitted while the drops feature is on.
func EmitDropMetric(log *logger.Log, metric DropMetric, connection, symbol, stage string) {
	IncrementDropped(string(metric))
	if !IsFeatureEnabled(FeatureDrops) {
		return
	}
	EmitMetric(log, "channel_drops", string(metric), 1, "counter",
		nonEmpty(logger.Fields{"connection": connection, "symbol": symbol, "stage": stage}))
}

func nonEmpty(fields logger.Fields) logger.Fields {
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			delete(fields, k)
		}
	}
	return fields
}
