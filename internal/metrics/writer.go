package metrics

import "mdfeed/logger"

// PublisherStats holds the counters of a downstream publisher.
type PublisherStats struct {
	MessagesWritten int64
	BytesWritten    int64
	ErrorsCount     int64
	ChannelLen      int
	ChannelCap      int
}

// ReportPublisher emits publisher metrics under the given component name.
func ReportPublisher(log *logger.Log, component string, stats PublisherStats) {
	errorRate := float64(0)
	if stats.MessagesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.MessagesWritten+stats.ErrorsCount)
	}

	EmitMetric(log, component, "messages_written", stats.MessagesWritten, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", nil)
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", nil)
	EmitMetric(log, component, "channel_len", stats.ChannelLen, "gauge", logger.Fields{"capacity": stats.ChannelCap})

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"messages_written": stats.MessagesWritten,
		"bytes_written":    stats.BytesWritten,
		"errors_count":     stats.ErrorsCount,
		"error_rate":       errorRate,
		"channel_len":      stats.ChannelLen,
		"channel_cap":      stats.ChannelCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
