package metrics

import (
	"sync/atomic"

	"mdfeed/config"
)

// Feature names a group of logged metrics that can be switched off.
type Feature int

const (
	FeatureChannelSize Feature = iota
	FeatureDrops
)

var (
	channelSizeEnabled atomic.Bool
	dropsEnabled       atomic.Bool
)

func init() {
	channelSizeEnabled.Store(true)
	dropsEnabled.Store(true)
}

// Configure applies the metric feature switches from the configuration.
func Configure(cfg config.MetricsConfig) {
	channelSizeEnabled.Store(cfg.ChannelSize)
	dropsEnabled.Store(cfg.Drops)
}

func IsFeatureEnabled(f Feature) bool {
	switch f {
	case FeatureChannelSize:
		return channelSizeEnabled.Load()
	case FeatureDrops:
		return dropsEnabled.Load()
	default:
		return true
	}
}
