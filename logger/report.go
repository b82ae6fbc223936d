package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed        int64
	errorsSnapshot    int64
	warnsFeed         int64
	warnsSnapshot     int64
	framesRead        int64
	batchesDispatched int64
	snapshotCommits   int64
	messagesPublished int64
	reconnects        int64
	channels          sync.Map // map[string]*channelStat
)

func isFeedComponent(component string) bool {
	return strings.Contains(component, "reader") || strings.Contains(component, "decoder") || strings.Contains(component, "publisher")
}

func recordWarn(component string) {
	if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&warnsSnapshot, 1)
	} else if isFeedComponent(component) {
		atomic.AddInt64(&warnsFeed, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&errorsSnapshot, 1)
	} else if isFeedComponent(component) {
		atomic.AddInt64(&errorsFeed, 1)
	}
}

func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordChannel("feed_ws", size)
}

func IncrementBatchDispatched() {
	atomic.AddInt64(&batchesDispatched, 1)
}

func IncrementSnapshotCommit() {
	atomic.AddInt64(&snapshotCommits, 1)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementPublished(size int) {
	atomic.AddInt64(&messagesPublished, 1)
	recordChannel("kafka_publish", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	startReport(ctx, log, interval)
}

func reportFields() Fields {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	return Fields{
		"errors_feed":        atomic.LoadInt64(&errorsFeed),
		"errors_snapshot":    atomic.LoadInt64(&errorsSnapshot),
		"warns_feed":         atomic.LoadInt64(&warnsFeed),
		"warns_snapshot":     atomic.LoadInt64(&warnsSnapshot),
		"frames_read":        atomic.LoadInt64(&framesRead),
		"batches_dispatched": atomic.LoadInt64(&batchesDispatched),
		"snapshot_commits":   atomic.LoadInt64(&snapshotCommits),
		"messages_published": atomic.LoadInt64(&messagesPublished),
		"reconnects":         atomic.LoadInt64(&reconnects),
		"goroutines":         runtime.NumGoroutine(),
		"heap_mb":            int64(mem.HeapAlloc) / 1024 / 1024,
		"gc_cycles":          int64(mem.NumGC),
		"channels":           channelData,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name, key string) cwtypes.MetricDatum {
		v, _ := metricValue(fields[key])
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(v)}
	}

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(fields["heap_mb"].(int64)))},
		count("Goroutines", "goroutines"),
		count("ErrorsFeed", "errors_feed"),
		count("ErrorsSnapshot", "errors_snapshot"),
		count("WarnsFeed", "warns_feed"),
		count("WarnsSnapshot", "warns_snapshot"),
		count("FramesRead", "frames_read"),
		count("BatchesDispatched", "batches_dispatched"),
		count("SnapshotCommits", "snapshot_commits"),
		count("MessagesPublished", "messages_published"),
		count("Reconnects", "reconnects"),
	}

	for name, stats := range fields["channels"].(map[string]map[string]int64) {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
