package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"mdfeed/logger"
)

// stubProbes replaces the gopsutil probes for the duration of the test.
func stubProbes(t *testing.T, diskErr error) *atomic.Int32 {
	t.Helper()
	originalCPU, originalMem, originalDisk := cpuPercentFn, memoryStatsFn, diskUsageFn
	t.Cleanup(func() {
		cpuPercentFn, memoryStatsFn, diskUsageFn = originalCPU, originalMem, originalDisk
	})

	calls := &atomic.Int32{}
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
	}
	diskUsageFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		if diskErr != nil {
			return nil, diskErr
		}
		return &disk.UsageStat{Used: 4096, Total: 8192, UsedPercent: 50}, nil
	}
	return calls
}

func TestResourceSamplerCollect(t *testing.T) {
	stubProbes(t, nil)
	sampler := newResourceSampler(3, 10*time.Millisecond, "", logger.Logger())

	sample, err := sampler.collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if sample.CPUPercent != 42.5 || sample.MemoryPct != 50 || sample.DiskTotal != 8192 {
		t.Fatalf("unexpected sample: %#v", sample)
	}
	if sample.Goroutines == 0 || sample.HeapBytes == 0 {
		t.Fatalf("runtime figures missing: %#v", sample)
	}
}

func TestResourceSamplerCollectNamesFailingProbe(t *testing.T) {
	stubProbes(t, errors.New("no such mount"))
	sampler := newResourceSampler(3, 10*time.Millisecond, "/data", logger.Logger())

	_, err := sampler.collect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk /data") {
		t.Fatalf("expected disk error, got %v", err)
	}
}

func TestResourceSamplerRunKeepsNewestSamples(t *testing.T) {
	calls := stubProbes(t, nil)
	sampler := newResourceSampler(2, 5*time.Millisecond, "/", logger.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatal("resource sampler did not collect samples in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sampler.stop()

	if got := len(sampler.snapshot()); got != 2 {
		t.Fatalf("expected 2 retained samples, got %d", got)
	}
	if sampler.running.Load() {
		t.Fatal("sampler still marked running after stop")
	}
}
