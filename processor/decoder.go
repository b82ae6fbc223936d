package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"mdfeed/internal/metrics"
	"mdfeed/internal/symbols"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/subscription"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type recordDecoder func(data []byte) (models.Record, error)

func decodeAs[T models.Record](data []byte) (models.Record, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

var recordDecoders = map[models.EventKind]recordDecoder{
	models.KindQuote:       decodeAs[models.Quote],
	models.KindTrade:       decodeAs[models.Trade],
	models.KindSummary:     decodeAs[models.Summary],
	models.KindProfile:     decodeAs[models.Profile],
	models.KindOrder:       decodeAs[models.Order],
	models.KindSpreadOrder: decodeAs[models.SpreadOrder],
	models.KindCandle:      decodeAs[models.Candle],
	models.KindTimeAndSale: decodeAs[models.TimeAndSale],
	models.KindGreeks:      decodeAs[models.Greeks],
	models.KindSeries:      decodeAs[models.Series],
}

// Batch is one decoded unit handed to the registry.
type Batch struct {
	Kind    models.EventKind
	Symbol  models.Symbol
	Records []models.Record
	Params  models.EventParams
}

// Decoder turns raw feed frames into typed record batches and dispatches
// them to the registry. It runs a single goroutine so batches of one
// connection are delivered in arrival order.
type Decoder struct {
	connection string
	rawChan    <-chan models.RawFeedMessage
	registry   *subscription.Registry
	symbols    *symbols.Table
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	framesDecoded     atomic.Int64
	batchesDispatched atomic.Int64
	recordsDecoded    atomic.Int64
	errorsCount       atomic.Int64
}

func NewDecoder(connection string, rawChan <-chan models.RawFeedMessage, registry *subscription.Registry, table *symbols.Table) *Decoder {
	return &Decoder{
		connection: connection,
		rawChan:    rawChan,
		registry:   registry,
		symbols:    table,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

func (d *Decoder) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("decoder already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	d.log.WithComponent("decoder").WithFields(logger.Fields{
		"connection": d.connection,
	}).Info("starting decoder")

	d.wg.Add(1)
	go d.run()

	go d.metricsReporter(ctx)
	return nil
}

func (d *Decoder) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.log.WithComponent("decoder").Info("stopping decoder")
	d.wg.Wait()
	d.log.WithComponent("decoder").Info("decoder stopped")
}

func (d *Decoder) run() {
	defer d.wg.Done()

	log := d.log.WithComponent("decoder").WithFields(logger.Fields{"connection": d.connection})
	for {
		select {
		case <-d.ctx.Done():
			log.Info("decoder stopped due to context cancellation")
			return
		case raw, ok := <-d.rawChan:
			if !ok {
				log.Info("raw channel closed, decoder stopping")
				return
			}
			start := time.Now()
			batches, err := d.HandleFrame(raw.Data)
			if err != nil {
				continue
			}
			logger.LogPerformanceEntry(log, "decoder", "handle_frame", time.Since(start), logger.Fields{
				"batches": batches,
				"bytes":   len(raw.Data),
			})
		}
	}
}

// HandleFrame decodes one frame and dispatches its batches, returning the
// number of batches dispatched. A frame that fails to decode is dropped
// whole.
func (d *Decoder) HandleFrame(data []byte) (int, error) {
	batches, err := d.Decode(data)
	if err != nil {
		return 0, err
	}
	for _, b := range batches {
		d.registry.Dispatch(b.Kind, b.Symbol, b.Records, b.Params)
		d.batchesDispatched.Add(1)
		metrics.IncrementDispatched(b.Kind.String())
		logger.IncrementBatchDispatched()
	}
	return len(batches), nil
}

// Decode parses one frame into batches without dispatching them.
func (d *Decoder) Decode(data []byte) ([]Batch, error) {
	frameID := uuid.New().String()
	log := d.log.WithComponent("decoder").WithFields(logger.Fields{
		"connection": d.connection,
		"frame_id":   frameID,
	})

	var frame models.FeedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		d.fail(log, "bad_frame", err)
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	kind, ok := models.KindByName(frame.Type)
	if !ok {
		err := fmt.Errorf("unknown record type '%s'", frame.Type)
		d.fail(log.WithFields(logger.Fields{"type": frame.Type}), "unknown_kind", err)
		return nil, err
	}
	symbol := d.symbols.Intern(frame.Symbol)
	if symbol.Name == "" {
		err := fmt.Errorf("frame without symbol")
		d.fail(log.WithFields(logger.Fields{"type": frame.Type}), "missing_symbol", err)
		return nil, err
	}

	decode := recordDecoders[kind]
	records := make([]models.Record, 0, len(frame.Records))
	for i, raw := range frame.Records {
		rec, err := decode(raw)
		if err != nil {
			d.fail(log.WithFields(logger.Fields{"type": frame.Type, "symbol": symbol.Name, "record": i}), "bad_record", err)
			return nil, fmt.Errorf("failed to decode %s record %d: %w", kind, i, err)
		}
		records = append(records, models.ClassifyTombstone(rec))
	}

	params := models.EventParams{Flags: frame.Flags, SnapshotKey: frame.SnapshotKey}
	if frame.Time != nil {
		params.RecordTime = *frame.Time
		params.HasTime = true
	}

	d.framesDecoded.Add(1)
	d.recordsDecoded.Add(int64(len(records)))
	metrics.AddDecoded(kind.String(), len(records))

	log.WithFields(logger.Fields{
		"type":    kind.String(),
		"symbol":  symbol.Name,
		"flags":   frame.Flags.String(),
		"records": len(records),
	}).Debug("frame decoded")

	if !kind.Sourced() {
		return []Batch{{Kind: kind, Symbol: symbol, Records: records, Params: params}}, nil
	}
	return splitBySource(kind, symbol, records, params), nil
}

func (d *Decoder) fail(log *logger.Entry, reason string, err error) {
	d.errorsCount.Add(1)
	metrics.IncrementDecodeError(reason)
	log.WithError(err).WithFields(logger.Fields{"reason": reason}).Warn("dropping undecodable frame")
}

// splitBySource breaks a frame of a sourced kind into one batch per order
// source, in order of first appearance. The frame's transaction spans all
// of them: SnapshotBegin and RemoveSymbol stay on the first batch, the
// closing flags stay on the last one, and every batch but the last carries
// TxPending.
func splitBySource(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) []Batch {
	order := make([]string, 0, 1)
	groups := make(map[string][]models.Record)
	for _, r := range records {
		src := r.EventSource()
		if _, ok := groups[src]; !ok {
			order = append(order, src)
		}
		groups[src] = append(groups[src], r)
	}
	if len(order) <= 1 {
		return []Batch{{Kind: kind, Symbol: symbol, Records: records, Params: params}}
	}

	const opening = models.SnapshotBegin | models.RemoveSymbol
	const closing = models.SnapshotEnd | models.SnapshotSnip
	out := make([]Batch, 0, len(order))
	for i, src := range order {
		p := params
		if i > 0 {
			p.Flags &^= opening
		}
		if i < len(order)-1 {
			p.Flags &^= closing
			p.Flags |= models.TxPending
		}
		out = append(out, Batch{Kind: kind, Symbol: symbol, Records: groups[src], Params: p})
	}
	return out
}

// Stats is a point-in-time copy of the decoder counters.
type Stats struct {
	FramesDecoded     int64
	BatchesDispatched int64
	RecordsDecoded    int64
	Errors            int64
}

func (d *Decoder) Stats() Stats {
	return Stats{
		FramesDecoded:     d.framesDecoded.Load(),
		BatchesDispatched: d.batchesDispatched.Load(),
		RecordsDecoded:    d.recordsDecoded.Load(),
		Errors:            d.errorsCount.Load(),
	}
}

func (d *Decoder) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reportMetrics()
		}
	}
}

func (d *Decoder) reportMetrics() {
	stats := d.Stats()
	errorRate := float64(0)
	if stats.FramesDecoded+stats.Errors > 0 {
		errorRate = float64(stats.Errors) / float64(stats.FramesDecoded+stats.Errors)
	}

	log := d.log.WithComponent("decoder")
	metrics.EmitMetric(d.log, "decoder", "frames_decoded", stats.FramesDecoded, "counter", logger.Fields{})
	metrics.EmitMetric(d.log, "decoder", "batches_dispatched", stats.BatchesDispatched, "counter", logger.Fields{})
	metrics.EmitMetric(d.log, "decoder", "records_decoded", stats.RecordsDecoded, "counter", logger.Fields{})
	metrics.EmitMetric(d.log, "decoder", "error_rate", errorRate, "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"connection":         d.connection,
		"frames_decoded":     stats.FramesDecoded,
		"batches_dispatched": stats.BatchesDispatched,
		"records_decoded":    stats.RecordsDecoded,
		"errors_count":       stats.Errors,
		"error_rate":         errorRate,
		"raw_channel_len":    len(d.rawChan),
		"raw_channel_cap":    cap(d.rawChan),
	}).Info("decoder metrics")
}
