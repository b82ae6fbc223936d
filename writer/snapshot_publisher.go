package writer

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TransactionMessage is the published form of one committed snapshot
// transaction.
type TransactionMessage struct {
	ID          string                 `json:"id"`
	Connection  string                 `json:"connection"`
	Kind        string                 `json:"kind"`
	Symbol      string                 `json:"symbol"`
	Source      string                 `json:"source,omitempty"`
	Additions   []models.IndexedRecord `json:"additions,omitempty"`
	Updates     []models.IndexedRecord `json:"updates,omitempty"`
	Removals    []int64                `json:"removals,omitempty"`
	PublishedAt time.Time              `json:"published_at"`
}

// SnapshotPublisher is an incremental snapshot listener that queues every
// non-empty committed transaction on the publish channel. It never blocks
// the dispatching goroutine; a full channel drops the message.
type SnapshotPublisher struct {
	connection string
	channels   *channel.Channels
	ctx        context.Context
	log        *logger.Log
}

func NewSnapshotPublisher(ctx context.Context, connection string, ch *channel.Channels) *SnapshotPublisher {
	return &SnapshotPublisher{
		connection: connection,
		channels:   ch,
		ctx:        ctx,
		log:        logger.GetLogger(),
	}
}

// OnDelta implements snapshot.IncrementalListener.
func (p *SnapshotPublisher) OnDelta(d snapshot.Delta) {
	if d.Empty() {
		return
	}
	msg, err := p.encode(d)
	if err != nil {
		p.log.WithComponent("snapshot_publisher").WithError(err).WithFields(logger.Fields{
			"kind":   d.Kind.String(),
			"symbol": d.Symbol.Name,
		}).Warn("failed to encode transaction")
		return
	}
	if p.channels.SendPublish(p.ctx, msg) {
		return
	}
	if p.ctx.Err() != nil {
		return
	}
	metrics.EmitDropMetric(p.log, metrics.DropMetricPublish, p.connection, d.Symbol.Name, "publisher")
	p.log.WithComponent("snapshot_publisher").WithFields(logger.Fields{
		"key": msg.Key,
	}).Warn("publish channel full, dropping transaction")
}

func (p *SnapshotPublisher) encode(d snapshot.Delta) (models.PublishMessage, error) {
	now := time.Now().UTC()
	tx := TransactionMessage{
		ID:          uuid.New().String(),
		Connection:  p.connection,
		Kind:        d.Kind.String(),
		Symbol:      d.Symbol.Name,
		Source:      d.Source,
		Additions:   d.Additions,
		Updates:     d.Updates,
		PublishedAt: now,
	}
	for _, r := range d.Removals {
		tx.Removals = append(tx.Removals, r.Index)
	}
	value, err := json.Marshal(tx)
	if err != nil {
		return models.PublishMessage{}, err
	}
	key := snapshot.Key{Kind: d.Kind, Symbol: d.Symbol.Name, Source: d.Source}
	return models.PublishMessage{
		ID:        tx.ID,
		Key:       key.String(),
		Value:     value,
		Kind:      d.Kind,
		Symbol:    d.Symbol.Name,
		Timestamp: now,
	}, nil
}
