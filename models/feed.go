package models

import (
	"encoding/json"
	"time"
)

// RawFeedMessage is one undecoded frame read from a feed connection.
type RawFeedMessage struct {
	Connection string
	Data       []byte
	Timestamp  time.Time
}

// FeedFrame is the JSON shape of an inbound data frame. Records stay raw
// until the decoder knows which kind to decode them into.
type FeedFrame struct {
	Type        string            `json:"type"`
	Symbol      string            `json:"symbol"`
	Flags       EventFlags        `json:"flags"`
	Time        *int64            `json:"time,omitempty"`
	SnapshotKey uint64            `json:"snapshot_key"`
	Records     []json.RawMessage `json:"records"`
}

// SymbolRequest asks the feed to start or stop sending one kind of records
// for one symbol. TimeBound is the resubscription time for history kinds
// and NoTime otherwise.
type SymbolRequest struct {
	Kind       EventKind `json:"kind"`
	Symbol     Symbol    `json:"symbol"`
	TimeBound  int64     `json:"time_bound"`
	TimeSeries bool      `json:"time_series"`
}

// ControlFrame is the JSON shape of an outbound subscribe/unsubscribe frame.
type ControlFrame struct {
	Op       string `json:"op"`
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	FromTime *int64 `json:"from_time,omitempty"`
}

// PublishMessage is one committed snapshot transaction encoded for
// downstream delivery.
type PublishMessage struct {
	ID        string
	Key       string
	Value     []byte
	Kind      EventKind
	Symbol    string
	Timestamp time.Time
}
