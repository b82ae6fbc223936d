package models

// Record is one decoded update. Records of every kind travel through the
// subscription registry; only IndexedRecord kinds take part in snapshots.
type Record interface {
	Kind() EventKind
	EventSource() string
}

// IndexedRecord is a record with a server-assigned unique Index and an
// explicit removal tag computed once at decode time.
type IndexedRecord interface {
	Record
	RecordIndex() int64
	IsRemoved() bool
}

// Side of an order or trade.
type Side string

const (
	SideUndefined Side = ""
	SideBuy       Side = "BUY"
	SideSell      Side = "SELL"
)

// Tombstone carries the removal tag of an indexed record.
type Tombstone struct {
	Removed bool `json:"removed,omitempty"`
}

func (t Tombstone) IsRemoved() bool { return t.Removed }

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// LAST VALUE //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Quote is the best bid and offer.
type Quote struct {
	Time        int64   `json:"time"`
	BidExchange string  `json:"bid_exchange"`
	BidPrice    float64 `json:"bid_price"`
	BidSize     float64 `json:"bid_size"`
	AskExchange string  `json:"ask_exchange"`
	AskPrice    float64 `json:"ask_price"`
	AskSize     float64 `json:"ask_size"`
}

func (Quote) Kind() EventKind { return KindQuote }
func (Quote) EventSource() string { return "" }

// Trade is the last trade.
type Trade struct {
	Time      int64   `json:"time"`
	Exchange  string  `json:"exchange"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	DayVolume float64 `json:"day_volume"`
}

func (Trade) Kind() EventKind { return KindTrade }
func (Trade) EventSource() string { return "" }

// Summary holds daily session statistics.
type Summary struct {
	DayOpen      float64 `json:"day_open"`
	DayHigh      float64 `json:"day_high"`
	DayLow       float64 `json:"day_low"`
	DayClose     float64 `json:"day_close"`
	PrevDayClose float64 `json:"prev_day_close"`
	OpenInterest int64   `json:"open_interest"`
}

func (Summary) Kind() EventKind { return KindSummary }
func (Summary) EventSource() string { return "" }

// Profile holds instrument reference data.
type Profile struct {
	Description string  `json:"description"`
	Status      string  `json:"status"`
	High52Week  float64 `json:"high_52_week"`
	Low52Week   float64 `json:"low_52_week"`
}

func (Profile) Kind() EventKind { return KindProfile }
func (Profile) EventSource() string { return "" }

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// INDEXED ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Order is one resting order or price level from a given source.
type Order struct {
	Index       int64   `json:"index"`
	Source      string  `json:"source"`
	Time        int64   `json:"time"`
	Sequence    int32   `json:"sequence"`
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	Side        Side    `json:"side"`
	Level       int32   `json:"level"`
	MarketMaker string  `json:"market_maker,omitempty"`
	Tombstone
}

func (Order) Kind() EventKind { return KindOrder }
func (o Order) EventSource() string { return o.Source }
func (o Order) RecordIndex() int64 { return o.Index }
func (o Order) markRemoved() Record { o.Removed = true; return o }

// SpreadOrder is an order on a multi-leg spread instrument.
type SpreadOrder struct {
	Order
	SpreadSymbol string `json:"spread_symbol"`
}

func (SpreadOrder) Kind() EventKind { return KindSpreadOrder }
func (o SpreadOrder) markRemoved() Record { o.Removed = true; return o }

// Candle is one OHLCV bar; its Index encodes the bar time and sequence.
type Candle struct {
	Index    int64   `json:"index"`
	Time     int64   `json:"time"`
	Sequence int32   `json:"sequence"`
	Count    int64   `json:"count"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	VWAP     float64 `json:"vwap"`
	Tombstone
}

func (Candle) Kind() EventKind { return KindCandle }
func (Candle) EventSource() string { return "" }
func (c Candle) RecordIndex() int64 { return c.Index }
func (c Candle) markRemoved() Record { c.Removed = true; return c }

// TimeAndSale is one print of the time and sales tape.
type TimeAndSale struct {
	Index     int64   `json:"index"`
	Time      int64   `json:"time"`
	Sequence  int32   `json:"sequence"`
	Exchange  string  `json:"exchange"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	BidPrice  float64 `json:"bid_price"`
	AskPrice  float64 `json:"ask_price"`
	Side      Side    `json:"side"`
	SaleType  string  `json:"sale_type"`
	Condition string  `json:"condition,omitempty"`
	Tombstone
}

func (TimeAndSale) Kind() EventKind { return KindTimeAndSale }
func (TimeAndSale) EventSource() string { return "" }
func (t TimeAndSale) RecordIndex() int64 { return t.Index }
func (t TimeAndSale) markRemoved() Record { t.Removed = true; return t }

// Greeks are option sensitivities at a point in time.
type Greeks struct {
	Index      int64   `json:"index"`
	Time       int64   `json:"time"`
	Sequence   int32   `json:"sequence"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Theta      float64 `json:"theta"`
	Rho        float64 `json:"rho"`
	Vega       float64 `json:"vega"`
	Tombstone
}

func (Greeks) Kind() EventKind { return KindGreeks }
func (Greeks) EventSource() string { return "" }
func (g Greeks) RecordIndex() int64 { return g.Index }
func (g Greeks) markRemoved() Record { g.Removed = true; return g }

// Series is a snapshot of one option expiration.
type Series struct {
	Index        int64   `json:"index"`
	Time         int64   `json:"time"`
	Sequence     int32   `json:"sequence"`
	Expiration   int32   `json:"expiration"`
	Volatility   float64 `json:"volatility"`
	PutCallRatio float64 `json:"put_call_ratio"`
	ForwardPrice float64 `json:"forward_price"`
	Dividend     float64 `json:"dividend"`
	Interest     float64 `json:"interest"`
	Tombstone
}

func (Series) Kind() EventKind { return KindSeries }
func (Series) EventSource() string { return "" }
func (s Series) RecordIndex() int64 { return s.Index }
func (s Series) markRemoved() Record { s.Removed = true; return s }
