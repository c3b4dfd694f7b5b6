// Package models provides domain models for the replay trading engine.
package models

// Frame schema identifiers written by the market-data converter.
const (
	FrameSchemaVersion = "market.bar.v1"
	BatchSchemaVersion = "market.frames.v1"
	Interval1m         = "1m"
)

// Instrument identifies the traded security of a frame.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Window is the time span covered by a bar.
type Window struct {
	StartTsMs  int64  `json:"start_ts_ms"`
	EndTsMs    int64  `json:"end_ts_ms"`
	TradingDay string `json:"trading_day"`
}

// Bar holds OHLCV values for one window.
type Bar struct {
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	VolumeShares int64   `json:"volume_shares"`
	TurnoverCNY  float64 `json:"turnover_cny"`
	VWAP         float64 `json:"vwap"`
}

// Frame is one canonical bar observation. Frames are immutable once loaded.
type Frame struct {
	SchemaVersion string     `json:"schema_version,omitempty"`
	Market        string     `json:"market,omitempty"`
	Seq           int64      `json:"seq,omitempty"`
	Instrument    Instrument `json:"instrument"`
	Interval      string     `json:"interval"`
	Window        Window     `json:"window"`
	Bar           Bar        `json:"bar"`
}

// Symbol returns the instrument symbol of the frame.
func (f Frame) Symbol() string {
	return f.Instrument.Symbol
}

// StartTsMs returns the window start in unix milliseconds.
func (f Frame) StartTsMs() int64 {
	return f.Window.StartTsMs
}

// FrameBatch is the document produced by the frame source.
type FrameBatch struct {
	SchemaVersion string  `json:"schema_version"`
	Market        string  `json:"market,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	Frames        []Frame `json:"frames"`
}

// ReplayStatus is a point-in-time view of the replay clock.
type ReplayStatus struct {
	Running        bool     `json:"running"`
	Speed          float64  `json:"speed"`
	Loop           bool     `json:"loop"`
	Cursor         int      `json:"cursor"`
	TimelineLength int      `json:"timeline_length"`
	CurrentTsMs    int64    `json:"current_ts_ms"`
	TradingDay     string   `json:"trading_day"`
	WarmupBars     int      `json:"warmup_bars"`
	Accumulator    float64  `json:"accumulator"`
	Symbols        []string `json:"symbols"`
}
