package replay

import (
	"math"
	"sync"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

const (
	MinSpeed     = 0.1
	MaxSpeed     = 1000.0
	MaxStepBars  = 120
	msPerMinute  = 60000.0
	defaultSpeed = 1.0
)

// ClockConfig configures a replay clock.
type ClockConfig struct {
	// Speed is the number of virtual bars replayed per real minute.
	Speed float64
	// WarmupBars positions the initial cursor so that the first WarmupBars
	// timestamps are already visible.
	WarmupBars int
	Loop       bool
}

// Clock advances a cursor over the global timeline of an Index.
//
// Tick and Step are meant to be driven by a single loop. The mutex only
// makes concurrent readers of Status and VisibleFrames safe.
type Clock struct {
	mu          sync.RWMutex
	index       *Index
	cursor      int
	speed       float64
	loop        bool
	running     bool
	accumulator float64
	warmup      int
}

// NewClock builds a clock over the 1m frames of the batch.
func NewClock(frames []models.Frame, cfg ClockConfig) *Clock {
	return NewClockFromIndex(BuildIndex(frames), cfg)
}

// NewClockFromIndex builds a clock over an existing index.
func NewClockFromIndex(idx *Index, cfg ClockConfig) *Clock {
	speed := cfg.Speed
	if speed == 0 {
		speed = defaultSpeed
	}
	c := &Clock{
		index:  idx,
		cursor: -1,
		speed:  utils.Clamp(speed, MinSpeed, MaxSpeed),
		loop:   cfg.Loop,
		warmup: cfg.WarmupBars,
	}
	if idx.Len() > 0 {
		c.cursor = utils.ClampInt(cfg.WarmupBars-1, 0, idx.Len()-1)
		c.running = true
	}
	return c
}

// Tick converts elapsed real milliseconds into virtual bars and advances the
// cursor once per whole bar, returning the timestamps it moved onto. One call
// advances at most one full lap of the timeline; whole bars beyond that are
// discarded.
func (c *Clock) Tick(elapsedMs int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.index.Len() == 0 || elapsedMs <= 0 {
		return nil
	}

	c.accumulator += float64(elapsedMs) * c.speed / msPerMinute
	if lap := float64(c.index.Len()); c.accumulator >= lap+1 {
		c.accumulator = lap + (c.accumulator - math.Floor(c.accumulator))
	}

	var emitted []int64
	for c.accumulator >= 1 {
		c.accumulator--
		ts, ok := c.advanceLocked()
		if !ok {
			break
		}
		emitted = append(emitted, ts)
	}
	return emitted
}

// Step forces min(n, MaxStepBars) advances regardless of the running state.
// A non-positive n is a no-op.
func (c *Clock) Step(n int) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index.Len() == 0 || n <= 0 {
		return nil
	}
	n = utils.ClampInt(n, 1, MaxStepBars)

	emitted := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ts, ok := c.advanceLocked()
		if !ok {
			break
		}
		emitted = append(emitted, ts)
	}
	return emitted
}

// advanceLocked moves the cursor one position. At the end of the timeline it
// wraps when looping and otherwise stops the clock.
func (c *Clock) advanceLocked() (int64, bool) {
	next := c.cursor + 1
	if next >= c.index.Len() {
		if !c.loop {
			c.running = false
			c.accumulator = 0
			return 0, false
		}
		next = 0
	}
	c.cursor = next
	return c.index.At(next), true
}

// Pause stops elapsed-time advancement.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Resume restarts elapsed-time advancement. It is a no-op on an empty timeline.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index.Len() == 0 {
		return
	}
	c.running = true
}

// SetSpeed sets the bars-per-minute speed, clamped to [MinSpeed, MaxSpeed].
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	c.speed = utils.Clamp(speed, MinSpeed, MaxSpeed)
	c.mu.Unlock()
}

// SetLoop toggles wrap-around at the end of the timeline.
func (c *Clock) SetLoop(loop bool) {
	c.mu.Lock()
	c.loop = loop
	c.mu.Unlock()
}

// SetCursor seeks to position i, clamped to the timeline, and discards any
// partial progress.
func (c *Clock) SetCursor(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index.Len() == 0 {
		return
	}
	c.cursor = utils.ClampInt(i, 0, c.index.Len()-1)
	c.accumulator = 0
}

// CurrentTsMs returns the timestamp under the cursor, or 0 before start.
func (c *Clock) CurrentTsMs() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked()
}

func (c *Clock) currentLocked() int64 {
	if c.cursor < 0 {
		return 0
	}
	return c.index.At(c.cursor)
}

// VisibleFrames returns up to limit ascending frames of symbol that started
// at or before the current timestamp.
func (c *Clock) VisibleFrames(symbol string, limit int) []models.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cursor < 0 {
		return nil
	}
	return c.index.Window(symbol, c.currentLocked(), limit)
}

// LatestFrame returns the most recent visible frame of symbol.
func (c *Clock) LatestFrame(symbol string) (models.Frame, bool) {
	frames := c.VisibleFrames(symbol, 1)
	if len(frames) == 0 {
		return models.Frame{}, false
	}
	return frames[0], true
}

// Symbols returns the replayed symbols.
func (c *Clock) Symbols() []string {
	return c.index.Symbols()
}

// Index returns the underlying timeline index.
func (c *Clock) Index() *Index {
	return c.index
}

// Status returns a snapshot of the clock state.
func (c *Clock) Status() models.ReplayStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := models.ReplayStatus{
		Running:        c.running,
		Speed:          c.speed,
		Loop:           c.loop,
		Cursor:         c.cursor,
		TimelineLength: c.index.Len(),
		CurrentTsMs:    c.currentLocked(),
		WarmupBars:     c.warmup,
		Accumulator:    c.accumulator,
		Symbols:        c.index.Symbols(),
	}
	if status.CurrentTsMs > 0 {
		status.TradingDay = c.tradingDayLocked(status.CurrentTsMs)
	}
	return status
}

// tradingDayLocked prefers the trading day carried by the frames.
func (c *Clock) tradingDayLocked(tsMs int64) string {
	for _, symbol := range c.index.symbols {
		if bars := c.index.Window(symbol, tsMs, 1); len(bars) > 0 && bars[0].StartTsMs() == tsMs {
			return bars[0].Window.TradingDay
		}
	}
	return utils.TradingDay(tsMs)
}

// AtEnd reports whether a non-looping clock has nothing left to replay.
func (c *Clock) AtEnd() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len() == 0 || (!c.loop && c.cursor >= c.index.Len()-1)
}
