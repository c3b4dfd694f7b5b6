// Package replay drives a virtual clock over historical minute bars.
package replay

import (
	"sort"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// IndexStats describes what BuildIndex kept and dropped.
type IndexStats struct {
	FramesIn       int `json:"frames_in"`
	FramesIndexed  int `json:"frames_indexed"`
	SkippedInvalid int `json:"skipped_invalid"`
	SkippedOtherTF int `json:"skipped_other_interval"`
	Duplicates     int `json:"duplicates"`
}

// Index holds per-symbol bars sorted by start time and the global timeline.
type Index struct {
	bySymbol map[string][]models.Frame
	symbols  []string
	timeline []int64
	stats    IndexStats
}

// BuildIndex indexes the 1m frames of a batch. Frames with an empty symbol or
// a non-positive start are skipped; a duplicate (symbol, start_ts_ms) keeps
// the last occurrence.
func BuildIndex(frames []models.Frame) *Index {
	idx := &Index{
		bySymbol: make(map[string][]models.Frame),
		stats:    IndexStats{FramesIn: len(frames)},
	}

	type key struct {
		symbol string
		ts     int64
	}
	position := make(map[key]int)

	for _, f := range frames {
		if f.Interval != models.Interval1m {
			idx.stats.SkippedOtherTF++
			continue
		}
		if f.Symbol() == "" || f.StartTsMs() <= 0 {
			idx.stats.SkippedInvalid++
			continue
		}
		if f.Window.TradingDay == "" {
			f.Window.TradingDay = utils.TradingDay(f.StartTsMs())
		}
		k := key{f.Symbol(), f.StartTsMs()}
		if i, ok := position[k]; ok {
			idx.bySymbol[k.symbol][i] = f
			idx.stats.Duplicates++
			continue
		}
		position[k] = len(idx.bySymbol[k.symbol])
		idx.bySymbol[k.symbol] = append(idx.bySymbol[k.symbol], f)
	}

	seen := make(map[int64]struct{})
	for symbol, bars := range idx.bySymbol {
		sort.SliceStable(bars, func(i, j int) bool {
			return bars[i].StartTsMs() < bars[j].StartTsMs()
		})
		idx.symbols = append(idx.symbols, symbol)
		idx.stats.FramesIndexed += len(bars)
		for _, b := range bars {
			if _, ok := seen[b.StartTsMs()]; !ok {
				seen[b.StartTsMs()] = struct{}{}
				idx.timeline = append(idx.timeline, b.StartTsMs())
			}
		}
	}
	sort.Strings(idx.symbols)
	sort.Slice(idx.timeline, func(i, j int) bool { return idx.timeline[i] < idx.timeline[j] })

	return idx
}

// Len returns the number of distinct timestamps.
func (idx *Index) Len() int {
	return len(idx.timeline)
}

// At returns the timestamp at position i.
func (idx *Index) At(i int) int64 {
	return idx.timeline[i]
}

// Symbols returns the indexed symbols in lexical order.
func (idx *Index) Symbols() []string {
	return append([]string(nil), idx.symbols...)
}

// Stats returns indexing statistics.
func (idx *Index) Stats() IndexStats {
	return idx.stats
}

// Window returns up to limit bars of symbol ending at the last bar whose
// start is at or before tsMs, in ascending order.
func (idx *Index) Window(symbol string, tsMs int64, limit int) []models.Frame {
	bars := idx.bySymbol[symbol]
	if len(bars) == 0 || limit <= 0 {
		return nil
	}
	// first index with start > tsMs
	end := sort.Search(len(bars), func(i int) bool {
		return bars[i].StartTsMs() > tsMs
	})
	if end == 0 {
		return nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Frame, end-start)
	copy(out, bars[start:end])
	return out
}
