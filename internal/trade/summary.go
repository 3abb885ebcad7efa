package trade

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds performance metrics of a list of closed trades.
type Summary struct {
	Name              string  `json:"name"`
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	Profit            float64 `json:"profit"`
	GrossProfit       float64 `json:"gross_profit"`
	GrossLoss         float64 `json:"gross_loss"`
	Ratio             float64 `json:"ratio"`
	PercentProfitable float64 `json:"percent_profitable"`
	AverageTrade      float64 `json:"average_trade"`
	AverageWin        float64 `json:"average_win"`
	AverageLoss       float64 `json:"average_loss"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
	MaxWinSeries      int     `json:"max_win_series"`
	MaxLossSeries     int     `json:"max_loss_series"`
	StdDev            float64 `json:"std_dev"`
}

// noLossRatio is reported as Ratio when there are no losing trades.
const noLossRatio = 100.0

// Summarize computes metrics over trades in the given order.
func Summarize(name string, trades []ClosedTrade) Summary {
	results := make([]float64, len(trades))
	for i, t := range trades {
		results[i] = t.Result().InexactFloat64()
	}
	return SummarizeResults(name, results)
}

// SummarizeResults computes metrics over per-trade results in order.
func SummarizeResults(name string, results []float64) Summary {
	s := Summary{Name: name, TotalTrades: len(results)}
	if len(results) == 0 {
		return s
	}

	var wins, losses []float64
	var winRun, lossRun int
	for _, r := range results {
		switch {
		case r > 0:
			wins = append(wins, r)
		case r < 0:
			losses = append(losses, r)
		}

		if r >= 0 {
			winRun++
			lossRun = 0
		} else {
			lossRun++
			winRun = 0
		}
		s.MaxWinSeries = max(s.MaxWinSeries, winRun)
		s.MaxLossSeries = max(s.MaxLossSeries, lossRun)
	}

	s.WinningTrades = len(wins)
	s.LosingTrades = len(losses)
	s.Profit = floats.Sum(results)
	s.GrossProfit = floats.Sum(wins)
	s.GrossLoss = floats.Sum(losses)
	s.AverageTrade = stat.Mean(results, nil)
	s.PercentProfitable = float64(s.WinningTrades) / float64(s.TotalTrades) * 100

	if len(wins) > 0 {
		s.AverageWin = stat.Mean(wins, nil)
		s.LargestWin = floats.Max(wins)
	}
	if len(losses) > 0 {
		s.AverageLoss = stat.Mean(losses, nil)
		s.LargestLoss = floats.Min(losses)
	}

	if s.GrossLoss == 0 {
		s.Ratio = noLossRatio
	} else {
		s.Ratio = s.GrossProfit / -s.GrossLoss
	}

	if len(results) > 1 {
		s.StdDev = stat.StdDev(results, nil)
	}

	return s
}

// List is a named, concurrency-safe collection of closed trades.
type List struct {
	mu     sync.RWMutex
	name   string
	trades []ClosedTrade
}

// NewList creates a list holding trades.
func NewList(name string, trades ...ClosedTrade) *List {
	return &List{name: name, trades: append([]ClosedTrade(nil), trades...)}
}

func (l *List) Name() string { return l.name }

// Add appends a closed trade.
func (l *List) Add(t ClosedTrade) {
	l.mu.Lock()
	l.trades = append(l.trades, t)
	l.mu.Unlock()
}

// Len returns the number of trades.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// Trades returns a copy of the trades.
func (l *List) Trades() []ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ClosedTrade(nil), l.trades...)
}

// Filter returns a new list with the trades for which keep returns true.
func (l *List) Filter(name string, keep func(ClosedTrade) bool) *List {
	out := NewList(name)
	for _, t := range l.Trades() {
		if keep(t) {
			out.trades = append(out.trades, t)
		}
	}
	return out
}

// Summary computes metrics over the list.
func (l *List) Summary() Summary {
	return Summarize(l.name, l.Trades())
}
