package indicators

import "sync"

// Engine maintains per-instrument price windows and calculates the core
// indicators locally. Ticks normally arrive with ATR/RSI/EMA fields already
// populated by the platform; the engine backfills any the sender omitted.
type Engine struct {
	mu      sync.Mutex
	prices  map[string][]float64
	window  int
	fastEMA int
	slowEMA int
	rsi     int
	atr     int
}

// NewEngine builds an indicator engine with default windows.
func NewEngine(fastEMA, slowEMA, rsiPeriod, atrPeriod, window int) *Engine {
	if window < slowEMA {
		window = slowEMA
	}
	return &Engine{
		prices:  make(map[string][]float64),
		window:  window,
		fastEMA: fastEMA,
		slowEMA: slowEMA,
		rsi:     rsiPeriod,
		atr:     atrPeriod,
	}
}

// Update ingests a new price and returns the latest computed values.
func (e *Engine) Update(instrument string, price float64) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.prices[instrument], price)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.prices[instrument] = arr

	values := map[string]float64{}
	values["ema_fast"] = EMA(arr, e.fastEMA)
	values["ema_slow"] = EMA(arr, e.slowEMA)
	values["rsi"] = RSI(arr, e.rsi)
	values["atr"] = ATR(arr, e.atr)

	return values
}
