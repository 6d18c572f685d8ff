package risk

import (
	"fmt"
	"time"

	"trading-bridge/internal/market"
)

const (
	maxDataAge     = 5 * time.Second
	maxDrawdownPct = 0.20
)

// PreflightInput is everything the gate inspects before any ensemble call.
type PreflightInput struct {
	PredictorReady  bool
	BrokerConnected bool
	Sample          market.Sample
	Now             time.Time
}

// Preflight gates a decision cycle before the ensemble runs. Any failure
// short-circuits the cycle with no ensemble call; these are expected
// rejections, not errors.
func Preflight(in PreflightInput, snap Snapshot) PreflightResult {
	if !in.PredictorReady {
		return fail("no predictor is ready")
	}
	if !in.BrokerConnected {
		return fail("broker connection is down")
	}
	if snap.Drawdown >= maxDrawdownPct {
		return fail(fmt.Sprintf("drawdown %.1f%% at or above %.0f%% halt", snap.Drawdown*100, maxDrawdownPct*100))
	}
	if !in.Sample.Complete() {
		return fail("market sample is missing required fields")
	}
	if age := in.Sample.Age(in.Now); age > maxDataAge {
		return fail(fmt.Sprintf("market data is stale (%.1fs old)", age.Seconds()))
	}

	limits := snap.Limits
	if limits.MaxDailyLoss > 0 && -snap.DailyPnL >= limits.MaxDailyLoss {
		return fail(fmt.Sprintf("daily loss limit reached: $%.2f", -snap.DailyPnL))
	}
	if limits.MaxDailyTrades > 0 && snap.DailyTrades >= limits.MaxDailyTrades {
		return fail(fmt.Sprintf("daily trade limit reached: %d", snap.DailyTrades))
	}
	if limits.MaxConsecutiveLosses > 0 && snap.ConsecutiveLosses >= limits.MaxConsecutiveLosses {
		return fail(fmt.Sprintf("consecutive loss limit reached: %d", snap.ConsecutiveLosses))
	}

	return PreflightResult{OK: true}
}

func fail(reason string) PreflightResult {
	return PreflightResult{OK: false, Reason: reason}
}
