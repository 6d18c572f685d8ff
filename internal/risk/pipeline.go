package risk

import (
	"fmt"
	"math"

	"trading-bridge/internal/state"
)

// Validator is one independent admission check. Validators never mutate the
// opportunity and must not depend on each other's outcome.
type Validator interface {
	Name() string
	Validate(opp Opportunity, pos state.Position, snap Snapshot) ValidatorResult
}

// Pipeline runs an ordered, named set of validators. Every validator runs on
// every evaluation even after a failure, so rejections carry the complete
// reason list.
type Pipeline struct {
	validators []Validator
}

// PipelineConfig tunes the canonical validator set.
type PipelineConfig struct {
	MinExpectedProfit float64
	MinRiskReward     float64
	MaxVolatilityPct  float64 // ATR/price ceiling
	RestrictedHours   []int
}

// DefaultPipelineConfig returns the stock validator settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinExpectedProfit: 25,
		MinRiskReward:     1.5,
		MaxVolatilityPct:  0.03,
		RestrictedHours:   []int{22, 23},
	}
}

// NewPipeline assembles the canonical validator ordering.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{validators: []Validator{
		confidenceValidator{},
		profitValidator{floor: cfg.MinExpectedProfit},
		riskRewardValidator{min: cfg.MinRiskReward},
		reversalValidator{},
		volatilityValidator{max: cfg.MaxVolatilityPct},
		tradingHoursValidator{restricted: cfg.RestrictedHours},
	}}
}

// Evaluate runs all validators; validity requires every one to pass. The
// aggregate score is the mean of individual scores and is telemetry only.
func (p *Pipeline) Evaluate(opp Opportunity, pos state.Position, snap Snapshot) Evaluation {
	eval := Evaluation{IsValid: true}
	var scoreSum float64

	for _, v := range p.validators {
		res := v.Validate(opp, pos, snap)
		res.Name = v.Name()
		eval.Results = append(eval.Results, res)
		scoreSum += res.Score
		if !res.Passed {
			eval.IsValid = false
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("%s: %s", res.Name, res.Reason))
		}
	}

	if len(eval.Results) > 0 {
		eval.Score = scoreSum / float64(len(eval.Results))
	}
	return eval
}

// ----------------------------------------
// Canonical validators
// ----------------------------------------

type confidenceValidator struct{}

func (confidenceValidator) Name() string { return "confidence" }

// Validate passes at confidence >= threshold; the boundary is inclusive.
func (confidenceValidator) Validate(opp Opportunity, _ state.Position, snap Snapshot) ValidatorResult {
	threshold := snap.ConfidenceThreshold
	if opp.Confidence >= threshold {
		return ValidatorResult{Passed: true, Score: opp.Confidence}
	}
	return ValidatorResult{
		Passed: false,
		Score:  opp.Confidence / threshold,
		Reason: fmt.Sprintf("confidence %.3f below threshold %.3f", opp.Confidence, threshold),
	}
}

type profitValidator struct{ floor float64 }

func (profitValidator) Name() string { return "expected_profit" }

func (v profitValidator) Validate(opp Opportunity, _ state.Position, _ Snapshot) ValidatorResult {
	if opp.ExpectedProfit >= v.floor {
		return ValidatorResult{Passed: true, Score: math.Min(opp.ExpectedProfit/(v.floor*4), 1)}
	}
	return ValidatorResult{
		Passed: false,
		Score:  math.Max(opp.ExpectedProfit/v.floor, 0),
		Reason: fmt.Sprintf("expected profit $%.2f below floor $%.2f", opp.ExpectedProfit, v.floor),
	}
}

type riskRewardValidator struct{ min float64 }

func (riskRewardValidator) Name() string { return "risk_reward" }

func (v riskRewardValidator) Validate(opp Opportunity, _ state.Position, _ Snapshot) ValidatorResult {
	loss := opp.MaxLoss
	if loss <= 0 {
		return ValidatorResult{Passed: false, Score: 0, Reason: "max loss is not positive"}
	}
	ratio := opp.ExpectedProfit / loss
	if ratio >= v.min {
		return ValidatorResult{Passed: true, Score: math.Min(ratio/(v.min*2), 1)}
	}
	return ValidatorResult{
		Passed: false,
		Score:  math.Max(ratio/v.min, 0),
		Reason: fmt.Sprintf("risk/reward %.2f below %.2f", ratio, v.min),
	}
}

type reversalValidator struct{}

func (reversalValidator) Name() string { return "no_reversal" }

// Validate rejects a direct reversal while exposure exists: the position
// must be flattened before the opposite side can be entered.
func (reversalValidator) Validate(opp Opportunity, pos state.Position, _ Snapshot) ValidatorResult {
	if pos.IsFlat() || opp.Direction == pos.Direction {
		return ValidatorResult{Passed: true, Score: 1}
	}
	if opp.Direction == pos.Direction.Opposite() {
		return ValidatorResult{
			Passed: false,
			Score:  0,
			Reason: fmt.Sprintf("direct reversal from %s to %s with open size %.0f", pos.Direction, opp.Direction, pos.Size),
		}
	}
	return ValidatorResult{Passed: true, Score: 1, Warning: true}
}

type volatilityValidator struct{ max float64 }

func (volatilityValidator) Name() string { return "volatility" }

func (v volatilityValidator) Validate(opp Opportunity, _ state.Position, _ Snapshot) ValidatorResult {
	if opp.EntryPrice <= 0 {
		return ValidatorResult{Passed: false, Score: 0, Reason: "entry price is not positive"}
	}
	vol := opp.Sample.ATR / opp.EntryPrice
	if vol <= v.max {
		return ValidatorResult{Passed: true, Score: 1 - vol/v.max/2}
	}
	return ValidatorResult{
		Passed: false,
		Score:  math.Max(1-vol/v.max, 0),
		Reason: fmt.Sprintf("instantaneous volatility %.2f%% above %.2f%%", vol*100, v.max*100),
	}
}

type tradingHoursValidator struct{ restricted []int }

func (tradingHoursValidator) Name() string { return "trading_hours" }

func (v tradingHoursValidator) Validate(opp Opportunity, _ state.Position, _ Snapshot) ValidatorResult {
	for _, h := range v.restricted {
		if opp.Hour == h {
			return ValidatorResult{
				Passed: false,
				Score:  0,
				Reason: fmt.Sprintf("hour %02d:00 is in the restricted window", opp.Hour),
			}
		}
	}
	return ValidatorResult{Passed: true, Score: 1}
}
