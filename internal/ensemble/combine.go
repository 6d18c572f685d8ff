package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"trading-bridge/internal/market"
	"trading-bridge/pkg/logger"
)

// ModelResult pairs a model's name with its raw output for combining.
type ModelResult struct {
	Name   string
	Output ModelOutput
}

// Combine fuses normalized model outputs by weight. Models missing from the
// weight map get weight 1. The returned LongProb/ShortProb always sum to 1.
func Combine(results []ModelResult, weights map[string]float64) Prediction {
	if len(results) == 0 {
		return NeutralFallback()
	}

	var wLong, wShort, wConf, totalWeight float64
	contributions := make(map[string]float64, len(results))

	for _, r := range results {
		w, ok := weights[r.Name]
		if !ok || w <= 0 {
			if ok {
				continue // explicitly zero-weighted models are excluded
			}
			w = 1
		}
		n := r.Output.normalize()
		wLong += w * n.Long
		wShort += w * n.Short
		wConf += w * n.Confidence
		totalWeight += w
		contributions[r.Name] = w
	}

	if totalWeight == 0 {
		return NeutralFallback()
	}

	for name, w := range contributions {
		contributions[name] = w / totalWeight
	}

	p := Prediction{
		LongProb:      wLong / totalWeight,
		ShortProb:     wShort / totalWeight,
		Confidence:    wConf / totalWeight,
		Strength:      math.Abs(wLong-wShort) / totalWeight,
		Contributions: contributions,
	}
	if p.LongProb >= p.ShortProb {
		p.Direction = market.Long
	} else {
		p.Direction = market.Short
	}
	p.Recommendation = tier(p.Confidence, p.Strength)
	if p.Recommendation == Neutral {
		p.Direction = market.Flat
	}
	return p
}

func tier(confidence, strength float64) Recommendation {
	switch {
	case confidence < 0.6 || strength < 0.1:
		return Neutral
	case confidence > 0.8 && strength > 0.3:
		return StrongSignal
	case confidence > 0.7 && strength > 0.2:
		return ModerateSignal
	default:
		return WeakSignal
	}
}

// Ensemble evaluates all registered predictors against a sample and runs the
// combined result through the stabilizer.
type Ensemble struct {
	mu         sync.RWMutex
	predictors []Predictor
	weights    map[string]float64
	stabilizer *Stabilizer
	log        *logrus.Entry
}

// New creates an ensemble with the given stabilizer; weights may be nil.
func New(stab *Stabilizer, weights map[string]float64) *Ensemble {
	if weights == nil {
		weights = map[string]float64{}
	}
	return &Ensemble{
		weights:    weights,
		stabilizer: stab,
		log:        logger.Component("ensemble"),
	}
}

// Register adds a predictor to the ensemble.
func (e *Ensemble) Register(p Predictor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictors = append(e.predictors, p)
}

// SetWeights replaces the model weight map (dashboard settings update).
func (e *Ensemble) SetWeights(weights map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = weights
}

// Ready reports whether at least one predictor can serve.
func (e *Ensemble) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.predictors {
		if p.Ready() {
			return true
		}
	}
	return false
}

// Evaluate queries every ready predictor, combines the survivors, and applies
// hysteresis. A model error or panic drops only that model from the cycle;
// if every model fails the fixed neutral fallback is returned.
func (e *Ensemble) Evaluate(ctx context.Context, sample market.Sample) Prediction {
	e.mu.RLock()
	predictors := make([]Predictor, len(e.predictors))
	copy(predictors, e.predictors)
	weights := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		weights[k] = v
	}
	e.mu.RUnlock()

	var results []ModelResult
	for _, p := range predictors {
		if !p.Ready() {
			continue
		}
		out, err := e.safePredict(ctx, p, sample)
		if err != nil {
			e.log.WithError(err).Warnf("model %s dropped from cycle", p.Name())
			continue
		}
		results = append(results, ModelResult{Name: p.Name(), Output: out})
	}

	if len(results) == 0 {
		return NeutralFallback()
	}

	combined := Combine(results, weights)
	if e.stabilizer != nil {
		combined = e.stabilizer.Apply(combined)
	}
	combined.Instrument = sample.Instrument
	return combined
}

func (e *Ensemble) safePredict(ctx context.Context, p Predictor, sample market.Sample) (out ModelOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Predict(ctx, sample)
}
