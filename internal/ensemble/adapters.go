package ensemble

import (
	"math"

	"trading-bridge/internal/market"
)

// normalized is the common shape every model family adapter reduces to.
// Long and Short always sum to 1.
type normalized struct {
	Long       float64
	Short      float64
	Confidence float64
}

func (p ProbabilityPair) normalize() normalized {
	long, short := p.Long, p.Short
	if long < 0 {
		long = 0
	}
	if short < 0 {
		short = 0
	}
	total := long + short
	if total == 0 {
		long, short = 0.5, 0.5
	} else {
		long /= total
		short /= total
	}
	return normalized{Long: long, Short: short, Confidence: clamp01(p.Confidence)}
}

func (q QValueVector) normalize() normalized {
	if len(q.Values) == 0 {
		return normalized{Long: 0.5, Short: 0.5, Confidence: clamp01(q.Confidence)}
	}

	probs := softmax(q.Values)

	// Vector layout is [short, flat, long]; shorter vectors degrade to
	// [short, long]. The flat mass is split evenly when present.
	var long, short float64
	switch len(probs) {
	case 1:
		long, short = probs[0], 1-probs[0]
	case 2:
		short, long = probs[0], probs[1]
	default:
		short = probs[0] + probs[1]/2
		long = probs[len(probs)-1] + probs[1]/2
	}

	total := long + short
	if total > 0 {
		long /= total
		short /= total
	}
	return normalized{Long: long, Short: short, Confidence: clamp01(q.Confidence)}
}

func (s SignedDirection) normalize() normalized {
	conf := clamp01(s.Confidence)
	half := conf / 2
	switch s.Direction {
	case market.Long:
		return normalized{Long: 0.5 + half, Short: 0.5 - half, Confidence: conf}
	case market.Short:
		return normalized{Long: 0.5 - half, Short: 0.5 + half, Confidence: conf}
	default:
		return normalized{Long: 0.5, Short: 0.5, Confidence: conf}
	}
}

func softmax(values []float64) []float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
