package persistence

import (
	"context"

	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/events"
)

const insertPredictionSQL = `INSERT INTO prediction_log
	(instrument, direction, confidence, strength, long_prob, short_prob, recommendation, stabilized)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// PredictionRecorder streams every published prediction into the audit log
// through the batch writer, so the decision path never blocks on sqlite.
type PredictionRecorder struct {
	bus    *events.Bus
	writer *BatchWriter
}

// NewPredictionRecorder wires a recorder to the bus and the batch writer.
func NewPredictionRecorder(bus *events.Bus, writer *BatchWriter) *PredictionRecorder {
	return &PredictionRecorder{bus: bus, writer: writer}
}

// Start consumes prediction events until the context is cancelled.
func (r *PredictionRecorder) Start(ctx context.Context) {
	stream, unsub := r.bus.Subscribe(events.EventPrediction, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-stream:
				if !ok {
					return
				}
				pred, ok := payload.(ensemble.Prediction)
				if !ok {
					continue
				}
				r.writer.WriteQuery(insertPredictionSQL,
					pred.Instrument, string(pred.Direction), pred.Confidence,
					pred.Strength, pred.LongProb, pred.ShortProb,
					string(pred.Recommendation), pred.Stabilized)
			}
		}
	}()
}
