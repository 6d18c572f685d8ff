// Package monitor fans engine alerts out to pluggable sinks.
package monitor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"trading-bridge/internal/events"
	"trading-bridge/pkg/logger"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the shared logger. It is the default sink so the
// engine alerts somewhere even with nothing external configured.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates the default sink.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.Component("alert")}
}

func (s *LogSink) Send(message string) error {
	s.log.Warn(message)
	return nil
}

// Dispatcher subscribes to alert-worthy bus events and forwards them.
type Dispatcher struct {
	bus   *events.Bus
	sinks []AlertSink
	log   *logrus.Entry
}

// NewDispatcher wires the dispatcher to the bus.
func NewDispatcher(bus *events.Bus, sinks ...AlertSink) *Dispatcher {
	if len(sinks) == 0 {
		sinks = []AlertSink{NewLogSink()}
	}
	return &Dispatcher{bus: bus, sinks: sinks, log: logger.Component("monitor")}
}

// Start consumes events until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	topics := []events.Event{
		events.EventRiskAlert,
		events.EventReconciliationFailed,
		events.EventTradeFailed,
	}

	for _, topic := range topics {
		ch, unsub := d.bus.Subscribe(topic, 32)
		go func(topic events.Event, ch <-chan any, unsub func()) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					d.deliver(fmt.Sprintf("[%s] %+v", topic, payload))
				}
			}
		}(topic, ch, unsub)
	}
}

func (d *Dispatcher) deliver(message string) {
	for _, sink := range d.sinks {
		if err := sink.Send(message); err != nil {
			d.log.WithError(err).Warn("alert delivery failed")
		}
	}
}
