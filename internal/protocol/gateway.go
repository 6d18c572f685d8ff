// Package protocol implements the TCP gateway: framing, sanitization, the
// confirmation handshake, and typed dispatch of platform messages.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-bridge/internal/events"
	"trading-bridge/pkg/logger"
)

// Config tunes the gateway.
type Config struct {
	ListenAddr     string
	AutoConfirm    bool // confirm on accept instead of first qualifying message
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	PredictionRate float64 // per-connection ml_prediction_request per second
}

// DefaultConfig returns production defaults.
func DefaultConfig(addr string) Config {
	return Config{
		ListenAddr:     addr,
		IdleTimeout:    5 * time.Minute,
		SweepInterval:  30 * time.Second,
		PredictionRate: 2,
	}
}

// ConnectionEvent is published on connect/confirm/disconnect.
type ConnectionEvent struct {
	ConnID string
	Remote string
	Reason string
}

// Gateway owns the TCP listener and all connection state.
type Gateway struct {
	cfg Config
	bus *events.Bus
	log *logrus.Entry

	mu       sync.RWMutex
	conns    map[string]*connection
	handlers map[MessageType][]Handler
	generic  []Handler

	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGateway creates a gateway; Start binds and serves.
func NewGateway(cfg Config, bus *events.Bus) *Gateway {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.PredictionRate <= 0 {
		cfg.PredictionRate = 2
	}
	return &Gateway{
		cfg:      cfg,
		bus:      bus,
		log:      logger.Component("protocol"),
		conns:    make(map[string]*connection),
		handlers: make(map[MessageType][]Handler),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler for one message type.
func (g *Gateway) Subscribe(t MessageType, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[t] = append(g.handlers[t], h)
}

// SubscribeGeneric registers a handler for message types nothing else claims.
// Unknown types are never dropped silently.
func (g *Gateway) SubscribeGeneric(h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generic = append(g.generic, h)
}

// Start binds the listener and serves until ctx is cancelled. A bind failure
// is fatal and propagates to the caller; everything after that is per
// connection and recoverable.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", g.cfg.ListenAddr, err)
	}
	g.listener = ln
	g.log.Infof("listening on %s", g.cfg.ListenAddr)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.acceptLoop(ctx)
	}()
	go func() {
		defer g.wg.Done()
		g.sweepLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listener address; nil before Start.
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Stop closes the listener and all connections, then waits for workers.
// In-flight writes finish first because send holds each connection's write
// lock until its frame is flushed.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	if g.listener != nil {
		_ = g.listener.Close()
	}

	g.mu.Lock()
	for id, c := range g.conns {
		c.close()
		delete(g.conns, id)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gateway) acceptLoop(ctx context.Context) {
	for {
		nc, err := g.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-g.stopCh:
			default:
				if !errors.Is(err, net.ErrClosed) {
					g.log.WithError(err).Warn("accept failed")
					continue
				}
			}
			return
		}

		conn := newConnection(uuid.NewString(), nc, g.cfg.PredictionRate)
		g.mu.Lock()
		g.conns[conn.id] = conn
		g.mu.Unlock()

		g.log.Infof("connection %s from %s", conn.id, nc.RemoteAddr())

		if g.cfg.AutoConfirm && conn.confirm() {
			g.publishConfirmed(conn, "auto")
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.readLoop(ctx, conn)
		}()
	}
}

// readLoop frames, sanitizes, parses, and dispatches until the socket dies.
// A malformed line is logged and skipped; it never aborts the connection or
// clears the framing buffer.
func (g *Gateway) readLoop(ctx context.Context, conn *connection) {
	defer g.removeConnection(conn, "closed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		default:
		}

		line, err := conn.readLine()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				g.log.Debugf("connection %s read ended: %v", conn.id, err)
			}
			return
		}
		conn.touch()

		clean := Sanitize(line)
		if clean == "" {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(clean), &env); err != nil {
			g.log.Warnf("connection %s: discarding malformed line after sanitization: %v", conn.id, err)
			continue
		}

		msgType := MessageType(env.Type)

		if !g.cfg.AutoConfirm && confirmingTypes[msgType] && conn.confirm() {
			g.publishConfirmed(conn, string(msgType))
		}

		if msgType == MsgHeartbeat {
			_ = conn.send(HeartbeatEcho{Type: "heartbeat", Timestamp: time.Now().UnixMilli()})
			continue
		}

		if msgType == MsgPredictionRequest && !conn.predictionLimiter.Allow() {
			g.log.Debugf("connection %s: prediction request throttled", conn.id)
			continue
		}

		g.dispatch(Inbound{ConnID: conn.id, Type: msgType, Data: json.RawMessage(clean)})
	}
}

func (g *Gateway) dispatch(msg Inbound) {
	g.mu.RLock()
	handlers := g.handlers[msg.Type]
	generic := g.generic
	g.mu.RUnlock()

	if len(handlers) == 0 {
		for _, h := range generic {
			h(msg)
		}
		if len(generic) == 0 {
			g.log.Warnf("no handler for message type %q", msg.Type)
		}
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (g *Gateway) publishConfirmed(conn *connection, reason string) {
	g.log.Infof("connection %s confirmed (%s)", conn.id, reason)
	if g.bus != nil {
		g.bus.Publish(events.EventConnectionConfirmed, ConnectionEvent{
			ConnID: conn.id,
			Remote: conn.nc.RemoteAddr().String(),
			Reason: reason,
		})
	}
}

func (g *Gateway) removeConnection(conn *connection, reason string) {
	g.mu.Lock()
	_, present := g.conns[conn.id]
	delete(g.conns, conn.id)
	g.mu.Unlock()

	conn.close()
	if !present {
		return
	}

	g.log.Infof("connection %s removed (%s)", conn.id, reason)
	if g.bus != nil {
		g.bus.Publish(events.EventConnectionLost, ConnectionEvent{
			ConnID: conn.id,
			Remote: conn.nc.RemoteAddr().String(),
			Reason: reason,
		})
	}
}

// sweepLoop drops connections idle past the timeout.
func (g *Gateway) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			g.mu.RLock()
			var stale []*connection
			for _, c := range g.conns {
				if c.idleFor(now) > g.cfg.IdleTimeout {
					stale = append(stale, c)
				}
			}
			g.mu.RUnlock()

			for _, c := range stale {
				g.removeConnection(c, "idle timeout")
			}
		}
	}
}

// Broadcast sends to every confirmed connection and returns how many took it.
func (g *Gateway) Broadcast(v any) int {
	g.mu.RLock()
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		if c.isConfirmed() {
			conns = append(conns, c)
		}
	}
	g.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.send(v); err != nil {
			g.log.WithError(err).Warnf("broadcast to %s failed", c.id)
			continue
		}
		sent++
	}
	return sent
}

// SendTo sends to one connection; false when it is gone or the write failed.
func (g *Gateway) SendTo(connID string, v any) bool {
	g.mu.RLock()
	conn, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	if err := conn.send(v); err != nil {
		g.log.WithError(err).Warnf("send to %s failed", connID)
		return false
	}
	return true
}

// IsConnected reports whether any confirmed connection exists.
func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.conns {
		if c.isConfirmed() {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}
