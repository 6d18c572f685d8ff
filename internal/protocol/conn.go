package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connection is the per-socket state: write serialization, framing buffer,
// confirmation flag, and activity tracking for the idle sweep.
type connection struct {
	id     string
	nc     net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu         sync.Mutex
	confirmed  bool
	lastActive time.Time

	// Throttles ml_prediction_request handling per connection.
	predictionLimiter *rate.Limiter
}

func newConnection(id string, nc net.Conn, predictionRate float64) *connection {
	burst := int(predictionRate)
	if burst < 1 {
		burst = 1
	}
	return &connection{
		id:                id,
		nc:                nc,
		reader:            bufio.NewReader(nc),
		lastActive:        time.Now(),
		predictionLimiter: rate.NewLimiter(rate.Limit(predictionRate), burst),
	}
}

// readLine blocks for the next newline-terminated frame. bufio retains any
// incomplete trailing line internally across reads, so a partial frame
// simply waits for its remainder.
func (c *connection) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}

// send marshals v and writes it newline-terminated. Writes are serialized so
// concurrent senders cannot interleave frames.
func (c *connection) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err = c.nc.Write(data)
	return err
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *connection) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActive)
}

// confirm marks the connection confirmed; the return reports whether this
// call flipped it, so the confirmed event fires exactly once.
func (c *connection) confirm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed {
		return false
	}
	c.confirmed = true
	return true
}

func (c *connection) isConfirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

func (c *connection) close() {
	_ = c.nc.Close()
}
