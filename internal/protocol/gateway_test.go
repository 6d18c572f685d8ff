package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trading-bridge/internal/events"
)

func startTestGateway(t *testing.T, autoConfirm bool) *Gateway {
	t.Helper()

	cfg := DefaultConfig("127.0.0.1:0")
	cfg.AutoConfirm = autoConfirm
	cfg.IdleTimeout = time.Minute
	cfg.SweepInterval = time.Minute
	cfg.PredictionRate = 100

	g := NewGateway(cfg, events.NewBus())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Start(ctx))
	t.Cleanup(func() {
		cancel()
		g.Stop()
	})
	return g
}

func dialTestGateway(t *testing.T, g *Gateway) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", g.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, ch <-chan Inbound, what string) Inbound {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return Inbound{}
	}
}

func TestGatewayDispatchesNewlineDelimitedMessages(t *testing.T) {
	g := startTestGateway(t, false)

	got := make(chan Inbound, 4)
	g.Subscribe(MsgTickData, func(msg Inbound) { got <- msg })

	conn := dialTestGateway(t, g)
	_, err := conn.Write([]byte(`{"type":"tick_data","instrument":"NQ","price":21500.25,"atr":12.75}` + "\n"))
	require.NoError(t, err)

	msg := waitFor(t, got, "tick dispatch")
	require.Equal(t, MsgTickData, msg.Type)

	var tick TickData
	require.NoError(t, json.Unmarshal(msg.Data, &tick))
	require.Equal(t, "NQ", tick.Instrument)
	require.Equal(t, 21500.25, tick.Price)
}

func TestGatewayFramingSurvivesChunkedWrites(t *testing.T) {
	g := startTestGateway(t, false)

	got := make(chan Inbound, 4)
	g.Subscribe(MsgTickData, func(msg Inbound) { got <- msg })

	conn := dialTestGateway(t, g)

	// One message split across two writes, plus the start of a second.
	line := `{"type":"tick_data","instrument":"NQ","price":21500}` + "\n"
	_, err := conn.Write([]byte(line[:20]))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte(line[20:] + `{"type":"tick_data","instr`))
	require.NoError(t, err)

	msg := waitFor(t, got, "first chunked message")
	var tick TickData
	require.NoError(t, json.Unmarshal(msg.Data, &tick))
	require.Equal(t, float64(21500), tick.Price)

	// Finish the second message; the partial must still be buffered.
	_, err = conn.Write([]byte(`ument":"ES","price":5900}` + "\n"))
	require.NoError(t, err)

	msg = waitFor(t, got, "second chunked message")
	require.NoError(t, json.Unmarshal(msg.Data, &tick))
	require.Equal(t, "ES", tick.Instrument)
}

func TestGatewayMalformedLineDoesNotKillConnection(t *testing.T) {
	g := startTestGateway(t, false)

	got := make(chan Inbound, 4)
	g.Subscribe(MsgTickData, func(msg Inbound) { got <- msg })

	conn := dialTestGateway(t, g)
	_, err := conn.Write([]byte("this is not json at all\n" +
		`{"type":"tick_data","instrument":"NQ","price":21500}` + "\n"))
	require.NoError(t, err)

	msg := waitFor(t, got, "message after malformed line")
	require.Equal(t, MsgTickData, msg.Type)
}

func TestGatewayConfirmationGatesBroadcast(t *testing.T) {
	g := startTestGateway(t, false)

	conn := dialTestGateway(t, g)

	// Heartbeats are not confirming; the connection must stay unconfirmed.
	_, err := conn.Write([]byte(`{"type":"heartbeat"}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = reader.ReadString('\n') // heartbeat echo
	require.NoError(t, err)

	require.Equal(t, 0, g.Broadcast(NewCommand(CmdGoLong, "NQ")),
		"unconfirmed connections must not receive broadcasts")
	require.False(t, g.IsConnected())

	// First qualifying message confirms.
	_, err = conn.Write([]byte(`{"type":"tick_data","instrument":"NQ","price":21500}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, g.IsConnected, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, g.Broadcast(NewCommand(CmdGoLong, "NQ")))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(line), &cmd))
	require.Equal(t, CmdGoLong, cmd.Command)
	require.Equal(t, "NQ", cmd.Instrument)
}

func TestGatewayHeartbeatEcho(t *testing.T) {
	g := startTestGateway(t, true)

	conn := dialTestGateway(t, g)
	_, err := conn.Write([]byte(`{"type":"heartbeat"}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var echo HeartbeatEcho
	require.NoError(t, json.Unmarshal([]byte(line), &echo))
	require.Equal(t, "heartbeat", echo.Type)
	require.NotZero(t, echo.Timestamp)
}

func TestGatewaySanitizesWireArtifactsBeforeDispatch(t *testing.T) {
	g := startTestGateway(t, false)

	got := make(chan Inbound, 4)
	g.Subscribe(MsgTickData, func(msg Inbound) { got <- msg })

	conn := dialTestGateway(t, g)
	dirty := `{"type":"tick_data","type":"tick_data","instrument":"NQ","price":21500,}` + "\n"
	_, err := conn.Write([]byte(dirty))
	require.NoError(t, err)

	msg := waitFor(t, got, "sanitized dispatch")
	var tick TickData
	require.NoError(t, json.Unmarshal(msg.Data, &tick))
	require.Equal(t, "NQ", tick.Instrument)
}
