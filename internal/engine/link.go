package engine

import (
	"context"
	"fmt"

	"trading-bridge/internal/market"
	"trading-bridge/internal/protocol"
)

// GatewayPusher pushes the engine's position to the platform over the
// protocol gateway. It satisfies the reconciler's broker interface.
type GatewayPusher struct {
	gateway *protocol.Gateway
}

// NewGatewayPusher wraps a gateway for reconciliation pushes.
func NewGatewayPusher(gw *protocol.Gateway) *GatewayPusher {
	return &GatewayPusher{gateway: gw}
}

// PushPosition broadcasts a sync_position command carrying the local truth.
func (p *GatewayPusher) PushPosition(ctx context.Context, instrument string, dir market.Direction, size float64) error {
	cmd := protocol.NewCommand(protocol.CmdSyncPosition, instrument)
	cmd.Direction = string(dir)
	cmd.Quantity = size
	if p.gateway.Broadcast(cmd) == 0 {
		return fmt.Errorf("no confirmed connection to push %s position", instrument)
	}
	return nil
}
