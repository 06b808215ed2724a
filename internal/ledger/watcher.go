package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// subscriptionMsg is a finality notification pushed by the network for a
// subscribed client reference.
type subscriptionMsg struct {
	Method string `json:"method,omitempty"`
	Params struct {
		Result txResult `json:"result"`
	} `json:"params"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// subscribeFinality opens a websocket subscription for one client reference
// and returns its terminal result. Any transport failure is returned to the
// caller, which falls back to status polling.
func (c *Client) subscribeFinality(ctx context.Context, clientRef string) (txResult, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsEndpoint, nil)
	if err != nil {
		return txResult{}, fmt.Errorf("dial %s: %w", c.wsEndpoint, err)
	}
	defer conn.Close()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "tx_subscribe",
		Params:  map[string]string{"client_ref": clientRef},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return txResult{}, fmt.Errorf("subscribe: %w", err)
	}

	// Unblock ReadJSON when the finality deadline passes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	c.logger.Debug("subscribed for finality",
		slog.String("client_ref", clientRef),
	)

	for {
		var msg subscriptionMsg
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return txResult{}, ctx.Err()
			}
			return txResult{}, fmt.Errorf("read: %w", err)
		}
		if msg.Error != nil {
			return txResult{}, msg.Error
		}
		// The subscription ack carries no method; notifications do.
		if msg.Method == "" {
			continue
		}
		res := msg.Params.Result
		if res.Status == StatusFinalized || res.Status == StatusRejected {
			return res, nil
		}
	}
}
