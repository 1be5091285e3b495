package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/zmqtransport"
)

// ClientConfig configures a Client's retry and timeout behavior.
type ClientConfig struct {
	ConnectAddr string
	TimeoutMS   int
	RetryCount  int
}

func (c ClientConfig) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c ClientConfig) retries() int {
	if c.RetryCount <= 0 {
		return 3
	}
	return c.RetryCount
}

// Client is the Broker Gateway Client used by the Order Executor to reach
// the Broker Gateway Server over its request/reply socket. It retries
// transport failures and timeouts, but never retries a logical error the
// server already answered definitively.
type Client struct {
	cfg ClientConfig
	rpc *zmqtransport.RPCClient
}

// NewClient dials the gateway's reply socket lazily on first Call.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rpc, err := zmqtransport.NewRPCClient(ctx, cfg.ConnectAddr)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}
	return &Client{cfg: cfg, rpc: rpc}, nil
}

// call performs one operation with the configured retry/timeout policy.
// A DllGatewayError from the server is returned immediately, without
// consuming a retry: the server already gave a definitive logical answer.
func (c *Client) call(operation string, params interface{}) (Response, error) {
	reqBody, err := json.Marshal(Request{Operation: operation, Parameters: mustMarshal(params)})
	if err != nil {
		return Response{}, fmt.Errorf("gateway client: encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.retries(); attempt++ {
		if attempt > 0 {
			log.Warn().Str("operation", operation).Int("attempt", attempt).Msg("retrying gateway call")
		}

		deadlineCtx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout())
		raw, err := c.rpc.Call(reqBody, deadlineCtx)
		cancel()

		if err != nil {
			if err == zmqtransport.ErrRPCTimeout {
				lastErr = &DllGatewayTimeoutError{TimeoutMS: int(c.cfg.timeout() / time.Millisecond)}
			} else {
				lastErr = &DllGatewayConnectionError{Cause: err}
			}
			if resetErr := c.rpc.Reset(); resetErr != nil {
				log.Error().Err(resetErr).Msg("gateway client failed to reset socket")
			}
			continue
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			// A malformed reply is not a transport failure: retrying without
			// resetting the socket would just replay the same bad exchange.
			return Response{}, &DllGatewayError{Code: ErrInvalidJSON, Message: err.Error()}
		}

		if !resp.Success {
			return Response{}, &DllGatewayError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
		}
		return resp, nil
	}

	return Response{}, lastErr
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// SendOrder submits an order through the Broker Gateway Server.
func (c *Client) SendOrder(order models.OrderRequest) (models.OrderResponse, error) {
	resp, err := c.call(OpSendOrder, order)
	if err != nil {
		return models.OrderResponse{}, err
	}
	var out models.OrderResponse
	if err := remarshal(resp.Data, &out); err != nil {
		return models.OrderResponse{}, &DllGatewayError{Code: ErrInvalidJSON, Message: err.Error()}
	}
	return out, nil
}

// GetPositions fetches open positions for account through the Broker
// Gateway Server.
func (c *Client) GetPositions(account string) ([]models.Position, error) {
	resp, err := c.call(OpGetPositions, getPositionsParams{Account: account})
	if err != nil {
		return nil, err
	}
	var out positionsResult
	if err := remarshal(resp.Data, &out); err != nil {
		return nil, &DllGatewayError{Code: ErrInvalidJSON, Message: err.Error()}
	}
	positions := make([]models.Position, 0, len(out.Positions))
	for _, dto := range out.Positions {
		positions = append(positions, models.Position{
			Account:       dto.Account,
			ItemCode:      dto.ItemCode,
			Quantity:      dto.Quantity,
			AveragePrice:  dto.AveragePrice,
			UnrealizedPnL: dto.UnrealizedPnL,
		})
	}
	return positions, nil
}

// IsConnected reports whether the Broker Gateway Server's underlying
// broker connection is healthy, per its most recent health_check reply.
func (c *Client) IsConnected() bool {
	resp, err := c.call(OpHealthCheck, struct{}{})
	if err != nil {
		return false
	}
	var health healthResult
	if err := remarshal(resp.Data, &health); err != nil {
		return false
	}
	return health.ExchangeConnected
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func remarshal(data interface{}, out interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
