package executor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/store"
	"github.com/arlojex/tradepipe/zmqtransport"
)

type fakeGatewayClient struct {
	mu        sync.Mutex
	connected bool
	orders    []models.OrderRequest
	response  models.OrderResponse
	err       error
}

func (f *fakeGatewayClient) SendOrder(order models.OrderRequest) (models.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	return f.response, f.err
}

func (f *fakeGatewayClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeGatewayClient) sentOrders() []models.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

func newTestExecutor(t *testing.T, client *fakeGatewayClient) (*Executor, *store.SessionStore) {
	t.Helper()
	puller, err := zmqtransport.NewSignalPuller(context.Background(), "tcp://127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { puller.Close() })

	sessions, err := store.NewSessionStore(filepath.Join(t.TempDir(), "session.json"), time.Hour)
	require.NoError(t, err)

	ex := NewExecutor(puller, client, sessions, 3)
	return ex, sessions
}

func TestExecutor_SkipsWhenNoOrderAccount(t *testing.T) {
	client := &fakeGatewayClient{connected: true}
	ex, _ := newTestExecutor(t, client)

	signal := models.NewTradingSignal(models.OrderSideBuy, "TXFG5")
	ex.processSignal(signal)

	assert.Empty(t, client.sentOrders())
}

func TestExecutor_SkipsWhenGatewayDisconnected(t *testing.T) {
	client := &fakeGatewayClient{connected: false}
	ex, sessions := newTestExecutor(t, client)
	require.NoError(t, sessions.CreateSession("acct-1"))
	require.NoError(t, sessions.SetOrderAccount("order-acct"))

	signal := models.NewTradingSignal(models.OrderSideBuy, "TXFG5")
	ex.processSignal(signal)

	assert.Empty(t, client.sentOrders())
}

func TestExecutor_SubmitsOrderWithPolicyFields(t *testing.T) {
	client := &fakeGatewayClient{connected: true, response: models.OrderResponse{OrderSerial: "S1"}}
	ex, sessions := newTestExecutor(t, client)
	require.NoError(t, sessions.CreateSession("acct-1"))
	require.NoError(t, sessions.SetOrderAccount("order-acct"))

	signal := models.NewTradingSignal(models.OrderSideSell, "TXFG5")
	ex.processSignal(signal)

	orders := client.sentOrders()
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, "order-acct", order.OrderAccount)
	assert.Equal(t, "TXFG5", order.ItemCode)
	assert.Equal(t, models.OrderSideSell, order.Side)
	assert.Equal(t, models.OrderTypeMarket, order.OrderType)
	assert.Equal(t, float64(0), order.Price)
	assert.Equal(t, 3, order.Quantity)
	assert.Equal(t, models.OpenCloseAuto, order.OpenClose)
	assert.Equal(t, models.DayTradeNo, order.DayTrade)
	assert.Equal(t, models.TimeInForceIOC, order.TimeInForce)
}

func TestExecutor_DiscardsNonSignalPayload(t *testing.T) {
	client := &fakeGatewayClient{connected: true}
	ex, sessions := newTestExecutor(t, client)
	require.NoError(t, sessions.CreateSession("acct-1"))
	require.NoError(t, sessions.SetOrderAccount("order-acct"))

	raw, err := json.Marshal(map[string]string{"not": "a signal"})
	require.NoError(t, err)

	var signal models.TradingSignal
	_ = json.Unmarshal(raw, &signal)
	ex.processSignal(signal)

	assert.Empty(t, client.sentOrders())
}

func TestExecutor_DefaultQuantityFallsBackToOne(t *testing.T) {
	client := &fakeGatewayClient{connected: true}
	sessions, err := store.NewSessionStore(filepath.Join(t.TempDir(), "session.json"), time.Hour)
	require.NoError(t, err)
	puller, err := zmqtransport.NewSignalPuller(context.Background(), "tcp://127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { puller.Close() })

	ex := NewExecutor(puller, client, sessions, 0)
	assert.Equal(t, 1, ex.defaultQuantity)
}
