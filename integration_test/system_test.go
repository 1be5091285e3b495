// Package integration_test exercises the full pipeline end to end: a Tick
// Publisher feeding the Strategy Engine over a real ZMQ socket, the
// Strategy Engine emitting a Trading Signal over the Signal Channel, the
// Order Executor consuming it and calling the Broker Gateway, and the
// Operator Surface reporting the resulting state.
package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlojex/tradepipe/api"
	"github.com/arlojex/tradepipe/audit"
	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/config"
	"github.com/arlojex/tradepipe/execution"
	"github.com/arlojex/tradepipe/executor"
	"github.com/arlojex/tradepipe/gateway"
	"github.com/arlojex/tradepipe/lifecycle"
	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/realtime"
	"github.com/arlojex/tradepipe/store"
	"github.com/arlojex/tradepipe/strategy"
	"github.com/arlojex/tradepipe/zmqtransport"
)

func freeLoopbackPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// fixture wires the whole pipeline against real ZMQ sockets on loopback
// ports and returns it for the caller to drive and tear down.
type fixture struct {
	manager    *lifecycle.Manager
	conditions *store.ConditionStore
	sessions   *store.SessionStore
	broker     *execution.PaperBroker
	tickPub    *zmqtransport.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	tickPort := freeLoopbackPort(t)
	signalPort := freeLoopbackPort(t)
	rpcPort := freeLoopbackPort(t)

	tickAddr := addrOn(tickPort)
	signalAddr := addrOn(signalPort)
	rpcAddr := addrOn(rpcPort)

	conditions, err := store.NewConditionStore(filepath.Join(dir, "conditions.json"))
	require.NoError(t, err)
	sessions, err := store.NewSessionStore(filepath.Join(dir, "session.json"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, sessions.CreateSession("test-account"))
	require.NoError(t, sessions.SetOrderAccount("test-account"))

	auditLog, err := audit.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	broker := execution.NewPaperBroker()
	require.NoError(t, broker.Connect())
	broker.SetPrice("TXF", 18500)

	tickPub, err := zmqtransport.NewPublisher(ctx, tickAddr)
	require.NoError(t, err)
	t.Cleanup(func() { tickPub.Close() })

	tickSub, err := zmqtransport.NewSubscriber(ctx, tickAddr, zmqtransport.TickTopic)
	require.NoError(t, err)

	signalPuller, err := zmqtransport.NewSignalPuller(ctx, signalAddr)
	require.NoError(t, err)

	signalPusher, err := zmqtransport.NewSignalPusher(ctx, signalAddr)
	require.NoError(t, err)

	gatewayServer := gateway.NewServer(rpcAddr, broker, auditLog, nil)
	strategyEngine := strategy.NewEngine(tickSub, signalPusher, conditions)

	gatewayClient, err := gateway.NewClient(ctx, gateway.ClientConfig{
		ConnectAddr: rpcAddr,
		TimeoutMS:   1000,
		RetryCount:  2,
	})
	require.NoError(t, err)
	orderExecutor := executor.NewExecutor(signalPuller, gatewayClient, sessions, 1)

	manager := lifecycle.NewManager(gatewayServer, strategyEngine, orderExecutor, lifecycle.Ports{
		TickPublish: tickPort,
		SignalPipe:  signalPort,
		GatewayRPC:  rpcPort,
	}, nil)
	manager.SkipPreflight()
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(func() { manager.Stop(context.Background()) })

	return &fixture{manager: manager, conditions: conditions, sessions: sessions, broker: broker, tickPub: tickPub}
}

func addrOn(port int) string {
	return "tcp://127.0.0.1:" + strconv.Itoa(port)
}

// TestPipeline_ConditionTriggersOrderThroughGateway drives a Condition from
// WAITING to OPEN purely by publishing ticks, and asserts the resulting
// order lands in the paper broker's positions via the Broker Gateway.
func TestPipeline_ConditionTriggersOrderThroughGateway(t *testing.T) {
	f := newFixture(t)

	cond := models.NewCondition(models.OrderSideBuy, 18500, 0, 1, 100, 50, false)
	require.NoError(t, f.conditions.Create(cond))

	// Give subscribers time to complete the slow-joiner handshake beyond
	// the Publisher's own internal pause.
	time.Sleep(200 * time.Millisecond)

	// The condition needs two ticks at the order price: one to flip it from
	// WAITING to TRIGGERED, a second to flip it from TRIGGERED to OPEN and
	// emit the entry Trading Signal. One tick advances at most one edge.
	publishTick := func() {
		payload, err := json.Marshal(models.NewTick("TXF", 18500, time.Now()))
		require.NoError(t, err)
		require.NoError(t, f.tickPub.Publish(zmqtransport.TickTopic, payload))
	}

	publishTick()
	require.Eventually(t, func() bool {
		updated, err := f.conditions.Get(cond.ConditionID)
		return err == nil && updated != nil && updated.State() == models.ConditionTriggered
	}, 3*time.Second, 20*time.Millisecond)

	publishTick()
	require.Eventually(t, func() bool {
		updated, err := f.conditions.Get(cond.ConditionID)
		if err != nil || updated == nil {
			return false
		}
		return updated.State() == models.ConditionOpen
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		positions, err := f.broker.GetPositions("test-account")
		return err == nil && len(positions) > 0
	}, 3*time.Second, 20*time.Millisecond)
}

// TestOperatorSurface_ReportsHealthConditionsAndSession verifies the
// read-only Operator Surface reflects the Lifecycle Manager's state and
// the two stores, without requiring the Health Cache to be configured.
func TestOperatorSurface_ReportsHealthConditionsAndSession(t *testing.T) {
	f := newFixture(t)

	cond := models.NewCondition(models.OrderSideSell, 100, 0, 1, 10, 5, false)
	require.NoError(t, f.conditions.Create(cond))

	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	var health *cache.HealthCache
	feed := realtime.NewFeedHub()
	go feed.Run()

	router := api.NewRouter(cfg, f.conditions, f.sessions, health, feed)
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var healthBody map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&healthBody))
	assert.Equal(t, false, healthBody["healthy"]) // no Health Cache configured

	resp, err = server.Client().Get(server.URL + "/conditions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conditionsBody map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conditionsBody))
	conds := conditionsBody["conditions"].([]interface{})
	assert.Len(t, conds, 1)

	resp, err = server.Client().Get(server.URL + "/session")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessionBody map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessionBody))
	assert.Equal(t, "test-account", sessionBody["account"])
}
