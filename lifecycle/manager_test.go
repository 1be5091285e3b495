package lifecycle

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlojex/tradepipe/models"
)

type fakeComponent struct {
	name      string
	events    *[]string // shared start/stop log, nil when order is not checked
	startErr  error
	status    models.ComponentStatus
	stopCalls int
}

func (f *fakeComponent) record(event string) {
	if f.events != nil {
		*f.events = append(*f.events, event+" "+f.name)
	}
}

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.status = models.StatusRunning
	f.record("start")
	return nil
}

func (f *fakeComponent) Status() models.ComponentStatus {
	return f.status
}

func (f *fakeComponent) Stop() {
	f.stopCalls++
	f.status = models.StatusStopped
	f.record("stop")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestManager_PreflightCheckPassesWhenPortsAreFree(t *testing.T) {
	ports := Ports{TickPublish: freePort(t), SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(&fakeComponent{}, &fakeComponent{}, &fakeComponent{}, ports, nil)
	assert.NoError(t, m.PreflightCheck())
}

func TestManager_PreflightCheckFailsWhenPortIsTaken(t *testing.T) {
	port := freePort(t)
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	require.NoError(t, err)
	defer ln.Close()

	ports := Ports{TickPublish: port, SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(&fakeComponent{}, &fakeComponent{}, &fakeComponent{}, ports, nil)
	assert.Error(t, m.PreflightCheck())
}

func TestCheckPorts_PassesWhenFreeFailsWhenTaken(t *testing.T) {
	free := Ports{TickPublish: freePort(t), SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	assert.NoError(t, CheckPorts(free))

	port := freePort(t)
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	require.NoError(t, err)
	defer ln.Close()
	taken := Ports{TickPublish: port, SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	assert.Error(t, CheckPorts(taken))
}

func TestManager_SkipPreflight_StartDoesNotRecheckPorts(t *testing.T) {
	port := freePort(t)
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	require.NoError(t, err)
	defer ln.Close()

	ports := Ports{TickPublish: port, SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(&fakeComponent{}, &fakeComponent{}, &fakeComponent{}, ports, nil)
	m.gracePeriod = time.Millisecond
	m.SkipPreflight()

	assert.NoError(t, m.Start(context.Background()))
}

func TestManager_StartBringsAllComponentsRunningInOrder(t *testing.T) {
	var events []string
	gw := &fakeComponent{name: "gateway", events: &events}
	strat := &fakeComponent{name: "strategy", events: &events}
	exec := &fakeComponent{name: "executor", events: &events}
	ports := Ports{TickPublish: freePort(t), SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(gw, strat, exec, ports, nil)
	m.gracePeriod = time.Millisecond

	require.NoError(t, m.Start(context.Background()))

	health := m.GetHealth()
	assert.True(t, health.Healthy)
	assert.Equal(t, models.StatusRunning, health.Components[ComponentGateway])
	assert.Equal(t, models.StatusRunning, health.Components[ComponentStrategy])
	assert.Equal(t, models.StatusRunning, health.Components[ComponentOrderExecutor])
	assert.Greater(t, health.Uptime.Nanoseconds(), int64(0))
	assert.Equal(t, []string{"start gateway", "start strategy", "start executor"}, events)
}

func TestManager_StartReturnsErrorWhenGatewayFails(t *testing.T) {
	gw := &fakeComponent{startErr: assertErr}
	strat, exec := &fakeComponent{}, &fakeComponent{}
	ports := Ports{TickPublish: freePort(t), SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(gw, strat, exec, ports, nil)
	m.gracePeriod = time.Millisecond

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.StatusError, m.GetHealth().Components[ComponentGateway])
	assert.Equal(t, models.StatusStopped, m.GetHealth().Components[ComponentStrategy])
}

func TestManager_StopShutsDownInReverseOrder(t *testing.T) {
	var events []string
	gw := &fakeComponent{name: "gateway", events: &events}
	strat := &fakeComponent{name: "strategy", events: &events}
	exec := &fakeComponent{name: "executor", events: &events}
	ports := Ports{TickPublish: freePort(t), SignalPipe: freePort(t), GatewayRPC: freePort(t)}
	m := NewManager(gw, strat, exec, ports, nil)
	m.gracePeriod = time.Millisecond
	require.NoError(t, m.Start(context.Background()))

	m.Stop(context.Background())

	assert.Equal(t, 1, gw.stopCalls)
	assert.Equal(t, 1, strat.stopCalls)
	assert.Equal(t, 1, exec.stopCalls)
	assert.False(t, m.GetHealth().Healthy)
	assert.Equal(t, []string{
		"start gateway", "start strategy", "start executor",
		"stop executor", "stop strategy", "stop gateway",
	}, events)
}

func TestManager_RestartComponentRejectsUnknownName(t *testing.T) {
	m := NewManager(&fakeComponent{}, &fakeComponent{}, &fakeComponent{}, Ports{}, nil)
	assert.Error(t, m.RestartComponent(context.Background(), "bogus"))
}

func TestManager_RestartComponentRestartsOnlyThatComponent(t *testing.T) {
	gw, strat, exec := &fakeComponent{status: models.StatusRunning}, &fakeComponent{status: models.StatusRunning}, &fakeComponent{status: models.StatusRunning}
	m := NewManager(gw, strat, exec, Ports{}, nil)

	require.NoError(t, m.RestartComponent(context.Background(), ComponentStrategy))

	assert.Equal(t, 0, gw.stopCalls)
	assert.Equal(t, 1, strat.stopCalls)
	assert.Equal(t, 0, exec.stopCalls)
	assert.Equal(t, models.StatusRunning, m.GetHealth().Components[ComponentStrategy])
}

var assertErr = &startupError{"boom"}

type startupError struct{ msg string }

func (e *startupError) Error() string { return e.msg }

