// Package lifecycle implements the Lifecycle Manager: startup/shutdown
// ordering and health tracking for the Gateway, Strategy Engine, and Order
// Executor components.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/models"
)

// Component names tracked by the Manager, also used as Health Cache keys.
const (
	ComponentGateway       = "gateway"
	ComponentStrategy      = "strategy"
	ComponentOrderExecutor = "order_executor"
)

var allComponents = []string{ComponentGateway, ComponentStrategy, ComponentOrderExecutor}

// startupGracePeriod is how long the Manager waits after the Gateway
// reaches RUNNING before starting the Strategy Engine.
const startupGracePeriod = 3 * time.Second

// Supervised is the subset of behavior the Manager needs from each
// component it supervises, defined here (the consumer) so gateway.Server,
// strategy.Engine, and executor.Executor all satisfy it without a shared
// base type.
type Supervised interface {
	Start(ctx context.Context) error
	Status() models.ComponentStatus
}

// stoppable components use a status-less Stop; strategy.Engine and
// executor.Executor expose this shape while gateway.Server's Stop also
// returns an error.
type stoppable interface {
	Stop()
}

type errStoppable interface {
	Stop() error
}

// Ports is the set of TCP ports the Manager pre-flight-checks before
// startup.
type Ports struct {
	TickPublish int
	SignalPipe  int
	GatewayRPC  int
}

// Manager supervises the Gateway, Strategy Engine, and Order Executor,
// tracking each one's ComponentStatus and optionally mirroring every
// transition into the Health Cache.
type Manager struct {
	gateway  Supervised
	strategy Supervised
	executor Supervised
	ports    Ports
	health   *cache.HealthCache // nil disables Health Cache writes

	mu            sync.Mutex
	status        map[string]models.ComponentStatus
	startedAt     time.Time
	gracePeriod   time.Duration
	preflightDone bool
}

// NewManager wires the three supervised components. health may be nil.
func NewManager(gateway, strategy, executor Supervised, ports Ports, health *cache.HealthCache) *Manager {
	return &Manager{
		gateway:  gateway,
		strategy: strategy,
		executor: executor,
		ports:    ports,
		health:   health,
		status: map[string]models.ComponentStatus{
			ComponentGateway:       models.StatusStopped,
			ComponentStrategy:      models.StatusStopped,
			ComponentOrderExecutor: models.StatusStopped,
		},
		gracePeriod: startupGracePeriod,
	}
}

// SkipPreflight marks the preflight check as already satisfied, for
// callers that ran CheckPorts themselves before binding the tick publish
// and signal pipe sockets (which would otherwise make a second check of
// those same ports fail against their own listeners).
func (m *Manager) SkipPreflight() {
	m.mu.Lock()
	m.preflightDone = true
	m.mu.Unlock()
}

// CheckPorts verifies all three configured ports are free, by attempting a
// zero-duration bind on each and releasing immediately. It is a free
// function, not just a Manager method, because the tick publish and signal
// pipe ports are bound by sockets the host process constructs itself
// before the Gateway, Strategy Engine, and Order Executor even exist, so
// callers need to run the check ahead of Manager construction.
func CheckPorts(ports Ports) error {
	for name, port := range map[string]int{
		"tick publish": ports.TickPublish,
		"signal pipe":  ports.SignalPipe,
		"gateway rpc":  ports.GatewayRPC,
	} {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("lifecycle: preflight check failed for %s port %d: %w", name, port, err)
		}
		_ = ln.Close()
	}
	return nil
}

// PreflightCheck verifies all three configured ports are free. See
// CheckPorts.
func (m *Manager) PreflightCheck() error {
	if err := CheckPorts(m.ports); err != nil {
		return err
	}
	m.mu.Lock()
	m.preflightDone = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) setStatus(ctx context.Context, component string, status models.ComponentStatus) {
	m.mu.Lock()
	m.status[component] = status
	m.mu.Unlock()

	log.Info().Str("component", component).Str("status", string(status)).Msg("lifecycle: component status changed")

	if m.health != nil {
		if err := m.health.SetStatus(ctx, component, status); err != nil {
			log.Error().Err(err).Str("component", component).Msg("lifecycle: failed to write health cache")
		}
	}
}

// Start runs the preflight check, then starts Gateway, waits the grace
// period, then Strategy, then Order Executor. It returns the first
// component-start error encountered, leaving that component in ERROR.
// If the caller already ran PreflightCheck (e.g. because the configured
// ports are bound by sockets constructed ahead of the supervised
// components themselves), Start does not repeat it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	done := m.preflightDone
	m.mu.Unlock()
	if !done {
		if err := m.PreflightCheck(); err != nil {
			return err
		}
	}

	if err := m.startComponent(ctx, ComponentGateway, m.gateway); err != nil {
		return err
	}

	select {
	case <-time.After(m.gracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.startComponent(ctx, ComponentStrategy, m.strategy); err != nil {
		return err
	}
	if err := m.startComponent(ctx, ComponentOrderExecutor, m.executor); err != nil {
		return err
	}

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	return nil
}

func (m *Manager) startComponent(ctx context.Context, name string, c Supervised) error {
	m.setStatus(ctx, name, models.StatusStarting)
	if err := c.Start(ctx); err != nil {
		m.setStatus(ctx, name, models.StatusError)
		return fmt.Errorf("lifecycle: failed to start %s: %w", name, err)
	}
	m.setStatus(ctx, name, models.StatusRunning)
	return nil
}

// Stop shuts down Order Executor, then Strategy, then Gateway. A failure
// stopping one component is logged and leaves it in ERROR but does not
// abort shutdown of the others.
func (m *Manager) Stop(ctx context.Context) {
	m.stopComponent(ctx, ComponentOrderExecutor, m.executor)
	m.stopComponent(ctx, ComponentStrategy, m.strategy)
	m.stopComponent(ctx, ComponentGateway, m.gateway)
}

func (m *Manager) stopComponent(ctx context.Context, name string, c Supervised) {
	m.setStatus(ctx, name, models.StatusStopping)

	var err error
	switch stoppable := c.(type) {
	case errStoppable:
		err = stoppable.Stop()
	case stoppable:
		stoppable.Stop()
	}

	if err != nil {
		log.Error().Err(err).Str("component", name).Msg("lifecycle: component failed to stop cleanly")
		m.setStatus(ctx, name, models.StatusError)
		return
	}
	m.setStatus(ctx, name, models.StatusStopped)
}

// Health reports whether every component is RUNNING and the uptime since
// all three first reached RUNNING together.
type Health struct {
	Healthy    bool
	Components map[string]models.ComponentStatus
	Uptime     time.Duration
}

// GetHealth returns the Manager's current view of system health.
func (m *Manager) GetHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	components := make(map[string]models.ComponentStatus, len(m.status))
	healthy := true
	for _, name := range allComponents {
		s := m.status[name]
		components[name] = s
		if s != models.StatusRunning {
			healthy = false
		}
	}

	var uptime time.Duration
	if !m.startedAt.IsZero() {
		uptime = time.Since(m.startedAt)
	}

	return Health{Healthy: healthy, Components: components, Uptime: uptime}
}

// RestartComponent stops then restarts a single named component.
func (m *Manager) RestartComponent(ctx context.Context, name string) error {
	var c Supervised
	switch name {
	case ComponentGateway:
		c = m.gateway
	case ComponentStrategy:
		c = m.strategy
	case ComponentOrderExecutor:
		c = m.executor
	default:
		return fmt.Errorf("lifecycle: unknown component %q", name)
	}

	m.stopComponent(ctx, name, c)
	return m.startComponent(ctx, name, c)
}
