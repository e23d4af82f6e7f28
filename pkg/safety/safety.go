// Package safety owns the rig's shutdown path. Emergency stop (M112),
// end of program (M30), console EOF, signals and fatal bus faults all
// converge on one Manager that runs the teardown in a fixed order:
// rotation stage to zero velocity, projector video source powered down,
// LED off, every stepper driver de-energized. The sequence runs at most
// once per process.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"helical-go-migration/pkg/log"
)

var logger = log.GetLogger("safety")

// State represents the rig's shutdown state.
type State int

const (
	// StateRunning indicates normal operation.
	StateRunning State = iota

	// StateShuttingDown indicates teardown is in progress.
	StateShuttingDown

	// StateShutdown indicates an orderly shutdown finished.
	StateShutdown

	// StateError indicates a fault-triggered shutdown finished.
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason describes why the rig was shut down.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonUserRequest   Reason = "user_request"
	ReasonEmergencyStop Reason = "emergency_stop"
	ReasonAbort         Reason = "abort"
	ReasonBusFault      Reason = "bus_fault"
	ReasonSignal        Reason = "signal"
)

// ErrShutdown reports that an operation was refused because the rig is
// shut down.
var ErrShutdown = errors.New("safety: rig is shut down")

// VelocityStage is the rotation stage; teardown zeroes its velocity loop
// before anything else loses power.
type VelocityStage interface {
	SetThetaVelocity(pps int32) error
}

// ProjectorPower can power the projector's video source down.
type ProjectorPower interface {
	PowerDown() error
}

// Lamp can switch the UV LED off.
type Lamp interface {
	Stop() error
}

// MotorDisabler drops hold current on one stepper group.
type MotorDisabler interface {
	Deenergize() error
	Name() string
}

// Manager runs the shutdown sequence over its registered components and
// tracks the resulting state.
type Manager struct {
	mu sync.RWMutex

	state  State
	reason Reason
	msg    string
	when   time.Time

	stages     []VelocityStage
	projectors []ProjectorPower
	lamps      []Lamp
	motors     []MotorDisabler

	onShutdown    []func(reason Reason, msg string)
	onStateChange []func(oldState, newState State)
}

// New creates a safety Manager in the running state.
func New() *Manager {
	return &Manager{state: StateRunning}
}

// RegisterStage registers the rotation stage for teardown.
func (m *Manager) RegisterStage(s VelocityStage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, s)
}

// RegisterProjector registers a projector for teardown.
func (m *Manager) RegisterProjector(p ProjectorPower) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectors = append(m.projectors, p)
}

// RegisterLamp registers an LED for teardown.
func (m *Manager) RegisterLamp(l Lamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lamps = append(m.lamps, l)
}

// RegisterMotor registers a stepper group for teardown.
func (m *Manager) RegisterMotor(d MotorDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motors = append(m.motors, d)
}

// OnShutdown registers a callback invoked after the teardown sequence.
func (m *Manager) OnShutdown(fn func(reason Reason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// OnStateChange registers a callback for state transitions.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetShutdownInfo returns the reason, message and time of the shutdown.
func (m *Manager) GetShutdownInfo() (Reason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.msg, m.when
}

// IsShutdown returns true once teardown has finished.
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateShutdown || m.state == StateError
}

// IsOperational returns true while the rig runs normally.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns an error if the rig is not operational.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return fmt.Errorf("%w: %s - %s", ErrShutdown, m.reason, m.msg)
	}
	return nil
}

// EmergencyStop runs the teardown for M112 or the console kill key.
func (m *Manager) EmergencyStop(msg string) error {
	return m.invokeShutdown(ReasonEmergencyStop, msg)
}

// RequestShutdown runs the teardown for M30 or console EOF.
func (m *Manager) RequestShutdown(msg string) error {
	return m.invokeShutdown(ReasonUserRequest, msg)
}

// Aborted runs the teardown when an operator abort lands somewhere the
// process cannot continue from, such as startup homing.
func (m *Manager) Aborted(during string) error {
	return m.invokeShutdown(ReasonAbort, fmt.Sprintf("aborted during %s", during))
}

// BusFault runs the teardown for an unrecoverable bus failure.
func (m *Manager) BusFault(component, msg string) error {
	return m.invokeShutdown(ReasonBusFault, fmt.Sprintf("%s: %s", component, msg))
}

// SignalShutdown runs the teardown for SIGINT or SIGTERM.
func (m *Manager) SignalShutdown(signal string) error {
	return m.invokeShutdown(ReasonSignal, fmt.Sprintf("received %s", signal))
}

// invokeShutdown performs the teardown sequence exactly once.
func (m *Manager) invokeShutdown(reason Reason, msg string) error {
	m.mu.Lock()

	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}

	oldState := m.state
	m.state = StateShuttingDown
	m.reason = reason
	m.msg = msg
	m.when = time.Now()

	// Copy components so the lock is not held during hardware calls.
	stages := make([]VelocityStage, len(m.stages))
	copy(stages, m.stages)
	projectors := make([]ProjectorPower, len(m.projectors))
	copy(projectors, m.projectors)
	lamps := make([]Lamp, len(m.lamps))
	copy(lamps, m.lamps)
	motors := make([]MotorDisabler, len(m.motors))
	copy(motors, m.motors)

	m.mu.Unlock()

	logger.WithField("reason", string(reason)).Warn("shutdown: " + msg)

	// Stop the rotation stage first so nothing is spinning when hold
	// current drops.
	for _, s := range stages {
		if err := s.SetThetaVelocity(0); err != nil {
			logger.WithError(err).Error("shutdown: rotation stop failed")
		}
	}

	for _, p := range projectors {
		if err := p.PowerDown(); err != nil {
			logger.WithError(err).Error("shutdown: projector power down failed")
		}
	}

	for _, l := range lamps {
		if err := l.Stop(); err != nil {
			logger.WithError(err).Error("shutdown: led stop failed")
		}
	}

	for _, d := range motors {
		if err := d.Deenergize(); err != nil {
			logger.WithError(err).WithField("group", d.Name()).Error("shutdown: de-energize failed")
		}
	}

	m.mu.Lock()
	finalState := StateShutdown
	if reason == ReasonEmergencyStop || reason == ReasonBusFault {
		finalState = StateError
	}
	m.state = finalState

	onShutdown := make([]func(Reason, string), len(m.onShutdown))
	copy(onShutdown, m.onShutdown)
	onStateChange := make([]func(State, State), len(m.onStateChange))
	copy(onStateChange, m.onStateChange)
	m.mu.Unlock()

	for _, fn := range onStateChange {
		fn(oldState, finalState)
	}
	for _, fn := range onShutdown {
		fn(reason, msg)
	}

	return nil
}

// Reset re-arms the manager after a finished shutdown. It exists for the
// bench tools; the production controller exits instead.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New("safety: cannot reset while running or shutting down")
	}

	m.state = StateRunning
	m.reason = ReasonNone
	m.msg = ""
	m.when = time.Time{}

	return nil
}

// Status is a point-in-time report for the status endpoint.
type Status struct {
	State          string    `json:"state"`
	ShutdownReason string    `json:"shutdown_reason,omitempty"`
	ShutdownMsg    string    `json:"shutdown_msg,omitempty"`
	ShutdownTime   time.Time `json:"shutdown_time,omitempty"`
	IsOperational  bool      `json:"operational"`
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:          m.state.String(),
		ShutdownReason: string(m.reason),
		ShutdownMsg:    m.msg,
		ShutdownTime:   m.when,
		IsOperational:  m.state == StateRunning,
	}
}
