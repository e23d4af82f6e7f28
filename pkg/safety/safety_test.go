package safety

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// Mock implementations for testing

// callRecorder keeps the order hardware teardown calls arrive in.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *callRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type mockStage struct {
	rec      *callRecorder
	velocity atomic.Int32
	err      error
}

func (s *mockStage) SetThetaVelocity(pps int32) error {
	s.velocity.Store(pps)
	if s.rec != nil {
		s.rec.record("stage")
	}
	return s.err
}

type mockProjector struct {
	rec       *callRecorder
	poweredup atomic.Bool
}

func (p *mockProjector) PowerDown() error {
	p.poweredup.Store(false)
	if p.rec != nil {
		p.rec.record("projector")
	}
	return nil
}

type mockLamp struct {
	rec     *callRecorder
	stopped atomic.Bool
}

func (l *mockLamp) Stop() error {
	l.stopped.Store(true)
	if l.rec != nil {
		l.rec.record("lamp")
	}
	return nil
}

type mockMotors struct {
	rec         *callRecorder
	name        string
	deenergized atomic.Bool
	err         error
}

func (m *mockMotors) Deenergize() error {
	m.deenergized.Store(true)
	if m.rec != nil {
		m.rec.record("motors:" + m.name)
	}
	return m.err
}

func (m *mockMotors) Name() string { return m.name }

func registerAll(m *Manager, rec *callRecorder) (*mockStage, *mockProjector, *mockLamp, []*mockMotors) {
	stage := &mockStage{rec: rec}
	stage.velocity.Store(40904)
	projector := &mockProjector{rec: rec}
	projector.poweredup.Store(true)
	lamp := &mockLamp{rec: rec}
	motors := []*mockMotors{
		{rec: rec, name: "r"},
		{rec: rec, name: "t"},
		{rec: rec, name: "z"},
	}

	m.RegisterStage(stage)
	m.RegisterProjector(projector)
	m.RegisterLamp(lamp)
	for _, g := range motors {
		m.RegisterMotor(g)
	}
	return stage, projector, lamp, motors
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New returned nil")
	}

	if m.GetState() != StateRunning {
		t.Errorf("Initial state should be Running, got %s", m.GetState())
	}

	if m.IsShutdown() {
		t.Error("Should not be shutdown initially")
	}

	if !m.IsOperational() {
		t.Error("Should be operational initially")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateRunning, "running"},
		{StateShuttingDown, "shutting_down"},
		{StateShutdown, "shutdown"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State %d String() = %s, want %s", tt.state, tt.state.String(), tt.expected)
		}
	}
}

func TestEmergencyStopSequence(t *testing.T) {
	m := New()
	rec := &callRecorder{}
	stage, projector, lamp, motors := registerAll(m, rec)

	if err := m.EmergencyStop("test emergency stop"); err != nil {
		t.Errorf("EmergencyStop failed: %v", err)
	}

	if m.GetState() != StateError {
		t.Errorf("State should be Error, got %s", m.GetState())
	}

	if v := stage.velocity.Load(); v != 0 {
		t.Errorf("Stage velocity should be 0, got %d", v)
	}
	if projector.poweredup.Load() {
		t.Error("Projector should be powered down")
	}
	if !lamp.stopped.Load() {
		t.Error("Lamp should be stopped")
	}
	for _, g := range motors {
		if !g.deenergized.Load() {
			t.Errorf("Group %s should be de-energized", g.name)
		}
	}

	want := []string{"stage", "projector", "lamp", "motors:r", "motors:t", "motors:z"}
	got := rec.order()
	if len(got) != len(want) {
		t.Fatalf("teardown calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("teardown order = %v, want %v", got, want)
		}
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	m := New()
	rec := &callRecorder{}
	registerAll(m, rec)

	if err := m.EmergencyStop("first"); err != nil {
		t.Fatal(err)
	}
	first := len(rec.order())

	if err := m.RequestShutdown("second"); err != nil {
		t.Fatal(err)
	}
	if err := m.EmergencyStop("third"); err != nil {
		t.Fatal(err)
	}

	if n := len(rec.order()); n != first {
		t.Errorf("teardown ran again: %d calls, want %d", n, first)
	}

	reason, msg, _ := m.GetShutdownInfo()
	if reason != ReasonEmergencyStop || msg != "first" {
		t.Errorf("shutdown info = %s %q, want emergency_stop \"first\"", reason, msg)
	}
}

func TestReasonFinalStates(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(m *Manager) error
		reason  Reason
		state   State
	}{
		{"user request", func(m *Manager) error { return m.RequestShutdown("done") }, ReasonUserRequest, StateShutdown},
		{"emergency stop", func(m *Manager) error { return m.EmergencyStop("kill") }, ReasonEmergencyStop, StateError},
		{"abort", func(m *Manager) error { return m.Aborted("homing") }, ReasonAbort, StateShutdown},
		{"bus fault", func(m *Manager) error { return m.BusFault("tw_r", "transaction failed") }, ReasonBusFault, StateError},
		{"signal", func(m *Manager) error { return m.SignalShutdown("SIGINT") }, ReasonSignal, StateShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if err := tt.trigger(m); err != nil {
				t.Fatal(err)
			}
			if m.GetState() != tt.state {
				t.Errorf("state = %s, want %s", m.GetState(), tt.state)
			}
			reason, _, when := m.GetShutdownInfo()
			if reason != tt.reason {
				t.Errorf("reason = %s, want %s", reason, tt.reason)
			}
			if when.IsZero() {
				t.Error("shutdown time not recorded")
			}
		})
	}
}

func TestTeardownContinuesPastFailures(t *testing.T) {
	m := New()
	stage := &mockStage{err: errors.New("serial gone")}
	motors := &mockMotors{name: "z", err: errors.New("bus gone")}
	lamp := &mockLamp{}

	m.RegisterStage(stage)
	m.RegisterMotor(motors)
	m.RegisterLamp(lamp)

	if err := m.EmergencyStop("cascade"); err != nil {
		t.Fatal(err)
	}

	if !lamp.stopped.Load() {
		t.Error("lamp stop skipped after earlier failure")
	}
	if !motors.deenergized.Load() {
		t.Error("de-energize skipped after earlier failure")
	}
	if !m.IsShutdown() {
		t.Error("manager did not reach a final state")
	}
}

func TestCallbacks(t *testing.T) {
	m := New()

	var gotReason Reason
	var gotMsg string
	var oldState, newState State

	m.OnShutdown(func(reason Reason, msg string) {
		gotReason = reason
		gotMsg = msg
	})
	m.OnStateChange(func(from, to State) {
		oldState = from
		newState = to
	})

	if err := m.RequestShutdown("end of program"); err != nil {
		t.Fatal(err)
	}

	if gotReason != ReasonUserRequest || gotMsg != "end of program" {
		t.Errorf("shutdown callback got %s %q", gotReason, gotMsg)
	}
	if oldState != StateRunning || newState != StateShutdown {
		t.Errorf("state change callback got %s -> %s", oldState, newState)
	}
}

func TestCheckOperational(t *testing.T) {
	m := New()

	if err := m.CheckOperational(); err != nil {
		t.Errorf("CheckOperational while running = %v", err)
	}

	if err := m.EmergencyStop("halt"); err != nil {
		t.Fatal(err)
	}

	err := m.CheckOperational()
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("CheckOperational after stop = %v, want ErrShutdown", err)
	}
}

func TestReset(t *testing.T) {
	m := New()

	if err := m.Reset(); err == nil {
		t.Error("Reset should fail while running")
	}

	if err := m.EmergencyStop("halt"); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Errorf("Reset after shutdown = %v", err)
	}

	if !m.IsOperational() {
		t.Error("manager not operational after reset")
	}
	reason, msg, when := m.GetShutdownInfo()
	if reason != ReasonNone || msg != "" || !when.IsZero() {
		t.Errorf("shutdown info not cleared: %s %q %v", reason, msg, when)
	}
}

func TestGetStatus(t *testing.T) {
	m := New()

	st := m.GetStatus()
	if st.State != "running" || !st.IsOperational {
		t.Errorf("status = %+v", st)
	}

	if err := m.BusFault("cw_z2", "no ack"); err != nil {
		t.Fatal(err)
	}

	st = m.GetStatus()
	if st.State != "error" || st.IsOperational {
		t.Errorf("status after fault = %+v", st)
	}
	if st.ShutdownReason != string(ReasonBusFault) {
		t.Errorf("status reason = %s", st.ShutdownReason)
	}
}
