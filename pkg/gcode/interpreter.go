// Package gcode implements the rig's command dialect: a line-oriented
// G-code variant driving the axis groups, the rotation stage and the
// exposure peripherals.
//
// Accepted lines are queued and drained in FIFO order by a single
// executor. Motion commands block the drain until the representative
// driver of every positional group settles on its target; the abort
// flag is honored before each dequeue, inside every wait and inside
// dwells. The dialect deviates from mainstream G-code where the rig's
// history demands it: feed words may name an axis (FR, FT, FZ, FA),
// G33 commands continuous rotation, and the M200 block drives the
// exposure peripherals.
package gcode

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"helical-go-migration/pkg/abort"
	"helical-go-migration/pkg/axis"
	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/metrics"
	"helical-go-migration/pkg/rigerr"
	"helical-go-migration/pkg/safety"
	"helical-go-migration/pkg/tic"
)

var logger = log.GetLogger("gcode")

// ErrProgramEnd reports that the program asked for a graceful shutdown
// (M30). The safety manager has already run its teardown by the time a
// caller sees this.
var ErrProgramEnd = errors.New("gcode: program complete")

// ErrEmergencyStop reports that M112 fired. As with ErrProgramEnd, the
// teardown is done; the caller only has to stop feeding lines.
var ErrEmergencyStop = errors.New("gcode: emergency stop")

// Execution cadence. Exported fields on Interpreter override these;
// tests shorten them, production code leaves them alone.
const (
	settlePollInterval = 20 * time.Millisecond
	moveCheckDelay     = 150 * time.Millisecond
	rotationSteadyWait = time.Second
)

// Feed defaults and bounds, from the bench commissioning values.
const (
	DefaultGlobalFeed  = 100000.0
	DefaultRotationRPM = 9.0

	MinRotationRPM = 0.0
	MaxRotationRPM = 60.0
)

// DefaultLampCurrentMA is the LED current M200 programs, matching the
// bench default of the LED driver itself.
const DefaultLampCurrentMA = 450

// positionalOrder fixes the execution order of multi-axis moves.
var positionalOrder = [3]byte{'R', 'T', 'Z'}

// RotationStage is the slice of the companion client the interpreter
// drives: the theta velocity loop, the zeroing sequence and the IMU.
// *esp32.Client satisfies it.
type RotationStage interface {
	SetThetaVelocity(pps int32) error
	StartThetaZero() error
	WaitThetaZeroComplete(timeout time.Duration) error
	ThetaZeroMeasurement() (int32, error)
	GetImuSample(timeout time.Duration) (esp32.ImuSample, error)
	RequestImuCalibration(timeout time.Duration) error
}

// Lamp is the LED driver surface behind M200/M201/M205.
type Lamp interface {
	Configure(milliamps int) error
	SetCurrent(milliamps int) error
	Stop() error
}

// Projector is the DMD controller surface behind M200/M201.
type Projector interface {
	Configure() error
	PowerDown() error
}

// Player is the external video player surface behind M202-M204.
type Player interface {
	ToggleVideo() error
	RestartVideo() error
}

// Homing is one group's homing recipe: crawl direction and the logical
// zero offset applied after the reference trips.
type Homing struct {
	Direction int
	Offset    int32
}

// Config wires an Interpreter to the rig. Out, the three groups, the
// peripherals, the abort controller and the safety manager are
// required; everything else takes the bench defaults when zero.
type Config struct {
	Out io.Writer

	R, T, Z *axis.Group

	// Drivers lists every physical driver in M17/M114 order.
	Drivers []*tic.Driver

	// Caps holds the per-axis speed limits, Homing the per-axis homing
	// recipes, both keyed by axis letter.
	Caps   map[byte]int32
	Homing map[byte]Homing

	Stage     RotationStage
	Lamp      Lamp
	Projector Projector
	Player    Player

	Abort  *abort.Controller
	Safety *safety.Manager

	// Metrics is optional; a private registry is used when nil.
	Metrics *metrics.RigMetrics

	GlobalFeed    float64
	RotationRPM   float64
	LampCurrentMA int
}

// Interpreter parses, queues and executes command lines. It is safe
// for concurrent Submit calls, but only one drain runs at a time and
// all feed/mode state belongs to that drain.
type Interpreter struct {
	out io.Writer

	r, t, z *axis.Group
	drivers []*tic.Driver

	caps   map[byte]int32
	homing map[byte]Homing

	stage     RotationStage
	lamp      Lamp
	projector Projector
	player    Player

	ab      *abort.Controller
	safety  *safety.Manager
	metrics *metrics.RigMetrics

	lampCurrent int

	// SettlePoll is the position-vs-target poll interval after a
	// motion command; MoveCheckDelay the pause before the moved-at-all
	// check; SteadyWait the G5 dwell. Tests shorten them.
	SettlePoll     time.Duration
	MoveCheckDelay time.Duration
	SteadyWait     time.Duration

	// Zero values defer to the companion client's own defaults.
	ImuTimeout         time.Duration
	CalibrationTimeout time.Duration
	ZeroTimeout        time.Duration

	mu        sync.Mutex
	queue     []string
	executing bool

	absolute bool
	fGlobal  float64
	fAxis    map[byte]float64
}

// New validates the wiring and returns a ready Interpreter in absolute
// mode with the default feeds programmed.
func New(cfg Config) (*Interpreter, error) {
	if cfg.Out == nil || cfg.R == nil || cfg.T == nil || cfg.Z == nil {
		return nil, rigerr.InvalidArgument("interpreter config", "missing output or axis group")
	}
	if cfg.Stage == nil || cfg.Lamp == nil || cfg.Projector == nil || cfg.Player == nil {
		return nil, rigerr.InvalidArgument("interpreter config", "missing peripheral")
	}
	if cfg.Abort == nil || cfg.Safety == nil {
		return nil, rigerr.InvalidArgument("interpreter config", "missing abort controller or safety manager")
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewRigMetrics()
	}
	caps := cfg.Caps
	if caps == nil {
		caps = map[byte]int32{
			'R': axis.RTProfile().MaxSpeed,
			'T': axis.RTProfile().MaxSpeed,
			'Z': axis.ZProfile().MaxSpeed,
		}
	}
	homing := cfg.Homing
	if homing == nil {
		homing = map[byte]Homing{
			'R': {Direction: axis.HomeDirectionR, Offset: axis.HomeOffsetR},
			'T': {Direction: axis.HomeDirectionT, Offset: axis.HomeOffsetT},
			'Z': {Direction: axis.HomeDirectionZ, Offset: axis.HomeOffsetZ},
		}
	}
	global := cfg.GlobalFeed
	if global == 0 {
		global = DefaultGlobalFeed
	}
	rpm := cfg.RotationRPM
	if rpm == 0 {
		rpm = DefaultRotationRPM
	}
	lampCurrent := cfg.LampCurrentMA
	if lampCurrent == 0 {
		lampCurrent = DefaultLampCurrentMA
	}

	return &Interpreter{
		out:         cfg.Out,
		r:           cfg.R,
		t:           cfg.T,
		z:           cfg.Z,
		drivers:     cfg.Drivers,
		caps:        caps,
		homing:      homing,
		stage:       cfg.Stage,
		lamp:        cfg.Lamp,
		projector:   cfg.Projector,
		player:      cfg.Player,
		ab:          cfg.Abort,
		safety:      cfg.Safety,
		metrics:     m,
		lampCurrent: lampCurrent,

		SettlePoll:     settlePollInterval,
		MoveCheckDelay: moveCheckDelay,
		SteadyWait:     rotationSteadyWait,

		absolute: true,
		fGlobal:  global,
		fAxis:    map[byte]float64{'R': global, 'T': global, 'Z': global, 'A': rpm},
	}, nil
}

// queueFatalError wraps a failure after which running the rest of the
// queue would be unsafe. The drain halts all groups and flushes.
type queueFatalError struct{ err error }

func (e *queueFatalError) Error() string { return e.err.Error() }
func (e *queueFatalError) Unwrap() error { return e.err }

// Submit queues one input line and, when no drain is already running,
// executes the queue to completion. It returns ErrProgramEnd or
// ErrEmergencyStop when a line asked the rig to shut down; every other
// failure is reported on the output stream and consumed. Once an
// emergency stop has latched, every further line is refused.
func (itp *Interpreter) Submit(line string) error {
	stripped := StripComment(line)
	if stripped == "" {
		return nil
	}
	if itp.ab.EStopped() {
		fmt.Fprintln(itp.out, "M112 latched. Restart the controller to run commands.")
		return ErrEmergencyStop
	}
	itp.metrics.RecordLine()

	itp.mu.Lock()
	itp.queue = append(itp.queue, stripped)
	depth := len(itp.queue)
	if itp.executing {
		itp.mu.Unlock()
		itp.metrics.SetQueueDepth(depth)
		fmt.Fprintln(itp.out, "Command queued.")
		return nil
	}
	itp.executing = true
	itp.mu.Unlock()
	itp.metrics.SetQueueDepth(depth)

	itp.metrics.SetExecuting(true)
	err := itp.drain()
	itp.metrics.SetExecuting(false)
	if err != nil {
		return err
	}
	fmt.Fprintln(itp.out, "Queue empty. Ready for new commands.")
	return nil
}

// drain executes queued lines until the queue empties or a shutdown
// command ends the program. The abort flag is checked before every
// dequeue; a pending abort flushes the queue, quiesces the rig and
// re-arms the controller so the operator can continue.
func (itp *Interpreter) drain() error {
	for {
		itp.mu.Lock()
		if itp.ab.Aborted() {
			itp.queue = nil
			itp.mu.Unlock()
			itp.metrics.SetQueueDepth(0)
			fmt.Fprintln(itp.out, "ABORT: Clearing command queue.")
			itp.abortTeardown()
			itp.ab.Clear()
			continue
		}
		if len(itp.queue) == 0 {
			itp.executing = false
			itp.mu.Unlock()
			return nil
		}
		line := itp.queue[0]
		itp.queue = itp.queue[1:]
		depth := len(itp.queue)
		itp.mu.Unlock()
		itp.metrics.SetQueueDepth(depth)

		fmt.Fprintf(itp.out, "Executing: %s\n", line)
		start := time.Now()
		cmd, err := itp.execute(line)
		if cmd != nil {
			itp.metrics.RecordCommand(cmd.Name(), time.Since(start))
		}
		if err != nil {
			if errors.Is(err, ErrProgramEnd) || errors.Is(err, ErrEmergencyStop) {
				itp.flushQueue()
				itp.mu.Lock()
				itp.executing = false
				itp.mu.Unlock()
				return err
			}
			var fatal *queueFatalError
			if errors.As(err, &fatal) {
				fmt.Fprintf(itp.out, "!! ERROR: %v\n", fatal.err)
				fmt.Fprintln(itp.out, "!! Halting motion and clearing queue for safety. !!")
				itp.haltAll()
				itp.flushQueue()
				continue
			}
			fmt.Fprintf(itp.out, "!! ERROR: %v\n", err)
		}
		if cmd == nil || cmd.Letter != 'G' {
			continue
		}
		if err := itp.waitForMotion(); err != nil {
			fmt.Fprintf(itp.out, "!! CRITICAL bus error during wait loop: %v\n", err)
			fmt.Fprintln(itp.out, "!! Halting motion and clearing queue for safety. !!")
			itp.haltAll()
			itp.flushQueue()
			continue
		}
		fmt.Fprintln(itp.out, "--- Command complete ---")
	}
}

// execute parses and dispatches one line. Feed words are applied
// before the command body runs, so a move and its feed can share a
// line; M-code arguments are never feed words.
func (itp *Interpreter) execute(line string) (*Command, error) {
	cmd, err := ParseLine(line)
	if err != nil || cmd == nil {
		return nil, err
	}
	if cmd.Letter != 'M' {
		for _, tok := range cmd.Ignored {
			fmt.Fprintf(itp.out, "Ignoring token: %s\n", tok)
		}
		itp.applyFeedWords(cmd.Words)
	}
	switch cmd.Letter {
	case 'G':
		return cmd, itp.executeG(cmd)
	case 'M':
		return cmd, itp.executeM(cmd)
	default:
		// A standalone feed line; the words above were the command.
		return cmd, nil
	}
}

// waitForMotion blocks until the representative driver of every
// positional group reports current == target. Abort halts all groups
// and ends the wait; a failed position read is returned to the caller,
// which must treat the rest of the queue as unsafe.
func (itp *Interpreter) waitForMotion() error {
	for {
		moving, err := itp.motionPending()
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}
		if itp.ab.Aborted() {
			fmt.Fprintln(itp.out, "ABORT: Halting all motion.")
			itp.haltAll()
			return nil
		}
		time.Sleep(itp.SettlePoll)
	}
}

func (itp *Interpreter) motionPending() (bool, error) {
	for _, g := range itp.groups() {
		rep := g.Representative()
		if rep == nil {
			continue
		}
		cur, err := rep.CurrentPosition()
		if err != nil {
			return false, err
		}
		tgt, err := rep.TargetPosition()
		if err != nil {
			return false, err
		}
		if cur != tgt {
			return true, nil
		}
	}
	return false, nil
}

func (itp *Interpreter) groups() []*axis.Group {
	return []*axis.Group{itp.r, itp.t, itp.z}
}

func (itp *Interpreter) group(letter byte) *axis.Group {
	switch letter {
	case 'R':
		return itp.r
	case 'T':
		return itp.t
	default:
		return itp.z
	}
}

// haltAll issues HaltAndHold to every group, best effort: a halt that
// itself fails is logged and the remaining groups are still halted.
func (itp *Interpreter) haltAll() {
	for _, g := range itp.groups() {
		if err := g.HaltAndHold(); err != nil {
			logger.WithField("group", g.Name()).WithError(err).Error("halt failed")
		}
	}
}

// abortTeardown quiesces the rig after an abort: radial and tilt
// carriages de-energized, rotation stopped, exposure dark. The
// vertical stage stays energized so the optics head does not sink.
func (itp *Interpreter) abortTeardown() {
	itp.metrics.RecordAbort()
	if err := itp.r.Deenergize(); err != nil {
		logger.WithError(err).Error("abort: R de-energize failed")
	}
	if err := itp.t.Deenergize(); err != nil {
		logger.WithError(err).Error("abort: T de-energize failed")
	}
	if err := itp.stage.SetThetaVelocity(0); err != nil {
		logger.WithError(err).Error("abort: rotation stop failed")
	}
	if err := itp.projector.PowerDown(); err != nil {
		logger.WithError(err).Error("abort: projector powerdown failed")
	}
	if err := itp.lamp.Stop(); err != nil {
		logger.WithError(err).Error("abort: LED stop failed")
	}
}

func (itp *Interpreter) flushQueue() {
	itp.mu.Lock()
	itp.queue = nil
	itp.mu.Unlock()
	itp.metrics.SetQueueDepth(0)
}

// QueueDepth reports how many lines are waiting behind the one being
// executed. The status server polls it.
func (itp *Interpreter) QueueDepth() int {
	itp.mu.Lock()
	defer itp.mu.Unlock()
	return len(itp.queue)
}

// Executing reports whether a drain is running.
func (itp *Interpreter) Executing() bool {
	itp.mu.Lock()
	defer itp.mu.Unlock()
	return itp.executing
}

// AbsoluteMode reports the current G90/G91 state.
func (itp *Interpreter) AbsoluteMode() bool {
	itp.mu.Lock()
	defer itp.mu.Unlock()
	return itp.absolute
}

// Feeds returns a copy of the programmed feed values keyed by axis
// letter, for status reporting.
func (itp *Interpreter) Feeds() map[string]float64 {
	itp.mu.Lock()
	defer itp.mu.Unlock()
	out := make(map[string]float64, len(itp.fAxis)+1)
	out["global"] = itp.fGlobal
	for letter, v := range itp.fAxis {
		out[string(letter)] = v
	}
	return out
}
