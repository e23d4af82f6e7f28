// helical-go drives the optical calibration rig: eight stepper drivers
// on a shared I2C bus, a serial-attached companion controller for the
// rotation stage and IMU, and the exposure peripherals. Command lines
// are read from stdin and executed in order.
//
// Usage:
//
//	helical-go [options]
//
// Options:
//
//	-config string     Rig configuration file (optional, bench defaults apply)
//	-bus string        Stepper bus device, overrides the config
//	-serial string     Companion link, device path or host:port, overrides the config
//	-log-level string  DEBUG, INFO, WARN or ERROR (default INFO)
//	-logfile string    Rotating log file path (default: stderr)
//	-status string     Status/websocket listen address, overrides the config
//	-headless          Do not claim the terminal for the abort key listener
//	-no-home           Skip the homing pass at startup
//
// Examples:
//
//	# Bench defaults, homing on startup
//	helical-go
//
//	# Simulated companion over TCP, no hardware homing
//	helical-go -serial 127.0.0.1:8432 -no-home
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"helical-go-migration/pkg/abort"
	"helical-go-migration/pkg/axis"
	"helical-go-migration/pkg/config"
	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/gcode"
	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/metrics"
	"helical-go-migration/pkg/peripheral"
	"helical-go-migration/pkg/safety"
	"helical-go-migration/pkg/serial"
	"helical-go-migration/pkg/tic"
	"helical-go-migration/pkg/webstatus"
)

var logger = log.GetLogger("main")

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Rig configuration file (optional)")
	busDevice := flag.String("bus", "", "Stepper bus device, overrides the config")
	serialDevice := flag.String("serial", "", "Companion link, device path or host:port")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	logFile := flag.String("logfile", "", "Rotating log file path (default: stderr)")
	statusAddr := flag.String("status", "", "Status server listen address")
	headless := flag.Bool("headless", false, "Do not claim the terminal for the abort key listener")
	noHome := flag.Bool("no-home", false, "Skip the homing pass at startup")

	flag.Parse()

	if *logLevel != "" {
		log.GetLogger("").SetLevel(log.ParseLevel(*logLevel))
	}
	if *logFile != "" {
		fileLogger, writer, err := log.NewFileLogger("helical", log.RotationConfig{
			Filename:   *logFile,
			MaxSize:    10,
			MaxBackups: 5,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			return 1
		}
		defer writer.Close()
		if *logLevel != "" {
			fileLogger.SetLevel(log.ParseLevel(*logLevel))
		}
		log.SetDefaultLogger(fileLogger)
		logger = log.GetLogger("main")
	}

	rig, err := config.LoadRig(*configFile)
	if err != nil {
		logger.WithError(err).Error("Configuration load failed")
		return 1
	}
	if *busDevice != "" {
		rig.BusDevice = *busDevice
	}
	if *serialDevice != "" {
		rig.Serial.Device = *serialDevice
	}
	if *statusAddr != "" {
		rig.StatusListen = *statusAddr
	}

	logger.Info("========================================")
	logger.Info("HeliCal Rig Controller Starting")
	logger.Info("========================================")
	logger.Info("Bus: %s", rig.BusDevice)
	logger.Info("Companion: %s @ %d baud", rig.Serial.Device, rig.Serial.Baud)
	for _, d := range rig.Drivers {
		logger.Info("  %s: addr=0x%02X group=%s", d.Name, d.Address, d.Group)
	}

	rm := metrics.NewRigMetrics()

	// Bus and driver handles. Every transaction is observed so the
	// metrics reflect per-driver bus health.
	groups := map[string][]*tic.Driver{}
	var drivers []*tic.Driver
	var conns []tic.Conn
	closeConns := func() {
		for _, c := range conns {
			c.Close()
		}
	}
	for _, dc := range rig.Drivers {
		conn, err := tic.OpenI2C(rig.BusDevice, dc.Address)
		if err != nil {
			logger.WithError(err).Errorf("Open bus device for %s failed", dc.Name)
			closeConns()
			return 1
		}
		conns = append(conns, conn)
		name := dc.Name
		observed := tic.Observe(conn, func(err error) {
			rm.RecordBusTransaction(name, err)
		})
		drv := tic.NewDriver(dc.Name, observed)
		drivers = append(drivers, drv)
		groups[dc.Group] = append(groups[dc.Group], drv)
	}
	defer closeConns()

	ab := abort.NewController()

	groupR := axis.NewGroup("r", ab, groups["r"]...)
	groupT := axis.NewGroup("t", ab, groups["t"]...)
	groupZ := axis.NewGroup("z", ab, groups["z"]...)

	// Companion link. A host:port value means a TCP bridge (mock or
	// ser2net); anything else is a local serial device.
	serialCfg := serial.DefaultConfig()
	serialCfg.Device = rig.Serial.Device
	serialCfg.BaudRate = rig.Serial.Baud
	var port *serial.Port
	if strings.Contains(rig.Serial.Device, ":") {
		port, err = serial.OpenTCP(serialCfg)
	} else {
		port, err = serial.Open(serialCfg)
	}
	if err != nil {
		logger.WithError(err).Error("Open companion link failed")
		return 1
	}
	stage := esp32.NewClient(port)
	defer stage.Close()

	// Exposure peripherals. A missing HID device downgrades the rig to
	// motion-only operation instead of refusing to start.
	var lamp gcode.Lamp = disabledLamp{}
	var lampDev *peripheral.LED
	if dev, err := peripheral.OpenHIDRaw(rig.LEDDevice); err != nil {
		logger.WithError(err).Warn("LED driver unavailable, lamp commands disabled")
	} else {
		lampDev = peripheral.NewLED(dev)
		lamp = lampDev
		defer lampDev.Close()
	}
	var projector gcode.Projector = disabledProjector{}
	var projDev *peripheral.Projector
	if dev, err := peripheral.OpenHIDRaw(rig.ProjectorDevice); err != nil {
		logger.WithError(err).Warn("Projector unavailable, exposure commands disabled")
	} else {
		projDev = peripheral.NewProjector(dev)
		projector = projDev
		defer projDev.Close()
	}
	var player gcode.Player = peripheral.NopPlayer{}
	if rig.Video.Path != "" {
		commands := peripheral.DefaultPlayerCommands()
		if rig.Video.StartCommand != "" {
			commands.Start = rig.Video.StartCommand
		}
		if rig.Video.ToggleCommand != "" {
			commands.Toggle = rig.Video.ToggleCommand
		}
		if rig.Video.RestartCommand != "" {
			commands.Restart = rig.Video.RestartCommand
		}
		if rig.Video.MoveCommand != "" {
			commands.Move = rig.Video.MoveCommand
		}
		player = peripheral.NewExecPlayer(rig.Video.Path, commands)
	}

	// The key listener owns raw-mode stdin, which the REPL also needs,
	// so it only runs headless-off AND stdin-is-not-the-command-feed
	// setups; in practice that means it is attempted and the failure on
	// a piped stdin is informational.
	if !*headless {
		if kl, err := abort.StartKeyListener(ab); err != nil {
			logger.WithError(err).Debug("Abort key listener not started")
		} else {
			defer kl.Close()
		}
	}

	sm := safety.New()
	sm.RegisterStage(stage)
	if projDev != nil {
		sm.RegisterProjector(projDev)
	}
	if lampDev != nil {
		sm.RegisterLamp(lampDev)
	}
	sm.RegisterMotor(groupR)
	sm.RegisterMotor(groupT)
	sm.RegisterMotor(groupZ)
	sm.OnShutdown(func(reason safety.Reason, msg string) {
		rm.RecordShutdown(string(reason))
		logger.Warn("Shutdown: %s (%s)", msg, reason)
	})

	homing := map[byte]gcode.Homing{}
	caps := map[byte]int32{}
	for letter, name := range map[byte]string{'R': "r", 'T': "t", 'Z': "z"} {
		gc := rig.Groups[name]
		homing[letter] = gcode.Homing{Direction: gc.HomeDir, Offset: gc.HomeOffset}
		caps[letter] = gc.MaxSpeed
	}

	itp, err := gcode.New(gcode.Config{
		Out:           os.Stdout,
		R:             groupR,
		T:             groupT,
		Z:             groupZ,
		Drivers:       drivers,
		Caps:          caps,
		Homing:        homing,
		Stage:         stage,
		Lamp:          lamp,
		Projector:     projector,
		Player:        player,
		Abort:         ab,
		Safety:        sm,
		Metrics:       rm,
		GlobalFeed:    rig.GlobalFeed,
		RotationRPM:   rig.Theta.DefaultRPM,
		LampCurrentMA: rig.LEDCurrentMA,
	})
	if err != nil {
		logger.WithError(err).Error("Interpreter wiring failed")
		return 1
	}

	if rig.MetricsListen != "" {
		ms := metrics.NewMetricsServer(rm, rig.MetricsListen)
		go func() {
			if err := ms.Start(); err != nil {
				logger.WithError(err).Warn("Metrics server stopped")
			}
		}()
		logger.Info("Metrics: http://localhost%s/metrics", rig.MetricsListen)
	}

	startTime := time.Now()
	var statusServer *webstatus.Server
	if rig.StatusListen != "" {
		statusServer = webstatus.New(webstatus.Config{
			Addr: rig.StatusListen,
			Source: &rigStatus{
				itp:     itp,
				sm:      sm,
				drivers: drivers,
				start:   startTime,
			},
		})
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.WithError(err).Warn("Status server stopped")
			}
		}()
		defer statusServer.Stop()
		logger.Info("Status: http://localhost%s/rig/status", rig.StatusListen)

		// Live IMU telemetry for /rig/stream; the pump exits when the
		// status server stops.
		go func() {
			if err := statusServer.RunImuPump(stage); err != nil {
				logger.WithError(err).Warn("IMU stream unavailable")
			}
		}()
	}

	// Signals behave like M112 minus the latch: raise the abort so any
	// in-flight wait unwinds, then run the shutdown sequence once.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shutdownCh := make(chan struct{})
	go func() {
		sig := <-sigCh
		ab.Raise(fmt.Sprintf("signal %s", sig))
		sm.SignalShutdown(sig.String())
		close(shutdownCh)
	}()

	// Startup runs in its own goroutine so a wedged bus or a homing
	// pass that never trips its reference can still be interrupted.
	startCh := make(chan error, 1)
	go func() {
		startCh <- startup(&rig, groupR, groupT, groupZ, lampDev, projDev, rm, *noHome)
	}()
	select {
	case <-shutdownCh:
		logger.Info("Shutdown during startup, exiting")
		return exitCode(sm)
	case err := <-startCh:
		if err != nil {
			logger.WithError(err).Error("Startup failed")
			sm.BusFault("startup", err.Error())
			return exitCode(sm)
		}
	}

	logger.Info("========================================")
	logger.Info("HeliCal Rig Controller Ready")
	logger.Info("========================================")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-shutdownCh:
			return exitCode(sm)
		default:
		}
		line := scanner.Text()
		err := itp.Submit(line)
		switch {
		case err == nil:
		case errors.Is(err, gcode.ErrProgramEnd):
			logger.Info("Program complete")
			return exitCode(sm)
		case errors.Is(err, gcode.ErrEmergencyStop):
			logger.Error("Emergency stop")
			return exitCode(sm)
		default:
			// Per-line failures are reported and the REPL keeps
			// accepting input; the interpreter already halted motion.
			logger.WithError(err).Error("Command failed")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("Input stream error")
	}

	// EOF: orderly teardown unless a signal already ran it.
	select {
	case <-shutdownCh:
	default:
		sm.RequestShutdown("input stream closed")
	}
	logger.Info("HeliCal Rig Controller stopped")
	return exitCode(sm)
}

// startup brings the rig from power-on to ready: wake every group,
// home the positional axes, then configure the exposure chain.
// Peripheral configuration failures log and continue; motion failures
// are fatal.
func startup(rig *config.RigConfig, r, t, z *axis.Group, lamp *peripheral.LED, projector *peripheral.Projector, rm *metrics.RigMetrics, noHome bool) error {
	logger.Info("Energizing drivers...")
	for _, g := range []*axis.Group{r, t, z} {
		if err := g.EnsureReady(); err != nil {
			return fmt.Errorf("group %s not ready: %w", g.Name(), err)
		}
		if err := g.SetTargetVelocity(0); err != nil {
			return fmt.Errorf("group %s: %w", g.Name(), err)
		}
	}

	if noHome {
		logger.Warn("Homing skipped, positions unreferenced")
	} else {
		for _, g := range []*axis.Group{r, t, z} {
			gc := rig.Groups[g.Name()]
			logger.Info("Homing %s...", g.Name())
			begin := time.Now()
			if err := g.Home(gc.HomeDir, gc.HomeOffset); err != nil {
				return fmt.Errorf("homing %s: %w", g.Name(), err)
			}
			rm.RecordHoming(g.Name(), time.Since(begin))
		}
		logger.Info("Homing complete")
	}

	if lamp != nil {
		if err := lamp.Configure(rig.LEDCurrentMA); err != nil {
			logger.WithError(err).Warn("LED configuration failed")
		}
	}
	if projector != nil {
		if err := projector.Configure(); err != nil {
			logger.WithError(err).Warn("Projector configuration failed")
		}
	}
	return nil
}

// exitCode maps the safety manager's shutdown reason onto the process
// exit status: 0 for an orderly finish, 2 for an emergency stop, 3 for
// a bus fault, 1 for everything else.
func exitCode(sm *safety.Manager) int {
	reason, _, _ := sm.GetShutdownInfo()
	switch reason {
	case safety.ReasonNone, safety.ReasonUserRequest:
		return 0
	case safety.ReasonEmergencyStop:
		return 2
	case safety.ReasonBusFault:
		return 3
	default:
		return 1
	}
}

// rigStatus adapts the interpreter, the safety manager and the driver
// handles into status snapshots. Position reads go over the live bus;
// a read failure drops that driver from the snapshot rather than
// failing it.
type rigStatus struct {
	itp     *gcode.Interpreter
	sm      *safety.Manager
	drivers []*tic.Driver
	start   time.Time
}

func (rs *rigStatus) Snapshot() webstatus.Snapshot {
	snap := webstatus.Snapshot{
		State:        rs.sm.GetState().String(),
		AbsoluteMode: rs.itp.AbsoluteMode(),
		Executing:    rs.itp.Executing(),
		QueueDepth:   rs.itp.QueueDepth(),
		Feeds:        rs.itp.Feeds(),
		UptimeSec:    time.Since(rs.start).Seconds(),
	}
	for _, d := range rs.drivers {
		cur, err := d.CurrentPosition()
		if err != nil {
			continue
		}
		tgt, err := d.TargetPosition()
		if err != nil {
			continue
		}
		snap.Positions = append(snap.Positions, webstatus.DriverPosition{
			Name:    d.Label(),
			Current: cur,
			Target:  tgt,
		})
	}
	return snap
}

// disabledLamp and disabledProjector stand in when the HID device is
// absent so lamp and exposure commands degrade to no-ops.
type disabledLamp struct{}

func (disabledLamp) Configure(int) error  { return nil }
func (disabledLamp) SetCurrent(int) error { return nil }
func (disabledLamp) Stop() error          { return nil }

type disabledProjector struct{}

func (disabledProjector) Configure() error { return nil }
func (disabledProjector) PowerDown() error { return nil }
