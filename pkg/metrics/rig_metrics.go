// Rig-specific metric definitions
//
// Defines all metrics for the HeliCal rig controller including:
// - Interpreter throughput (lines, commands, moves, queue state)
// - Stepper bus traffic and faults
// - Companion serial link timeouts
// - Homing, abort and shutdown events
// - Go runtime health
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// RigMetrics holds all rig-specific metrics
type RigMetrics struct {
	// Interpreter metrics
	LinesAccepted    *Counter
	CommandsExecuted *Counter
	CommandTime      *Histogram
	Moves            *Counter
	QueueDepth       *Gauge
	Executing        *Gauge
	FeedRate         *Gauge

	// Stepper bus metrics
	BusTransactions *Counter
	BusErrors       *Counter

	// Companion link metrics
	SerialTimeouts *Counter

	// Motion lifecycle metrics
	HomingAttempts *Counter
	HomingTime     *Histogram
	Aborts         *Counter
	ShutdownEvents *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Internal
	startTime time.Time
	registry  *Registry
}

// NewRigMetrics creates and registers all rig metrics
func NewRigMetrics() *RigMetrics {
	rm := &RigMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Interpreter metrics
	rm.LinesAccepted = NewCounter("rig_gcode_lines_total",
		"Total G-code lines accepted into the command queue")
	rm.CommandsExecuted = NewCounter("rig_commands_executed_total",
		"Total commands executed per command word")
	rm.CommandTime = NewHistogram("rig_command_seconds",
		"Command execution time including the settle wait", DefaultBuckets())
	rm.Moves = NewCounter("rig_moves_total",
		"Total axis moves commanded")
	rm.QueueDepth = NewGauge("rig_queue_depth",
		"Number of commands waiting in the queue")
	rm.Executing = NewGauge("rig_executing",
		"Whether the queue drain loop is running (1=yes, 0=no)")
	rm.FeedRate = NewGauge("rig_feed_rate",
		"Active feed value per axis letter")

	// Stepper bus metrics
	rm.BusTransactions = NewCounter("rig_bus_transactions_total",
		"Total stepper bus transactions per driver")
	rm.BusErrors = NewCounter("rig_bus_errors_total",
		"Total failed stepper bus transactions per driver")

	// Companion link metrics
	rm.SerialTimeouts = NewCounter("rig_serial_timeouts_total",
		"Total companion response timeouts per operation")

	// Motion lifecycle metrics
	rm.HomingAttempts = NewCounter("rig_homing_attempts_total",
		"Total homing attempts per axis group")
	rm.HomingTime = NewHistogram("rig_homing_seconds",
		"Time to complete homing", []float64{0.5, 1, 2, 5, 10, 30, 60})
	rm.Aborts = NewCounter("rig_aborts_total",
		"Total operator or fault aborts")
	rm.ShutdownEvents = NewCounter("rig_shutdown_events_total",
		"Total shutdown sequences per reason")

	// System metrics
	rm.HostUptime = NewCounter("rig_host_uptime_seconds_total",
		"Total controller uptime in seconds")
	rm.GoGoroutines = NewGauge("rig_go_goroutines",
		"Number of active goroutines")
	rm.GoMemoryHeap = NewGauge("rig_go_memory_heap_bytes",
		"Go heap memory in use")
	rm.GoMemoryAlloc = NewGauge("rig_go_memory_alloc_bytes",
		"Go total memory allocated")
	rm.GoGCCycles = NewCounter("rig_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	rm.registerAll()

	return rm
}

// registerAll registers all metrics with the internal registry
func (rm *RigMetrics) registerAll() {
	metrics := []Metric{
		rm.LinesAccepted, rm.CommandsExecuted, rm.CommandTime,
		rm.Moves, rm.QueueDepth, rm.Executing, rm.FeedRate,
		rm.BusTransactions, rm.BusErrors,
		rm.SerialTimeouts,
		rm.HomingAttempts, rm.HomingTime, rm.Aborts, rm.ShutdownEvents,
		rm.HostUptime, rm.GoGoroutines, rm.GoMemoryHeap, rm.GoMemoryAlloc,
		rm.GoGCCycles,
	}
	for _, m := range metrics {
		rm.registry.MustRegister(m)
	}
}

// RecordLine counts one line accepted into the queue
func (rm *RigMetrics) RecordLine() {
	rm.LinesAccepted.Inc(nil)
}

// RecordCommand records one executed command and its duration
func (rm *RigMetrics) RecordCommand(word string, duration time.Duration) {
	rm.CommandsExecuted.Inc(Labels{"word": word})
	rm.CommandTime.Observe(Labels{"word": word}, duration.Seconds())
}

// RecordMove counts one commanded move on an axis
func (rm *RigMetrics) RecordMove(axis string) {
	rm.Moves.Inc(Labels{"axis": axis})
}

// SetQueueDepth updates the queue depth gauge
func (rm *RigMetrics) SetQueueDepth(depth int) {
	rm.QueueDepth.Set(nil, float64(depth))
}

// SetExecuting updates the drain loop gauge
func (rm *RigMetrics) SetExecuting(executing bool) {
	v := float64(0)
	if executing {
		v = 1
	}
	rm.Executing.Set(nil, v)
}

// SetFeed updates the active feed gauge for an axis letter
func (rm *RigMetrics) SetFeed(axis string, value float64) {
	rm.FeedRate.Set(Labels{"axis": axis}, value)
}

// RecordBusTransaction counts one bus transaction and its outcome
func (rm *RigMetrics) RecordBusTransaction(driver string, err error) {
	rm.BusTransactions.Inc(Labels{"driver": driver})
	if err != nil {
		rm.BusErrors.Inc(Labels{"driver": driver})
	}
}

// RecordSerialTimeout counts one companion response timeout
func (rm *RigMetrics) RecordSerialTimeout(operation string) {
	rm.SerialTimeouts.Inc(Labels{"operation": operation})
}

// RecordHoming records one homing attempt and its duration
func (rm *RigMetrics) RecordHoming(group string, duration time.Duration) {
	rm.HomingAttempts.Inc(Labels{"group": group})
	rm.HomingTime.Observe(Labels{"group": group}, duration.Seconds())
}

// RecordAbort counts one abort
func (rm *RigMetrics) RecordAbort() {
	rm.Aborts.Inc(nil)
}

// RecordShutdown counts one shutdown sequence
func (rm *RigMetrics) RecordShutdown(reason string) {
	rm.ShutdownEvents.Inc(Labels{"reason": reason})
}

// UpdateSystemMetrics updates Go runtime metrics
func (rm *RigMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	rm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	rm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	rm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	rm.GoGCCycles.Add(nil, uint64(m.NumGC)-rm.GoGCCycles.Get(nil))
	rm.HostUptime.Add(nil, uint64(time.Since(rm.startTime).Seconds())-rm.HostUptime.Get(nil))
}

// Gather returns all metrics in Prometheus text format
func (rm *RigMetrics) Gather() string {
	rm.UpdateSystemMetrics()
	return rm.registry.Gather()
}

// Registry returns the internal registry
func (rm *RigMetrics) Registry() *Registry {
	return rm.registry
}

// Global metrics instance
var globalMetrics *RigMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global rig metrics instance
func GlobalMetrics() *RigMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewRigMetrics()
	})
	return globalMetrics
}
