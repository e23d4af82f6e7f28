// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(prefix)
	l.SetWriter(buf)
	l.SetLevel(DEBUG)
	l.SetColorize(false)
	return l, buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("bus")

	logger.Info("driver %s at address 0x%02X", "tw_r", 0x0E)

	got := buf.String()
	for _, want := range []string{"[INFO ]", "bus:", "driver tw_r at address 0x0E"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %s", want, got)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("gcode")
	logger.SetLevel(WARN)

	logger.Debug("queue drained")
	logger.Info("line accepted")
	if buf.Len() != 0 {
		t.Fatalf("DEBUG/INFO should be filtered at WARN, got: %s", buf.String())
	}

	logger.Warn("feed clamped")
	logger.Error("driver fault")
	got := buf.String()
	if !strings.Contains(got, "feed clamped") || !strings.Contains(got, "driver fault") {
		t.Errorf("WARN/ERROR should pass, got: %s", got)
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newTestLogger("serial")
	logger.SetFormat(FormatJSON)

	logger.WithField("port", "/dev/ttyUSB0").Info("link up")

	var entry jsonEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	if entry.Level != "INFO" {
		t.Errorf("level = %q, want INFO", entry.Level)
	}
	if entry.Logger != "serial" {
		t.Errorf("logger = %q, want serial", entry.Logger)
	}
	if entry.Message != "link up" {
		t.Errorf("message = %q, want %q", entry.Message, "link up")
	}
	if entry.Fields["port"] != "/dev/ttyUSB0" {
		t.Errorf("fields = %v, want port=/dev/ttyUSB0", entry.Fields)
	}
}

func TestEntryFields(t *testing.T) {
	logger, buf := newTestLogger("axis")

	base := logger.WithField("group", "r")
	base.WithField("target", 283000).Info("move issued")

	got := buf.String()
	if !strings.Contains(got, "group=r") || !strings.Contains(got, "target=283000") {
		t.Errorf("fields missing from output: %s", got)
	}

	// The derived entry must not leak fields back into the base.
	buf.Reset()
	base.Info("homed")
	if strings.Contains(buf.String(), "target=") {
		t.Errorf("base entry mutated by WithField: %s", buf.String())
	}
}

func TestEntryFormatted(t *testing.T) {
	logger, buf := newTestLogger("rotor")

	logger.WithField("encoder", 2).Warnf("velocity %d out of range", 50000)

	got := buf.String()
	if !strings.Contains(got, "velocity 50000 out of range") {
		t.Errorf("formatted message missing: %s", got)
	}
	if !strings.Contains(got, "encoder=2") {
		t.Errorf("field missing: %s", got)
	}
}

func TestLoggerWithPrefix(t *testing.T) {
	parent, buf := newTestLogger("rig")

	child := parent.WithPrefix("safety")
	child.Info("shutdown hooks registered")

	if !strings.Contains(buf.String(), "safety:") {
		t.Errorf("child prefix missing: %s", buf.String())
	}
	if got := child.GetLevel(); got != DEBUG {
		t.Errorf("child level = %v, want DEBUG (inherited)", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"DEBUG":   DEBUG,
		"info":    INFO,
		"warn":    WARN,
		"WARNING": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
